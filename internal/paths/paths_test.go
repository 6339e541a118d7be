package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_PrefersHomeConfig(t *testing.T) {
	home := t.TempDir()
	dir := filepath.Join(home, ".config", AppName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blocklist.txt"), []byte("x\n"), 0o644))

	r := NewResolver(home)
	path, err := r.Resolve(Blocklist)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "blocklist.txt"), path)
}

func TestResolver_Order(t *testing.T) {
	r := NewResolver("/home/u")
	assert.Equal(t, []string{
		"/home/u/.config/go-metasearch/config.yaml",
		"/etc/xdg/go-metasearch/config.yaml",
		"./go-metasearch/config.yaml",
	}, r.Candidates(Config))
	assert.Equal(t, []string{"/opt/go-metasearch/public", "./public"}, r.Candidates(Theme))
}

func TestResolver_FallsThroughCandidates(t *testing.T) {
	r := NewResolver("/home/u")
	r.exists = func(path string) bool { return path == "./go-metasearch/allowlist.txt" }

	path, err := r.Resolve(Allowlist)
	require.NoError(t, err)
	assert.Equal(t, "./go-metasearch/allowlist.txt", path)
}

func TestResolver_NotFound(t *testing.T) {
	r := NewResolver(t.TempDir())
	r.exists = func(string) bool { return false }

	_, err := r.Resolve(Theme)
	assert.ErrorIs(t, err, ErrNotFound)
}
