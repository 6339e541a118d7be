package cache

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/cliffyan/go-metasearch/internal/engine"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Compression 缓存内容压缩算法
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionGzip Compression = "gzip"
)

// maxDecoded 解压后内容的上限
const maxDecoded = 64 << 20

// Codec 负责信封的序列化、压缩与加密
//
// 写入顺序：序列化、压缩、加密；读取时逆序。
type Codec struct {
	compression Compression
	aead        cipher.AEAD
	zenc        *zstd.Encoder
	zdec        *zstd.Decoder
}

// NewCodec 创建编解码器，key 为空表示不加密，否则必须为 32 字节
func NewCodec(compression Compression, key []byte) (*Codec, error) {
	c := &Codec{compression: compression}

	switch compression {
	case "", CompressionNone:
		c.compression = CompressionNone
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecoded))
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		c.zenc, c.zdec = enc, dec
	case CompressionGzip:
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}

	if len(key) > 0 {
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("create cipher: %w", err)
		}
		c.aead = aead
	}
	return c, nil
}

// GenerateKey 生成随机的 32 字节加密密钥
func GenerateKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate cache key: %w", err)
	}
	return key, nil
}

// Encode 将信封编码为存储字节
func (c *Codec) Encode(res *engine.SearchResults) ([]byte, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	if data, err = c.compress(data); err != nil {
		return nil, err
	}

	if c.aead == nil {
		return data, nil
	}
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(data)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, data, nil), nil
}

// Decode 还原信封，任何失败都包装为 ErrCorruption
func (c *Codec) Decode(data []byte) (*engine.SearchResults, error) {
	if c.aead != nil {
		size := c.aead.NonceSize()
		if len(data) < size+c.aead.Overhead() {
			return nil, fmt.Errorf("%w: sealed payload too short", ErrCorruption)
		}
		plain, err := c.aead.Open(nil, data[:size], data[size:], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruption, err)
		}
		data = plain
	}

	data, err := c.decompress(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruption, err)
	}

	var res engine.SearchResults
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	return &res, nil
}

func (c *Codec) compress(data []byte) ([]byte, error) {
	switch c.compression {
	case CompressionZstd:
		return c.zenc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("gzip envelope: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip envelope: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return data, nil
	}
}

func (c *Codec) decompress(data []byte) ([]byte, error) {
	switch c.compression {
	case CompressionZstd:
		return c.zdec.DecodeAll(data, nil)
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(io.LimitReader(r, maxDecoded))
	default:
		return data, nil
	}
}
