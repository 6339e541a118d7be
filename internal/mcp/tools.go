package mcp

import (
	"github.com/cliffyan/go-metasearch/internal/config"
)

func intPtr(v int) *int { return &v }

// GetTools 获取所有 MCP 工具定义
func GetTools(cfg *config.Config) []Tool {
	return []Tool{
		{
			Name:        cfg.MCP.Tools.SearchName,
			Description: cfg.MCP.Tools.SearchDescription,
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"query": {
						Type:        "string",
						Description: "The search query string",
					},
					"page": {
						Type:        "integer",
						Description: "Result page, starting at 1",
						Default:     1,
						Minimum:     intPtr(1),
					},
					"safesearch": {
						Type:        "integer",
						Description: "Safe search level: 0 off, 1 moderate, 2 strict. Omit to use the server default.",
						Minimum:     intPtr(0),
						Maximum:     intPtr(2),
					},
					"engines": {
						Type:        "array",
						Description: "Upstream engines to query. Omit to use the engines enabled on the server.",
						Items:       &Items{Type: "string", Enum: config.ValidEngines},
					},
				},
				Required: []string{"query"},
			},
		},
	}
}
