package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cliffyan/go-metasearch/internal/aggregator"
	"github.com/cliffyan/go-metasearch/internal/config"
	"github.com/cliffyan/go-metasearch/internal/engine"
)

const (
	MCPVersion = "2024-11-05"
)

// Searcher 执行一次带缓存的聚合搜索，由 aggregator.Aggregator 实现
type Searcher interface {
	Search(ctx context.Context, req aggregator.Request) (*engine.SearchResults, error)
}

// Handler MCP 请求处理器
type Handler struct {
	config   *config.Config
	searcher Searcher
	log      *zap.Logger
}

// NewHandler 创建 MCP 处理器
func NewHandler(cfg *config.Config, searcher Searcher, log *zap.Logger) *Handler {
	return &Handler{
		config:   cfg,
		searcher: searcher,
		log:      log.With(zap.String("module", "mcp")),
	}
}

// HandleRequest 处理 MCP JSON-RPC 请求
//
// 通知请求返回零值响应，由调用者决定是否写回。
func (h *Handler) HandleRequest(ctx context.Context, req JSONRPCRequest) JSONRPCResponse {
	h.log.Debug("MCP request", zap.String("method", req.Method), zap.Any("id", req.ID))

	if req.JSONRPC != "2.0" {
		return NewErrorResponse(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}

	var result any
	switch req.Method {
	case "initialize":
		result = h.handleInitialize()
	case "notifications/initialized", "notifications/cancelled":
		return JSONRPCResponse{}
	case "ping":
		result = struct{}{}
	case "tools/list":
		result = ListToolsResult{Tools: GetTools(h.config)}
	case "tools/call":
		res, err := h.handleToolsCall(ctx, req.Params)
		if err != nil {
			h.log.Warn("Invalid tool call", zap.Error(err))
			return NewErrorResponse(req.ID, CodeInvalidParams, err.Error())
		}
		result = res
	case "resources/list":
		result = ListResourcesResult{Resources: []any{}}
	case "prompts/list":
		result = ListPromptsResult{Prompts: []any{}}
	default:
		return NewErrorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}

	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
	}
}

// handleInitialize 处理初始化请求
func (h *Handler) handleInitialize() InitializeResult {
	return InitializeResult{
		ProtocolVersion: MCPVersion,
		Capabilities: Capability{
			Tools: ToolCapability{ListChanged: false},
		},
		ServerInfo: ServerInfo{
			Name:    h.config.MCP.ServerName,
			Version: h.config.MCP.ServerVersion,
		},
	}
}

// handleToolsCall 处理工具调用请求
func (h *Handler) handleToolsCall(ctx context.Context, params []byte) (*CallToolResult, error) {
	var call CallToolParams
	if len(params) == 0 {
		return nil, errors.New("missing params")
	}
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, fmt.Errorf("failed to unmarshal params: %w", err)
	}

	h.log.Info("Tool call", zap.String("name", call.Name))

	switch call.Name {
	case h.config.MCP.Tools.SearchName:
		var args SearchArguments
		if len(call.Arguments) > 0 {
			if err := json.Unmarshal(call.Arguments, &args); err != nil {
				return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
			}
		}
		return h.handleSearch(ctx, args), nil
	default:
		return textResult(fmt.Sprintf("Unknown tool: %s", call.Name), true), nil
	}
}

// handleSearch 处理搜索请求，返回完整的结果信封
func (h *Handler) handleSearch(ctx context.Context, args SearchArguments) *CallToolResult {
	if strings.TrimSpace(args.Query) == "" {
		return textResult("query is required", true)
	}

	page := uint(1)
	if args.Page != nil && *args.Page > 1 {
		page = uint(*args.Page)
	}
	engines := args.Engines
	if len(engines) == 0 {
		engines = h.config.EnabledEngines()
	}

	res, err := h.searcher.Search(ctx, aggregator.Request{
		Query:      args.Query,
		Page:       page,
		SafeSearch: h.config.ResolveSafeSearch(args.SafeSearch),
		Engines:    engines,
	})
	if err != nil {
		h.log.Warn("Search failed", zap.Error(err))
		return textResult(fmt.Sprintf("Search failed: %v", err), true)
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return textResult(fmt.Sprintf("Failed to format results: %v", err), true)
	}
	return textResult(string(out), false)
}
