package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cliffyan/go-metasearch/internal/mcp"
)

const (
	sessionHeader = "mcp-session-id"
	// sessionIdleTTL 超过该时长没有请求的会话在下次 initialize 时被清理
	sessionIdleTTL = time.Hour
	maxMCPBody     = 1 << 20
)

// Session 会话信息
type Session struct {
	ID        string
	CreatedAt time.Time
	LastSeen  time.Time
	// events 只有旧版 SSE 会话使用，响应通过事件流返回
	events chan []byte
}

func (s *Server) newSession(events chan []byte) *Session {
	now := time.Now()
	sess := &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		LastSeen:  now,
		events:    events,
	}

	s.sessionsMu.Lock()
	for id, old := range s.sessions {
		if old.events == nil && now.Sub(old.LastSeen) > sessionIdleTTL {
			delete(s.sessions, id)
		}
	}
	s.sessions[sess.ID] = sess
	s.sessionsMu.Unlock()

	s.log.Debug("Created MCP session", zap.String("session", sess.ID))
	return sess
}

func (s *Server) session(id string) (*Session, bool) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	sess, ok := s.sessions[id]
	if ok {
		sess.LastSeen = time.Now()
	}
	return sess, ok
}

func (s *Server) dropSession(id string) {
	s.sessionsMu.Lock()
	delete(s.sessions, id)
	s.sessionsMu.Unlock()
}

// handleMCP 处理 MCP 请求
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleMCPPost(w, r)
	case http.MethodGet:
		s.handleMCPGet(w, r)
	case http.MethodDelete:
		s.handleMCPDelete(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func decodeRPC(r *http.Request) (mcp.JSONRPCRequest, error) {
	var req mcp.JSONRPCRequest
	err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxMCPBody)).Decode(&req)
	return req, err
}

// handleMCPPost 处理 MCP POST 请求
func (s *Server) handleMCPPost(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRPC(r)
	if err != nil {
		s.writeJSON(w, http.StatusOK, mcp.NewErrorResponse(nil, mcp.CodeParseError, "Parse error: "+err.Error()))
		return
	}

	sessionID := r.Header.Get(sessionHeader)
	switch {
	case req.Method == "initialize" && sessionID == "":
		sess := s.newSession(nil)
		w.Header().Set(sessionHeader, sess.ID)
	case sessionID != "":
		if _, ok := s.session(sessionID); !ok {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
	}

	resp := s.mcpHandler.HandleRequest(r.Context(), req)
	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func sseHeaders(w http.ResponseWriter) (http.Flusher, bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := w.(http.Flusher)
	return flusher, ok
}

// handleMCPGet 服务端事件流，目前只发送心跳
func (s *Server) handleMCPGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		http.Error(w, "Missing session ID", http.StatusBadRequest)
		return
	}
	if _, ok := s.session(sessionID); !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	flusher, ok := sseHeaders(w)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}
	fmt.Fprint(w, "event: endpoint\ndata: {\"uri\": \"/mcp\"}\n\n")
	flusher.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.closing:
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// handleMCPDelete 关闭会话
func (s *Server) handleMCPDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		http.Error(w, "Missing session ID", http.StatusBadRequest)
		return
	}
	s.dropSession(sessionID)
	s.log.Debug("Deleted MCP session", zap.String("session", sessionID))
	w.WriteHeader(http.StatusOK)
}

// handleSSE 旧版 SSE 传输：客户端向 /messages 发送请求，响应经事件流返回
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := sseHeaders(w)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	sess := s.newSession(make(chan []byte, 16))
	defer s.dropSession(sess.ID)

	fmt.Fprintf(w, "event: endpoint\ndata: /messages?sessionId=%s\n\n", sess.ID)
	flusher.Flush()
	s.log.Debug("SSE connection established", zap.String("session", sess.ID))

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			s.log.Debug("SSE connection closed", zap.String("session", sess.ID))
			return
		case <-s.closing:
			return
		case msg := <-sess.events:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// handleMessages 旧版 SSE 传输的请求入口
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(r.URL.Query().Get("sessionId"))
	if !ok || sess.events == nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	req, err := decodeRPC(r)
	if err != nil {
		http.Error(w, "Parse error: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp := s.mcpHandler.HandleRequest(r.Context(), req)
	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	select {
	case sess.events <- data:
		w.WriteHeader(http.StatusAccepted)
	case <-r.Context().Done():
	}
}
