package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/harun/toolbox/pkg/toolregistry"
)

// ToolProvider is the registry surface the server needs
type ToolProvider interface {
	ListDefinitions() []toolregistry.Listing
	Call(ctx context.Context, name string, args map[string]any) ([]toolregistry.Content, error)
}

// RequestObserver is notified once per handled request
type RequestObserver interface {
	ObserveRequest(method, status string)
}

// Options configures a Server
type Options struct {
	Name         string
	Version      string
	Instructions string
	Tools        ToolProvider
	Observer     RequestObserver
	Logger       zerolog.Logger
}

// Server answers MCP requests against a ToolProvider
type Server struct {
	info         Implementation
	instructions string
	tools        ToolProvider
	observer     RequestObserver
	router       *Router
	logger       zerolog.Logger

	sessionsMu sync.RWMutex
	sessions   map[string]*session
}

// New creates a new Server
func New(opts Options) (*Server, error) {
	if opts.Tools == nil {
		return nil, fmt.Errorf("tool provider is required")
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}

	s := &Server{
		info:         Implementation{Name: opts.Name, Version: opts.Version},
		instructions: opts.Instructions,
		tools:        opts.Tools,
		observer:     opts.Observer,
		router:       NewRouter(),
		logger:       opts.Logger.With().Str("component", "mcpserver").Logger(),
		sessions:     make(map[string]*session),
	}

	s.registerBuiltinMethods()

	return s, nil
}

// Router exposes the method table, e.g. to add extension methods
func (s *Server) Router() *Router {
	return s.router
}

// NotifyToolsChanged tells every connected client to re-list tools
func (s *Server) NotifyToolsChanged() {
	s.sessionsMu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessionsMu.RUnlock()

	for _, sess := range sessions {
		if err := sess.notify(MethodToolsListChanged, nil); err != nil {
			sess.logger.Warn().Err(err).Msg("Failed to send list_changed notification")
		}
	}
}

// SessionCount returns the number of open connections
func (s *Server) SessionCount() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}

func (s *Server) addSession(sess *session) {
	s.sessionsMu.Lock()
	s.sessions[sess.id] = sess
	s.sessionsMu.Unlock()
}

func (s *Server) removeSession(id string) {
	s.sessionsMu.Lock()
	delete(s.sessions, id)
	s.sessionsMu.Unlock()
}

func (s *Server) registerBuiltinMethods() {
	_ = s.router.RegisterMethod(MethodInitialize, s.handleInitialize)
	_ = s.router.RegisterMethod(MethodInitialized, s.handleInitialized)
	_ = s.router.RegisterMethod(MethodCancelled, s.handleCancelled)
	_ = s.router.RegisterMethod(MethodPing, s.handlePing)
	_ = s.router.RegisterMethod(MethodToolsList, s.handleToolsList)
	_ = s.router.RegisterMethod(MethodToolsCall, s.handleToolsCall)
}

func (s *Server) handleInitialize(ctx context.Context, params json.RawMessage) (any, error) {
	var p InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
	}

	version := LatestProtocolVersion
	for _, supported := range SupportedProtocolVersions {
		if p.ProtocolVersion == supported {
			version = supported
			break
		}
	}

	if sess := sessionFromContext(ctx); sess != nil {
		sess.logger.Info().
			Str("client", p.ClientInfo.Name).
			Str("client_version", p.ClientInfo.Version).
			Str("protocol_version", version).
			Msg("Client initializing")
	}

	return InitializeResult{
		ProtocolVersion: version,
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{ListChanged: true},
		},
		ServerInfo:   s.info,
		Instructions: s.instructions,
	}, nil
}

func (s *Server) handleInitialized(ctx context.Context, _ json.RawMessage) (any, error) {
	if sess := sessionFromContext(ctx); sess != nil {
		sess.markInitialized()
	}
	return nil, nil
}

func (s *Server) handleCancelled(ctx context.Context, params json.RawMessage) (any, error) {
	var p CancelledParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err)
	}
	if sess := sessionFromContext(ctx); sess != nil {
		sess.cancel(p.RequestID, p.Reason)
	}
	return nil, nil
}

func (s *Server) handlePing(context.Context, json.RawMessage) (any, error) {
	return map[string]any{}, nil
}

func (s *Server) handleToolsList(context.Context, json.RawMessage) (any, error) {
	return ListToolsResult{Tools: s.tools.ListDefinitions()}, nil
}

func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage) (any, error) {
	var p CallToolParams
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, invalidParams(err)
	}
	if p.Name == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params: missing tool name"}
	}

	content, err := s.tools.Call(ctx, p.Name, p.Arguments)
	if errors.Is(err, toolregistry.ErrToolNotFound) {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	if err != nil {
		return CallToolResult{
			Content: []toolregistry.Content{toolregistry.TextContent("Error: " + err.Error())},
			IsError: true,
		}, nil
	}

	return CallToolResult{Content: content}, nil
}

func invalidParams(err error) *RPCError {
	return &RPCError{
		Code:    InvalidParams,
		Message: "Invalid params",
		Data:    err.Error(),
	}
}
