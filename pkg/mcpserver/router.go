package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Handler handles one RPC method. Returning an *RPCError sends it as-is;
// any other error becomes InternalError.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Router handles RPC method registration and request routing
type Router struct {
	mu      sync.RWMutex
	methods map[string]Handler
}

// NewRouter creates a new RPC router
func NewRouter() *Router {
	return &Router{
		methods: make(map[string]Handler),
	}
}

// RegisterMethod registers an RPC method handler
func (r *Router) RegisterMethod(name string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.methods[name] = handler
	return nil
}

// HasMethod checks if a method is registered
func (r *Router) HasMethod(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.methods[name]
	return exists
}

// Methods returns all registered method names, sorted
func (r *Router) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.methods))
	for name := range r.methods {
		methods = append(methods, name)
	}
	sort.Strings(methods)
	return methods
}

// ParseRequest parses and validates a JSON-RPC request
func (r *Router) ParseRequest(data []byte) (*Request, *RPCError) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return nil, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request: batch requests are not supported",
		}
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) || len(trimmed) == 0 {
			return nil, &RPCError{
				Code:    ParseError,
				Message: "Parse error",
				Data:    err.Error(),
			}
		}
		return nil, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request",
			Data:    err.Error(),
		}
	}

	if req.JSONRPC != "" && req.JSONRPC != JSONRPCVersion {
		return &req, &RPCError{
			Code:    InvalidRequest,
			Message: fmt.Sprintf("Invalid request: unsupported jsonrpc version %q", req.JSONRPC),
		}
	}

	if req.Method == "" {
		return &req, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request: missing method field",
		}
	}

	if req.JSONRPC == "" {
		req.JSONRPC = JSONRPCVersion
	}

	return &req, nil
}

// RouteRequest routes a request to its handler. Notifications get a nil
// response.
func (r *Router) RouteRequest(ctx context.Context, req *Request) *Response {
	if req == nil {
		return errorResponse(nil, &RPCError{Code: InvalidRequest, Message: "invalid request"})
	}

	r.mu.RLock()
	handler, exists := r.methods[req.Method]
	r.mu.RUnlock()

	if !exists {
		if req.IsNotification() {
			return nil
		}
		return errorResponse(req.ID, &RPCError{
			Code:    MethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		})
	}

	result, err := handler(ctx, req.Params)
	if req.IsNotification() {
		return nil
	}

	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return errorResponse(req.ID, rpcErr)
		}
		return errorResponse(req.ID, &RPCError{
			Code:    InternalError,
			Message: err.Error(),
		})
	}

	if result == nil {
		result = struct{}{}
	}

	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      req.ID,
		Result:  result,
	}
}

func errorResponse(id json.RawMessage, rpcErr *RPCError) *Response {
	if len(id) == 0 {
		id = nullID
	}
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   rpcErr,
	}
}
