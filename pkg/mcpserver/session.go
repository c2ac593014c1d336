package mcpserver

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/harun/toolbox/internal/tracing"
)

// Request status labels reported to the observer
const (
	statusSuccess = "success"
	statusError   = "error"
)

// Method labels for messages that name no registered method
const (
	methodInvalid = "invalid"
	methodUnknown = "unknown"
)

type sessionKey struct{}

func sessionFromContext(ctx context.Context) *session {
	sess, _ := ctx.Value(sessionKey{}).(*session)
	return sess
}

// session is one client connection. send must be safe for concurrent use;
// transports serialize it.
type session struct {
	id          string
	server      *Server
	send        func(v any) error
	logger      zerolog.Logger
	initialized atomic.Bool

	mu       sync.Mutex
	inflight map[string]*inflightRequest
	wg       sync.WaitGroup
}

type inflightRequest struct {
	cancel context.CancelFunc
}

func (s *Server) newSession(transport string, send func(v any) error) *session {
	id := tracing.NewCallID()
	sess := &session{
		id:     id,
		server: s,
		send:   send,
		logger: s.logger.With().
			Str("client_id", id).
			Str("transport", transport).
			Logger(),
		inflight: make(map[string]*inflightRequest),
	}
	s.addSession(sess)
	sess.logger.Debug().Msg("Session opened")
	return sess
}

func (sess *session) markInitialized() {
	sess.initialized.Store(true)
	sess.logger.Debug().Msg("Client initialized")
}

// handle parses one inbound message. Requests are answered on their own
// goroutine; notifications are handled inline so cancellations take effect
// immediately.
func (sess *session) handle(ctx context.Context, data []byte) {
	req, rpcErr := sess.server.router.ParseRequest(data)
	if rpcErr != nil {
		var id json.RawMessage
		if req != nil {
			id = req.ID
		}
		sess.logger.Warn().Str("error", rpcErr.Message).Msg("Rejected malformed message")
		sess.observe(methodInvalid, statusError)
		sess.write(errorResponse(id, rpcErr))
		return
	}

	method := req.Method
	if !sess.server.router.HasMethod(method) {
		method = methodUnknown
	}

	if req.IsNotification() {
		sess.server.router.RouteRequest(sess.requestContext(ctx, req), req)
		sess.observe(method, statusSuccess)
		return
	}

	reqCtx, cancel := context.WithCancel(sess.requestContext(ctx, req))
	key := string(req.ID)
	entry := &inflightRequest{cancel: cancel}

	sess.mu.Lock()
	if _, busy := sess.inflight[key]; busy {
		sess.mu.Unlock()
		cancel()
		sess.logger.Warn().RawJSON("request_id", req.ID).Msg("Rejected duplicate request id")
		sess.observe(method, statusError)
		sess.write(errorResponse(req.ID, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request: request id is already in flight",
		}))
		return
	}
	sess.inflight[key] = entry
	sess.mu.Unlock()

	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		defer func() {
			sess.mu.Lock()
			if sess.inflight[key] == entry {
				delete(sess.inflight, key)
			}
			sess.mu.Unlock()
			cancel()
		}()

		resp := sess.server.router.RouteRequest(reqCtx, req)
		sess.observe(method, responseStatus(resp))
		if reqCtx.Err() != nil && ctx.Err() == nil {
			// cancelled by the client; it no longer expects a response
			sess.logger.Debug().RawJSON("request_id", req.ID).Msg("Dropped response to cancelled request")
			return
		}
		sess.write(resp)
	}()
}

func (sess *session) requestContext(ctx context.Context, req *Request) context.Context {
	ctx = context.WithValue(ctx, sessionKey{}, sess)
	ctx = tracing.NewRequestContext(ctx)
	ctx = tracing.WithClientID(ctx, sess.id)
	if !req.IsNotification() {
		ctx = tracing.WithRequestID(ctx, string(req.ID))
	}
	return ctx
}

func (sess *session) cancel(requestID json.RawMessage, reason string) {
	sess.mu.Lock()
	entry, ok := sess.inflight[string(requestID)]
	sess.mu.Unlock()

	if !ok {
		return
	}
	sess.logger.Info().
		RawJSON("request_id", requestID).
		Str("reason", reason).
		Msg("Request cancelled by client")
	entry.cancel()
}

func (sess *session) notify(method string, params any) error {
	return sess.send(Notification{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  params,
	})
}

func (sess *session) write(resp *Response) {
	if resp == nil {
		return
	}
	if err := sess.send(resp); err != nil {
		sess.logger.Error().Err(err).Msg("Failed to send response")
	}
}

func (sess *session) observe(method, status string) {
	if sess.server.observer != nil {
		sess.server.observer.ObserveRequest(method, status)
	}
}

// close cancels in-flight requests, waits for them, and forgets the session
func (sess *session) close() {
	sess.mu.Lock()
	for _, entry := range sess.inflight {
		entry.cancel()
	}
	sess.mu.Unlock()

	sess.wg.Wait()
	sess.server.removeSession(sess.id)
	sess.logger.Debug().Msg("Session closed")
}

// wait blocks until every in-flight request has been answered
func (sess *session) wait() {
	sess.wg.Wait()
}

func responseStatus(resp *Response) string {
	if resp == nil {
		return statusSuccess
	}
	if resp.Error != nil {
		return statusError
	}
	if result, ok := resp.Result.(CallToolResult); ok && result.IsError {
		return statusError
	}
	return statusSuccess
}
