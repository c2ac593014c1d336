package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const shutdownTimeout = 5 * time.Second

// DefaultMaxMessageBytes caps a single inbound websocket frame
const DefaultMaxMessageBytes int64 = 4 << 20

// ConnectionObserver is notified when websocket connections open and close
type ConnectionObserver interface {
	ConnectionOpened()
	ConnectionClosed()
}

// WebsocketHandler returns an http.Handler that upgrades to a websocket and
// speaks MCP over it, one JSON-RPC message per text frame.
// Frames larger than maxMessageBytes close the connection; zero or less
// means DefaultMaxMessageBytes.
func (s *Server) WebsocketHandler(connections ConnectionObserver, maxMessageBytes int64) http.Handler {
	if maxMessageBytes <= 0 {
		maxMessageBytes = DefaultMaxMessageBytes
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to upgrade connection")
			return
		}
		conn.SetReadLimit(maxMessageBytes)
		if connections != nil {
			connections.ConnectionOpened()
			defer connections.ConnectionClosed()
		}
		s.serveConn(r.Context(), conn, r.RemoteAddr)
	})
}

func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn, remoteAddr string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeMu sync.Mutex
	send := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	sess := s.newSession("websocket", send)
	sess.logger.Info().Str("remote_addr", remoteAddr).Msg("Client connected")

	defer func() {
		cancel()
		sess.close()
		_ = conn.Close()
		sess.logger.Info().Msg("Client disconnected")
	}()

	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.logger.Error().Err(err).Msg("WebSocket error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		sess.handle(ctx, message)
	}
}

// HTTPOptions configures ListenAndServe
type HTTPOptions struct {
	Addr string

	// Metrics is served at /metrics when set
	Metrics http.Handler

	Connections ConnectionObserver

	// MaxMessageBytes defaults to DefaultMaxMessageBytes
	MaxMessageBytes int64
}

// NewMux builds the HTTP routes: /mcp, /healthz and optionally /metrics
func (s *Server) NewMux(opts HTTPOptions) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/mcp", s.WebsocketHandler(opts.Connections, opts.MaxMessageBytes))
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// ListenAndServe serves the websocket transport until ctx is done, then
// shuts the listener down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, opts HTTPOptions) error {
	if opts.Addr == "" {
		return fmt.Errorf("listen address is required")
	}

	httpServer := &http.Server{
		Addr:              opts.Addr,
		Handler:           s.NewMux(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", opts.Addr).Msg("Serving MCP over websocket")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("websocket server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down websocket server: %w", err)
	}
	s.logger.Info().Msg("Websocket server stopped")
	return nil
}
