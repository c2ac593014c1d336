package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolbox/pkg/toolregistry"
)

type connectionCounter struct {
	opened atomic.Int32
	closed atomic.Int32
}

func (c *connectionCounter) ConnectionOpened() { c.opened.Add(1) }
func (c *connectionCounter) ConnectionClosed() { c.closed.Add(1) }

func newWebsocketTestServer(t *testing.T, srv *Server, counter ConnectionObserver) *httptest.Server {
	t.Helper()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "toolbox_tool_calls_total 0\n")
	})
	ts := httptest.NewServer(srv.NewMux(HTTPOptions{Metrics: metrics, Connections: counter}))
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/mcp"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn
}

func TestWebsocket_RequestResponse(t *testing.T) {
	tools := &funcTools{
		call: func(_ context.Context, _ string, args map[string]any) ([]toolregistry.Content, error) {
			return []toolregistry.Content{toolregistry.TextContent(args["text"].(string))}, nil
		},
	}
	srv := newTestServer(t, tools)
	counter := &connectionCounter{}
	ts := newWebsocketTestServer(t, srv, counter)

	conn := dial(t, ts)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"text":"over ws"}}}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var resp struct {
		ID     int            `json:"id"`
		Result CallToolResult `json:"result"`
	}
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, 1, resp.ID)
	assert.False(t, resp.Result.IsError)
	require.Len(t, resp.Result.Content, 1)
	assert.Equal(t, "over ws", resp.Result.Content[0].Text)

	assert.Equal(t, int32(1), counter.opened.Load())
	assert.Equal(t, 1, srv.SessionCount())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return counter.closed.Load() == 1 && srv.SessionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocket_ListChanged(t *testing.T) {
	srv := newTestServer(t, &mockTools{})
	ts := newWebsocketTestServer(t, srv, nil)

	first := dial(t, ts)
	defer first.Close()
	second := dial(t, ts)
	defer second.Close()

	require.Eventually(t, func() bool { return srv.SessionCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	srv.NotifyToolsChanged()

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`, string(data))
	}
}

func TestWebsocket_ParseError(t *testing.T) {
	srv := newTestServer(t, &mockTools{})
	ts := newWebsocketTestServer(t, srv, nil)

	conn := dial(t, ts)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{oops`)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "null", string(resp.ID))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ParseError, resp.Error.Code)
}

func TestHTTPRoutes(t *testing.T) {
	srv := newTestServer(t, &mockTools{})
	ts := newWebsocketTestServer(t, srv, nil)

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(data), "toolbox_tool_calls_total")
	})

	t.Run("mcp requires upgrade", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/mcp")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestListenAndServe(t *testing.T) {
	srv := newTestServer(t, &mockTools{})

	t.Run("should require address", func(t *testing.T) {
		err := srv.ListenAndServe(context.Background(), HTTPOptions{})
		assert.Error(t, err)
	})

	t.Run("should stop when context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- srv.ListenAndServe(ctx, HTTPOptions{Addr: "127.0.0.1:0"})
		}()

		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not shut down")
		}
	})
}

func TestWebsocket_ReadLimit(t *testing.T) {
	srv := newTestServer(t, &mockTools{})
	ts := httptest.NewServer(srv.NewMux(HTTPOptions{MaxMessageBytes: 256}))
	t.Cleanup(ts.Close)

	conn := dial(t, ts)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.SessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	oversized := `{"jsonrpc":"2.0","id":1,"method":"ping","params":{"pad":"` + strings.Repeat("x", 1024) + `"}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(oversized)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "server should close the connection on an oversized frame")

	require.Eventually(t, func() bool { return srv.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
