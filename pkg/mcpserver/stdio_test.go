package mcpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolbox/pkg/toolregistry"
)

func decodeLines(t *testing.T, out []byte) map[string]map[string]any {
	t.Helper()
	byID := make(map[string]map[string]any)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		var msg map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &msg))
		id, _ := json.Marshal(msg["id"])
		byID[string(id)] = msg
	}
	require.NoError(t, scanner.Err())
	return byID
}

func TestServeStdio_Session(t *testing.T) {
	tools := &funcTools{
		list: []toolregistry.Listing{{Name: "echo", Description: "Echo", InputSchema: map[string]any{"type": "object"}}},
		call: func(_ context.Context, name string, args map[string]any) ([]toolregistry.Content, error) {
			return []toolregistry.Content{toolregistry.TextContent(name + ":" + args["text"].(string))}, nil
		},
	}
	recorder := &requestRecorder{}
	srv, err := New(Options{Name: "toolbox", Version: "dev", Tools: tools, Observer: recorder, Logger: zerolog.Nop()})
	require.NoError(t, err)

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","clientInfo":{"name":"test","version":"1"}}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`,
		`{"jsonrpc":"2.0","id":4,"method":"resources/list"}`,
		`{not json`,
	}, "\n")

	var out bytes.Buffer
	err = srv.ServeStdio(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)

	responses := decodeLines(t, out.Bytes())
	require.Len(t, responses, 5)

	initResult := responses["1"]["result"].(map[string]any)
	assert.Equal(t, "2025-03-26", initResult["protocolVersion"])
	assert.Equal(t, map[string]any{"name": "toolbox", "version": "dev"}, initResult["serverInfo"])

	tools2 := responses["2"]["result"].(map[string]any)["tools"].([]any)
	require.Len(t, tools2, 1)
	assert.Equal(t, "echo", tools2[0].(map[string]any)["name"])

	callResult := responses["3"]["result"].(map[string]any)
	assert.Equal(t, false, callResult["isError"])
	assert.Equal(t, "echo:hi", callResult["content"].([]any)[0].(map[string]any)["text"])

	methodErr := responses["4"]["error"].(map[string]any)
	assert.Equal(t, float64(MethodNotFound), methodErr["code"])

	parseErr := responses["null"]["error"].(map[string]any)
	assert.Equal(t, float64(ParseError), parseErr["code"])

	assert.ElementsMatch(t, []string{
		"initialize:success",
		"notifications/initialized:success",
		"tools/list:success",
		"tools/call:success",
		"unknown:error",
		"invalid:error",
	}, recorder.snapshot())
	assert.Equal(t, 0, srv.SessionCount())
}

func TestServeStdio_Cancellation(t *testing.T) {
	started := make(chan struct{})
	tools := &funcTools{
		call: func(ctx context.Context, _ string, _ map[string]any) ([]toolregistry.Content, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	srv := newTestServer(t, tools)

	inR, inW := io.Pipe()
	var out lockedBuffer
	done := make(chan error, 1)
	go func() {
		done <- srv.ServeStdio(context.Background(), inR, &out)
	}()

	_, err := io.WriteString(inW, `{"jsonrpc":"2.0","id":"slow","method":"tools/call","params":{"name":"sleep"}}`+"\n")
	require.NoError(t, err)
	<-started

	_, err = io.WriteString(inW, `{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":"slow","reason":"user abort"}}`+"\n")
	require.NoError(t, err)
	_, err = io.WriteString(inW, `{"jsonrpc":"2.0","id":9,"method":"ping"}`+"\n")
	require.NoError(t, err)
	require.NoError(t, inW.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stdio server did not exit")
	}

	responses := decodeLines(t, out.Bytes())
	assert.Contains(t, responses, "9")
	assert.NotContains(t, responses, `"slow"`)
}

func TestServeStdio_ContextCancel(t *testing.T) {
	srv := newTestServer(t, &mockTools{})

	inR, inW := io.Pipe()
	defer inW.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.ServeStdio(ctx, inR, io.Discard)
	}()

	require.Eventually(t, func() bool { return srv.SessionCount() == 1 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("stdio server did not stop on cancel")
	}
	assert.Equal(t, 0, srv.SessionCount())
}

func TestServeStdio_ListChanged(t *testing.T) {
	srv := newTestServer(t, &mockTools{})

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- srv.ServeStdio(context.Background(), inR, outW)
	}()

	require.Eventually(t, func() bool { return srv.SessionCount() == 1 }, time.Second, 10*time.Millisecond)

	go srv.NotifyToolsChanged()

	line, err := bufio.NewReader(outR).ReadBytes('\n')
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`, string(line))

	require.NoError(t, inW.Close())
	require.NoError(t, <-done)
}

func TestServeStdio_UnknownMethodsShareOneLabel(t *testing.T) {
	recorder := &requestRecorder{}
	srv, err := New(Options{Name: "toolbox", Tools: &mockTools{}, Observer: recorder, Logger: zerolog.Nop()})
	require.NoError(t, err)

	var input strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&input, `{"jsonrpc":"2.0","id":%d,"method":"bogus/method-%d"}`+"\n", i, i)
		fmt.Fprintf(&input, `{"jsonrpc":"2.0","method":"notifications/bogus-%d"}`+"\n", i)
	}

	require.NoError(t, srv.ServeStdio(context.Background(), strings.NewReader(input.String()), io.Discard))

	labels := make(map[string]int)
	for _, record := range recorder.snapshot() {
		labels[record]++
	}
	assert.Equal(t, map[string]int{"unknown:error": 50, "unknown:success": 50}, labels)
}

func TestServeStdio_DuplicateRequestID(t *testing.T) {
	started := make(chan struct{})
	var calls atomic.Int32
	tools := &funcTools{
		call: func(ctx context.Context, _ string, _ map[string]any) ([]toolregistry.Content, error) {
			if calls.Add(1) == 1 {
				close(started)
			}
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	srv := newTestServer(t, tools)

	inR, inW := io.Pipe()
	var out lockedBuffer
	done := make(chan error, 1)
	go func() {
		done <- srv.ServeStdio(context.Background(), inR, &out)
	}()

	request := `{"jsonrpc":"2.0","id":"dup","method":"tools/call","params":{"name":"sleep"}}` + "\n"
	_, err := io.WriteString(inW, request)
	require.NoError(t, err)
	<-started

	_, err = io.WriteString(inW, request)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return bytes.Contains(out.Bytes(), []byte("already in flight"))
	}, 2*time.Second, 10*time.Millisecond)

	// the first request must still be cancellable by its id
	_, err = io.WriteString(inW, `{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":"dup"}}`+"\n")
	require.NoError(t, err)
	require.NoError(t, inW.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stdio server did not exit")
	}

	assert.Equal(t, int32(1), calls.Load())
	responses := decodeLines(t, out.Bytes())
	require.Contains(t, responses, `"dup"`)
	rpcErr := responses[`"dup"`]["error"].(map[string]any)
	assert.Equal(t, float64(InvalidRequest), rpcErr["code"])
}
