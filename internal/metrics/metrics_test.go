package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/harun/toolbox/pkg/toolregistry"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.Registry() == nil {
		t.Error("Registry is nil")
	}
	if m.ToolCallsTotal == nil || m.ToolCallDuration == nil || m.ToolErrorsTotal == nil {
		t.Error("Tool metrics not initialized")
	}
	if m.RequestsTotal == nil || m.ConnectionsActive == nil {
		t.Error("Protocol metrics not initialized")
	}
}

func TestObserveCall(t *testing.T) {
	m := NewMetrics()
	ctx := context.Background()

	m.ObserveCall(ctx, toolregistry.CallRecord{Tool: "grep", Duration: 20 * time.Millisecond})
	m.ObserveCall(ctx, toolregistry.CallRecord{Tool: "grep", Truncated: true})
	m.ObserveCall(ctx, toolregistry.CallRecord{
		Tool:      "grep",
		Err:       errors.New("command failed (exit code 2)"),
		ErrorKind: toolregistry.KindCommandFailed,
	})

	if got := testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("grep", StatusSuccess)); got != 2 {
		t.Errorf("Expected 2 successful calls, got %v", got)
	}
	if got := testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("grep", StatusError)); got != 1 {
		t.Errorf("Expected 1 failed call, got %v", got)
	}
	if got := testutil.ToFloat64(m.ToolErrorsTotal.WithLabelValues("grep", toolregistry.KindCommandFailed)); got != 1 {
		t.Errorf("Expected 1 command_failed error, got %v", got)
	}
	if got := testutil.ToFloat64(m.ToolTruncatedTotal.WithLabelValues("grep")); got != 1 {
		t.Errorf("Expected 1 truncation, got %v", got)
	}
}

func TestObserveCallUnknownTool(t *testing.T) {
	m := NewMetrics()

	m.ObserveCall(context.Background(), toolregistry.CallRecord{
		Tool:      "nope",
		Err:       toolregistry.ErrToolNotFound,
		ErrorKind: toolregistry.KindToolNotFound,
	})

	if got := testutil.ToFloat64(m.ToolErrorsTotal.WithLabelValues(UnknownLabel, toolregistry.KindToolNotFound)); got != 1 {
		t.Errorf("Expected 1 tool_not_found error, got %v", got)
	}
	if got := testutil.CollectAndCount(m.ToolCallsTotal); got != 0 {
		t.Errorf("Unknown tools should not count as calls, got %d series", got)
	}
}

func TestObserveRequestAndReload(t *testing.T) {
	m := NewMetrics()

	m.ObserveRequest("tools/call", StatusSuccess)
	m.ObserveRequest("tools/call", StatusSuccess)
	m.ObserveReload(nil)
	m.ObserveReload(errors.New("bad config"))

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("tools/call", StatusSuccess)); got != 2 {
		t.Errorf("Expected 2 requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.ConfigReloadsTotal.WithLabelValues(StatusError)); got != 1 {
		t.Errorf("Expected 1 failed reload, got %v", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.ToolsRegistered.Set(3)
	m.ObserveCall(context.Background(), toolregistry.CallRecord{Tool: "echo"})

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Failed to get metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}

	for _, want := range []string{"toolbox_tools_registered 3", "toolbox_tool_calls_total", `tool="echo"`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("Expected metrics output to contain %q", want)
		}
	}
}

func TestMetricsIsolation(t *testing.T) {
	m1 := NewMetrics()
	m2 := NewMetrics()

	m1.ToolsRegistered.Set(5)

	if got := testutil.ToFloat64(m2.ToolsRegistered); got != 0 {
		t.Errorf("Expected isolated registries, got %v", got)
	}
}

func TestConnectionsAndToolGauge(t *testing.T) {
	m := NewMetrics()

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.SetToolsRegistered(4)

	if got := testutil.ToFloat64(m.ConnectionsActive); got != 1 {
		t.Errorf("Expected 1 active connection, got %v", got)
	}
	if got := testutil.ToFloat64(m.ToolsRegistered); got != 4 {
		t.Errorf("Expected 4 registered tools, got %v", got)
	}
}

func TestUnknownToolsShareOneSeries(t *testing.T) {
	m := NewMetrics()
	r := toolregistry.New(toolregistry.Options{Observer: m})

	for i := 0; i < 200; i++ {
		_, err := r.Call(context.Background(), fmt.Sprintf("no-such-tool-%d", i), nil)
		if !errors.Is(err, toolregistry.ErrToolNotFound) {
			t.Fatalf("Expected tool not found, got %v", err)
		}
	}

	if got := testutil.CollectAndCount(m.ToolErrorsTotal); got != 1 {
		t.Errorf("Expected a single error series for unknown tools, got %d", got)
	}
	if got := testutil.ToFloat64(m.ToolErrorsTotal.WithLabelValues(UnknownLabel, toolregistry.KindToolNotFound)); got != 200 {
		t.Errorf("Expected 200 unknown tool errors, got %v", got)
	}
}
