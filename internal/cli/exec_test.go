//go:build unix

package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolbox/pkg/toolregistry"
)

func TestToolsCall_Runs(t *testing.T) {
	path := writeConfig(t, testConfig)

	t.Run("prints output", func(t *testing.T) {
		res := execute(t, nil, "tools", "call", "echo", "-c", path, "--args", `{"text":"hello world"}`)
		require.NoError(t, res.err)
		assert.Equal(t, "hello world\n", res.stdout)
	})

	t.Run("reports failures", func(t *testing.T) {
		res := execute(t, nil, "tools", "call", "fail", "-c", path)
		require.ErrorIs(t, res.err, toolregistry.ErrCommandFailed)
		assert.Contains(t, res.err.Error(), "exit code 2")
		assert.Contains(t, res.err.Error(), "boom")
	})
}

func TestServe_Stdio(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit.log")
	path := writeConfig(t, testConfig+"audit:\n  file: "+auditPath+"\n")

	stdin := strings.NewReader(strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"text":"from stdio"}}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"fail"}}`,
	}, "\n") + "\n")

	res := execute(t, stdin, "serve", "-c", path)
	require.NoError(t, res.err)

	responses := map[float64]map[string]any{}
	for _, line := range strings.Split(strings.TrimSpace(res.stdout), "\n") {
		var msg map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &msg), "stdout must only carry protocol frames: %q", line)
		responses[msg["id"].(float64)] = msg
	}
	require.Len(t, responses, 4)

	serverInfo := responses[1]["result"].(map[string]any)["serverInfo"].(map[string]any)
	assert.Equal(t, "test-tools", serverInfo["name"])

	tools := responses[2]["result"].(map[string]any)["tools"].([]any)
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].(map[string]any)["name"])
	assert.Equal(t, "fail", tools[1].(map[string]any)["name"])

	echo := responses[3]["result"].(map[string]any)
	assert.Equal(t, false, echo["isError"])
	assert.Equal(t, "from stdio\n", echo["content"].([]any)[0].(map[string]any)["text"])

	fail := responses[4]["result"].(map[string]any)
	assert.Equal(t, true, fail["isError"])
	text := fail["content"].([]any)[0].(map[string]any)["text"].(string)
	assert.True(t, strings.HasPrefix(text, "Error: "))
	assert.Contains(t, text, "boom")

	auditLog, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	assert.Contains(t, string(auditLog), "execute:echo")
	assert.Contains(t, string(auditLog), "execute:fail")
}
