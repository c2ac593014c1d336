package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harun/toolbox/internal/config"
)

const testConfig = `server:
  name: test-tools
  version: 1.0.0
  defaultTimeoutSeconds: 5
logging:
  level: error
tools:
  - name: echo
    description: Echo text back
    command: echo
    inputSchema:
      type: object
      properties:
        text: {type: string}
      required: [text]
      argMapping: [[text]]
  - name: fail
    description: Always fails
    command: sh
    args: ["-c", "echo boom >&2; exit 2"]
    timeoutSeconds: 2
    inputSchema:
      type: object
`

type result struct {
	stdout string
	stderr string
	err    error
}

func resetFlags() {
	cfgFile = config.DefaultConfigPath
	logLevel = ""
	listenAddr = ""
	watchConfig = false
	callArgs = "{}"
}

// execute runs the root command with fresh flag state
func execute(t *testing.T, stdin io.Reader, args ...string) result {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	if stdin == nil {
		stdin = strings.NewReader("")
	}

	cmd := GetRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
