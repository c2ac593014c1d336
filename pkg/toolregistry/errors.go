package toolregistry

import (
	"errors"

	"github.com/harun/toolbox/pkg/executor"
)

var (
	// ErrInvalidArguments is returned when arguments fail schema validation
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrToolNotFound is returned when no tool is registered under a name
	ErrToolNotFound = errors.New("tool not found")

	// ErrCommandFailed is returned when a command exits with a non-zero status
	ErrCommandFailed = errors.New("command failed")

	// ErrToolExecution wraps any other failure during an invocation
	ErrToolExecution = errors.New("tool execution failed")
)

// Error kinds reported to observers and used as metric labels
const (
	KindInvalidArguments = "invalid_arguments"
	KindToolNotFound     = "tool_not_found"
	KindCommandNotFound  = "command_not_found"
	KindCommandTimeout   = "command_timeout"
	KindCommandExecution = "command_execution"
	KindCommandFailed    = "command_failed"
	KindToolExecution    = "tool_execution"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidArguments, KindInvalidArguments},
	{ErrToolNotFound, KindToolNotFound},
	{executor.ErrCommandNotFound, KindCommandNotFound},
	{executor.ErrCommandTimeout, KindCommandTimeout},
	{executor.ErrCommandExecution, KindCommandExecution},
	{ErrCommandFailed, KindCommandFailed},
	{ErrToolExecution, KindToolExecution},
}

// ErrorKind returns the kind of err, or "" for nil. Errors of no known kind
// report KindToolExecution.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindToolExecution
}

func isNamed(err error) bool {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return true
		}
	}
	return false
}
