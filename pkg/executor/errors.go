package executor

import "errors"

var (
	// ErrCommandNotFound is returned when the executable cannot be found or started
	ErrCommandNotFound = errors.New("command not found")

	// ErrCommandTimeout is returned when a command outlives its deadline
	ErrCommandTimeout = errors.New("command timed out")

	// ErrCommandExecution is returned for any other spawn or wait failure
	ErrCommandExecution = errors.New("command execution failed")
)
