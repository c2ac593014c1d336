package config

import (
	"errors"
	"strings"
)

var (
	// ErrConfigMissing is returned when the document has no tools section
	ErrConfigMissing = errors.New("config must contain 'tools' section")

	// ErrConfigInvalid is returned when the document is present but unusable
	ErrConfigInvalid = errors.New("invalid config")
)

// ConfigInvalidError lists every problem found in the tools section, one
// message per offending entry.
type ConfigInvalidError struct {
	Problems []string
}

func (e *ConfigInvalidError) Error() string {
	return ErrConfigInvalid.Error() + ": " + strings.Join(e.Problems, "; ")
}

// Unwrap lets errors.Is match ErrConfigInvalid
func (e *ConfigInvalidError) Unwrap() error {
	return ErrConfigInvalid
}
