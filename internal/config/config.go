package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/toolbox/pkg/toolregistry"
)

// Default server settings
const (
	DefaultServerName     = "mcp-stdio-toolbox"
	DefaultServerVersion  = "0.1.0"
	DefaultTimeoutSeconds = 30
	DefaultMaxOutputBytes = 1048576
)

// Config represents the whole toolbox configuration
type Config struct {
	Server  ServerSettings `json:"server" mapstructure:"server"`
	Logging LoggingConfig  `json:"logging" mapstructure:"logging"`
	Audit   AuditConfig    `json:"audit" mapstructure:"audit"`
	Tracing TracingConfig  `json:"tracing" mapstructure:"tracing"`

	// Tools is decoded separately so schema property names keep their case
	Tools []ToolDefinition `json:"tools" mapstructure:"-"`
}

// ServerSettings holds server identity and per-call limits
type ServerSettings struct {
	Name                  string `json:"name" mapstructure:"name"`
	Version               string `json:"version" mapstructure:"version"`
	DefaultTimeoutSeconds int    `json:"defaultTimeoutSeconds" mapstructure:"defaultTimeoutSeconds"`
	MaxOutputBytes        int    `json:"maxOutputBytes" mapstructure:"maxOutputBytes"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	MaxSizeMB  int    `json:"maxSizeMB" mapstructure:"maxSizeMB"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxBackups"`
	Pretty     bool   `json:"pretty" mapstructure:"pretty"`
	Redaction  bool   `json:"redaction" mapstructure:"redaction"`
}

// AuditConfig holds the per-call audit trail settings
type AuditConfig struct {
	// File is the NDJSON audit log path; empty disables auditing
	File string `json:"file" mapstructure:"file"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	// OTLPEndpoint is an OTLP/HTTP collector URL; empty keeps spans in-process
	OTLPEndpoint string `json:"otlpEndpoint" mapstructure:"otlpEndpoint"`
}

// ToolDefinition describes one configured tool. All defaults are resolved
// at load time.
type ToolDefinition struct {
	Name           string         `json:"name" yaml:"name"`
	Description    string         `json:"description" yaml:"description"`
	Command        string         `json:"command" yaml:"command"`
	Args           []string       `json:"args" yaml:"args"`
	InputSchema    map[string]any `json:"inputSchema" yaml:"inputSchema"`
	TimeoutSeconds int            `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	ArgMapping     [][]string     `json:"argMapping,omitempty" yaml:"argMapping,omitempty"`
}

// Timeout returns the tool deadline as a duration
func (t ToolDefinition) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// Registration converts the tool into a registry definition
func (t ToolDefinition) Registration() toolregistry.Definition {
	return toolregistry.Definition{
		Name:        t.Name,
		Description: t.Description,
		Command:     t.Command,
		Args:        t.Args,
		InputSchema: t.InputSchema,
		ArgMapping:  t.ArgMapping,
		Timeout:     t.Timeout(),
	}
}

// Registrations converts every configured tool, keeping file order
func (c *Config) Registrations() []toolregistry.Definition {
	defs := make([]toolregistry.Definition, 0, len(c.Tools))
	for _, tool := range c.Tools {
		defs = append(defs, tool.Registration())
	}
	return defs
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerSettings{
			Name:                  DefaultServerName,
			Version:               DefaultServerVersion,
			DefaultTimeoutSeconds: DefaultTimeoutSeconds,
			MaxOutputBytes:        DefaultMaxOutputBytes,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			Redaction:  true,
		},
		Tools: []ToolDefinition{},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks the server and logging settings. Tool entries are checked
// while they are decoded.
func (c *Config) Validate() error {
	v := NewValidator()

	if err := v.ValidateServer(c.Server); err != nil {
		return err
	}
	if c.Logging.MaxSizeMB < 0 {
		return fmt.Errorf("%w: logging.maxSizeMB must not be negative", ErrConfigInvalid)
	}

	return nil
}
