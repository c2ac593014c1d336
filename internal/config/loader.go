package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when no path is given
const DefaultConfigPath = "config/tools.yaml"

// EnvPrefix prefixes environment overrides, e.g. TOOLBOX_SERVER_MAXOUTPUTBYTES
const EnvPrefix = "TOOLBOX"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	return DefaultConfigPath
}

// Load reads, defaults and validates the configuration file. It has no side
// effects beyond reading the file.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	v := viper.New()
	v.SetConfigType(configType(configPath))
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrConfigInvalid, configPath, err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %v", ErrConfigInvalid, err)
	}
	applyLegacyKeys(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tools, err := decodeTools(data, configType(configPath), cfg.Server.DefaultTimeoutSeconds)
	if err != nil {
		return nil, err
	}
	cfg.Tools = tools

	return cfg, nil
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

// setDefaults registers every overridable key so AutomaticEnv can see it
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("server.name", def.Server.Name)
	v.SetDefault("server.version", def.Server.Version)
	v.SetDefault("server.defaultTimeoutSeconds", def.Server.DefaultTimeoutSeconds)
	v.SetDefault("server.maxOutputBytes", def.Server.MaxOutputBytes)

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.file", def.Logging.File)
	v.SetDefault("logging.maxSizeMB", def.Logging.MaxSizeMB)
	v.SetDefault("logging.maxBackups", def.Logging.MaxBackups)
	v.SetDefault("logging.pretty", def.Logging.Pretty)
	v.SetDefault("logging.redaction", def.Logging.Redaction)

	v.SetDefault("audit.file", def.Audit.File)
	v.SetDefault("tracing.otlpEndpoint", def.Tracing.OTLPEndpoint)
}

// applyLegacyKeys honours the snake_case server keys of older config files
// when the camelCase key is not set in the file.
func applyLegacyKeys(v *viper.Viper, cfg *Config) {
	if v.InConfig("server.default_timeout_sec") && !v.InConfig("server.defaulttimeoutseconds") {
		cfg.Server.DefaultTimeoutSeconds = v.GetInt("server.default_timeout_sec")
	}
	if v.InConfig("server.max_output_bytes") && !v.InConfig("server.maxoutputbytes") {
		cfg.Server.MaxOutputBytes = v.GetInt("server.max_output_bytes")
	}
}

func decodeDocument(data []byte, format string) (map[string]any, error) {
	var doc map[string]any
	if format == "json" {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
		}
		return doc, nil
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	return doc, nil
}

// decodeTools reads the tools section from the raw document, bypassing
// viper so schema property names keep their case.
func decodeTools(data []byte, format string, defaultTimeout int) ([]ToolDefinition, error) {
	doc, err := decodeDocument(data, format)
	if err != nil {
		return nil, err
	}

	rawTools, ok := doc["tools"]
	if !ok {
		return nil, ErrConfigMissing
	}
	entries, ok := rawTools.([]any)
	if !ok {
		return nil, &ConfigInvalidError{Problems: []string{"tools must be a list"}}
	}

	v := NewValidator()
	tools := make([]ToolDefinition, 0, len(entries))
	var problems []string
	for i, entry := range entries {
		tool, toolProblems := v.ValidateTool(i, normalize(entry), defaultTimeout)
		if len(toolProblems) > 0 {
			problems = append(problems, toolProblems...)
			continue
		}
		tools = append(tools, tool)
	}

	if len(problems) > 0 {
		return nil, &ConfigInvalidError{Problems: problems}
	}
	return tools, nil
}
