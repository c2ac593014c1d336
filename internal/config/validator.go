package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/harun/toolbox/pkg/argmap"
	"github.com/harun/toolbox/pkg/schema"
)

// Validator validates configuration values
type Validator struct {
	schemas *schema.JSONSchema
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		schemas: schema.NewJSONSchema(),
	}
}

// ValidateServer checks server settings after defaults were applied
func (v *Validator) ValidateServer(s ServerSettings) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: server.name cannot be empty", ErrConfigInvalid)
	}
	if err := v.ValidateVersion(s.Version); err != nil {
		return err
	}
	if s.DefaultTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: server.defaultTimeoutSeconds must be positive, got %d", ErrConfigInvalid, s.DefaultTimeoutSeconds)
	}
	if s.MaxOutputBytes <= 0 {
		return fmt.Errorf("%w: server.maxOutputBytes must be positive, got %d", ErrConfigInvalid, s.MaxOutputBytes)
	}
	return nil
}

// ValidateVersion checks that version is a semantic version
func (v *Validator) ValidateVersion(version string) error {
	if _, err := semver.NewVersion(version); err != nil {
		return fmt.Errorf("%w: server.version %q is not a semantic version: %v", ErrConfigInvalid, version, err)
	}
	return nil
}

// ValidateTool decodes one raw tools entry. It returns every problem found,
// each prefixed with the entry's index and name.
func (v *Validator) ValidateTool(index int, raw any, defaultTimeout int) (ToolDefinition, []string) {
	entry, ok := raw.(map[string]any)
	if !ok {
		return ToolDefinition{}, []string{fmt.Sprintf("tools[%d]: entry must be a mapping", index)}
	}

	prefix := fmt.Sprintf("tools[%d]", index)
	if name, ok := entry["name"].(string); ok && name != "" {
		prefix = fmt.Sprintf("tools[%d] (%s)", index, name)
	}

	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, prefix+": "+fmt.Sprintf(format, args...))
	}

	tool := ToolDefinition{TimeoutSeconds: defaultTimeout, Args: []string{}}

	var missing []string
	for _, field := range []struct {
		key  string
		dest *string
	}{
		{"name", &tool.Name},
		{"description", &tool.Description},
		{"command", &tool.Command},
	} {
		value, present := entry[field.key]
		if !present {
			missing = append(missing, field.key)
			continue
		}
		s, ok := value.(string)
		if !ok {
			addf("%s must be a string", field.key)
			continue
		}
		*field.dest = s
	}

	rawSchema, present := lookup(entry, "inputSchema", "input_schema")
	if !present {
		missing = append(missing, "inputSchema")
	}
	if len(missing) > 0 {
		addf("missing required fields [%s]", strings.Join(missing, ", "))
	}

	if present {
		s, ok := normalize(rawSchema).(map[string]any)
		if !ok {
			addf("inputSchema must be a mapping")
		} else {
			tool.InputSchema = s
			if err := v.schemas.Compile(s); err != nil {
				addf("inputSchema: %v", err)
			}
		}
	}

	if tool.Name == "" && !containsString(missing, "name") {
		addf("name cannot be empty")
	}
	if tool.Command == "" && !containsString(missing, "command") {
		addf("command cannot be empty")
	}

	if rawArgs, ok := entry["args"]; ok && rawArgs != nil {
		args, err := parseArgs(rawArgs)
		if err != nil {
			addf("%v", err)
		} else {
			tool.Args = args
		}
	}

	if rawTimeout, ok := lookup(entry, "timeoutSeconds", "timeout_sec"); ok {
		timeout, isInt := asInt(rawTimeout)
		if !isInt || timeout <= 0 {
			addf("timeoutSeconds must be a positive integer, got %v", rawTimeout)
		} else {
			tool.TimeoutSeconds = timeout
		}
	}

	// inline mapping wins over one nested in the schema
	rawMapping, ok := lookup(entry, schema.ArgMappingKey, schema.SnakeArgMappingKey)
	if !ok && tool.InputSchema != nil {
		rawMapping, ok = lookup(tool.InputSchema, schema.ArgMappingKey, schema.SnakeArgMappingKey)
	}
	if ok {
		mapping, err := parseArgMapping(rawMapping)
		if err != nil {
			addf("%v", err)
		} else {
			tool.ArgMapping = mapping
		}
	}

	return tool, problems
}

func lookup(m map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if value, ok := m[key]; ok {
			return value, true
		}
	}
	return nil, false
}

func parseArgs(raw any) ([]string, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, errors.New("args must be a list")
	}
	args := make([]string, 0, len(items))
	for i, item := range items {
		switch item.(type) {
		case map[string]any, map[any]any, []any, nil:
			return nil, fmt.Errorf("args[%d] must be a scalar", i)
		}
		args = append(args, argmap.Render(item))
	}
	return args, nil
}

func parseArgMapping(raw any) ([][]string, error) {
	errShape := errors.New("argMapping must be a list of lists of strings")

	slots, ok := raw.([]any)
	if !ok {
		return nil, errShape
	}
	mapping := make([][]string, 0, len(slots))
	for _, rawSlot := range slots {
		keys, ok := rawSlot.([]any)
		if !ok {
			return nil, errShape
		}
		slot := make([]string, 0, len(keys))
		for _, rawKey := range keys {
			key, ok := rawKey.(string)
			if !ok {
				return nil, errShape
			}
			slot = append(slot, key)
		}
		mapping = append(mapping, slot)
	}
	return mapping, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

// normalize turns map[any]any produced by the YAML decoder into
// map[string]any so schemas can be encoded as JSON.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
