// Package argmap turns a caller's argument map into a command line.
//
// Build starts from a copy of the tool's template and appends, slot by slot
// and key by key, the rendered value of every key present in the argument
// map. Absent keys are skipped. Values are never quoted or escaped; each one
// becomes exactly one argv element.
//
// Rendering is canonical so the command line is deterministic:
//
//	string       verbatim
//	bool         true / false
//	integer      base 10
//	float        shortest round-trip decimal, exponent only outside [1e-6, 1e21)
//	json.Number  its literal text
//	sequence     elements rendered recursively and joined with ","
//	object       compact JSON, keys sorted
//	nil          empty string
package argmap

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// SequenceSeparator joins rendered sequence elements
const SequenceSeparator = ","

// Build returns template followed by the rendered values of args selected by
// mapping. The template is never modified.
func Build(template []string, args map[string]any, mapping [][]string) []string {
	out := make([]string, len(template), len(template)+countKeys(mapping))
	copy(out, template)

	for _, slot := range mapping {
		for _, key := range slot {
			value, ok := args[key]
			if !ok {
				continue
			}
			out = append(out, Render(value))
		}
	}

	return out
}

func countKeys(mapping [][]string) int {
	n := 0
	for _, slot := range mapping {
		n += len(slot)
	}
	return n
}

// Render converts a single argument value to its command-line form.
func Render(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	case float64:
		return formatFloat(v, 64)
	case float32:
		return formatFloat(float64(v), 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case []any:
		parts := make([]string, len(v))
		for i, elem := range v {
			parts[i] = Render(elem)
		}
		return strings.Join(parts, SequenceSeparator)
	case []string:
		return strings.Join(v, SequenceSeparator)
	case map[string]any:
		return renderObject(v)
	case fmt.Stringer:
		return v.String()
	}

	return renderReflect(reflect.ValueOf(value))
}

// renderReflect covers the remaining integer widths and typed slices or maps.
func renderReflect(rv reflect.Value) string {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return formatFloat(rv.Float(), rv.Type().Bits())
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = Render(rv.Index(i).Interface())
		}
		return strings.Join(parts, SequenceSeparator)
	case reflect.Map:
		return renderObject(rv.Interface())
	case reflect.Pointer:
		if rv.IsNil() {
			return ""
		}
		return Render(rv.Elem().Interface())
	}
	return fmt.Sprint(rv.Interface())
}

// formatFloat follows the encoding/json cutoffs for exponent notation.
func formatFloat(f float64, bits int) string {
	abs := math.Abs(f)
	format := byte('f')
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	return strconv.FormatFloat(f, format, -1, bits)
}

// renderObject relies on encoding/json sorting map keys.
func renderObject(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
