package ops

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ArgType is the declared type of an operation argument.
type ArgType string

// Argument types accepted by CoerceArgs.
const (
	ArgString     ArgType = "string"
	ArgStringList ArgType = "string_list"
	ArgBool       ArgType = "bool"
	ArgInt        ArgType = "int"
	ArgStringMap  ArgType = "string_map"
)

// ArgField declares one argument in an operation's schema.
type ArgField struct {
	Type     ArgType
	Required bool
	Default  any
}

// ArgError reports a rejected argument payload.
type ArgError struct {
	Operation string
	Field     string
	Reason    string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("operation %s: argument %q: %s", e.Operation, e.Field, e.Reason)
}

// CoerceArgs validates raw arguments against an operation's schema and returns
// a normalized copy. Unknown keys are rejected, missing required fields fail,
// optional fields receive their declared defaults, and JSON-decoded values are
// coerced to the declared type (e.g. []any -> []string, "true" -> bool).
func CoerceArgs(op *Operation, raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(op.Args))

	for key := range raw {
		if _, ok := op.Args[key]; !ok {
			return nil, &ArgError{Operation: op.ID, Field: key, Reason: "unknown argument"}
		}
	}

	// Deterministic field order keeps error messages stable.
	fields := make([]string, 0, len(op.Args))
	for name := range op.Args {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	for _, name := range fields {
		spec := op.Args[name]
		val, present := raw[name]
		if !present || val == nil {
			if spec.Required {
				return nil, &ArgError{Operation: op.ID, Field: name, Reason: "required argument missing"}
			}
			if spec.Default != nil {
				out[name] = spec.Default
			}
			continue
		}
		coerced, err := coerceValue(spec.Type, val)
		if err != nil {
			return nil, &ArgError{Operation: op.ID, Field: name, Reason: err.Error()}
		}
		out[name] = coerced
	}
	return out, nil
}

func coerceValue(t ArgType, val any) (any, error) {
	switch t {
	case ArgString:
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", val)
		}
		return s, nil

	case ArgStringList:
		switch v := val.(type) {
		case []string:
			return v, nil
		case []any:
			list := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("expected list of strings, got element %T", item)
				}
				list = append(list, s)
			}
			return list, nil
		case string:
			// Comma-separated shorthand from classifier extraction.
			parts := strings.Split(v, ",")
			list := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					list = append(list, p)
				}
			}
			if len(list) == 0 {
				return nil, fmt.Errorf("expected non-empty list")
			}
			return list, nil
		default:
			return nil, fmt.Errorf("expected list of strings, got %T", val)
		}

	case ArgBool:
		switch v := val.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("expected bool, got %q", v)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("expected bool, got %T", val)
		}

	case ArgInt:
		switch v := val.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v != float64(int(v)) {
				return nil, fmt.Errorf("expected integer, got %v", v)
			}
			return int(v), nil
		case string:
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("expected integer, got %q", v)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", val)
		}

	case ArgStringMap:
		switch v := val.(type) {
		case map[string]string:
			return v, nil
		case map[string]any:
			m := make(map[string]string, len(v))
			for k, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("expected map of strings, got value %T for key %q", item, k)
				}
				m[k] = s
			}
			return m, nil
		default:
			return nil, fmt.Errorf("expected map of strings, got %T", val)
		}

	default:
		return nil, fmt.Errorf("unsupported argument type %q", t)
	}
}

// StringArg reads a coerced string argument, empty when absent.
func StringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// ListArg reads a coerced string-list argument, nil when absent.
func ListArg(args map[string]any, key string) []string {
	l, _ := args[key].([]string)
	return l
}

// BoolArg reads a coerced bool argument, false when absent.
func BoolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

// MapArg reads a coerced string-map argument, nil when absent.
func MapArg(args map[string]any, key string) map[string]string {
	m, _ := args[key].(map[string]string)
	return m
}
