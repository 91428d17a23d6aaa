package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kalambet/aide/internal/engine"
)

// ValidationError reports a missing or malformed tool argument.
type ValidationError struct {
	Field  string
	Reason string
}

const reasonMissing = "missing"

func (e *ValidationError) Error() string {
	if e.Reason == reasonMissing {
		return fmt.Sprintf("missing required argument %q", e.Field)
	}
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Reason)
}

// Args holds tool arguments after validation. Values are coerced to the
// declared parameter type: string, int, float64, bool or []string.
type Args map[string]any

// String returns the named string argument, or "" when absent.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Int returns the named integer argument, or def when absent.
func (a Args) Int(name string, def int) int {
	if n, ok := a[name].(int); ok {
		return n
	}
	return def
}

// Strings returns the named array argument.
func (a Args) Strings(name string) []string {
	s, _ := a[name].([]string)
	return s
}

// ParseArguments decodes the JSON object a model produced for a tool call.
// Empty input is treated as an empty object.
func ParseArguments(s string) (map[string]any, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return map[string]any{}, nil
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// Validate checks raw against spec: every required parameter must be present
// and non-empty, and every declared parameter present is coerced to its
// type. Undeclared keys are dropped.
func Validate(spec engine.ToolSpec, raw map[string]any) (Args, error) {
	out := make(Args, len(spec.Params))
	for _, p := range spec.Params {
		v, ok := raw[p.Name]
		if !ok || v == nil || v == "" {
			if p.Required {
				return nil, &ValidationError{Field: p.Name, Reason: reasonMissing}
			}
			continue
		}
		cv, err := coerce(p.Type, v)
		if err != nil {
			return nil, &ValidationError{Field: p.Name, Reason: err.Error()}
		}
		out[p.Name] = cv
	}
	return out, nil
}

func coerce(typ string, v any) (any, error) {
	switch typ {
	case "string":
		switch x := v.(type) {
		case string:
			return x, nil
		case float64, bool:
			return fmt.Sprint(x), nil
		}
		return nil, fmt.Errorf("expected string")

	case "integer":
		switch x := v.(type) {
		case float64:
			if x != math.Trunc(x) {
				return nil, fmt.Errorf("expected integer")
			}
			return int(x), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("expected integer")
			}
			return n, nil
		}
		return nil, fmt.Errorf("expected integer")

	case "number":
		switch x := v.(type) {
		case float64:
			return x, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("expected number")
			}
			return f, nil
		}
		return nil, fmt.Errorf("expected number")

	case "boolean":
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("expected boolean")
			}
			return b, nil
		}
		return nil, fmt.Errorf("expected boolean")

	case "array":
		switch x := v.(type) {
		case []any:
			out := make([]string, 0, len(x))
			for _, item := range x {
				if item == nil {
					continue
				}
				out = append(out, fmt.Sprint(item))
			}
			return out, nil
		case string:
			// Models sometimes send a comma separated list instead of an array.
			var out []string
			for _, part := range strings.Split(x, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
			return out, nil
		}
		return nil, fmt.Errorf("expected array")
	}
	return v, nil
}
