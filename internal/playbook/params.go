package playbook

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/puk/internal/sandbox"
)

// ResolveParameters binds the playbook's declared parameters against
// caller-supplied overrides: override wins, then the declared default, and a
// required parameter with neither fails. Every value is converted to its
// declared type; path values must canonicalize inside sandboxRoot. An
// override key that is not declared fails with an unknown-parameter error —
// silently ignoring typos would undermine repeatability.
func ResolveParameters(pb *Playbook, overrides map[string]string, sandboxRoot string) (map[string]any, error) {
	var unknown []string
	for key := range overrides {
		if _, ok := pb.Parameters[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, validationErrorf("unknown parameter(s): %s", strings.Join(unknown, ", "))
	}

	names := make([]string, 0, len(pb.Parameters))
	for name := range pb.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	resolved := make(map[string]any, len(names))
	for _, name := range names {
		spec := pb.Parameters[name]
		var value any
		switch {
		case hasKey(overrides, name):
			value = overrides[name]
		case spec.Default != nil:
			value = spec.Default
		case spec.Required:
			return nil, validationErrorf("missing required parameter %q", name)
		default:
			continue
		}
		converted, err := convertValue(spec, value, sandboxRoot)
		if err != nil {
			return nil, err
		}
		resolved[name] = converted
	}
	return resolved, nil
}

func hasKey(m map[string]string, key string) bool {
	_, ok := m[key]
	return ok
}

func convertValue(spec ParameterSpec, value any, sandboxRoot string) (any, error) {
	switch spec.Type {
	case TypeString:
		return fmt.Sprint(value), nil
	case TypeInt:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(fmt.Sprint(value)))
		if err != nil {
			return nil, validationErrorf("parameter %q must be an int, got %q", spec.Name, fmt.Sprint(value))
		}
		return n, nil
	case TypeFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(fmt.Sprint(value)), 64)
		if err != nil {
			return nil, validationErrorf("parameter %q must be a float, got %q", spec.Name, fmt.Sprint(value))
		}
		return f, nil
	case TypeBool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
		switch strings.ToLower(strings.TrimSpace(fmt.Sprint(value))) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return nil, validationErrorf("parameter %q must be a boolean, got %q", spec.Name, fmt.Sprint(value))
	case TypeEnum:
		if len(spec.EnumValues) == 0 {
			return nil, validationErrorf("parameter %q is missing enum_values", spec.Name)
		}
		s := fmt.Sprint(value)
		for _, allowed := range spec.EnumValues {
			if s == allowed {
				return s, nil
			}
		}
		return nil, validationErrorf("parameter %q must be one of %s, got %q",
			spec.Name, strings.Join(spec.EnumValues, ", "), s)
	case TypePath:
		resolved, err := sandbox.Resolve(fmt.Sprint(value), sandboxRoot)
		if err != nil {
			return nil, validationErrorf("parameter %q: path escapes workspace: %v", spec.Name, err)
		}
		return resolved, nil
	default:
		return nil, validationErrorf("parameter %q has unsupported type %q", spec.Name, spec.Type)
	}
}

// ParseAssignments parses repeated --param key=value flags.
func ParseAssignments(assignments []string) (map[string]string, error) {
	parsed := make(map[string]string, len(assignments))
	for _, item := range assignments {
		key, value, found := strings.Cut(item, "=")
		if !found {
			return nil, validationErrorf("parameter %q must be provided as key=value", item)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, validationErrorf("parameter name cannot be empty in %q", item)
		}
		parsed[key] = value
	}
	return parsed, nil
}
