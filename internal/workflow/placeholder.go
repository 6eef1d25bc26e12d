package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// placeholderPattern matches ${steps[N].output} and ${steps[N].output.path.to.field}.
// Path segments are map keys, or indexes when the current value is a list.
var placeholderPattern = regexp.MustCompile(`\$\{steps\[(\d+)\]\.output((?:\.[A-Za-z0-9_\-]+)*)\}`)

// referencePattern finds anything that looks like a step reference, well
// formed or not. Every hit must also be a placeholderPattern match.
var referencePattern = regexp.MustCompile(`\$\{\s*steps\b[^}]*\}?`)

// ResolutionError reports a placeholder that cannot be resolved.
type ResolutionError struct {
	Placeholder string
	Reason      string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %s: %s", e.Placeholder, e.Reason)
}

// resolveArguments returns a copy of args with every placeholder replaced.
// outputs holds the values of steps [0, current); anything at or beyond
// current is a forward reference.
func resolveArguments(args map[string]any, outputs []any, current int) (map[string]any, error) {
	if args == nil {
		return nil, nil
	}
	resolved, err := resolveValue(args, outputs, current)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

func resolveValue(v any, outputs []any, current int) (any, error) {
	switch val := v.(type) {
	case string:
		return resolveString(val, outputs, current)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := resolveValue(item, outputs, current)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := resolveValue(item, outputs, current)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveString keeps the referenced value's type when the whole string is a
// single placeholder and interpolates text otherwise.
func resolveString(s string, outputs []any, current int) (any, error) {
	matches := placeholderPattern.FindAllStringSubmatchIndex(s, -1)
	if err := checkMalformed(s, matches); err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return s, nil
	}

	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		return lookup(s, s[matches[0][2]:matches[0][3]], s[matches[0][4]:matches[0][5]], outputs, current)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		value, err := lookup(s[m[0]:m[1]], s[m[2]:m[3]], s[m[4]:m[5]], outputs, current)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(value))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func checkMalformed(s string, matches [][]int) error {
	wellFormed := make(map[[2]int]bool, len(matches))
	for _, m := range matches {
		wellFormed[[2]int{m[0], m[1]}] = true
	}
	for _, ref := range referencePattern.FindAllStringIndex(s, -1) {
		if !wellFormed[[2]int{ref[0], ref[1]}] {
			return &ResolutionError{
				Placeholder: s[ref[0]:ref[1]],
				Reason:      "malformed placeholder, want ${steps[N].output} or ${steps[N].output.path}",
			}
		}
	}
	return nil
}

func lookup(placeholder, indexText, path string, outputs []any, current int) (any, error) {
	index, err := strconv.Atoi(indexText)
	if err != nil {
		return nil, &ResolutionError{Placeholder: placeholder, Reason: "step index is not a number"}
	}
	if index >= current {
		return nil, &ResolutionError{
			Placeholder: placeholder,
			Reason:      fmt.Sprintf("step %d references step %d, which has not run yet", current, index),
		}
	}

	value := outputs[index]
	if path == "" {
		return value, nil
	}

	walked := fmt.Sprintf("steps[%d].output", index)
	for _, segment := range strings.Split(strings.TrimPrefix(path, "."), ".") {
		switch node := value.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, &ResolutionError{Placeholder: placeholder, Reason: fmt.Sprintf("%s has no key %q", walked, segment)}
			}
			value = next
		case []any:
			i, err := strconv.Atoi(segment)
			if err != nil || i < 0 || i >= len(node) {
				return nil, &ResolutionError{Placeholder: placeholder, Reason: fmt.Sprintf("%s has no element %q", walked, segment)}
			}
			value = node[i]
		default:
			return nil, &ResolutionError{Placeholder: placeholder, Reason: fmt.Sprintf("%s is not an object or list", walked)}
		}
		walked += "." + segment
	}
	return value, nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}
