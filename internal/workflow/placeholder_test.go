package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveArguments(t *testing.T) {
	outputs := []any{
		map[string]any{"ip": "10.0.0.5", "ports": []any{float64(22), float64(443)}, "meta": map[string]any{"rack": "r1"}},
		"plain",
	}

	tests := []struct {
		name string
		args map[string]any
		want map[string]any
	}{
		{
			name: "whole placeholder keeps the value type",
			args: map[string]any{"ports": "${steps[0].output.ports}"},
			want: map[string]any{"ports": []any{float64(22), float64(443)}},
		},
		{
			name: "nested key",
			args: map[string]any{"host": "${steps[0].output.ip}"},
			want: map[string]any{"host": "10.0.0.5"},
		},
		{
			name: "list index",
			args: map[string]any{"port": "${steps[0].output.ports.1}"},
			want: map[string]any{"port": float64(443)},
		},
		{
			name: "embedded placeholders are interpolated",
			args: map[string]any{"cmd": "ping -c 1 ${steps[0].output.ip} # ${steps[1].output}"},
			want: map[string]any{"cmd": "ping -c 1 10.0.0.5 # plain"},
		},
		{
			name: "embedded object renders as json",
			args: map[string]any{"note": "meta=${steps[0].output.meta}"},
			want: map[string]any{"note": `meta={"rack":"r1"}`},
		},
		{
			name: "nested structures are walked",
			args: map[string]any{"target": map[string]any{"hosts": []any{"${steps[0].output.ip}", "static"}}, "n": 3},
			want: map[string]any{"target": map[string]any{"hosts": []any{"10.0.0.5", "static"}}, "n": 3},
		},
		{
			name: "strings without placeholders are untouched",
			args: map[string]any{"x": "${not a placeholder}", "y": "steps[0]"},
			want: map[string]any{"x": "${not a placeholder}", "y": "steps[0]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveArguments(tt.args, outputs, 2)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveArgumentsDoesNotMutateInput(t *testing.T) {
	args := map[string]any{"host": "${steps[0].output}"}
	_, err := resolveArguments(args, []any{"h"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "${steps[0].output}", args["host"])
}

func TestResolveArgumentsErrors(t *testing.T) {
	outputs := []any{map[string]any{"ip": "10.0.0.5"}, "scalar"}

	tests := []struct {
		name    string
		args    map[string]any
		current int
		reason  string
	}{
		{"forward reference", map[string]any{"a": "${steps[2].output}"}, 2, "has not run yet"},
		{"self reference", map[string]any{"a": "${steps[1].output}"}, 1, "has not run yet"},
		{"missing key", map[string]any{"a": "${steps[0].output.hostname}"}, 2, `no key "hostname"`},
		{"path into scalar", map[string]any{"a": "${steps[1].output.x}"}, 2, "not an object or list"},
		{"embedded forward reference", map[string]any{"a": "x ${steps[5].output} y"}, 2, "has not run yet"},
		{"misspelled output", map[string]any{"a": "ping ${steps[0].outputs.ip}"}, 2, "malformed placeholder"},
		{"trailing space", map[string]any{"a": "${steps[0].output.ip }"}, 2, "malformed placeholder"},
		{"negative index", map[string]any{"a": "${steps[-1].output.ip}"}, 2, "malformed placeholder"},
		{"unterminated", map[string]any{"a": "${steps[0].output.ip"}, 2, "malformed placeholder"},
		{"malformed next to valid", map[string]any{"a": "${steps[0].output.ip} ${steps[0]}"}, 2, "malformed placeholder"},
		{"nested in list", map[string]any{"a": []any{"ok", "${ steps[0].output}"}}, 2, "malformed placeholder"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolveArguments(tt.args, outputs, tt.current)
			require.Error(t, err)
			var rerr *ResolutionError
			require.True(t, errors.As(err, &rerr))
			assert.Contains(t, rerr.Reason, tt.reason)
		})
	}
}

func TestResolveArgumentsNil(t *testing.T) {
	got, err := resolveArguments(nil, nil, 0)
	require.NoError(t, err)
	assert.Nil(t, got)
}
