package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculatorTool(t *testing.T) {
	tool := NewCalculatorTool()

	tests := []struct {
		name      string
		args      map[string]any
		want      string
		wantError bool
	}{
		{"add", map[string]any{"operation": "add", "a": 2.0, "b": 3.0}, "5", false},
		{"subtract", map[string]any{"operation": "subtract", "a": 2.0, "b": 3.0}, "-1", false},
		{"multiply", map[string]any{"operation": "multiply", "a": 4.0, "b": 2.5}, "10", false},
		{"divide", map[string]any{"operation": "divide", "a": 7.0, "b": 2.0}, "3.5", false},
		{"divide by zero", map[string]any{"operation": "divide", "a": 1.0, "b": 0.0}, "", true},
		{"modulo", map[string]any{"operation": "modulo", "a": 7.0, "b": 3.0}, "1", false},
		{"exponent", map[string]any{"operation": "exponent", "a": 2.0, "b": 10.0}, "1024", false},
		{"sqrt", map[string]any{"operation": "sqrt", "a": 16.0}, "4", false},
		{"sqrt negative", map[string]any{"operation": "sqrt", "a": -1.0}, "", true},
		{"factorial", map[string]any{"operation": "factorial", "a": 5.0}, "120", false},
		{"factorial negative", map[string]any{"operation": "factorial", "a": -3.0}, "", true},
		{"is_prime true", map[string]any{"operation": "is_prime", "a": 13.0}, "true", false},
		{"is_prime false", map[string]any{"operation": "is_prime", "a": 12.0}, "false", false},
		{"string operand", map[string]any{"operation": "add", "a": "2", "b": "3"}, "5", false},
		{"unknown operation", map[string]any{"operation": "log", "a": 1.0}, "", true},
		{"missing operand", map[string]any{"operation": "add"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tool.Execute(context.Background(), tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.wantError, result.IsError, result.Content)
			if !tt.wantError {
				assert.Equal(t, tt.want, result.Content)
			}
		})
	}
}
