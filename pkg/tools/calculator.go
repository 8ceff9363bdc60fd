package tools

import (
	"context"
	"fmt"
	"math"
	"strconv"
)

// CalculatorTool performs arithmetic so the model does not have to.
type CalculatorTool struct{}

func NewCalculatorTool() *CalculatorTool { return &CalculatorTool{} }

func (t *CalculatorTool) Name() string { return "calculator" }

func (t *CalculatorTool) Info() Info {
	return Info{
		Name:        "calculator",
		Description: "Perform arithmetic operations on two numbers (b is ignored for sqrt, factorial, and is_prime)",
		Source:      "builtin",
		Parameters: []Parameter{
			{Name: "operation", Type: "string", Description: "Operation to perform", Required: true,
				Enum: []string{"add", "subtract", "multiply", "divide", "modulo", "exponent", "sqrt", "factorial", "is_prime"}},
			{Name: "a", Type: "number", Description: "First operand", Required: true},
			{Name: "b", Type: "number", Description: "Second operand"},
		},
	}
}

func (t *CalculatorTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	operation, err := stringArg(args, "operation")
	if err != nil {
		return errorResult("%v", err), nil
	}
	a, err := numberArg(args, "a")
	if err != nil {
		return errorResult("%v", err), nil
	}
	b, _ := numberArg(args, "b")

	var value float64
	switch operation {
	case "add":
		value = a + b
	case "subtract":
		value = a - b
	case "multiply":
		value = a * b
	case "divide":
		if b == 0 {
			return errorResult("division by zero"), nil
		}
		value = a / b
	case "modulo":
		if b == 0 {
			return errorResult("division by zero"), nil
		}
		value = math.Mod(a, b)
	case "exponent":
		value = math.Pow(a, b)
	case "sqrt":
		if a < 0 {
			return errorResult("square root of negative number"), nil
		}
		value = math.Sqrt(a)
	case "factorial":
		n := int(a)
		if a < 0 || a != float64(n) {
			return errorResult("factorial requires a non-negative integer"), nil
		}
		if n > 170 {
			return errorResult("factorial of %d overflows", n), nil
		}
		value = 1
		for i := 2; i <= n; i++ {
			value *= float64(i)
		}
	case "is_prime":
		n := int(a)
		if a != float64(n) {
			return errorResult("is_prime requires an integer"), nil
		}
		return textResult(strconv.FormatBool(isPrime(n)), nil), nil
	default:
		return errorResult("unknown operation %q", operation), nil
	}

	return textResult(strconv.FormatFloat(value, 'g', -1, 64), nil), nil
}

func numberArg(args map[string]any, key string) (float64, error) {
	switch v := args[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a number", key)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%s parameter is required", key)
	}
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	for i := 2; i*i <= n; i++ {
		if n%i == 0 {
			return false
		}
	}
	return true
}

var _ Tool = (*CalculatorTool)(nil)
