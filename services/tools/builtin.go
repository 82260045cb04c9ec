package tools

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DateTimeInput selects the zone the current time is reported in.
type DateTimeInput struct {
	Timezone string `json:"timezone"`
}

// DateTimeOutput is the current time in the requested zone.
type DateTimeOutput struct {
	DateTime string `json:"datetime"`
	Timezone string `json:"timezone"`
	Weekday  string `json:"weekday"`
}

// NewDateTime returns the "DateTime" tool. now is injectable for tests.
func NewDateTime(now func() time.Time) Tool {
	if now == nil {
		now = time.Now
	}
	return NewFunc("DateTime", "Returns the current date and time, optionally in an IANA timezone.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{"type": "string", "description": "IANA zone such as Europe/Rome; defaults to UTC"},
			},
		},
		func(_ context.Context, in DateTimeInput) (DateTimeOutput, error) {
			zone := in.Timezone
			if zone == "" {
				zone = "UTC"
			}
			loc, err := time.LoadLocation(zone)
			if err != nil {
				return DateTimeOutput{}, fmt.Errorf("unknown timezone %q", zone)
			}
			t := now().In(loc)
			return DateTimeOutput{DateTime: t.Format(time.RFC3339), Timezone: zone, Weekday: t.Weekday().String()}, nil
		})
}

// CalculatorInput holds two operands and an operator.
type CalculatorInput struct {
	A  float64 `json:"a"`
	B  float64 `json:"b"`
	Op string  `json:"op"`
}

// CalculatorOutput holds the arithmetic result.
type CalculatorOutput struct {
	Result float64 `json:"result"`
}

var errDivisionByZero = errors.New("division by zero")

// NewCalculator returns the "Calculator" tool.
func NewCalculator() Tool {
	return NewFunc("Calculator", "Performs basic arithmetic: add, sub, mul, div.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a":  map[string]any{"type": "number"},
				"b":  map[string]any{"type": "number"},
				"op": map[string]any{"type": "string", "enum": []string{"add", "sub", "mul", "div"}},
			},
			"required": []string{"a", "b", "op"},
		},
		func(_ context.Context, in CalculatorInput) (CalculatorOutput, error) {
			switch in.Op {
			case "add", "+":
				return CalculatorOutput{Result: in.A + in.B}, nil
			case "sub", "-":
				return CalculatorOutput{Result: in.A - in.B}, nil
			case "mul", "*":
				return CalculatorOutput{Result: in.A * in.B}, nil
			case "div", "/":
				if in.B == 0 {
					return CalculatorOutput{}, errDivisionByZero
				}
				return CalculatorOutput{Result: in.A / in.B}, nil
			}
			return CalculatorOutput{}, fmt.Errorf("unsupported operation %q", in.Op)
		})
}

// Builtins returns a catalog with every built-in tool registered.
func Builtins() *Catalog {
	return NewCatalog(NewDateTime(nil), NewCalculator())
}
