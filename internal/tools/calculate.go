package tools

import (
	"context"
	"errors"
	"fmt"
	"go/constant"
	"go/token"
	"go/types"
)

// CalculateTool evaluates constant arithmetic such as "2+2" or "(3.5*4)/7".
type CalculateTool struct{}

func NewCalculateTool() *CalculateTool {
	return &CalculateTool{}
}

func (c *CalculateTool) Name() string {
	return "calculate"
}

func (c *CalculateTool) Description() string {
	return "Evaluate an arithmetic expression over numeric literals (+ - * / % and parentheses). Integer operands use integer division; write 7.0/2 for 3.5."
}

func (c *CalculateTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "The arithmetic expression, e.g. (12+30)*2",
			},
		},
		"required": []string{"expression"},
	}
}

func (c *CalculateTool) Execute(_ context.Context, call Call) (any, error) {
	expr := call.String("expression")
	if expr == "" {
		return nil, errors.New("expression is required")
	}
	return Evaluate(expr)
}

// Evaluate computes a constant expression. Integers come back as int64 when
// they fit, everything else as float64.
func Evaluate(expr string) (any, error) {
	tv, err := types.Eval(token.NewFileSet(), nil, token.NoPos, expr)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", expr, err)
	}
	if tv.Value == nil {
		return nil, fmt.Errorf("evaluate %q: not a constant expression", expr)
	}

	v := tv.Value
	switch v.Kind() {
	case constant.Int:
		if n, exact := constant.Int64Val(v); exact {
			return n, nil
		}
		f, _ := constant.Float64Val(v)
		return f, nil
	case constant.Float:
		f, _ := constant.Float64Val(v)
		return f, nil
	case constant.Bool:
		return constant.BoolVal(v), nil
	default:
		return nil, fmt.Errorf("evaluate %q: unsupported result %s", expr, v.Kind())
	}
}
