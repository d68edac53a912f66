package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Call carries the structured arguments chosen by the planner and, when the
// step names an input_ref, the referenced step's output as Input.
type Call struct {
	Args     map[string]any
	Input    any
	HasInput bool
	Logger   *zap.Logger
}

// String returns the string argument key, falling back to a string Input.
func (c Call) String(key string) string {
	if v, ok := c.Args[key]; ok {
		switch s := v.(type) {
		case string:
			return s
		case nil:
		default:
			return fmt.Sprint(s)
		}
	}
	if s, ok := c.Input.(string); ok && c.HasInput {
		return s
	}
	return ""
}

// Int returns the numeric argument key or def.
func (c Call) Int(key string, def int) int {
	switch v := c.Args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

// Strings returns a list argument, accepting a single string too.
func (c Call) Strings(key string) []string {
	switch v := c.Args[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// InputText renders Input as text for capabilities that consume prose.
func (c Call) InputText() string {
	if !c.HasInput || c.Input == nil {
		return ""
	}
	if s, ok := c.Input.(string); ok {
		return s
	}
	data, err := json.MarshalIndent(c.Input, "", "  ")
	if err != nil {
		return fmt.Sprint(c.Input)
	}
	return string(data)
}

func (c Call) log() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// Tool is one capability the planner can select.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON Schema for the tool's arguments
	Execute(ctx context.Context, call Call) (any, error)
}

// Registry manages the set of available tools.
type Registry struct {
	Tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{
		Tools: make(map[string]Tool),
	}
}

func (r *Registry) Register(t Tool) {
	r.Tools[t.Name()] = t
}

func (r *Registry) Get(name string) Tool {
	return r.Tools[name]
}

// Names lists registered tools alphabetically.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.Tools))
	for name := range r.Tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
