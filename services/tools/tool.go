// Package tools holds the tool contract used by Model nodes, a catalog with
// a forgiving name lookup, and the built-in tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Info describes a tool to a model provider.
type Info struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Tool is a capability a model may invoke during an execution.
type Tool interface {
	Info() Info
	// Call runs the tool with JSON-encoded arguments.
	Call(ctx context.Context, args string) (any, error)
}

// Func adapts a typed Go function into a Tool.
type Func[I, O any] struct {
	info Info
	fn   func(ctx context.Context, in I) (O, error)
}

// NewFunc creates a Tool named name that decodes its arguments into I.
func NewFunc[I, O any](name, description string, parameters map[string]any, fn func(ctx context.Context, in I) (O, error)) *Func[I, O] {
	return &Func[I, O]{
		info: Info{Name: name, Description: description, Parameters: parameters},
		fn:   fn,
	}
}

func (f *Func[I, O]) Info() Info { return f.info }

// Call decodes args leniently: malformed JSON from the model is repaired
// before giving up.
func (f *Func[I, O]) Call(ctx context.Context, args string) (any, error) {
	var in I
	if strings.TrimSpace(args) != "" {
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			repaired, repairErr := jsonrepair.JSONRepair(args)
			if repairErr != nil {
				return nil, fmt.Errorf("%s: decode arguments: %w", f.info.Name, err)
			}
			if err := json.Unmarshal([]byte(repaired), &in); err != nil {
				return nil, fmt.Errorf("%s: decode repaired arguments: %w", f.info.Name, err)
			}
		}
	}
	return f.fn(ctx, in)
}
