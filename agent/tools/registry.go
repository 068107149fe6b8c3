// Package tools holds the declarative tool catalog the retrieval planner
// drives. A tool's model-facing parameters are described by a schema; runtime
// values (user id, per-turn state) are injected by the dispatcher and never
// supplied by the model.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

type Param struct {
	Name        string
	Type        string
	Description string
}

type Tool struct {
	Name        string
	Description string
	Params      []Param
	// Injected names the runtime context keys the dispatcher must provide.
	Injected []string
	Exec     func(ctx context.Context, args map[string]any) ([]string, error)
}

// Call is one tool invocation proposed by the model.
type Call struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

type Registry struct {
	order []string
	tools map[string]*Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]*Tool{}}
}

func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Catalog renders the tool descriptions for the planning prompt.
func (r *Registry) Catalog() string {
	var b strings.Builder
	for _, name := range r.order {
		t := r.tools[name]
		params := make([]string, 0, len(t.Params))
		for _, p := range t.Params {
			params = append(params, fmt.Sprintf("%s: %s", p.Name, p.Type))
		}
		fmt.Fprintf(&b, "- %s(%s): %s\n", t.Name, strings.Join(params, ", "), t.Description)
		for _, p := range t.Params {
			if p.Description != "" {
				fmt.Fprintf(&b, "    %s: %s\n", p.Name, p.Description)
			}
		}
	}
	return b.String()
}

// Dispatch merges the model-supplied parameters with the injected context and
// invokes the tool. Unknown tools, missing context keys and executor errors
// are logged and reported as a skip; the caller continues with the rest of
// the plan.
func (r *Registry) Dispatch(ctx context.Context, call Call, injected map[string]any) ([]string, bool) {
	t, ok := r.tools[call.ToolName]
	if !ok {
		slog.WarnContext(ctx, "unknown tool, skipping", "tool", call.ToolName)
		return nil, false
	}

	args := make(map[string]any, len(call.Parameters)+len(t.Injected))
	for k, v := range call.Parameters {
		args[k] = v
	}
	for _, key := range t.Injected {
		v, ok := injected[key]
		if !ok {
			slog.WarnContext(ctx, "missing injected context key, skipping tool", "tool", t.Name, "key", key)
			return nil, false
		}
		args[key] = v
	}

	out, err := t.Exec(ctx, args)
	if err != nil {
		slog.ErrorContext(ctx, "tool execution failed", "tool", t.Name, "error", err)
		return nil, false
	}
	return out, true
}
