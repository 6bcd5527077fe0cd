package handler

import (
	"context"
	"fmt"

	"github.com/getjotsu/jotsu-mcp/internal/workflow"
)

// HandlePick implements the `pick` node type (spec §4.2.2): build a
// brand-new data document from a set of named expressions evaluated
// against the current data.
func HandlePick(_ context.Context, data workflow.Data, hc *Context) (Result, error) {
	node := hc.Node

	out := workflow.Data{}
	for field, expression := range node.Expressions {
		value, err := hc.Eval.Eval(expression, map[string]any(data))
		if err != nil {
			return Result{}, fmt.Errorf("pick %s: evaluate %q: %w", node.ID, field, err)
		}
		out[field] = value
	}
	return Broadcast(out), nil
}
