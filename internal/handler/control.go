package handler

import (
	"context"
	"fmt"

	"github.com/getjotsu/jotsu-mcp/internal/rules"
	"github.com/getjotsu/jotsu-mcp/internal/script"
	"github.com/getjotsu/jotsu-mcp/internal/workflow"
)

const loopItemKey = "__each__"

// HandleSwitch implements the `switch` node type (spec §4.2.2): evaluate
// expr(data), then walk edges/rules in parallel, including edge[i] when
// rules[i].Test(value) is true. A trailing edge one longer than rules is
// an always-taken default branch.
func HandleSwitch(_ context.Context, data workflow.Data, hc *Context) (Result, error) {
	node := hc.Node

	value, err := hc.Eval.Eval(node.Expr, map[string]any(data))
	if err != nil {
		return Result{}, fmt.Errorf("switch %s: evaluate expr: %w", node.ID, err)
	}

	var results []workflow.HandlerResult
	for i, edge := range node.Edges {
		if edge == nil {
			continue
		}
		if i >= len(node.Rules) {
			// default branch: one more edge than rules, always taken.
			results = append(results, workflow.HandlerResult{Edge: *edge, Data: data})
			continue
		}
		if node.Rules[i].Test(value) {
			results = append(results, workflow.HandlerResult{Edge: *edge, Data: data})
		}
	}
	return Result{Results: results}, nil
}

// HandleLoop implements the `loop` node type (spec §4.2.2): evaluate
// expr(data) to a list, then fan out edge-major/item-minor, injecting
// each item at data[member or "__each__"], filtered by rules when
// present (spec §8 scenario 4).
func HandleLoop(_ context.Context, data workflow.Data, hc *Context) (Result, error) {
	node := hc.Node

	raw, err := hc.Eval.Eval(node.Expr, map[string]any(data))
	if err != nil {
		return Result{}, fmt.Errorf("loop %s: evaluate expr: %w", node.ID, err)
	}
	items, ok := raw.([]any)
	if !ok {
		return Result{}, fmt.Errorf("loop %s: expr %q did not evaluate to a list", node.ID, node.Expr)
	}

	member := node.Member
	if member == "" {
		member = loopItemKey
	}

	var results []workflow.HandlerResult
	for _, edge := range node.Edges {
		if edge == nil {
			continue
		}
		for _, item := range items {
			if !itemSatisfiesRules(item, node.Rules) {
				continue
			}
			itemData := data.Clone()
			itemData[member] = item
			results = append(results, workflow.HandlerResult{Edge: *edge, Data: itemData})
		}
	}
	return Result{Results: results}, nil
}

// itemSatisfiesRules reports whether item passes every rule (loop's
// rules, when present, filter which items follow each edge; absent
// rules admit every item).
func itemSatisfiesRules(item any, ruleList []rules.Rule) bool {
	for _, r := range ruleList {
		if !r.Test(item) {
			return false
		}
	}
	return true
}

// HandleFunction implements the `function` node type (spec §4.2.2): run
// the body in the sandbox, then interpret its return value as a
// broadcast doc (object), a positional per-edge list, or nothing
// (propagate input data, matching jotsu's restricted-AST `function`
// contract collapsed onto the same goja sandbox as `script`, see
// DESIGN.md).
func HandleFunction(_ context.Context, data workflow.Data, hc *Context) (Result, error) {
	return runSandboxed(hc.Node, hc.Node.Function, data)
}

// HandleScript implements the `script` node type: identical contract to
// `function`, JS-flavored body (spec §4.2.2).
func HandleScript(_ context.Context, data workflow.Data, hc *Context) (Result, error) {
	return runSandboxed(hc.Node, hc.Node.Script, data)
}

func runSandboxed(node *workflow.Node, source string, data workflow.Data) (Result, error) {
	if len(node.Edges) == 0 {
		return Result{Results: []workflow.HandlerResult{}}, nil
	}

	res, err := script.Eval(source, data)
	if err != nil {
		return Result{}, fmt.Errorf("node %s: %w", node.ID, err)
	}

	if res.Propagate {
		return Broadcast(data), nil
	}
	if res.Doc != nil {
		return Broadcast(workflow.Data(res.Doc)), nil
	}

	results := make([]workflow.HandlerResult, 0, len(node.Edges))
	for i, edge := range node.Edges {
		if edge == nil || i >= len(res.List) || res.List[i] == nil {
			continue
		}
		doc, ok := res.List[i].(map[string]any)
		if !ok {
			return Result{}, fmt.Errorf("node %s: return element %d must be an object, got %T", node.ID, i, res.List[i])
		}
		results = append(results, workflow.HandlerResult{Edge: *edge, Data: workflow.Data(doc)})
	}
	return Result{Results: results}, nil
}
