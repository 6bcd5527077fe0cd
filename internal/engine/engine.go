// Package engine implements the traversal and trace-event stream described
// in spec §4.1: resolve a workflow by id/name, validate its input against
// an optional event schema, open a session manager scoped to the run, and
// recursively walk nodes emitting lifecycle events on a channel. Grounded
// literally on jotsu/mcp/workflow/engine.py's run_workflow/_run_workflow_node
// async generator pair, reshaped into a goroutine feeding a Go channel (the
// idiomatic substitute for an async generator) the same way compozy's
// engine/domain/workflow executor streams lifecycle events to subscribers.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/getjotsu/jotsu-mcp/internal/core"
	"github.com/getjotsu/jotsu-mcp/internal/expr"
	"github.com/getjotsu/jotsu-mcp/internal/handler"
	"github.com/getjotsu/jotsu-mcp/internal/jsonschema"
	"github.com/getjotsu/jotsu-mcp/internal/mcpclient"
	"github.com/getjotsu/jotsu-mcp/internal/sessionmgr"
	"github.com/getjotsu/jotsu-mcp/internal/tplengine"
	"github.com/getjotsu/jotsu-mcp/internal/workflow"
	"github.com/getjotsu/jotsu-mcp/pkg/logger"
)

// Registry looks up a *workflow.Workflow by id or name (spec §4.1
// resolution order).
type Registry struct {
	workflows []*workflow.Workflow
}

func NewRegistry(workflows ...*workflow.Workflow) *Registry {
	return &Registry{workflows: workflows}
}

func (r *Registry) find(name string) *workflow.Workflow {
	for _, w := range r.workflows {
		if string(w.ID) == name {
			return w
		}
	}
	for _, w := range r.workflows {
		if w.Name == name {
			return w
		}
	}
	return nil
}

// Find exposes the same id-then-name lookup find uses internally, for
// callers outside the package (the MCP resource handler resolving
// workflow://{id}/).
func (r *Registry) Find(name string) *workflow.Workflow {
	return r.find(name)
}

// Engine runs workflows against a handler registry, an MCP session opener,
// and a schema validator, streaming trace events as it goes.
type Engine struct {
	Workflows *Registry
	Handlers  *handler.Registry
	Open      sessionmgr.OpenFunc
	Schema    *jsonschema.Validator
	Eval      *expr.Evaluator
	Templates *tplengine.Engine
	Providers handler.ProviderSet

	// ActionID generates the per-node action id threaded into ModelUsage
	// and the handler Context (spec §4.2.3's ref_id). Defaults to the
	// node's own id when nil, mirroring the Python original's pattern of
	// stamping the node id as action_id in the common case.
	ActionID func(node *workflow.Node) string
}

func New(workflows *Registry, handlers *handler.Registry, open sessionmgr.OpenFunc) (*Engine, error) {
	ev, err := expr.New()
	if err != nil {
		return nil, fmt.Errorf("engine: build expression evaluator: %w", err)
	}
	return &Engine{
		Workflows: workflows,
		Handlers:  handlers,
		Open:      open,
		Schema:    jsonschema.NewValidator(),
		Eval:      ev,
		Templates: tplengine.NewEngine(tplengine.FormatText),
	}, nil
}

// RunWorkflow implements the public contract of spec §4.1: a lazy,
// finite, non-restartable sequence of trace events terminated by exactly
// one of workflow-end or workflow-failed. A workflow that cannot be
// resolved by id/name returns a *core.NotFoundError directly instead of a
// channel, matching spec §8's "ValueError-class raised to the caller; no
// trace emitted".
func (e *Engine) RunWorkflow(ctx context.Context, name string, data workflow.Data) (<-chan workflow.TraceEvent, error) {
	wf := e.Workflows.find(name)
	if wf == nil {
		logger.FromContext(ctx).Error("workflow not found", "name", name)
		return nil, core.NewNotFoundError("workflow not found: %s", name)
	}

	if err := Compile(ctx, wf); err != nil {
		return nil, err
	}

	ch := make(chan workflow.TraceEvent)
	go e.run(ctx, wf, data, ch)
	return ch, nil
}

func monotonic() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func (e *Engine) run(ctx context.Context, wf *workflow.Workflow, data workflow.Data, ch chan<- workflow.TraceEvent) {
	defer close(ch)

	start := monotonic()
	usage := []workflow.ModelUsage{}

	displayName := wf.Name
	if displayName == "" {
		displayName = string(wf.ID)
	}
	ref := workflow.Ref{ID: string(wf.ID), Name: displayName}

	payload := wf.Data.Clone()
	for k, v := range data {
		payload[k] = v
	}

	send(ctx, ch, workflow.TraceEvent{
		Action: workflow.ActionWorkflowStart, Timestamp: start, Workflow: &ref, Data: payload,
	})

	if wf.Event != nil && len(wf.Event.JSONSchema) > 0 {
		if err := e.Schema.Validate(wf.Event.JSONSchema, map[string]any(payload)); err != nil {
			end := monotonic()
			send(ctx, ch, workflow.TraceEvent{
				Action: workflow.ActionWorkflowSchemaError, Timestamp: end, Workflow: &ref,
				Message: err.Error(),
			})
			send(ctx, ch, workflow.TraceEvent{
				Action: workflow.ActionWorkflowFailed, Timestamp: end, Workflow: &ref,
				Duration: end - start, Usage: usage,
			})
			return
		}
	}

	nodesByID := wf.NodesByID()
	node := nodesByID[wf.StartNodeID]

	if node == nil {
		end := monotonic()
		send(ctx, ch, workflow.TraceEvent{
			Action: workflow.ActionWorkflowEnd, Timestamp: end, Workflow: &ref,
			Duration: end - start, Usage: usage,
		})
		logger.FromContext(ctx).Info("empty workflow completed", "workflow", displayName)
		return
	}

	owner := sessionmgr.NewOwner()
	sessions := sessionmgr.New(wf, e.Open)
	defer func() {
		if err := sessions.Close(owner); err != nil {
			logger.FromContext(ctx).Warn("session manager close failed", "error", err.Error())
		}
	}()

	// Eagerly pre-load every known server's session (spec §4.1 step 3),
	// not just the ones a handler happens to touch during traversal.
	// Failures here are tolerated the same way sessionmgr.preload
	// tolerates a failed list_tools/list_resources/list_prompts call:
	// logged at debug, handlers re-check when they actually need the
	// session.
	for i := range wf.Servers {
		id := string(wf.Servers[i].ID)
		if _, err := sessions.GetSession(ctx, owner, id); err != nil {
			logger.FromContext(ctx).Debug("pre-load session failed", "server", id, "error", err.Error())
		}
	}

	hc := &handler.Context{
		Workflow:  wf,
		Sessions:  sessions,
		Owner:     owner,
		Usage:     &usage,
		Schema:    e.Schema,
		Eval:      e.Eval,
		Templates: e.Templates,
		Providers: e.Providers,
	}

	success := e.visit(ctx, wf, node, payload, nodesByID, hc, ch)

	end := monotonic()
	if success {
		send(ctx, ch, workflow.TraceEvent{
			Action: workflow.ActionWorkflowEnd, Timestamp: end, Workflow: &ref,
			Duration: end - start, Usage: usage,
		})
		logger.FromContext(ctx).Info("workflow completed", "workflow", displayName, "duration", end-start)
	} else {
		send(ctx, ch, workflow.TraceEvent{
			Action: workflow.ActionWorkflowFailed, Timestamp: end, Workflow: &ref,
			Duration: end - start, Usage: usage,
		})
		logger.FromContext(ctx).Info("workflow failed", "workflow", displayName, "duration", end-start)
	}
}

// visit is the recursive per-node traversal step (spec §4.1 step 4). It
// returns false the moment any node in the subtree raises, so the caller
// emits workflow-failed instead of workflow-end.
func (e *Engine) visit(
	ctx context.Context, wf *workflow.Workflow, node *workflow.Node, data workflow.Data,
	nodesByID map[string]*workflow.Node, hc *handler.Context, ch chan<- workflow.TraceEvent,
) bool {
	ref := workflow.NodeRefFromNode(node)
	actionID := string(node.ID)
	if e.ActionID != nil {
		actionID = e.ActionID(node)
	}

	nodeCtx := *hc
	nodeCtx.Node = node
	nodeCtx.ActionID = actionID

	fn, ok := e.Handlers.Lookup(node.Type)

	var results []workflow.HandlerResult
	if ok {
		send(ctx, ch, workflow.TraceEvent{Action: workflow.ActionNodeStart, Timestamp: monotonic(), Node: &ref, Data: data})

		res, err := e.invoke(ctx, fn, data, &nodeCtx)
		if err != nil {
			frame, excType := frameInfo(err)
			send(ctx, ch, workflow.TraceEvent{
				Action: workflow.ActionNodeError, Timestamp: monotonic(), Node: &ref,
				Message: err.Error(), ExcType: excType, Traceback: frame,
			})
			return false
		}
		results = handler.Normalize(node, res)
		send(ctx, ch, workflow.TraceEvent{Action: workflow.ActionNodeEnd, Timestamp: monotonic(), Node: &ref, Results: results})
	} else {
		send(ctx, ch, workflow.TraceEvent{Action: workflow.ActionDefault, Timestamp: monotonic(), Node: &ref, Data: data})
		for _, edge := range node.Edges {
			if edge == nil {
				continue
			}
			results = append(results, workflow.HandlerResult{Edge: *edge, Data: data})
		}
	}

	for _, result := range results {
		next, ok := nodesByID[result.Edge]
		if !ok {
			continue
		}
		if !e.visit(ctx, wf, next, result.Data, nodesByID, hc, ch) {
			return false
		}
	}
	return true
}

// invoke recovers a panicking handler into an error so a programmer bug in
// a node handler (or the goja/cel evaluators it calls into) still produces
// a well-formed node-error event instead of crashing the run (spec §7
// "programmer/sandbox" errors raise, run fails — a Go panic is this
// module's analogue of an uncaught Python exception).
func (e *Engine) invoke(ctx context.Context, fn handler.Func, data workflow.Data, hc *handler.Context) (res handler.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx, data, hc)
}

func frameInfo(err error) ([]workflow.TracebackFrame, string) {
	pc := make([]uintptr, 64)
	n := runtime.Callers(3, pc)
	frames := runtime.CallersFrames(pc[:n])
	var out []workflow.TracebackFrame
	for {
		frame, more := frames.Next()
		out = append(out, workflow.TracebackFrame{Function: frame.Function, Text: frame.File})
		if !more || len(out) >= 64 {
			break
		}
	}
	return out, fmt.Sprintf("%T", err)
}

func send(ctx context.Context, ch chan<- workflow.TraceEvent, ev workflow.TraceEvent) {
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}

// Open adapts mcpclient.Client.Open into a sessionmgr.OpenFunc, the
// concrete wiring cmd/workflow-engine uses to build a production Engine.
func Open(client *mcpclient.Client, token string, authenticate mcpclient.AuthenticateFunc) sessionmgr.OpenFunc {
	return func(ctx context.Context, server *workflow.Server) (mcpclient.Session, error) {
		return client.Open(ctx, server, token, authenticate)
	}
}
