// Package handler implements the handler registry and the concrete node
// handlers dispatched by the engine (spec §4.2): one function per node
// `type`, an open table keyed by type string so implementers can register
// custom node types without the engine ever hard-coding them (spec §4.2,
// "the engine never hard-codes type strings other than via the registry
// lookup"). Grounded on jotsu/mcp/workflow/handler/*.py and
// jotsu/mcp/workflow/engine.py's `getattr(self._handler, f'handle_{type}')`
// dispatch, reshaped into a Go map-of-funcs the same way compozy's
// engine/domain/task executor keys behavior off a task `type` string.
package handler

import (
	"context"
	"fmt"
	"sync"

	"github.com/getjotsu/jotsu-mcp/internal/core"
	"github.com/getjotsu/jotsu-mcp/internal/expr"
	"github.com/getjotsu/jotsu-mcp/internal/jsonschema"
	"github.com/getjotsu/jotsu-mcp/internal/mcpclient"
	"github.com/getjotsu/jotsu-mcp/internal/sessionmgr"
	"github.com/getjotsu/jotsu-mcp/internal/tplengine"
	"github.com/getjotsu/jotsu-mcp/internal/workflow"
)

// Result is a node handler's return value: either Data (broadcast to
// every non-null outgoing edge) or an explicit Results list of {edge,
// data} pairs (spec §3 "Data document", §4.1 step 4 normalization). Only
// one of the two should be set; Results takes precedence when non-nil so
// a handler can legitimately return an explicit empty list (e.g. a
// function/script node with no live edges produces Results: []).
type Result struct {
	Data    workflow.Data
	Results []workflow.HandlerResult
}

// Broadcast is the shorthand most handlers use: return the same data doc
// to every non-null edge.
func Broadcast(data workflow.Data) Result {
	return Result{Data: data}
}

// Context carries everything a handler needs beyond the data document
// (spec §6 handler contract: action_id, workflow, node, sessions, usage).
type Context struct {
	ActionID string
	Workflow *workflow.Workflow
	Node     *workflow.Node
	Sessions *sessionmgr.Manager
	Owner    *sessionmgr.Owner

	// Usage accumulates ModelUsage entries across the whole run; model-call
	// handlers append to *Usage (spec §3 "usage entries appear in call
	// order", §5).
	Usage *[]workflow.ModelUsage

	Eval      *expr.Evaluator
	Templates *tplengine.Engine
	Schema    *jsonschema.Validator
	Providers ProviderSet
}

// Func is the handler signature every node type implements (spec §6):
// an async callable over data, contextual info, returning a broadcast
// doc or an explicit per-edge list. Handlers may return an error to
// abort the run (the engine converts it into node-error then
// workflow-failed).
type Func func(ctx context.Context, data workflow.Data, hc *Context) (Result, error)

// Registry is the open, extensible table of node-type -> handler (spec
// §4.2: "implementers may subclass/extend to add custom node types").
type Registry struct {
	mu       sync.RWMutex
	handlers map[workflow.NodeType]Func
}

// NewRegistry builds a Registry pre-populated with every handler spec §4.2
// names: tool/resource/prompt, switch/loop/function/script/transform/pick,
// and anthropic/openai/cloudflare.
func NewRegistry(providers ProviderSet) *Registry {
	r := &Registry{handlers: map[workflow.NodeType]Func{}}
	r.Register(workflow.NodeTool, HandleTool)
	r.Register(workflow.NodeResource, HandleResource)
	r.Register(workflow.NodePrompt, HandlePrompt)
	r.Register(workflow.NodeSwitch, HandleSwitch)
	r.Register(workflow.NodeLoop, HandleLoop)
	r.Register(workflow.NodeFunction, HandleFunction)
	r.Register(workflow.NodeScript, HandleScript)
	r.Register(workflow.NodeTransform, HandleTransform)
	r.Register(workflow.NodePick, HandlePick)
	r.Register(workflow.NodeAnthropic, ModelHandler(providers.Anthropic))
	r.Register(workflow.NodeOpenAI, ModelHandler(providers.OpenAI))
	r.Register(workflow.NodeCloudflare, ModelHandler(providers.Cloudflare))
	return r
}

// Register adds or replaces the handler for typ.
func (r *Registry) Register(typ workflow.NodeType, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typ] = fn
}

// Lookup returns the handler registered for typ, and whether one exists
// (a missing handler means the engine falls back to the `default` event
// and identity passthrough, spec §4.1 step 4).
func (r *Registry) Lookup(typ workflow.NodeType) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[typ]
	return fn, ok
}

// edgeResults pairs data against every non-null edge of node, the
// broadcast normalization from spec §4.1 step 4 and §4.2.1's "shallow
// merge into data" family of handlers.
func edgeResults(node *workflow.Node, data workflow.Data) []workflow.HandlerResult {
	out := make([]workflow.HandlerResult, 0, len(node.Edges))
	for _, edge := range node.Edges {
		if edge == nil {
			continue
		}
		out = append(out, workflow.HandlerResult{Edge: *edge, Data: data})
	}
	return out
}

// Normalize turns a handler Result into the final []HandlerResult the
// engine recurses over, broadcasting Data across node.Edges when Results
// was not explicitly set.
func Normalize(node *workflow.Node, res Result) []workflow.HandlerResult {
	if res.Results != nil {
		return res.Results
	}
	return edgeResults(node, res.Data)
}

// sessionKey is the lookup key a tool/resource/prompt node's session is
// keyed under: its explicit server_id, falling back to the node's own id
// for a node-local server config (spec §4.3).
func sessionKey(hc *Context) string {
	if hc.Node.ServerID != "" {
		return hc.Node.ServerID
	}
	return string(hc.Node.ID)
}

func getSession(ctx context.Context, hc *Context) (mcpclient.Session, error) {
	key := sessionKey(hc)
	sess, err := hc.Sessions.GetSession(ctx, hc.Owner, key)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, core.WrapFatal(fmt.Errorf("no session for server %q", key), "session_missing")
	}
	return sess, nil
}
