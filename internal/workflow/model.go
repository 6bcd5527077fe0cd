// Package workflow holds the data model shared by the engine, handler
// registry and session manager: Workflow, Node, Server, Rule references
// and the trace event types (spec §3), grounded on
// jotsu/mcp/types/models.py and compozy's engine/domain/workflow/config.go.
package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/getjotsu/jotsu-mcp/internal/rules"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9_\-]+$`)

// Slug validates an id per spec §3.
type Slug string

func NewSlug(s string) (Slug, error) {
	if len(s) == 0 || len(s) > 255 || !slugPattern.MatchString(s) {
		return "", fmt.Errorf("invalid slug: %q", s)
	}
	return Slug(s), nil
}

func (s Slug) Valid() bool {
	return len(s) > 0 && len(s) <= 255 && slugPattern.MatchString(string(s))
}

// Data is the mutable JSON-shaped document threaded through the graph.
type Data map[string]any

// Clone returns a shallow copy: top-level keys are copied, nested maps and
// slices are shared (transform nodes deep-copy recursively instead, see
// handler.HandleTransform).
func (d Data) Clone() Data {
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge shallow-merges other into a copy of d, other taking precedence.
func (d Data) Merge(other Data) Data {
	out := d.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

type NodeType string

const (
	NodeTool       NodeType = "tool"
	NodeResource   NodeType = "resource"
	NodePrompt     NodeType = "prompt"
	NodeSwitch     NodeType = "switch"
	NodeLoop       NodeType = "loop"
	NodeFunction   NodeType = "function"
	NodeScript     NodeType = "script"
	NodeTransform  NodeType = "transform"
	NodePick       NodeType = "pick"
	NodeAnthropic  NodeType = "anthropic"
	NodeOpenAI     NodeType = "openai"
	NodeCloudflare NodeType = "cloudflare"
)

// TransformOp is one step of a transform node's pipeline (spec §4.2.2).
type TransformOp struct {
	Type     string `json:"type"`
	Source   string `json:"source"`
	Target   string `json:"target,omitempty"`
	Datatype string `json:"datatype,omitempty"`
}

// Node is a discriminated union over every node type, keyed by Type. Only
// the fields relevant to a node's Type are populated; unrecognized JSON
// fields are preserved in Extra so round-tripping is lossless (spec §6:
// "Extra fields on nodes are permitted and retained").
type Node struct {
	ID       Slug           `json:"id"`
	Name     string         `json:"name"`
	Type     NodeType       `json:"type"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Edges    []*string      `json:"edges,omitempty"`

	// tool | resource | prompt
	ServerID string `json:"server_id,omitempty"`
	Member   string `json:"member,omitempty"`

	// node-local server config: a tool/resource/prompt node may embed its
	// own one-off server instead of referencing workflow.servers by id
	// (spec §4.3 session manager key resolution falls back to nodes).
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// tool
	ToolName         string `json:"tool_name,omitempty"`
	StructuredOutput bool   `json:"structured_output,omitempty"`

	// resource
	URI string `json:"uri,omitempty"`

	// prompt
	PromptName string `json:"prompt_name,omitempty"`

	// switch | loop | function | script
	Expr     string       `json:"expr,omitempty"`
	Rules    []rules.Rule `json:"rules,omitempty"`
	Function string       `json:"function,omitempty"`
	Script   string       `json:"script,omitempty"`

	// transform
	Transforms []TransformOp `json:"transforms,omitempty"`

	// pick
	Expressions map[string]string `json:"expressions,omitempty"`

	// anthropic | openai | cloudflare
	Model                  string         `json:"model,omitempty"`
	Prompt                 string         `json:"prompt,omitempty"`
	Messages               []Data         `json:"messages,omitempty"`
	System                 string         `json:"system,omitempty"`
	Servers                any            `json:"servers,omitempty"` // "*" or []string
	MaxTokens              int            `json:"max_tokens,omitempty"`
	JSONSchema             map[string]any `json:"json_schema,omitempty"`
	UseJSONSchema          *bool          `json:"use_json_schema,omitempty"`
	IncludeMessageInOutput *bool          `json:"include_message_in_output,omitempty"`

	Extra map[string]any `json:"-"`
}

var knownNodeKeys = map[string]bool{
	"id": true, "name": true, "type": true, "metadata": true, "edges": true,
	"server_id": true, "member": true, "url": true, "headers": true, "tool_name": true, "structured_output": true,
	"uri": true, "prompt_name": true, "expr": true, "rules": true, "function": true,
	"script": true, "transforms": true, "expressions": true, "model": true, "prompt": true,
	"messages": true, "system": true, "servers": true, "max_tokens": true, "json_schema": true,
	"use_json_schema": true, "include_message_in_output": true,
}

func (n *Node) UnmarshalJSON(b []byte) error {
	type alias Node
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*n = Node(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	extra := map[string]any{}
	for k, v := range raw {
		if knownNodeKeys[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("node %s: extra field %s: %w", a.ID, k, err)
		}
		extra[k] = val
	}
	if len(extra) > 0 {
		n.Extra = extra
	}
	return nil
}

func (n Node) MarshalJSON() ([]byte, error) {
	type alias Node
	base, err := json.Marshal(alias(n))
	if err != nil {
		return nil, err
	}
	if len(n.Extra) == 0 {
		return base, nil
	}
	var merged map[string]any
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range n.Extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// JSONServers returns the set of server ids this model-call node should
// forward, resolving the "*" wildcard against the workflow's servers.
func (n Node) JSONServers(all []Server) []string {
	switch v := n.Servers.(type) {
	case string:
		if v == "*" {
			ids := make([]string, 0, len(all))
			for _, s := range all {
				ids = append(ids, string(s.ID))
			}
			return ids
		}
		return nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}

// Server describes an MCP server a workflow may call (spec §3).
type Server struct {
	ID       Slug              `json:"id"`
	Name     string            `json:"name,omitempty"`
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers,omitempty"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

func (s *Server) UnmarshalJSON(b []byte) error {
	type alias Server
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	lowered := make(map[string]string, len(a.Headers))
	for k, v := range a.Headers {
		lowered[strings.ToLower(k)] = v
	}
	a.Headers = lowered
	*s = Server(a)
	return nil
}

// HasAuthorizationHeader reports whether a server hard-codes an
// Authorization header (spec §3: this should provoke a warning in favor
// of the credentials manager).
func (s Server) HasAuthorizationHeader() bool {
	_, ok := s.Headers["authorization"]
	return ok
}

// AsServer builds a one-off Server from a node's own url/headers, for the
// node-local server config case the session manager falls back to when a
// tool/resource/prompt node has no server_id (spec §4.3).
func (n Node) AsServer() (*Server, bool) {
	if n.URL == "" {
		return nil, false
	}
	lowered := make(map[string]string, len(n.Headers))
	for k, v := range n.Headers {
		lowered[strings.ToLower(k)] = v
	}
	return &Server{ID: n.ID, Name: n.Name, URL: n.URL, Headers: lowered}, true
}

// Event describes the caller-facing trigger schema for a workflow.
type Event struct {
	Name       string         `json:"name,omitempty"`
	Type       string         `json:"type,omitempty"`
	JSONSchema map[string]any `json:"json_schema,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Workflow is the top-level graph definition (spec §3).
type Workflow struct {
	ID          Slug           `json:"id"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Event       *Event         `json:"event,omitempty"`
	StartNodeID string         `json:"start_node_id,omitempty"`
	Nodes       []Node         `json:"nodes,omitempty"`
	Servers     []Server       `json:"servers,omitempty"`
	Data        Data           `json:"data,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NodesByID indexes Nodes for O(1) lookup during traversal.
func (w *Workflow) NodesByID() map[string]*Node {
	out := make(map[string]*Node, len(w.Nodes))
	for i := range w.Nodes {
		out[string(w.Nodes[i].ID)] = &w.Nodes[i]
	}
	return out
}

// ModelUsage is appended to a run's usage list by model-call handlers.
type ModelUsage struct {
	RefID        string `json:"ref_id"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}
