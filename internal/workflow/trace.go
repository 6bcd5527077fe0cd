package workflow

// EventAction is the discriminant for TraceEvent (spec §3).
type EventAction string

const (
	ActionWorkflowStart       EventAction = "workflow-start"
	ActionWorkflowEnd         EventAction = "workflow-end"
	ActionWorkflowFailed      EventAction = "workflow-failed"
	ActionWorkflowSchemaError EventAction = "workflow-schema-error"
	ActionNodeStart           EventAction = "node-start"
	ActionNodeEnd             EventAction = "node-end"
	ActionNodeError           EventAction = "node-error"
	ActionDefault             EventAction = "default"
)

// Ref is the minimal {id, name[, type]} reference embedded in trace events.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type NodeRef struct {
	Ref
	Type string `json:"type"`
}

func NodeRefFromNode(n *Node) NodeRef {
	return NodeRef{Ref: Ref{ID: string(n.ID), Name: n.Name}, Type: string(n.Type)}
}

// TracebackFrame is a truncated stack frame captured on node-error (spec
// §7: "at most 64 frames").
type TracebackFrame struct {
	Function string `json:"func_name"`
	Text     string `json:"text"`
}

// HandlerResult is one {edge, data} pair a handler can produce, and also
// the shape node-end reports for every outgoing edge.
type HandlerResult struct {
	Edge string `json:"edge"`
	Data Data   `json:"data"`
}

// TraceEvent is the sum type streamed by RunWorkflow (spec §3, §6).
type TraceEvent struct {
	Action    EventAction      `json:"action"`
	Timestamp float64          `json:"timestamp"`
	Workflow  *Ref             `json:"workflow,omitempty"`
	Node      *NodeRef         `json:"node,omitempty"`
	Data      Data             `json:"data,omitempty"`
	Results   []HandlerResult  `json:"results,omitempty"`
	Duration  float64          `json:"duration,omitempty"`
	Usage     []ModelUsage     `json:"usage,omitempty"`
	Message   string           `json:"message,omitempty"`
	ExcType   string           `json:"exc_type,omitempty"`
	Traceback []TracebackFrame `json:"traceback,omitempty"`
}
