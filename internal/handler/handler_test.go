package handler

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getjotsu/jotsu-mcp/internal/expr"
	"github.com/getjotsu/jotsu-mcp/internal/jsonschema"
	"github.com/getjotsu/jotsu-mcp/internal/mcpclient"
	"github.com/getjotsu/jotsu-mcp/internal/rules"
	"github.com/getjotsu/jotsu-mcp/internal/sessionmgr"
	"github.com/getjotsu/jotsu-mcp/internal/tplengine"
	"github.com/getjotsu/jotsu-mcp/internal/workflow"
)

func edge(s string) *string { return &s }

func newTestContext(t *testing.T, wf *workflow.Workflow, node *workflow.Node, open sessionmgr.OpenFunc) *Context {
	t.Helper()
	ev, err := expr.New()
	require.NoError(t, err)
	usage := []workflow.ModelUsage{}
	mgr := sessionmgr.New(wf, open)
	return &Context{
		ActionID:  "a1",
		Workflow:  wf,
		Node:      node,
		Sessions:  mgr,
		Owner:     sessionmgr.NewOwner(),
		Usage:     &usage,
		Eval:      ev,
		Templates: tplengine.NewEngine(tplengine.FormatText),
		Schema:    jsonschema.NewValidator(),
	}
}

func TestHandleSwitch(t *testing.T) {
	node := &workflow.Node{
		ID:    "1", Name: "test-switch", Type: workflow.NodeSwitch,
		Expr:  "data.x.y",
		Rules: []rules.Rule{{Type: rules.LessThan, Value: float64(2)}, {Type: rules.GreaterEqual, Value: float64(2)}},
		Edges: []*string{edge("e1"), edge("e2"), edge("e3")},
	}
	hc := newTestContext(t, &workflow.Workflow{ID: "w"}, node, nil)

	res, err := HandleSwitch(context.Background(), workflow.Data{"x": map[string]any{"y": float64(3)}}, hc)
	require.NoError(t, err)

	require.Len(t, res.Results, 2)
	assert.Equal(t, "e2", res.Results[0].Edge)
	assert.Equal(t, "e3", res.Results[1].Edge)
}

func TestHandleLoop(t *testing.T) {
	node := &workflow.Node{
		ID: "1", Name: "test-loop", Type: workflow.NodeLoop,
		Expr:  "data.lines",
		Edges: []*string{edge("e1"), edge("e2")},
	}
	hc := newTestContext(t, &workflow.Workflow{ID: "w"}, node, nil)

	data := workflow.Data{"lines": []any{"1", "2", "3"}}
	res, err := HandleLoop(context.Background(), data, hc)
	require.NoError(t, err)

	require.Len(t, res.Results, 6)
	assert.Equal(t, "e1", res.Results[0].Edge)
	assert.Equal(t, "1", res.Results[0].Data[loopItemKey])
	assert.Equal(t, "e2", res.Results[3].Edge)
	assert.Equal(t, "1", res.Results[3].Data[loopItemKey])
}

func TestHandleLoopWithRules(t *testing.T) {
	node := &workflow.Node{
		ID: "1", Name: "test-loop", Type: workflow.NodeLoop,
		Expr:  "data.lines",
		Rules: []rules.Rule{{Type: rules.GreaterEqual, Value: float64(2)}},
		Edges: []*string{edge("e1"), edge("e2")},
	}
	hc := newTestContext(t, &workflow.Workflow{ID: "w"}, node, nil)

	data := workflow.Data{"lines": []any{float64(1), float64(2), float64(3)}}
	res, err := HandleLoop(context.Background(), data, hc)
	require.NoError(t, err)

	require.Len(t, res.Results, 4)
	assert.Equal(t, float64(2), res.Results[0].Data[loopItemKey])
	assert.Equal(t, float64(3), res.Results[1].Data[loopItemKey])
}

func TestHandleFunctionBroadcast(t *testing.T) {
	node := &workflow.Node{
		ID: "1", Name: "test-function", Type: workflow.NodeFunction,
		Function: "return data",
		Edges:    []*string{edge("e1"), edge("e2")},
	}
	hc := newTestContext(t, &workflow.Workflow{ID: "w"}, node, nil)

	res, err := HandleFunction(context.Background(), workflow.Data{"x": map[string]any{"y": float64(3)}}, hc)
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "e1", res.Results[0].Edge)
	assert.Equal(t, "e2", res.Results[1].Edge)
}

func TestHandleFunctionPerEdgeDropsNil(t *testing.T) {
	node := &workflow.Node{
		ID: "1", Name: "test-function", Type: workflow.NodeFunction,
		Function: "return [data, null]",
		Edges:    []*string{edge("e1"), edge("e2")},
	}
	hc := newTestContext(t, &workflow.Workflow{ID: "w"}, node, nil)

	res, err := HandleFunction(context.Background(), workflow.Data{"x": map[string]any{"y": float64(3)}}, hc)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "e1", res.Results[0].Edge)
}

func TestHandleFunctionNoEdgesIsEmpty(t *testing.T) {
	node := &workflow.Node{
		ID: "1", Name: "test-function", Type: workflow.NodeFunction,
		Function: "return [data, null]",
	}
	hc := newTestContext(t, &workflow.Workflow{ID: "w"}, node, nil)

	res, err := HandleFunction(context.Background(), workflow.Data{"x": map[string]any{"y": float64(3)}}, hc)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
}

func TestHandleTransformMove(t *testing.T) {
	node := &workflow.Node{
		ID: "1", Name: "test-transform", Type: workflow.NodeTransform,
		Transforms: []workflow.TransformOp{{Type: "move", Source: "a", Target: "b"}},
		Edges:      []*string{edge("e1")},
	}
	hc := newTestContext(t, &workflow.Workflow{ID: "w"}, node, nil)

	res, err := HandleTransform(context.Background(), workflow.Data{"a": float64(3)}, hc)
	require.NoError(t, err)
	assert.Equal(t, workflow.Data{"b": float64(3)}, res.Data)
}

func TestHandleTransformSet(t *testing.T) {
	node := &workflow.Node{
		ID: "1", Name: "test-transform", Type: workflow.NodeTransform,
		Transforms: []workflow.TransformOp{{Type: "set", Source: "string(data.a*2)", Target: "b.foo.bar"}},
		Edges:      []*string{edge("e1")},
	}
	hc := newTestContext(t, &workflow.Workflow{ID: "w"}, node, nil)

	res, err := HandleTransform(context.Background(), workflow.Data{"a": float64(3)}, hc)
	require.NoError(t, err)
	assert.Equal(t, "6", res.Data["b"].(map[string]any)["foo"].(map[string]any)["bar"])
	assert.Equal(t, float64(3), res.Data["a"])
}

func TestHandleTransformDelete(t *testing.T) {
	node := &workflow.Node{
		ID: "1", Name: "test-transform", Type: workflow.NodeTransform,
		Transforms: []workflow.TransformOp{{Type: "delete", Source: "a"}},
		Edges:      []*string{edge("e1")},
	}
	hc := newTestContext(t, &workflow.Workflow{ID: "w"}, node, nil)

	res, err := HandleTransform(context.Background(), workflow.Data{"a": float64(3)}, hc)
	require.NoError(t, err)
	assert.Equal(t, workflow.Data{}, res.Data)
}

func TestHandlePick(t *testing.T) {
	node := &workflow.Node{
		ID: "1", Name: "test-pick", Type: workflow.NodePick,
		Expressions: map[string]string{"foo": "data.baz"},
	}
	hc := newTestContext(t, &workflow.Workflow{ID: "w"}, node, nil)

	res, err := HandlePick(context.Background(), workflow.Data{"baz": float64(3)}, hc)
	require.NoError(t, err)
	assert.Equal(t, workflow.Data{"foo": float64(3)}, res.Data)
}

// fakeSession implements mcpclient.Session for tool/resource/prompt tests.
type fakeSession struct {
	tools     []mcp.Tool
	callErr   error
	callRes   *mcp.CallToolResult
	readRes   *mcp.ReadResourceResult
	promptRes *mcp.GetPromptResult
}

func (f *fakeSession) CallTool(context.Context, string, map[string]any) (*mcp.CallToolResult, error) {
	return f.callRes, f.callErr
}
func (f *fakeSession) ReadResource(context.Context, string) (*mcp.ReadResourceResult, error) {
	return f.readRes, nil
}
func (f *fakeSession) GetPrompt(context.Context, string, map[string]string) (*mcp.GetPromptResult, error) {
	return f.promptRes, nil
}
func (f *fakeSession) ListTools(context.Context) ([]mcp.Tool, error)         { return f.tools, nil }
func (f *fakeSession) ListResources(context.Context) ([]mcp.Resource, error) { return nil, nil }
func (f *fakeSession) ListPrompts(context.Context) ([]mcp.Prompt, error)     { return nil, nil }
func (f *fakeSession) Close() error                                         { return nil }

func testWorkflowWithServer() *workflow.Workflow {
	return &workflow.Workflow{
		ID:      "w",
		Servers: []workflow.Server{{ID: "test", URL: "https://testserver/mcp/"}},
	}
}

func TestHandleToolPlacesTextResultUnderToolName(t *testing.T) {
	node := &workflow.Node{
		ID: "1", Name: "test-tool", Type: workflow.NodeTool, ServerID: "test", ToolName: "test_tool",
	}
	sess := &fakeSession{
		tools:   []mcp.Tool{{Name: "test_tool", InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{"name": map[string]any{"type": "string"}}, Required: []string{"name"}}}},
		callRes: &mcp.CallToolResult{IsError: false, Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "xxx"}}},
	}
	hc := newTestContext(t, testWorkflowWithServer(), node, func(context.Context, *workflow.Server) (mcpclient.Session, error) {
		return sess, nil
	})

	res, err := HandleTool(context.Background(), workflow.Data{"name": "foo"}, hc)
	require.NoError(t, err)
	assert.Equal(t, "foo", res.Data["name"])
	assert.Equal(t, "xxx", res.Data["test_tool"])
}

func TestHandleToolStructuredContent(t *testing.T) {
	node := &workflow.Node{
		ID: "1", Name: "test-tool", Type: workflow.NodeTool, ServerID: "test", ToolName: "test_tool",
	}
	sess := &fakeSession{
		tools: []mcp.Tool{{Name: "test_tool"}},
		callRes: &mcp.CallToolResult{
			IsError:           false,
			Content:           []mcp.Content{mcp.TextContent{Type: "text", Text: `{"a":"b"}`}},
			StructuredContent: map[string]any{"a": "b"},
		},
	}
	hc := newTestContext(t, testWorkflowWithServer(), node, func(context.Context, *workflow.Server) (mcpclient.Session, error) {
		return sess, nil
	})

	res, err := HandleTool(context.Background(), workflow.Data{}, hc)
	require.NoError(t, err)
	assert.Equal(t, "b", res.Data["a"])
}

func TestHandleToolSchemaValidationError(t *testing.T) {
	node := &workflow.Node{
		ID: "1", Name: "test-tool", Type: workflow.NodeTool, ServerID: "test", ToolName: "test_tool",
	}
	sess := &fakeSession{
		tools: []mcp.Tool{{Name: "test_tool", InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{"name": map[string]any{"type": "string"}}, Required: []string{"name"}}}},
	}
	hc := newTestContext(t, testWorkflowWithServer(), node, func(context.Context, *workflow.Server) (mcpclient.Session, error) {
		return sess, nil
	})

	_, err := HandleTool(context.Background(), workflow.Data{}, hc)
	require.Error(t, err)
}

func TestHandleToolIsErrorFails(t *testing.T) {
	node := &workflow.Node{
		ID: "1", Name: "test-tool", Type: workflow.NodeTool, ServerID: "test", ToolName: "test_tool",
	}
	sess := &fakeSession{
		tools:   []mcp.Tool{{Name: "test_tool"}},
		callRes: &mcp.CallToolResult{IsError: true, Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "error?"}}},
	}
	hc := newTestContext(t, testWorkflowWithServer(), node, func(context.Context, *workflow.Server) (mcpclient.Session, error) {
		return sess, nil
	})

	_, err := HandleTool(context.Background(), workflow.Data{}, hc)
	require.Error(t, err)
}

func TestHandleResourceJSON(t *testing.T) {
	node := &workflow.Node{ID: "1", Name: "data://resource", Type: workflow.NodeResource, ServerID: "test", URI: "data://resource"}
	sess := &fakeSession{
		readRes: &mcp.ReadResourceResult{Contents: []mcp.ResourceContents{
			mcp.TextResourceContents{URI: "data://resource", MIMEType: "application/json", Text: `{"foo":"baz"}`},
		}},
	}
	hc := newTestContext(t, testWorkflowWithServer(), node, func(context.Context, *workflow.Server) (mcpclient.Session, error) {
		return sess, nil
	})

	res, err := HandleResource(context.Background(), workflow.Data{}, hc)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"foo": "baz"}, res.Data["data://resource"])
}

func TestHandlePromptConcatenatesText(t *testing.T) {
	node := &workflow.Node{ID: "1", Name: "prompt", Type: workflow.NodePrompt, ServerID: "test", PromptName: "prompt"}
	sess := &fakeSession{
		promptRes: &mcp.GetPromptResult{Messages: []mcp.PromptMessage{
			{Role: "user", Content: mcp.TextContent{Type: "text", Text: "xxx"}},
		}},
	}
	hc := newTestContext(t, testWorkflowWithServer(), node, func(context.Context, *workflow.Server) (mcpclient.Session, error) {
		return sess, nil
	})

	res, err := HandlePrompt(context.Background(), workflow.Data{}, hc)
	require.NoError(t, err)
	assert.Equal(t, "xxx", res.Data["prompt"])
}
