package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/getjotsu/jotsu-mcp/internal/core"
	"github.com/getjotsu/jotsu-mcp/internal/workflow"
	"github.com/getjotsu/jotsu-mcp/pkg/logger"
)

// HandleTool implements the `tool` node type (spec §4.2.1): resolve the
// node's session, validate data against the tool's inputSchema, call the
// tool, and place the result in the data document.
func HandleTool(ctx context.Context, data workflow.Data, hc *Context) (Result, error) {
	node := hc.Node

	sess, err := getSession(ctx, hc)
	if err != nil {
		return Result{}, err
	}

	tools, err := hc.Sessions.Tools(ctx, sessionKey(hc))
	if err != nil {
		return Result{}, core.WrapFatal(fmt.Errorf("list tools: %w", err), "tool_list_failed")
	}

	var tool *mcp.Tool
	for i := range tools {
		if tools[i].Name == node.ToolName {
			tool = &tools[i]
			break
		}
	}
	if tool == nil {
		return Result{}, core.WrapFatal(fmt.Errorf("tool not found: %s", node.ToolName), "tool_not_found")
	}

	if schemaDoc, err := toolInputSchemaMap(tool); err != nil {
		return Result{}, core.WrapFatal(fmt.Errorf("decode input schema for %s: %w", node.ToolName, err), "tool_schema_invalid")
	} else if err := hc.Schema.Validate(schemaDoc, map[string]any(data)); err != nil {
		return Result{}, core.WrapFatal(fmt.Errorf("tool %s: %w", node.ToolName, err), "tool_input_invalid")
	}

	res, err := sess.CallTool(ctx, node.ToolName, data)
	if err != nil {
		return Result{}, core.WrapFatal(fmt.Errorf("call tool %s: %w", node.ToolName, err), "tool_call_failed")
	}
	if res.IsError {
		return Result{}, core.WrapFatal(fmt.Errorf("tool %s returned an error: %s", node.ToolName, firstText(res.Content)), "tool_call_error")
	}

	value, err := toolResultValue(res, node.StructuredOutput)
	if err != nil {
		return Result{}, err
	}

	out := data.Clone()
	switch {
	case value == nil:
		// non-text/structured content: no error, empty data (spec §4.2.1).
	case node.Member != "":
		out[node.Member] = value
	default:
		if obj, ok := value.(map[string]any); ok {
			for k, v := range obj {
				out[k] = v
			}
		} else {
			out[node.ToolName] = value
		}
	}
	return Broadcast(out), nil
}

func toolInputSchemaMap(tool *mcp.Tool) (map[string]any, error) {
	raw, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return nil, err
	}
	var schemaDoc map[string]any
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		return nil, err
	}
	return schemaDoc, nil
}

// toolResultValue derives the placed-into-data value from a successful
// CallToolResult (spec §4.2.1): structuredContent wins, else the first
// text block (JSON-parsed when possible), else nil for non-text content.
// structured_output unwraps the first element of a non-empty JSON list
// parsed from text content.
func toolResultValue(res *mcp.CallToolResult, structuredOutput bool) (any, error) {
	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}

	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return parseToolText(tc.Text, structuredOutput), nil
		}
		if tc, ok := c.(*mcp.TextContent); ok {
			return parseToolText(tc.Text, structuredOutput), nil
		}
	}
	return nil, nil
}

func parseToolText(text string, structuredOutput bool) any {
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return text
	}
	if structuredOutput {
		if list, ok := parsed.([]any); ok && len(list) > 0 {
			return list[0]
		}
	}
	return parsed
}

func firstText(content []mcp.Content) string {
	for _, c := range content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// HandleResource implements the `resource` node type (spec §4.2.1):
// read_resource, take the first text content block, JSON-parse it when
// mimeType is application/json, and place it under node.member or the
// resource's own URI.
func HandleResource(ctx context.Context, data workflow.Data, hc *Context) (Result, error) {
	node := hc.Node

	sess, err := getSession(ctx, hc)
	if err != nil {
		return Result{}, err
	}

	res, err := sess.ReadResource(ctx, node.URI)
	if err != nil {
		return Result{}, core.WrapFatal(fmt.Errorf("read resource %s: %w", node.URI, err), "resource_read_failed")
	}

	out := data.Clone()
	for _, c := range res.Contents {
		switch rc := c.(type) {
		case mcp.TextResourceContents:
			placeResourceValue(out, node, rc.URI, rc.MIMEType, rc.Text)
			return Broadcast(out), nil
		case mcp.BlobResourceContents:
			if rc.Blob == "" {
				logger.FromContext(ctx).Warn("resource returned an empty blob", "uri", node.URI)
				return Broadcast(out), nil
			}
		}
	}
	return Broadcast(out), nil
}

func placeResourceValue(out workflow.Data, node *workflow.Node, uri, mimeType, text string) {
	var value any = text
	if mimeType == "application/json" {
		var parsed any
		if err := json.Unmarshal([]byte(text), &parsed); err == nil {
			value = parsed
		}
	}
	key := node.Member
	if key == "" {
		key = uri
	}
	out[key] = value
}

// HandlePrompt implements the `prompt` node type (spec §4.2.1): get_prompt,
// concatenate text messages with "\n", place under node.member or "prompt".
func HandlePrompt(ctx context.Context, data workflow.Data, hc *Context) (Result, error) {
	node := hc.Node

	sess, err := getSession(ctx, hc)
	if err != nil {
		return Result{}, err
	}

	res, err := sess.GetPrompt(ctx, node.PromptName, nil)
	if err != nil {
		return Result{}, core.WrapFatal(fmt.Errorf("get prompt %s: %w", node.PromptName, err), "prompt_get_failed")
	}

	var parts []string
	sawImage := false
	for _, m := range res.Messages {
		switch c := m.Content.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case mcp.ImageContent:
			sawImage = true
		}
	}
	if sawImage && len(parts) == 0 {
		logger.FromContext(ctx).Warn("prompt contained non-text content", "prompt", node.PromptName)
	}

	out := data.Clone()
	if len(parts) > 0 {
		key := node.Member
		if key == "" {
			key = "prompt"
		}
		out[key] = joinLines(parts)
	}
	return Broadcast(out), nil
}

func joinLines(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "\n" + p
	}
	return out
}
