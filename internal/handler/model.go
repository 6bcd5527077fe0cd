package handler

import (
	"context"
	"fmt"

	"github.com/getjotsu/jotsu-mcp/internal/workflow"
	"github.com/getjotsu/jotsu-mcp/pkg/logger"
)

// ModelMessage is a single chat turn, shared across the three providers'
// request shapes (spec §4.2.3).
type ModelMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ModelRequest is what a providerClient needs to build its wire call:
// messages, an optional system prompt, a JSON-schema tool/response
// format, the MCP servers to forward, and the model/max_tokens knobs
// (spec §4.2.3).
type ModelRequest struct {
	Model      string
	Messages   []ModelMessage
	System     string
	MaxTokens  int
	JSONSchema map[string]any
	Servers    []workflow.Server
}

// ModelResponse is what every provider handler extracts regardless of
// wire shape: the raw response (merged into data when
// include_message_in_output is true), any structured JSON the provider
// returned via forced tool/JSON output, the concatenated text content,
// and token usage.
type ModelResponse struct {
	Raw          map[string]any
	Structured   map[string]any
	Text         string
	InputTokens  int
	OutputTokens int
}

// ModelProvider is the contract a concrete SDK/HTTP client adapter
// implements for one of anthropic/openai/cloudflare (spec §1 "out of
// scope: concrete provider SDKs... specified only by the contract their
// handlers need").
type ModelProvider interface {
	Call(ctx context.Context, req ModelRequest) (*ModelResponse, error)
}

// ProviderSet is the set of model providers wired into the handler
// registry, one per model-call node type.
type ProviderSet struct {
	Anthropic  ModelProvider
	OpenAI     ModelProvider
	Cloudflare ModelProvider
}

var defaultJSONSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": true,
}

// ModelHandler builds the shared anthropic/openai/cloudflare handler body
// (spec §4.2.3) parameterized over a concrete ModelProvider. A nil
// provider fails every call with a descriptive error rather than
// panicking, so a deployment that only wires one of the three providers
// still boots.
func ModelHandler(provider ModelProvider) Func {
	return func(ctx context.Context, data workflow.Data, hc *Context) (Result, error) {
		if provider == nil {
			return Result{}, fmt.Errorf("handler: no provider configured for node type %q", hc.Node.Type)
		}

		req, err := buildModelRequest(ctx, data, hc)
		if err != nil {
			return Result{}, err
		}

		resp, err := provider.Call(ctx, req)
		if err != nil {
			return Result{}, fmt.Errorf("handler: %s call: %w", hc.Node.Type, err)
		}

		*hc.Usage = append(*hc.Usage, workflow.ModelUsage{
			RefID:        hc.ActionID,
			Model:        hc.Node.Model,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
		})

		out := composeModelOutput(data, hc.Node, resp)
		return Broadcast(out), nil
	}
}

func buildModelRequest(ctx context.Context, data workflow.Data, hc *Context) (ModelRequest, error) {
	node := hc.Node

	var messages []ModelMessage
	if raw, ok := data["messages"]; ok {
		if list, ok := raw.([]workflow.Data); ok {
			for _, m := range list {
				messages = append(messages, ModelMessage{
					Role:    fmt.Sprintf("%v", m["role"]),
					Content: m["content"],
				})
			}
		} else if list, ok := raw.([]any); ok {
			for _, item := range list {
				if m, ok := item.(map[string]any); ok {
					messages = append(messages, ModelMessage{
						Role:    fmt.Sprintf("%v", m["role"]),
						Content: m["content"],
					})
				}
			}
		}
	}
	if messages == nil {
		prompt, _ := data["prompt"].(string)
		if prompt == "" {
			prompt = node.Prompt
		}
		if prompt != "" {
			rendered, err := hc.Templates.RenderString(prompt, map[string]any(data))
			if err != nil {
				return ModelRequest{}, fmt.Errorf("handler: render prompt: %w", err)
			}
			messages = append(messages, ModelMessage{Role: "user", Content: rendered})
		}
	}

	system, _ := data["system"].(string)
	if system == "" {
		system = node.System
	}
	if system != "" {
		rendered, err := hc.Templates.RenderString(system, map[string]any(data))
		if err != nil {
			return ModelRequest{}, fmt.Errorf("handler: render system: %w", err)
		}
		system = rendered
	}

	useJSONSchema := node.JSONSchema != nil
	if node.UseJSONSchema != nil {
		useJSONSchema = *node.UseJSONSchema
	}
	var schema map[string]any
	if useJSONSchema {
		schema = node.JSONSchema
		if schema == nil {
			schema = defaultJSONSchema
		}
	}

	var servers []workflow.Server
	if node.Servers != nil {
		known := map[string]bool{}
		for _, s := range hc.Workflow.Servers {
			known[string(s.ID)] = true
		}

		wanted := map[string]bool{}
		for _, id := range node.JSONServers(hc.Workflow.Servers) {
			if !known[id] {
				logger.FromContext(ctx).Warn("model node references unknown server id", "node", node.ID, "server_id", id)
				continue
			}
			wanted[id] = true
		}
		for _, s := range hc.Workflow.Servers {
			if wanted[string(s.ID)] {
				servers = append(servers, s)
			}
		}
	}

	return ModelRequest{
		Model:      node.Model,
		Messages:   messages,
		System:     system,
		MaxTokens:  node.MaxTokens,
		JSONSchema: schema,
		Servers:    servers,
	}, nil
}

// composeModelOutput merges the provider response into the data document
// per spec §4.2.3's "compose output" rules.
func composeModelOutput(data workflow.Data, node *workflow.Node, resp *ModelResponse) workflow.Data {
	includeMessage := true
	if node.IncludeMessageInOutput != nil {
		includeMessage = *node.IncludeMessageInOutput
	}

	out := data.Clone()
	if includeMessage && resp.Raw != nil {
		for k, v := range resp.Raw {
			out[k] = v
		}
	}

	if resp.Structured != nil {
		target := node.Member
		if target != "" {
			out[target] = resp.Structured
		} else {
			for k, v := range resp.Structured {
				out[k] = v
			}
		}
		return out
	}

	if resp.Text != "" {
		key := node.Member
		if key == "" {
			key = node.Name
		}
		out[key] = resp.Text
	}
	return out
}
