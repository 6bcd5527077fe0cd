package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

func parseJSONObject(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	var out map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AnthropicProvider calls the Messages API via resty, mirroring
// jotsu/mcp/workflow/handler/anthropic.py's kwargs assembly field-for-field:
// a structured_output tool carrying the schema when a JSON schema is
// requested (no tool_choice is set), and MCP
// server forwarding through the mcp-client-2025-04-04 beta.
type AnthropicProvider struct {
	client  *resty.Client
	apiKey  string
	version string
}

func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client:  resty.New().SetBaseURL("https://api.anthropic.com"),
		apiKey:  apiKey,
		version: "2023-06-01",
	}
}

type anthropicMCPServer struct {
	Type                string `json:"type"`
	URL                 string `json:"url"`
	Name                string `json:"name"`
	AuthorizationToken  string `json:"authorization_token,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model      string               `json:"model"`
	MaxTokens  int                  `json:"max_tokens"`
	Messages   []ModelMessage       `json:"messages"`
	System     string               `json:"system,omitempty"`
	Tools      []anthropicTool      `json:"tools,omitempty"`
	MCPServers []anthropicMCPServer `json:"mcp_servers,omitempty"`
}

type anthropicContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type anthropicResponse struct {
	ID      string                  `json:"id"`
	Model   string                  `json:"model"`
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *AnthropicProvider) Call(ctx context.Context, req ModelRequest) (*ModelResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	body := anthropicRequest{
		Model:     req.Model,
		MaxTokens: maxTokens,
		Messages:  req.Messages,
		System:    req.System,
	}
	if req.JSONSchema != nil {
		body.Tools = []anthropicTool{{Name: "structured_output", InputSchema: req.JSONSchema}}
	}

	r := p.client.R().SetContext(ctx).
		SetHeader("x-api-key", p.apiKey).
		SetHeader("anthropic-version", p.version).
		SetHeader("content-type", "application/json")

	if len(req.Servers) > 0 {
		r.SetHeader("anthropic-beta", "mcp-client-2025-04-04")
		servers := make([]anthropicMCPServer, 0, len(req.Servers))
		for _, s := range req.Servers {
			servers = append(servers, anthropicMCPServer{
				Type:               "url",
				URL:                s.URL,
				Name:               s.Name,
				AuthorizationToken: s.Headers["authorization"],
			})
		}
		body.MCPServers = servers
	}

	var out anthropicResponse
	resp, err := r.SetBody(body).SetResult(&out).Post("/v1/messages")
	if err != nil {
		return nil, fmt.Errorf("anthropic: request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("anthropic: %s: %s", resp.Status(), resp.String())
	}

	raw, structured, text := anthropicExtract(out)
	return &ModelResponse{
		Raw:          raw,
		Structured:   structured,
		Text:         text,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
	}, nil
}

func anthropicExtract(out anthropicResponse) (raw, structured map[string]any, text string) {
	raw = map[string]any{
		"id": out.ID, "model": out.Model, "role": out.Role,
	}
	var lines []string
	for _, block := range out.Content {
		switch block.Type {
		case "text":
			lines = append(lines, block.Text)
		case "tool_use":
			if block.Name == "structured_output" {
				structured = block.Input
			}
		}
	}
	return raw, structured, strings.Join(lines, "\n")
}

// OpenAIProvider calls the Chat Completions API. Structured output is
// requested via response_format:{type:"json_schema",...} rather than a
// forced tool call, matching OpenAI's native contract.
type OpenAIProvider struct {
	client *resty.Client
	apiKey string
}

func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client: resty.New().SetBaseURL("https://api.openai.com"),
		apiKey: apiKey,
	}
}

type openAIResponseFormat struct {
	Type       string         `json:"type"`
	JSONSchema map[string]any `json:"json_schema,omitempty"`
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []ModelMessage        `json:"messages"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *OpenAIProvider) Call(ctx context.Context, req ModelRequest) (*ModelResponse, error) {
	messages := req.Messages
	if req.System != "" {
		messages = append([]ModelMessage{{Role: "system", Content: req.System}}, messages...)
	}

	body := openAIRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.JSONSchema != nil {
		body.ResponseFormat = &openAIResponseFormat{
			Type: "json_schema",
			JSONSchema: map[string]any{
				"name":   "structured_output",
				"schema": req.JSONSchema,
				"strict": true,
			},
		}
	}

	var out openAIResponse
	resp, err := p.client.R().SetContext(ctx).
		SetHeader("Authorization", "Bearer "+p.apiKey).
		SetHeader("content-type", "application/json").
		SetBody(body).SetResult(&out).
		Post("/v1/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("openai: request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("openai: %s: %s", resp.Status(), resp.String())
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	content := out.Choices[0].Message.Content
	resp0 := &ModelResponse{
		Raw:          map[string]any{"model": out.Model},
		Text:         content,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}
	if req.JSONSchema != nil {
		structured, err := parseJSONObject(content)
		if err != nil {
			return nil, fmt.Errorf("openai: parse structured output: %w", err)
		}
		resp0.Structured = structured
		resp0.Text = ""
	}
	return resp0, nil
}

// CloudflareProvider calls Workers AI's run endpoint. Cloudflare has no
// forced-JSON-mode contract of its own, so a JSON schema request is
// carried as a system-prompt instruction, matching the json-mode-by-
// convention most Workers AI text models support.
type CloudflareProvider struct {
	client    *resty.Client
	apiToken  string
	accountID string
}

func NewCloudflareProvider(apiToken, accountID string) *CloudflareProvider {
	return &CloudflareProvider{
		client:    resty.New().SetBaseURL("https://api.cloudflare.com"),
		apiToken:  apiToken,
		accountID: accountID,
	}
}

type cloudflareRequest struct {
	Messages []ModelMessage `json:"messages"`
}

type cloudflareResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Response string `json:"response"`
	} `json:"result"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (p *CloudflareProvider) Call(ctx context.Context, req ModelRequest) (*ModelResponse, error) {
	messages := req.Messages
	system := req.System
	if req.JSONSchema != nil {
		system = strings.TrimSpace(system + "\nRespond with a single JSON object matching the requested schema and nothing else.")
	}
	if system != "" {
		messages = append([]ModelMessage{{Role: "system", Content: system}}, messages...)
	}

	var out cloudflareResponse
	path := fmt.Sprintf("/client/v4/accounts/%s/ai/run/%s", p.accountID, req.Model)
	resp, err := p.client.R().SetContext(ctx).
		SetHeader("Authorization", "Bearer "+p.apiToken).
		SetHeader("content-type", "application/json").
		SetBody(cloudflareRequest{Messages: messages}).
		SetResult(&out).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: request: %w", err)
	}
	if resp.IsError() || !out.Success {
		return nil, fmt.Errorf("cloudflare: %s: %s", resp.Status(), cloudflareErrorText(out))
	}

	result := &ModelResponse{Text: out.Result.Response}
	if req.JSONSchema != nil {
		structured, err := parseJSONObject(out.Result.Response)
		if err == nil {
			result.Structured = structured
			result.Text = ""
		}
	}
	return result, nil
}

func cloudflareErrorText(out cloudflareResponse) string {
	if len(out.Errors) == 0 {
		return "unknown error"
	}
	msgs := make([]string, len(out.Errors))
	for i, e := range out.Errors {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}
