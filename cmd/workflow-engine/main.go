// Command workflow-engine runs the workflow engine as an MCP server
// (spec §6): a tool `workflow(name, data?)` that streams a workflow run as
// a JSON array of trace events, and a resource `workflow://{id}/` that
// serves back a loaded workflow's own definition. Kept deliberately thin —
// no CLI framework is wired in (DESIGN.md: a full cobra/bubbletea surface
// has no SPEC_FULL.md component to attach to) — mirroring how
// jotsu/mcp/workflow/engine.py's runnable subclasses FastMCP directly
// rather than standing up a separate CLI layer.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/getjotsu/jotsu-mcp/internal/engine"
	"github.com/getjotsu/jotsu-mcp/internal/handler"
	"github.com/getjotsu/jotsu-mcp/internal/mcpclient"
	"github.com/getjotsu/jotsu-mcp/internal/workflow"
	"github.com/getjotsu/jotsu-mcp/pkg/logger"
)

func main() {
	workflowDir := flag.String("workflows", "./workflows", "directory of *.json workflow definitions")
	logLevel := flag.String("log-level", "info", "debug|info|warn|error|disabled")
	flag.Parse()

	log := logger.NewLogger(&logger.Config{Level: logger.LogLevel(*logLevel)})

	workflows, err := loadWorkflows(*workflowDir)
	if err != nil {
		log.Error("load workflows", "dir", *workflowDir, "error", err.Error())
		os.Exit(1)
	}
	log.Info("loaded workflows", "count", len(workflows), "dir", *workflowDir)

	registry := engine.NewRegistry(workflows...)
	handlers := handler.NewRegistry(providersFromEnv())
	open := engine.Open(mcpclient.New(), "", nil)

	eng, err := engine.New(registry, handlers, open)
	if err != nil {
		log.Error("build engine", "error", err.Error())
		os.Exit(1)
	}

	mcpServer := server.NewMCPServer(
		"workflow-engine", "0.1.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
		server.WithRecovery(),
	)

	mcpServer.AddTool(
		mcp.NewTool("workflow",
			mcp.WithDescription("Run a workflow by id or name and return its trace events"),
			mcp.WithString("name", mcp.Required(), mcp.Description("Workflow id or name")),
			mcp.WithObject("data", mcp.Description("Initial data document merged into the workflow's own data")),
		),
		runWorkflowTool(eng, log),
	)

	mcpServer.AddResource(
		mcp.NewResource(
			"workflow://{id}/",
			"Workflow definition",
			mcp.WithResourceDescription("The definition of a loaded workflow, by id"),
			mcp.WithMIMEType("application/json"),
		),
		workflowResource(registry),
	)

	log.Info("starting workflow-engine MCP server over stdio")
	if err := server.ServeStdio(mcpServer); err != nil {
		log.Error("mcp server exited", "error", err.Error())
		os.Exit(1)
	}
}

func loadWorkflows(dir string) ([]*workflow.Workflow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workflow dir: %w", err)
	}

	var out []*workflow.Workflow
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var wf workflow.Workflow
		if err := json.Unmarshal(raw, &wf); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		out = append(out, &wf)
	}
	return out, nil
}

func providersFromEnv() handler.ProviderSet {
	var set handler.ProviderSet
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		set.Anthropic = handler.NewAnthropicProvider(key)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		set.OpenAI = handler.NewOpenAIProvider(key)
	}
	if token, account := os.Getenv("CLOUDFLARE_API_TOKEN"), os.Getenv("CLOUDFLARE_ACCOUNT_ID"); token != "" && account != "" {
		set.Cloudflare = handler.NewCloudflareProvider(token, account)
	}
	return set
}

func runWorkflowTool(eng *engine.Engine, log logger.Logger) func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = logger.ContextWithLogger(ctx, log)

		name, err := req.RequireString("name")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("missing 'name' parameter: %v", err)), nil
		}

		var data workflow.Data
		if args := req.GetArguments(); args != nil {
			if raw, ok := args["data"].(map[string]any); ok {
				data = workflow.Data(raw)
			}
		}

		ch, err := eng.RunWorkflow(ctx, name, data)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run workflow %q: %v", name, err)), nil
		}

		var events []workflow.TraceEvent
		for ev := range ch {
			events = append(events, ev)
		}

		out, err := json.Marshal(events)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("marshal trace events: %v", err)), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}

var workflowURIPattern = regexp.MustCompile(`^workflow://([^/]+)/?$`)

func workflowResource(registry *engine.Registry) func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return func(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		m := workflowURIPattern.FindStringSubmatch(req.Params.URI)
		if m == nil {
			return nil, fmt.Errorf("invalid workflow resource uri: %s", req.Params.URI)
		}

		wf := registry.Find(m[1])
		if wf == nil {
			return nil, fmt.Errorf("workflow not found: %s", m[1])
		}

		out, err := json.Marshal(wf)
		if err != nil {
			return nil, fmt.Errorf("marshal workflow %s: %w", m[1], err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(out)},
		}, nil
	}
}
