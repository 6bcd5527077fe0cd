package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getjotsu/jotsu-mcp/internal/workflow"
)

func TestBuildModelRequestDropsUnknownServerIDs(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "w",
		Servers: []workflow.Server{
			{ID: "known-1", URL: "https://example.com/1/"},
			{ID: "known-2", URL: "https://example.com/2/"},
		},
	}
	node := &workflow.Node{
		ID: "1", Name: "call", Type: "anthropic",
		Servers: []any{"known-1", "ghost"},
	}
	hc := newTestContext(t, wf, node, nil)

	req, err := buildModelRequest(context.Background(), workflow.Data{"prompt": "hi"}, hc)
	require.NoError(t, err)

	ids := make([]string, 0, len(req.Servers))
	for _, s := range req.Servers {
		ids = append(ids, string(s.ID))
	}
	assert.ElementsMatch(t, []string{"known-1"}, ids, "unknown server id should be dropped, not propagated")
}

func TestBuildModelRequestWildcardServers(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "w",
		Servers: []workflow.Server{
			{ID: "s1", URL: "https://example.com/1/"},
			{ID: "s2", URL: "https://example.com/2/"},
		},
	}
	node := &workflow.Node{
		ID: "1", Name: "call", Type: "anthropic",
		Servers: "*",
	}
	hc := newTestContext(t, wf, node, nil)

	req, err := buildModelRequest(context.Background(), workflow.Data{"prompt": "hi"}, hc)
	require.NoError(t, err)
	assert.Len(t, req.Servers, 2)
}
