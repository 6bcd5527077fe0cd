package engine

import (
	"context"
	"fmt"

	"github.com/getjotsu/jotsu-mcp/internal/core"
	"github.com/getjotsu/jotsu-mcp/internal/workflow"
	"github.com/getjotsu/jotsu-mcp/pkg/logger"
)

// Compile pre-validates a workflow before it is ever run: every node's
// non-null edges must reference a real node id, and start_node_id (when
// set) must resolve too. This is a SUPPLEMENTED feature the Python
// original lacks — it only discovers a bad edge reference at traversal
// time, mid-run — grounded on compozy's validate-before-execute idiom
// (engine/workflow validators run a compile pass ahead of dispatch). It
// also surfaces the spec §3 warning for a server that hard-codes its own
// Authorization header instead of going through the credentials manager.
func Compile(ctx context.Context, wf *workflow.Workflow) error {
	byID := wf.NodesByID()

	if wf.StartNodeID != "" {
		if _, ok := byID[wf.StartNodeID]; !ok {
			return core.WrapFatal(fmt.Errorf("workflow %s: start_node_id %q does not exist", wf.ID, wf.StartNodeID), "compile_invalid_start_node")
		}
	}

	for i := range wf.Nodes {
		node := &wf.Nodes[i]
		for _, edge := range node.Edges {
			if edge == nil || *edge == "" {
				continue
			}
			if _, ok := byID[*edge]; !ok {
				return core.WrapFatal(fmt.Errorf("workflow %s: node %s: edge references unknown node %q", wf.ID, node.ID, *edge), "compile_invalid_edge")
			}
		}
	}

	for i := range wf.Servers {
		if wf.Servers[i].HasAuthorizationHeader() {
			logger.FromContext(ctx).Warn(
				"server hard-codes an Authorization header, prefer the credentials manager",
				"server", wf.Servers[i].ID,
			)
		}
	}
	return nil
}
