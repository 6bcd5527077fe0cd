// Package sessionmgr implements the per-workflow session pool described
// in spec §4.3: lazy creation keyed by server id (falling back to a
// node's own inline server config), memoization, owner-task discipline,
// and reverse-order idempotent close. Grounded literally on
// tests/mcp/workflow/test_sessions.py.
package sessionmgr

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/getjotsu/jotsu-mcp/internal/core"
	"github.com/getjotsu/jotsu-mcp/internal/mcpclient"
	"github.com/getjotsu/jotsu-mcp/internal/workflow"

	"github.com/getjotsu/jotsu-mcp/pkg/logger"
)

// Owner is an opaque identity compared by pointer: whichever goroutine
// first calls GetSession "owns" the manager, and only that owner's Owner
// value may Close it (spec §4.3's "single-owner task discipline").
type Owner struct{ _ byte }

func NewOwner() *Owner {
	return &Owner{}
}

// OpenFunc opens a session for server, e.g. mcpclient.Client.Open bound
// to a token source.
type OpenFunc func(ctx context.Context, server *workflow.Server) (mcpclient.Session, error)

// Manager is a lazy, memoized pool of mcpclient.Session values scoped to
// one workflow run.
type Manager struct {
	mu       sync.Mutex
	workflow *workflow.Workflow
	open     OpenFunc
	owner    *Owner
	closed   bool
	sessions map[string]mcpclient.Session
	order    []string
	tools    map[string][]mcp.Tool
}

func New(wf *workflow.Workflow, open OpenFunc) *Manager {
	return &Manager{
		workflow: wf,
		open:     open,
		sessions: map[string]mcpclient.Session{},
		tools:    map[string][]mcp.Tool{},
	}
}

// GetSession resolves key against workflow.Servers by id, then against
// workflow.Nodes by id for a node-local server config. The first caller
// binds the manager to owner; later calls from a different owner fail.
func (m *Manager) GetSession(ctx context.Context, owner *Owner, key string) (mcpclient.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, core.WrapFatal(fmt.Errorf("session manager is closed"), "session_manager_closed")
	}
	if m.owner == nil {
		m.owner = owner
	} else if m.owner != owner {
		return nil, core.WrapFatal(fmt.Errorf("session manager is owned by a different task"), "session_manager_owner_mismatch")
	}

	if sess, ok := m.sessions[key]; ok {
		return sess, nil
	}

	server, err := m.resolveServer(key)
	if err != nil {
		return nil, err
	}

	sess, err := m.open(ctx, server)
	if err != nil {
		return nil, core.WrapFatal(err, "session_open_failed")
	}

	m.preload(ctx, key, sess)

	m.sessions[key] = sess
	m.order = append(m.order, key)
	return sess, nil
}

func (m *Manager) resolveServer(key string) (*workflow.Server, error) {
	for i := range m.workflow.Servers {
		if string(m.workflow.Servers[i].ID) == key {
			return &m.workflow.Servers[i], nil
		}
	}
	for i := range m.workflow.Nodes {
		if string(m.workflow.Nodes[i].ID) == key {
			if server, ok := m.workflow.Nodes[i].AsServer(); ok {
				return server, nil
			}
		}
	}
	return nil, core.WrapFatal(fmt.Errorf("no server or node found for %q", key), "session_not_found")
}

// preload issues list_tools/list_resources/list_prompts once per session,
// tolerating failures (spec §4.3: "any McpError is logged at debug and
// tolerated, leaves the corresponding catalog empty"). The tool catalogue
// is cached on the manager so HandleTool (spec §4.2.1: "list_tools is
// cached per session load") never re-fetches it per invocation.
func (m *Manager) preload(ctx context.Context, key string, sess mcpclient.Session) {
	log := logger.FromContext(ctx).With("server", key)
	if tools, err := sess.ListTools(ctx); err != nil {
		log.Debug("preload list_tools failed", "error", err.Error())
	} else {
		m.tools[key] = tools
	}
	if _, err := sess.ListResources(ctx); err != nil {
		log.Debug("preload list_resources failed", "error", err.Error())
	}
	if _, err := sess.ListPrompts(ctx); err != nil {
		log.Debug("preload list_prompts failed", "error", err.Error())
	}
}

// Tools returns the cached tool catalogue for key's session, populated at
// session-open/preload time. A cache miss (e.g. preload's list_tools call
// failed and was tolerated) falls back to one direct fetch, caching the
// result for subsequent calls in this run.
func (m *Manager) Tools(ctx context.Context, key string) ([]mcp.Tool, error) {
	m.mu.Lock()
	if tools, ok := m.tools[key]; ok {
		m.mu.Unlock()
		return tools, nil
	}
	sess, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return nil, core.WrapFatal(fmt.Errorf("no session for %q", key), "session_missing")
	}

	tools, err := sess.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.tools[key] = tools
	m.mu.Unlock()
	return tools, nil
}

// Close closes every open session in reverse creation order. It is
// idempotent: a second call is a no-op. Closing from a different owner
// than the one that first acquired a session is a FATAL error.
func (m *Manager) Close(owner *Owner) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	if m.owner != nil && owner != m.owner {
		return core.WrapFatal(fmt.Errorf("session manager closed by a different task than acquired it"), "session_manager_owner_mismatch")
	}
	m.closed = true

	var firstErr error
	for i := len(m.order) - 1; i >= 0; i-- {
		if err := m.sessions[m.order[i]].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
