package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getjotsu/jotsu-mcp/internal/workflow"
)

type fakeStatusErr struct{ code int }

func (e fakeStatusErr) StatusCode() int { return e.code }
func (e fakeStatusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }

func TestIsUnauthorizedTypedStatus(t *testing.T) {
	assert.True(t, IsUnauthorized(fakeStatusErr{code: 401}))
	assert.False(t, IsUnauthorized(fakeStatusErr{code: 500}))
}

func TestIsUnauthorizedMessageFallback(t *testing.T) {
	assert.True(t, IsUnauthorized(errors.New("request failed: 401 Unauthorized")))
	assert.True(t, IsUnauthorized(errors.New("server returned Unauthorized")))
	assert.False(t, IsUnauthorized(errors.New("connection refused")))
	assert.False(t, IsUnauthorized(nil))
}

func TestOpenFailsWithoutReauthCallback(t *testing.T) {
	c := New()
	server, err := workflow.NewSlug("srv-1")
	require.NoError(t, err)
	_, err = c.Open(context.Background(), &workflow.Server{ID: server, URL: "http://127.0.0.1:0/mcp"}, "tok", nil)
	require.Error(t, err)
}

func TestOpenSkipsReauthOnNon401Failure(t *testing.T) {
	c := New()
	server, err := workflow.NewSlug("srv-1")
	require.NoError(t, err)

	calls := 0
	authenticate := func(_ context.Context) (string, error) {
		calls++
		return "new-token", nil
	}

	_, err = c.Open(context.Background(), &workflow.Server{ID: server, URL: "http://127.0.0.1:0/mcp"}, "tok", authenticate)
	require.Error(t, err)
	assert.Equal(t, 0, calls, "authenticate only runs when the failure looks like a 401")
}
