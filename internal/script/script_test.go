package script

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalReturnsReplacementDoc(t *testing.T) {
	res, err := Eval(`return {foo: data.x + 1};`, map[string]any{"x": int64(1)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Doc["foo"])
}

func TestEvalReturnsPositionalList(t *testing.T) {
	res, err := Eval(`return [data, null];`, map[string]any{"x": "y"})
	require.NoError(t, err)
	require.Len(t, res.List, 2)
	assert.Nil(t, res.List[1])
}

func TestEvalNoReturnPropagatesMutatedData(t *testing.T) {
	data := map[string]any{"count": int64(1)}
	res, err := Eval(`data.count = data.count + 1;`, data)
	require.NoError(t, err)
	assert.True(t, res.Propagate)
	assert.Equal(t, int64(2), data["count"])
}

func TestEvalRejectsOversizedSource(t *testing.T) {
	_, err := Eval(strings.Repeat("a", maxSourceBytes+1), map[string]any{})
	assert.Error(t, err)
}

func TestEvalCannotReachHostFilesystem(t *testing.T) {
	_, err := Eval(`return require('fs');`, map[string]any{})
	assert.Error(t, err)
}
