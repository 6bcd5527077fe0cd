package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetSetDeleteRoundTrip(t *testing.T) {
	doc := map[string]any{"a": float64(3)}

	Set(doc, "b.foo.bar", "6")
	v, ok := Get(doc, "b.foo.bar")
	assert.True(t, ok)
	assert.Equal(t, "6", v)

	Delete(doc, "b.foo.bar")
	_, ok = Get(doc, "b.foo.bar")
	assert.False(t, ok)
}

func TestDeleteMissingPathIsNoop(t *testing.T) {
	doc := map[string]any{"a": 1}
	assert.NotPanics(t, func() { Delete(doc, "x.y.z") })
	assert.Equal(t, map[string]any{"a": 1}, doc)
}

func TestMoveIsIdentityOnSingleKeyDoc(t *testing.T) {
	doc := map[string]any{"a": "v"}

	v, _ := Get(doc, "a")
	Delete(doc, "a")
	Set(doc, "b", v)
	assert.Equal(t, map[string]any{"b": "v"}, doc)

	v2, _ := Get(doc, "b")
	Delete(doc, "b")
	Set(doc, "a", v2)
	assert.Equal(t, map[string]any{"a": "v"}, doc)
}
