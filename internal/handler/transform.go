package handler

import (
	"context"
	"fmt"
	"strconv"

	"github.com/getjotsu/jotsu-mcp/internal/pathutil"
	"github.com/getjotsu/jotsu-mcp/internal/workflow"
)

// HandleTransform implements the `transform` node type (spec §4.2.2):
// apply move/set/delete operations in order to a deep copy of data, with
// an optional datatype cast on the written value.
func HandleTransform(_ context.Context, data workflow.Data, hc *Context) (Result, error) {
	node := hc.Node

	doc := deepCopyData(data)
	for _, t := range node.Transforms {
		if err := applyTransform(doc, t, hc); err != nil {
			return Result{}, fmt.Errorf("transform %s: %w", node.ID, err)
		}
	}
	return Broadcast(doc), nil
}

func applyTransform(doc map[string]any, t workflow.TransformOp, hc *Context) error {
	switch t.Type {
	case "move":
		value, ok := pathutil.Get(doc, t.Source)
		if !ok {
			return nil
		}
		pathutil.Delete(doc, t.Source)
		pathutil.Set(doc, t.Target, castDatatype(value, t.Datatype))
	case "set":
		value, err := hc.Eval.Eval(t.Source, doc)
		if err != nil {
			return fmt.Errorf("evaluate %q: %w", t.Source, err)
		}
		pathutil.Set(doc, t.Target, castDatatype(value, t.Datatype))
	case "delete":
		pathutil.Delete(doc, t.Source)
	default:
		return fmt.Errorf("unknown transform type %q", t.Type)
	}
	return nil
}

// castDatatype coerces value to string/number/integer/boolean when
// datatype is set (spec §4.2.2), leaving it untouched otherwise or when
// the coercion is not meaningful.
func castDatatype(value any, datatype string) any {
	switch datatype {
	case "string":
		return fmt.Sprintf("%v", value)
	case "number":
		if f, ok := toFloat(value); ok {
			return f
		}
		return value
	case "integer":
		if f, ok := toFloat(value); ok {
			return int64(f)
		}
		return value
	case "boolean":
		if b, ok := value.(bool); ok {
			return b
		}
		if s, ok := value.(string); ok {
			b, err := strconv.ParseBool(s)
			if err == nil {
				return b
			}
		}
		return value
	default:
		return value
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func deepCopyData(data workflow.Data) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = deepCopyValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = deepCopyValue(vv)
		}
		return out
	default:
		return v
	}
}
