// Package script runs function/script node bodies in a bounded,
// side-effect-limited sandbox (spec §4.2.2, §9). Both node types share
// one goja (ECMAScript) VM: this is a from-scratch Go rebuild, so the
// spec's "restricted Python AST" (function) and "JS-flavored" (script)
// dialects collapse into a single JS sandbox rather than two incompatible
// interpreters (documented in SPEC_FULL.md/DESIGN.md).
package script

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
)

const (
	maxSourceBytes = 64 * 1024
	evalTimeout    = 2 * time.Second
)

// Result is either a replacement data document (broadcast) or a
// positional list paired against a node's edges, matching the handler
// contract in spec §4.2.2.
type Result struct {
	Doc  map[string]any
	List []any
	// Propagate is true when the body returned nothing (undefined or
	// null); the caller should propagate the input data.
	Propagate bool
}

// Eval runs source in a fresh VM with data bound as a global, mirroring
// "data is bound to the current doc" (spec §4.2.2/§4.7). Mutations made
// to data land in the caller's data map itself; the returned Result does
// not carry them.
func Eval(source string, data map[string]any) (Result, error) {
	if len(source) > maxSourceBytes {
		return Result{}, fmt.Errorf("script: source exceeds %d byte budget", maxSourceBytes)
	}

	vm := goja.New()
	if err := vm.Set("data", data); err != nil {
		return Result{}, fmt.Errorf("script: bind data: %w", err)
	}

	timer := time.AfterFunc(evalTimeout, func() {
		vm.Interrupt("script: evaluation timed out")
	})
	defer timer.Stop()

	wrapped := "(function(){\n" + source + "\n})()"
	value, err := vm.RunString(wrapped)
	if err != nil {
		return Result{}, fmt.Errorf("script: %w", err)
	}

	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return Result{Propagate: true}, nil
	}

	exported := value.Export()
	switch v := exported.(type) {
	case map[string]any:
		return Result{Doc: v}, nil
	case []any:
		return Result{List: v}, nil
	default:
		return Result{}, fmt.Errorf("script: return value must be an object or array, got %T", exported)
	}
}
