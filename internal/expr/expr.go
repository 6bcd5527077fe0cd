// Package expr implements the JSONata-like path/expression evaluator
// used by switch/loop expr fields, transform "set" sources and pick
// expressions (spec §4.7). It is CEL-backed (google/cel-go): CEL's
// native dotted member access on maps gives the "data.x.y" ergonomics
// the spec asks for, extended with $parse/$parse_utc/$to_tz/$now_utc as
// plain CEL functions — CEL identifiers cannot contain "$", so a
// "$name(" call is rewritten to the bare "name(" form before compiling;
// both $parse(...) and parse(...) spellings work.
package expr

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Evaluator compiles and caches CEL programs for repeated expr strings.
type Evaluator struct {
	env     *cel.Env
	mu      sync.Mutex
	cache   map[string]cel.Program
}

func New() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("data", cel.DynType),
		cel.Function("parse",
			cel.Overload("parse_string", []*cel.Type{cel.StringType}, cel.DynType,
				cel.UnaryBinding(celParse))),
		cel.Function("parse_utc",
			cel.Overload("parse_utc_string", []*cel.Type{cel.StringType}, cel.TimestampType,
				cel.UnaryBinding(celParseUTC))),
		cel.Function("to_tz",
			cel.Overload("to_tz_timestamp_string", []*cel.Type{cel.TimestampType, cel.StringType}, cel.StringType,
				cel.BinaryBinding(celToTZ))),
		cel.Function("now_utc",
			cel.Overload("now_utc_void", []*cel.Type{}, cel.TimestampType,
				cel.FunctionBinding(func(_ ...ref.Val) ref.Val {
					return types.Timestamp{Time: time.Now().UTC()}
				}))),
		cel.Function("string",
			cel.Overload("string_dyn", []*cel.Type{cel.DynType}, cel.StringType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					return types.String(fmt.Sprintf("%v", v.Value()))
				}))),
	)
	if err != nil {
		return nil, fmt.Errorf("expr: build environment: %w", err)
	}
	return &Evaluator{env: env, cache: map[string]cel.Program{}}, nil
}

func celParse(v ref.Val) ref.Val {
	s, ok := v.Value().(string)
	if !ok {
		return types.NewErr("parse: argument is not a string")
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return types.NewErr("parse: %v", err)
	}
	return types.DefaultTypeAdapter.NativeToValue(out)
}

func celParseUTC(v ref.Val) ref.Val {
	s, ok := v.Value().(string)
	if !ok {
		return types.NewErr("parse_utc: argument is not a string")
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04:05.999999", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return types.Timestamp{Time: t.UTC()}
		}
	}
	return types.NewErr("parse_utc: cannot parse %q as a naive ISO datetime", s)
}

func celToTZ(a, b ref.Val) ref.Val {
	ts, ok := a.(types.Timestamp)
	if !ok {
		return types.NewErr("datetime must be timezone-aware")
	}
	zoneName, ok := b.Value().(string)
	if !ok {
		return types.NewErr("to_tz: zone must be a string")
	}
	loc, err := time.LoadLocation(zoneName)
	if err != nil {
		return types.NewErr("to_tz: unknown zone %q: %v", zoneName, err)
	}
	return types.String(ts.Time.In(loc).Format(time.RFC3339))
}

// Eval compiles (with caching) and runs expression against data, returning
// a plain Go value (string/float64/bool/map/slice/nil).
func (e *Evaluator) Eval(expression string, data map[string]any) (any, error) {
	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.Eval(map[string]any{"data": data})
	if err != nil {
		return nil, fmt.Errorf("expr: evaluate %q: %w", expression, err)
	}
	return out.Value(), nil
}

var dollarFunctionCall = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)\(`)

// stripDollarFunctionSigil rewrites JSONata-flavored "$func(...)" calls
// (e.g. the spec's literal "$string(a*2)") to the bare "func(...)" form
// CEL identifiers require.
func stripDollarFunctionSigil(expression string) string {
	return dollarFunctionCall.ReplaceAllString(expression, "$1(")
}

func (e *Evaluator) program(expression string) (cel.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}
	ast, iss := e.env.Compile(stripDollarFunctionSigil(expression))
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("expr: compile %q: %w", expression, iss.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("expr: program %q: %w", expression, err)
	}
	e.cache[expression] = prg
	return prg, nil
}
