// Package rules implements the typed boolean predicates used by switch
// and loop nodes to select edges (spec §4.7, §3 "Rule").
package rules

import (
	"fmt"
	"reflect"
	"regexp"
)

type Type string

const (
	Any          Type = "any"
	GreaterThan  Type = "gt"
	LessThan     Type = "lt"
	GreaterEqual Type = "gte"
	LessEqual    Type = "lte"
	Equal        Type = "eq"
	NotEqual     Type = "neq"
	Between      Type = "between"
	Contains     Type = "contains"
	RegexMatch   Type = "regex_match"
	RegexSearch  Type = "regex_search"
	Truthy       Type = "truthy"
	Falsy        Type = "falsy"
)

// Rule is a tagged union discriminated by Type, matching the JSON shape
// every concrete rule model in the original serializes to.
type Rule struct {
	Type   Type `json:"type"`
	Value  any  `json:"value,omitempty"`
	Value2 any  `json:"value2,omitempty"`
}

// Test evaluates the rule against v, matching the literal behavior
// exercised by tests/mcp/types/test_rules.py in the original.
func (r Rule) Test(v any) bool {
	switch r.Type {
	case Any:
		return true
	case Truthy:
		return isTruthy(v)
	case Falsy:
		return !isTruthy(v)
	case GreaterThan:
		return numericCompare(v, r.Value, func(a, b float64) bool { return a > b })
	case LessThan:
		return numericCompare(v, r.Value, func(a, b float64) bool { return a < b })
	case GreaterEqual:
		return numericCompare(v, r.Value, func(a, b float64) bool { return a >= b })
	case LessEqual:
		return numericCompare(v, r.Value, func(a, b float64) bool { return a <= b })
	case Equal:
		return equalValues(v, r.Value)
	case NotEqual:
		return !equalValues(v, r.Value)
	case Between:
		lo, ok1 := toFloat(r.Value)
		hi, ok2 := toFloat(r.Value2)
		val, ok3 := toFloat(v)
		if !ok1 || !ok2 || !ok3 {
			return false
		}
		return val >= lo && val <= hi
	case Contains:
		return contains(v, r.Value)
	case RegexMatch:
		return regexMatch(v, r.Value)
	case RegexSearch:
		return regexSearch(v, r.Value)
	default:
		return false
	}
}

func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.Len() > 0
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	case reflect.Bool:
		return rv.Bool()
	case reflect.Float64, reflect.Float32:
		return rv.Float() != 0
	case reflect.Int, reflect.Int64, reflect.Int32:
		return rv.Int() != 0
	default:
		return true
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
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

func numericCompare(a, b any, cmp func(float64, float64) bool) bool {
	af, ok1 := toFloat(a)
	bf, ok2 := toFloat(b)
	if !ok1 || !ok2 {
		return false
	}
	return cmp(af, bf)
}

func equalValues(a, b any) bool {
	if af, ok1 := toFloat(a); ok1 {
		if bf, ok2 := toFloat(b); ok2 {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

func contains(haystack, needle any) bool {
	if s, ok := haystack.(string); ok {
		n := fmt.Sprintf("%v", needle)
		return regexp.MustCompile(regexp.QuoteMeta(n)).MatchString(s)
	}
	rv := reflect.ValueOf(haystack)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if equalValues(rv.Index(i).Interface(), needle) {
			return true
		}
	}
	return false
}

func regexMatch(v, pattern any) bool {
	s, ok := v.(string)
	p, ok2 := pattern.(string)
	if !ok || !ok2 {
		return false
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return false
	}
	loc := re.FindStringIndex(s)
	return loc != nil && loc[0] == 0
}

func regexSearch(v, pattern any) bool {
	s, ok := v.(string)
	p, ok2 := pattern.(string)
	if !ok || !ok2 {
		return false
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
