// Package pathutil implements dotted-path access over a JSON-shaped
// map[string]any document, used by the transform node (spec §4.2.2) to
// move/set/delete values without a second expression dialect.
package pathutil

import "strings"

// Get resolves a dotted path like "a.b.c" against doc, returning the
// value and whether every segment was found.
func Get(doc map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var cur any = doc
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at the dotted path, creating intermediate maps as
// needed.
func Set(doc map[string]any, path string, value any) {
	segments := strings.Split(path, ".")
	cur := doc
	for i, seg := range segments {
		if i == len(segments)-1 {
			cur[seg] = value
			return
		}
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
}

// Delete removes the dotted path from doc. Missing paths are a no-op
// (spec §4.2.2).
func Delete(doc map[string]any, path string) {
	segments := strings.Split(path, ".")
	cur := doc
	for i, seg := range segments {
		if i == len(segments)-1 {
			delete(cur, seg)
			return
		}
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
}
