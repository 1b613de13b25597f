// Package selection cuts a profile document down to the parts that matter
// for a given question.
package selection

import (
	"github.com/kalambet/resumechat/internal/topics"
	"github.com/kalambet/resumechat/internal/tree"
)

// IdentityKeys are copied into every reduced context when the profile has them.
var IdentityKeys = []string{"name", "currentRole", "summary"}

// Select builds a reduced context from full. It starts with the identity keys
// and then, for each category in order, copies every section path that
// resolves to a truthy value. Values are deep-copied so the result never
// shares state with full.
//
// When two sections write the same location the later one wins.
func Select(categories []string, m *topics.Mapping, full *tree.Map) *tree.Map {
	out := tree.New()
	if full == nil {
		return out
	}

	for _, k := range IdentityKeys {
		if v, ok := full.Get(k); ok {
			out.Set(k, tree.Clone(v))
		}
	}

	for _, cat := range categories {
		for _, path := range m.Sections(cat) {
			v, ok := lookupTruthy(full, path)
			if !ok {
				continue
			}
			tree.Assign(out, path, tree.Clone(v))
		}
	}
	return out
}

// lookupTruthy resolves path and abandons it at the first missing or falsy
// segment, including the final one.
func lookupTruthy(root *tree.Map, path string) (any, bool) {
	var cur any = root
	for _, part := range tree.Split(path) {
		m, ok := cur.(*tree.Map)
		if !ok {
			return nil, false
		}
		next, ok := m.Get(part)
		if !ok || !tree.Truthy(next) {
			return nil, false
		}
		cur = next
	}
	return cur, cur != root
}
