package reconcile

import (
	"sort"

	"lexledger/internal/core"
)

// mergeScopes returns the sorted union of a and b.
func mergeScopes(a, b []core.Scope) []core.Scope {
	seen := make(map[core.Scope]struct{}, len(a)+len(b))
	out := make([]core.Scope, 0, len(a)+len(b))
	for _, list := range [][]core.Scope{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
