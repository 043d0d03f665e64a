// Package merger combines per-section result lists into one ranked list.
package merger

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
)

// Merge concatenates lists, sorts by score descending (stable, so equal
// scores keep section order), keeps the first entry per ref and caps the
// result at limit. A limit of zero or less keeps everything.
func Merge(lists [][]proto.ResultEntry, limit int) []proto.ResultEntry {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	all := make([]proto.ResultEntry, 0, n)
	for _, l := range lists {
		all = append(all, l...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Score > all[j].Score
	})
	return Dedup(all, limit)
}

// Dedup drops repeated refs from an already ordered list, keeping the first.
func Dedup(entries []proto.ResultEntry, limit int) []proto.ResultEntry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]proto.ResultEntry, 0, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.Ref]; dup {
			continue
		}
		seen[e.Ref] = struct{}{}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
