package metrics

import (
	"cmp"
	"slices"
)

// StatusBucket is one protocol/code row of Stats.StatusBuckets.
type StatusBucket struct {
	Protocol string
	Code     string
	Count    int
}

// FlattenStatusBuckets returns the buckets as rows, most frequent first.
// Ties are ordered by protocol, then code.
func FlattenStatusBuckets(buckets map[string]map[string]int) []StatusBucket {
	var rows []StatusBucket
	for protocol, codes := range buckets {
		for code, count := range codes {
			rows = append(rows, StatusBucket{Protocol: protocol, Code: code, Count: count})
		}
	}
	slices.SortFunc(rows, func(a, b StatusBucket) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Protocol, b.Protocol); c != 0 {
			return c
		}
		return cmp.Compare(a.Code, b.Code)
	})
	return rows
}
