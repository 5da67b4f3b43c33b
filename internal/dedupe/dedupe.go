// Package dedupe reduces ordered record sequences to the first record per key.
package dedupe

import "github.com/nadmax/harvq/internal/record"

// First keeps the first item for every distinct key, preserving order.
// The input slice is not modified.
func First[T any, K comparable](items []T, key func(T) K) []T {
	seen := make(map[K]struct{}, len(items))
	out := make([]T, 0, len(items))

	for _, item := range items {
		k := key(item)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, item)
	}

	return out
}

func ByIdentity(comments []record.Comment) []record.Comment {
	return First(comments, func(c record.Comment) int64 { return c.IdentityID })
}
