// Package sources defines the search adapter contract shared by the local
// ED2K index and the torrent indexer, plus the title matching rules both
// sides use.
package sources

import (
	"context"
	"sort"
	"strings"
)

// Adapter names used in monitor source lists and configuration.
const (
	NameEbdz     = "ebdz"
	NameProwlarr = "prowlarr"
)

// Result is one search hit from any adapter.
type Result struct {
	Title    string
	Link     string
	Filename string
	Size     int64
	Seeders  int
	Indexer  string
	Source   string
	Score    int
}

// Source is an acquisition search adapter. Priority orders results from
// different adapters; lower wins.
type Source interface {
	Name() string
	Priority() int
	Search(ctx context.Context, title string, volume int) ([]Result, error)
}

// NormalizeTitle lowercases, strips the punctuation that varies between
// release names, and collapses whitespace.
func NormalizeTitle(title string) string {
	lowered := strings.ToLower(title)
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch r {
		case ',', ';', ':', '\'', '"', '`', '.':
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Relevance scores a result title against a query: +100 for the whole query
// as a substring, then +75 for each query word present as a word prefix or
// +50 as a plain substring. Words of one or two characters are ignored.
// A zero score means the result does not match at all.
func Relevance(query, title string) int {
	q := NormalizeTitle(query)
	t := NormalizeTitle(title)
	if q == "" || t == "" {
		return 0
	}

	score := 0
	if strings.Contains(t, q) {
		score += 100
	}
	words := strings.Fields(t)
	for _, w := range strings.Fields(q) {
		if len(w) <= 2 {
			continue
		}
		prefix := false
		for _, tw := range words {
			if strings.HasPrefix(tw, w) {
				prefix = true
				break
			}
		}
		switch {
		case prefix:
			score += 75
		case strings.Contains(t, w):
			score += 50
		}
	}
	return score
}

// Merge deduplicates results by lowercased link, keeps the hit from the
// higher-priority source on collision, and orders the survivors by
// descending score, then source priority, then descending seeders.
func Merge(results []Result, priority map[string]int) []Result {
	byLink := make(map[string]Result, len(results))
	order := make([]string, 0, len(results))
	for _, result := range results {
		key := strings.ToLower(result.Link)
		existing, seen := byLink[key]
		if !seen {
			byLink[key] = result
			order = append(order, key)
			continue
		}
		if priority[result.Source] < priority[existing.Source] {
			byLink[key] = result
		}
	}

	merged := make([]Result, 0, len(byLink))
	for _, key := range order {
		merged = append(merged, byLink[key])
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if priority[merged[i].Source] != priority[merged[j].Source] {
			return priority[merged[i].Source] < priority[merged[j].Source]
		}
		return merged[i].Seeders > merged[j].Seeders
	})
	return merged
}
