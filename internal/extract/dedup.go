package extract

import "github.com/JakeFAU/catalog-crawler/internal/crawler"

type itemKey struct {
	name     string
	category crawler.Category
	url      string
}

// collapseShared merges items offered by every mention but one. Items sharing
// name, category and link form a group; a group of exactly mentionCount-1
// members is reduced to its first member with the mention cleared. Groups of
// any other size are kept as they are. Only mention-tagged items are grouped;
// an untagged copy already belongs to the whole program and is never merged.
// With fewer than three mentions the literal threshold would collapse
// single-mention items, so nothing is collapsed there.
func collapseShared(items []crawler.ItemRecord, mentionCount int) []crawler.ItemRecord {
	target := mentionCount - 1
	if target < 2 || len(items) == 0 {
		return items
	}

	groups := make(map[itemKey][]int)
	for i, item := range items {
		if item.MentionTag == "" {
			continue
		}
		key := itemKey{name: item.Name, category: item.Category, url: item.SourceURL}
		groups[key] = append(groups[key], i)
	}

	drop := make(map[int]bool)
	cleared := make(map[int]bool)
	for _, members := range groups {
		if len(members) != target {
			continue
		}
		cleared[members[0]] = true
		for _, j := range members[1:] {
			drop[j] = true
		}
	}
	if len(drop) == 0 {
		return items
	}

	out := make([]crawler.ItemRecord, 0, len(items)-len(drop))
	for i, item := range items {
		if drop[i] {
			continue
		}
		if cleared[i] {
			item.MentionTag = ""
		}
		out = append(out, item)
	}
	return out
}
