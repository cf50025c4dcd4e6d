// Package dedup removes duplicate articles inside one run. The first pass is
// a cheap MD5 fingerprint over normalized title and body; the second pass
// collapses near-duplicates by embedding similarity, keeping the earliest
// published copy as the representative and crediting the other sources.
package dedup

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"

	"veilleur/internal/core"
	"veilleur/internal/vectorstore"
)

// Fingerprint returns the cheap content hash of an article.
func Fingerprint(a core.Article) string {
	h := md5.Sum([]byte(strings.ToLower(a.Title) + "||" + strings.ToLower(a.Body)))
	return hex.EncodeToString(h[:])
}

// ByFingerprint drops articles whose fingerprint was already seen in the
// batch. Order is preserved; the first occurrence wins.
func ByFingerprint(articles []core.Article) []core.Article {
	seen := make(map[string]bool, len(articles))
	out := make([]core.Article, 0, len(articles))
	for _, a := range articles {
		fp := Fingerprint(a)
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, a)
	}
	return out
}

// BySimilarity collapses articles whose embeddings are closer than threshold
// into one representative. Articles without an embedding pass through
// untouched. The representative is the earliest-published member; it
// accumulates the duplicate count and the covering source names of the
// articles folded into it.
//
// The pass is idempotent: survivors are pairwise below the threshold, so a
// second invocation returns them unchanged.
func BySimilarity(articles []core.Article, threshold float64) []core.Article {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.92
	}

	n := len(articles)
	assigned := make([]int, n) // Group index per article
	for i := range assigned {
		assigned[i] = -1
	}

	groups := 0
	for i := 0; i < n; i++ {
		if assigned[i] >= 0 {
			continue
		}
		assigned[i] = groups
		if len(articles[i].Embedding) > 0 {
			for j := i + 1; j < n; j++ {
				if assigned[j] >= 0 || len(articles[j].Embedding) == 0 {
					continue
				}
				if vectorstore.CosineSimilarity(articles[i].Embedding, articles[j].Embedding) >= threshold {
					assigned[j] = groups
				}
			}
		}
		groups++
	}

	members := make([][]core.Article, groups)
	for i, a := range articles {
		members[assigned[i]] = append(members[assigned[i]], a)
	}

	out := make([]core.Article, 0, groups)
	for _, group := range members {
		out = append(out, collapse(group))
	}
	return out
}

// collapse merges a duplicate group into its earliest-published member.
func collapse(group []core.Article) core.Article {
	if len(group) == 1 {
		return group[0]
	}
	sort.SliceStable(group, func(i, j int) bool {
		return group[i].Published.Before(group[j].Published)
	})

	rep := group[0]
	if rep.DuplicateCount == 0 {
		rep.DuplicateCount = 1
	}
	covered := make(map[string]bool, len(rep.CoveredBySources))
	covered[rep.SourceName] = true
	for _, name := range rep.CoveredBySources {
		covered[name] = true
	}

	for _, dup := range group[1:] {
		count := dup.DuplicateCount
		if count == 0 {
			count = 1
		}
		rep.DuplicateCount += count
		if dup.SourceName != "" && !covered[dup.SourceName] {
			covered[dup.SourceName] = true
			rep.CoveredBySources = append(rep.CoveredBySources, dup.SourceName)
		}
		for _, name := range dup.CoveredBySources {
			if !covered[name] {
				covered[name] = true
				rep.CoveredBySources = append(rep.CoveredBySources, name)
			}
		}
	}
	sort.Strings(rep.CoveredBySources)
	return rep
}
