// Package continuity links the current run to already-published stories. The
// selector picks which past syntheses join the clustering space; the decider
// chooses, per cluster, between a fresh synthesis, an update of an existing
// one, or a skip when the cluster adds nothing.
package continuity

import (
	"context"
	"sort"
	"time"

	"veilleur/internal/core"
	"veilleur/internal/logger"
	"veilleur/internal/persister"
	"veilleur/internal/vectorstore"
)

// Selector limits defaults.
const (
	DefaultMaxCandidates = 150
	recentWindow         = 3 * 24 * time.Hour
	minOlderScore        = 3
)

// Selector loads the past syntheses worth re-clustering with.
type Selector struct {
	store vectorstore.Store
	max   int
}

// NewSelector creates a selector capped at max candidates (0 = default).
func NewSelector(store vectorstore.Store, max int) *Selector {
	if max <= 0 {
		max = DefaultMaxCandidates
	}
	return &Selector{store: store, max: max}
}

// Select returns the base syntheses joining the hybrid clustering space:
// everything created inside the last three days unconditionally, older ones
// only when their persistence score says the story is still alive. Sorted by
// score descending, capped.
func (s *Selector) Select(ctx context.Context, now time.Time) ([]core.PastSynthesis, error) {
	filter := &vectorstore.Filter{Must: []vectorstore.Condition{
		{Key: persister.KeyIsPersonaVersion, Match: false},
	}}

	type scored struct {
		past  core.PastSynthesis
		score int
	}
	var candidates []scored

	offset := ""
	for {
		points, next, err := s.store.Scroll(ctx, vectorstore.CollectionSyntheses, filter, 100, offset)
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			syn, err := persister.DecodeSynthesis(p)
			if err != nil {
				logger.Debug("Undecodable synthesis skipped by selector", "id", p.ID, "error", err)
				continue
			}
			score := syn.PersistenceScore(now)
			recent := now.Sub(syn.CreatedAt) <= recentWindow
			if !recent && score < minOlderScore {
				continue
			}
			candidates = append(candidates, scored{past: syn.Ref(), score: score})
		}
		if next == "" {
			break
		}
		offset = next
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > s.max {
		candidates = candidates[:s.max]
	}

	out := make([]core.PastSynthesis, len(candidates))
	for i, c := range candidates {
		out[i] = c.past
	}
	return out, nil
}
