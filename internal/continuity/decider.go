package continuity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"veilleur/internal/core"
	"veilleur/internal/logger"
	"veilleur/internal/persister"
	"veilleur/internal/vectorstore"
)

// Mode is the fate of one cluster.
type Mode string

const (
	ModeNew    Mode = "new"    // Fresh story, fresh synthesis
	ModeUpdate Mode = "update" // Reuse the target synthesis row
	ModeSkip   Mode = "skip"   // Pure duplicate, nothing new to say
)

// Decision carries the chosen mode, the update target when applicable, and
// the URLs the cluster adds over the target.
type Decision struct {
	Mode    Mode
	Target  *core.PastSynthesis
	Reason  string
	NewURLs []string
}

// Params holds the decision thresholds.
type Params struct {
	Window          time.Duration // Recency window for update candidates, default 24h
	JaccardOverlap  float64       // URL overlap treated as the same story, default 0.7
	CosineThreshold float64       // Embedding similarity treated as the same story, default 0.92
}

func (p Params) withDefaults() Params {
	if p.Window <= 0 {
		p.Window = 24 * time.Hour
	}
	if p.JaccardOverlap <= 0 || p.JaccardOverlap > 1 {
		p.JaccardOverlap = 0.7
	}
	if p.CosineThreshold <= 0 || p.CosineThreshold > 1 {
		p.CosineThreshold = 0.92
	}
	return p
}

// Decider classifies clusters against the published stories.
type Decider struct {
	store  vectorstore.Store
	params Params
}

// NewDecider creates a decider.
func NewDecider(store vectorstore.Store, params Params) *Decider {
	return &Decider{store: store, params: params.withDefaults()}
}

// Decide runs the three-step test. Candidates are the past syntheses the
// cluster engine attached plus the base syntheses created inside the window.
// The decision is deterministic for identical inputs: candidates are scanned
// in a stable order and the first classifying test wins.
func (d *Decider) Decide(ctx context.Context, cluster core.Cluster, now time.Time) (Decision, error) {
	clusterURLs := make(map[string]bool, len(cluster.Articles))
	for _, a := range cluster.Articles {
		clusterURLs[persister.NormalizeURL(a.URL)] = true
	}

	candidates, err := d.candidates(ctx, cluster, now)
	if err != nil {
		return Decision{}, err
	}

	// Step 1: URL overlap.
	for i := range candidates {
		cand := &candidates[i]
		overlap := jaccard(clusterURLs, urlSet(cand.SourceURLs))
		if overlap < d.params.JaccardOverlap {
			continue
		}
		fresh := newURLs(clusterURLs, cand.SourceURLs)
		if len(fresh) == 0 {
			return Decision{Mode: ModeSkip, Target: cand, Reason: fmt.Sprintf("url overlap %.2f, no new urls", overlap)}, nil
		}
		return Decision{Mode: ModeUpdate, Target: cand, Reason: fmt.Sprintf("url overlap %.2f", overlap), NewURLs: fresh}, nil
	}

	// Step 2: embedding similarity against the cluster centroid.
	centroid := meanVector(cluster)
	if centroid != nil {
		best := -1
		bestScore := 0.0
		for i := range candidates {
			if len(candidates[i].Embedding) == 0 {
				continue
			}
			score := vectorstore.CosineSimilarity(centroid, candidates[i].Embedding)
			if score > bestScore {
				bestScore = score
				best = i
			}
		}
		if best >= 0 && bestScore >= d.params.CosineThreshold {
			cand := &candidates[best]
			fresh := newURLs(clusterURLs, cand.SourceURLs)
			if len(fresh) == 0 {
				return Decision{Mode: ModeSkip, Target: cand, Reason: fmt.Sprintf("embedding similarity %.3f, no new urls", bestScore)}, nil
			}
			return Decision{Mode: ModeUpdate, Target: cand, Reason: fmt.Sprintf("embedding similarity %.3f", bestScore), NewURLs: fresh}, nil
		}
	}

	// The cluster engine attaching a past synthesis is itself continuity
	// evidence, even when the candidate is older than the URL window.
	if len(cluster.PastSyntheses) > 0 {
		cand := &cluster.PastSyntheses[0]
		fresh := newURLs(clusterURLs, cand.SourceURLs)
		if len(fresh) == 0 {
			return Decision{Mode: ModeSkip, Target: cand, Reason: "clustered with past synthesis, no new urls"}, nil
		}
		return Decision{Mode: ModeUpdate, Target: cand, Reason: "clustered with past synthesis", NewURLs: fresh}, nil
	}

	return Decision{Mode: ModeNew, Reason: "no matching story"}, nil
}

// candidates merges the cluster's attached syntheses with the recent base
// syntheses from the store, deduplicated by id, attached first.
func (d *Decider) candidates(ctx context.Context, cluster core.Cluster, now time.Time) ([]core.PastSynthesis, error) {
	out := make([]core.PastSynthesis, 0, len(cluster.PastSyntheses))
	seen := make(map[string]bool)
	for _, p := range cluster.PastSyntheses {
		out = append(out, p)
		seen[p.ID] = true
	}

	cutoff := float64(now.Add(-d.params.Window).Unix())
	filter := &vectorstore.Filter{Must: []vectorstore.Condition{
		{Key: persister.KeyIsPersonaVersion, Match: false},
		{Key: persister.KeyCreatedAtUnix, GTE: &cutoff},
	}}

	offset := ""
	for {
		points, next, err := d.store.Scroll(ctx, vectorstore.CollectionSyntheses, filter, 100, offset)
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			if seen[p.ID] {
				continue
			}
			past, err := persister.DecodePast(p)
			if err != nil {
				logger.Debug("Undecodable synthesis skipped by decider", "id", p.ID, "error", err)
				continue
			}
			seen[p.ID] = true
			out = append(out, past)
		}
		if next == "" {
			break
		}
		offset = next
	}
	return out, nil
}

func urlSet(urls []string) map[string]bool {
	set := make(map[string]bool, len(urls))
	for _, u := range urls {
		set[persister.NormalizeURL(u)] = true
	}
	return set
}

// jaccard computes intersection over union of two URL sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for u := range a {
		if b[u] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// newURLs returns the cluster URLs absent from the candidate, sorted by the
// cluster's map iteration made stable through collection order.
func newURLs(clusterURLs map[string]bool, candidateURLs []string) []string {
	known := urlSet(candidateURLs)
	var fresh []string
	for u := range clusterURLs {
		if !known[u] {
			fresh = append(fresh, u)
		}
	}
	sort.Strings(fresh)
	return fresh
}

// meanVector mean-pools the cluster's article embeddings.
func meanVector(cluster core.Cluster) []float64 {
	var sum []float64
	count := 0
	for _, a := range cluster.Articles {
		if len(a.Embedding) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(a.Embedding))
		}
		for i, v := range a.Embedding {
			sum[i] += v
		}
		count++
	}
	if count == 0 {
		return nil
	}
	for i := range sum {
		sum[i] /= float64(count)
	}
	return sum
}
