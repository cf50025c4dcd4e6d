// Package clustering groups the run's articles into story clusters. The
// space is hybrid: new-article vectors and past-synthesis vectors cluster
// together, so an article landing next to a stored synthesis marks its
// cluster as the continuation of that story. Density clustering (HDBSCAN
// over cosine distance) is the primary engine; a greedy similarity grouping
// stands in for degenerate inputs.
package clustering

import (
	"github.com/google/uuid"

	"veilleur/internal/core"
	"veilleur/internal/logger"
	"veilleur/internal/vectorstore"
)

// Params tunes the engine.
type Params struct {
	MinClusterSize    int     // Default 2
	MinSamples        int     // Default 1
	SelectionEpsilon  float64 // Default 0.15
	FallbackThreshold float64 // Greedy grouping similarity floor, default 0.70
}

func (p Params) withDefaults() Params {
	if p.MinClusterSize < 2 {
		p.MinClusterSize = 2
	}
	if p.MinSamples < 1 {
		p.MinSamples = 1
	}
	if p.SelectionEpsilon <= 0 {
		p.SelectionEpsilon = 0.15
	}
	if p.FallbackThreshold <= 0 || p.FallbackThreshold > 1 {
		p.FallbackThreshold = 0.70
	}
	return p
}

// Engine clusters one run's worth of vectors.
type Engine struct {
	params Params
}

// NewEngine creates an engine with the given parameters.
func NewEngine(params Params) *Engine {
	return &Engine{params: params.withDefaults()}
}

// Cluster groups articles and past syntheses. Noise points are dropped, as
// are clusters containing no new article: pure history carries no news.
// Clusters holding at least one past synthesis are tagged as updates.
func (e *Engine) Cluster(articles []core.Article, past []core.PastSynthesis) []core.Cluster {
	vectors, articleIdx, pastIdx := buildMatrix(articles, past)
	if len(vectors) < e.params.MinClusterSize {
		return nil
	}

	labels := HDBSCAN(vectors, HDBSCANParams{
		MinClusterSize:   e.params.MinClusterSize,
		MinSamples:       e.params.MinSamples,
		SelectionEpsilon: e.params.SelectionEpsilon,
	})
	return e.assemble(labels, articles, past, articleIdx, pastIdx)
}

// ClusterGreedy is the fallback engine: transitive grouping of items whose
// pairwise similarity clears the threshold.
func (e *Engine) ClusterGreedy(articles []core.Article, past []core.PastSynthesis) []core.Cluster {
	vectors, articleIdx, pastIdx := buildMatrix(articles, past)
	if len(vectors) < e.params.MinClusterSize {
		return nil
	}
	labels := Greedy(vectors, e.params.FallbackThreshold, e.params.MinClusterSize)
	return e.assemble(labels, articles, past, articleIdx, pastIdx)
}

// buildMatrix concatenates article and past-synthesis vectors, remembering
// which row maps back to which record. Records without an embedding are left
// out.
func buildMatrix(articles []core.Article, past []core.PastSynthesis) (vectors [][]float64, articleIdx, pastIdx []int) {
	for i, a := range articles {
		if len(a.Embedding) == 0 {
			logger.Debug("Article without embedding skipped by clustering", "url", a.URL)
			continue
		}
		vectors = append(vectors, a.Embedding)
		articleIdx = append(articleIdx, i)
	}
	for i, p := range past {
		if len(p.Embedding) == 0 {
			continue
		}
		vectors = append(vectors, p.Embedding)
		pastIdx = append(pastIdx, i)
	}
	return vectors, articleIdx, pastIdx
}

// assemble splits each label's members back into articles and past syntheses
// and applies the cluster-level rules.
func (e *Engine) assemble(labels []int, articles []core.Article, past []core.PastSynthesis, articleIdx, pastIdx []int) []core.Cluster {
	byLabel := make(map[int]*core.Cluster)
	order := make([]int, 0)

	for row, label := range labels {
		if label < 0 {
			continue
		}
		c, ok := byLabel[label]
		if !ok {
			c = &core.Cluster{ID: uuid.NewString(), Type: core.ClusterNew}
			byLabel[label] = c
			order = append(order, label)
		}
		if row < len(articleIdx) {
			c.Articles = append(c.Articles, articles[articleIdx[row]])
		} else {
			c.PastSyntheses = append(c.PastSyntheses, past[pastIdx[row-len(articleIdx)]])
		}
	}

	out := make([]core.Cluster, 0, len(order))
	for _, label := range order {
		c := byLabel[label]
		if len(c.Articles) == 0 {
			continue
		}
		if len(c.PastSyntheses) > 0 {
			c.Type = core.ClusterUpdate
		}
		out = append(out, *c)
	}
	return out
}

// Greedy assigns labels by transitive closure over the similarity threshold:
// an unassigned item starts a cluster when at least two other items are close
// enough (and the group clears minClusterSize), otherwise it stays noise. An
// isolated similar pair stays noise; only the density engine clusters pairs.
func Greedy(vectors [][]float64, threshold float64, minClusterSize int) []int {
	n := len(vectors)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	next := 0
	for i := 0; i < n; i++ {
		if labels[i] >= 0 {
			continue
		}
		var members []int
		for j := 0; j < n; j++ {
			if j != i && labels[j] < 0 && vectorstore.CosineSimilarity(vectors[i], vectors[j]) >= threshold {
				members = append(members, j)
			}
		}
		if len(members) < 2 || len(members)+1 < minClusterSize {
			continue
		}
		labels[i] = next
		for _, j := range members {
			labels[j] = next
		}
		next++
	}
	return labels
}
