package contextbuild

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"veilleur/internal/core"
)

// DefaultTopChunks bounds how many fact-dense chunks reach the generator.
const DefaultTopChunks = 20

// Record is everything the generator needs to write one synthesis.
type Record struct {
	Topic          string
	Chunks         []Chunk
	Contradictions []core.Contradiction
	Entities       []core.Entity
	History        History
	Enrichment     *Enrichment
	PriorText      string // Previous version's body when updating a story
	UpdateMode     bool
	SourceCount    int
	ArticleCount   int
}

// Options tunes the builder. Zero values fall back to the generation
// defaults.
type Options struct {
	ChunkWords         int
	ChunkOverlap       int
	TopChunks          int
	ContradictionFloor float64
}

func (o Options) withDefaults() Options {
	if o.ChunkWords <= 0 {
		o.ChunkWords = 256
	}
	if o.ChunkOverlap <= 0 {
		o.ChunkOverlap = 50
	}
	if o.TopChunks <= 0 {
		o.TopChunks = DefaultTopChunks
	}
	if o.ContradictionFloor <= 0 {
		o.ContradictionFloor = 0.75
	}
	return o
}

// Builder assembles generation records from clusters.
type Builder struct {
	enricher *Enricher
	opts     Options
}

// NewBuilder creates a builder. The enricher may be nil when enrichment is
// switched off entirely.
func NewBuilder(enricher *Enricher, opts Options) *Builder {
	return &Builder{enricher: enricher, opts: opts.withDefaults()}
}

// Build prepares the record for one cluster. priorText carries the stored
// body of the synthesis being updated, empty on a new story. budgetExceeded
// feeds the enrichment gate.
func (b *Builder) Build(ctx context.Context, cluster core.Cluster, priorText string, budgetExceeded bool, now time.Time) (Record, error) {
	if len(cluster.Articles) == 0 {
		return Record{}, fmt.Errorf("cluster %s has no articles", cluster.ID)
	}

	rec := Record{
		Topic:        clusterTopic(cluster),
		UpdateMode:   cluster.Type == core.ClusterUpdate && priorText != "",
		PriorText:    priorText,
		ArticleCount: len(cluster.Articles),
		SourceCount:  countSources(cluster.Articles),
	}

	chunks := ChunkCluster(cluster.Articles, b.opts.ChunkWords, b.opts.ChunkOverlap)
	rec.Chunks = TopChunks(chunks, b.opts.TopChunks)
	rec.Contradictions = DetectContradictions(cluster.Articles, b.opts.ContradictionFloor)
	rec.Entities = ExtractEntities(cluster.Articles)
	rec.History = AssembleHistory(cluster.PastSyntheses, len(cluster.Articles), now)

	if b.enricher != nil {
		gate := GateEnrichment(cluster, budgetExceeded)
		rec.Enrichment = b.enricher.Enrich(ctx, rec.Topic, gate)
	}
	return rec, nil
}

// Prompt renders the record into the context block of the generation prompt.
func (r Record) Prompt() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "SUJET : %s\n", r.Topic)
	fmt.Fprintf(&sb, "%d articles de %d sources distinctes.\n\n", r.ArticleCount, r.SourceCount)

	sb.WriteString("EXTRAITS DES ARTICLES\n")
	for _, c := range r.Chunks {
		fmt.Fprintf(&sb, "[%s] %s\n", c.SourceName, c.Text)
	}

	if len(r.Entities) > 0 {
		sb.WriteString("\nENTITÉS IDENTIFIÉES\n")
		for _, e := range r.Entities {
			fmt.Fprintf(&sb, "- %s (%s)\n", e.Name, e.Kind)
		}
	}

	if len(r.Contradictions) > 0 {
		sb.WriteString("\nCONTRADICTIONS ENTRE SOURCES — à signaler explicitement dans l'article\n")
		for _, c := range r.Contradictions {
			fmt.Fprintf(&sb, "- [%s] %s vs %s : %s\n", c.Kind, c.URLTheir, c.URLOther, c.Detail)
		}
	}

	if r.History.Text != "" {
		sb.WriteString("\n" + r.History.Text)
	}

	if r.Enrichment != nil {
		if r.Enrichment.Research != nil && r.Enrichment.Research.Content != "" {
			sb.WriteString("\nRECHERCHE WEB COMPLÉMENTAIRE\n")
			sb.WriteString(r.Enrichment.Research.Content + "\n")
		}
		if r.Enrichment.Social != nil && r.Enrichment.Social.Summary != "" {
			sb.WriteString("\nRÉACTIONS PUBLIQUES\n")
			fmt.Fprintf(&sb, "%s (sentiment : %s)\n", r.Enrichment.Social.Summary, r.Enrichment.Social.Sentiment)
		}
	}

	if r.UpdateMode {
		sb.WriteString("\nVERSION PRÉCÉDENTE DE L'ARTICLE — mettre à jour, ne pas répéter\n")
		sb.WriteString(r.PriorText + "\n")
	}

	return sb.String()
}

// clusterTopic derives a working topic label: the title of the most recent
// tier-1 article, falling back to the most recent overall.
func clusterTopic(cluster core.Cluster) string {
	sorted := append([]core.Article(nil), cluster.Articles...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Published.After(sorted[j].Published) })
	for _, a := range sorted {
		if a.Tier == core.TierMajor && a.Title != "" {
			return a.Title
		}
	}
	for _, a := range sorted {
		if a.Title != "" {
			return a.Title
		}
	}
	return cluster.ID
}

func countSources(articles []core.Article) int {
	set := make(map[string]bool, len(articles))
	for _, a := range articles {
		set[a.SourceName] = true
	}
	return len(set)
}
