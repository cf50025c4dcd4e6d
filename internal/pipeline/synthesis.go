package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"veilleur/internal/contextbuild"
	"veilleur/internal/continuity"
	"veilleur/internal/core"
	"veilleur/internal/cost"
	"veilleur/internal/generator"
	"veilleur/internal/logger"
	"veilleur/internal/persister"
	"veilleur/internal/persona"
	"veilleur/internal/vectorstore"
)

// processCluster carries one cluster from the continuity decision to the
// stored synthesis. Failures are scoped to the cluster: the run keeps going.
func (p *Pipeline) processCluster(ctx context.Context, cluster core.Cluster, ledger *cost.Ledger, summary *core.RunSummary) {
	now := time.Now()
	events := p.deps.Events

	decision, err := p.deps.Decider.Decide(ctx, cluster, now)
	if err != nil {
		logger.Warn("Continuity decision failed, treating cluster as new", "cluster", cluster.ID, "error", err)
		decision = continuity.Decision{Mode: continuity.ModeNew}
	}
	if decision.Mode == continuity.ModeSkip {
		summary.ClustersSkipped++
		events.Log("info", "continuité", fmt.Sprintf("Cluster %s ignoré : %s", cluster.ID, decision.Reason))
		return
	}

	// Update mode needs the stored previous version; when it is gone the
	// cluster degrades to a fresh story.
	var prior core.Synthesis
	if decision.Mode == continuity.ModeUpdate && decision.Target != nil {
		prior = p.loadSynthesis(ctx, decision.Target.ID)
		if prior.ID == "" {
			decision.Mode = continuity.ModeNew
		}
	}

	rec, err := p.deps.Builder.Build(ctx, cluster, prior.Body, ledger.Exceeded(), now)
	if err != nil {
		logger.Warn("Context build failed, cluster skipped", "cluster", cluster.ID, "error", err)
		summary.ClustersSkipped++
		return
	}

	res := p.deps.Generator.Generate(ctx, rec)
	ledger.Add(cost.StageGeneration, res.CostUSD)

	base := p.assemble(cluster, rec, res, decision, prior, now)

	var variant *core.Synthesis
	if p.opts.PersonasEnabled && p.deps.Personas != nil && !res.Fallback {
		variant = p.personaVariant(ctx, rec, base, ledger)
	}

	// Markers go in first so consumption marking can resolve the URLs.
	if err := p.deps.Persister.StoreArticleMarkers(ctx, nil, cluster.Articles); err != nil {
		logger.Warn("Article markers not stored", "cluster", cluster.ID, "error", err)
	}
	if err := p.deps.Persister.Persist(ctx, base, variant); err != nil {
		events.Error("persistance", fmt.Sprintf("Synthèse « %s » non persistée : %v", base.Title, err))
		return
	}

	if base.UpdateCount > 0 {
		summary.SynthesesUpdated++
		events.Log("info", "génération", fmt.Sprintf("Synthèse « %s » mise à jour (révision %d)", base.Title, base.UpdateCount))
	} else {
		summary.SynthesesCreated++
		events.Log("info", "génération", fmt.Sprintf("Synthèse « %s » créée (%d mots)", base.Title, base.WordCount))
	}

	if p.deps.Hub != nil {
		if _, err := p.deps.Hub.Ingest(ctx, &base); err != nil {
			logger.Warn("Knowledge ingestion failed", "synthesis", base.ID, "error", err)
		}
	}
}

// loadSynthesis fetches and decodes one stored synthesis, zero value when
// missing or undecodable.
func (p *Pipeline) loadSynthesis(ctx context.Context, id string) core.Synthesis {
	points, err := p.deps.Store.Retrieve(ctx, vectorstore.CollectionSyntheses, []string{id}, true)
	if err != nil || len(points) == 0 {
		logger.Warn("Update target not retrievable", "id", id, "error", err)
		return core.Synthesis{}
	}
	s, err := persister.DecodeSynthesis(points[0])
	if err != nil {
		logger.Warn("Update target undecodable", "id", id, "error", err)
		return core.Synthesis{}
	}
	return s
}

// assemble builds the synthesis record from the generation result. Updates
// reuse the previous row: same id, same story, bumped revision counter and a
// dated update notice.
func (p *Pipeline) assemble(cluster core.Cluster, rec contextbuild.Record, res generator.Result, decision continuity.Decision, prior core.Synthesis, now time.Time) core.Synthesis {
	category, confidence := "general", 0.0
	if p.deps.Classifier != nil {
		category, confidence = p.deps.Classifier.Classify(cluster.Articles)
	}

	refs, numSources := sourceRefs(cluster.Articles)
	graph := res.CausalGraph

	s := core.Synthesis{
		Title:              res.Response.Title,
		Introduction:       res.Response.Introduction,
		Body:               res.Response.Body,
		Analysis:           res.Response.Analysis,
		KeyPoints:          res.Response.KeyPoints,
		Language:           p.opts.Language,
		Sources:            refs,
		NumSources:         numSources,
		ClusterID:          cluster.ID,
		Category:           category,
		CategoryConfidence: confidence,
		Sentiment:          parseSentiment(res.Response.Sentiment),
		Intensity:          parseIntensity(res.Response.TopicIntensity),
		NarrativeArc:       parseArc(res.Response.NarrativeArc, rec.History.Arc),
		Timeline:           parseTimeline(res.Response.Timeline),
		KeyEntities:        rec.Entities,
		CausalGraph:        &graph,
		Contradictions:     rec.Contradictions,
		HasContradictions:  len(rec.Contradictions) > 0,
		Persona:            core.PersonaIdentity{ID: persona.Neutral.ID, Name: persona.Neutral.Name},
		FirstSeen:          now,
		CreatedAt:          now,
		UpdatedAt:          now,
		WordCount:          res.WordCount,
		ReadingTime:        res.Response.ReadingTime,
		FactDensity:        meanDensity(rec.Chunks),
		Moderation:         core.ModerationSafe,
		IsPublished:        true,
		EnrichmentStatus:   enrichmentStatus(rec, res),
		GenerationCost:     res.CostUSD,
		Embedding:          meanVector(cluster.Articles),
	}

	if decision.Mode == continuity.ModeUpdate && prior.ID != "" {
		s.ID = prior.ID
		s.StoryID = prior.StoryID
		if s.StoryID == "" {
			s.StoryID = prior.ID
		}
		s.ParentID = prior.ParentID
		s.UpdateCount = prior.UpdateCount + 1
		s.FirstSeen = prior.FirstSeen
		if s.FirstSeen.IsZero() {
			s.FirstSeen = prior.CreatedAt
		}
		s.CreatedAt = prior.CreatedAt
		s.UpdateNotice = "Mise à jour le " + now.Format("02/01/2006 à 15h04")
		s.Sources = mergeRefs(prior.Sources, refs)
		s.NumSources = countRefSources(s.Sources)
	} else {
		s.ID = uuid.NewString()
		s.StoryID = s.ID
	}
	return s
}

// personaVariant generates the styled rewrite and gates it on conformity.
// Returns nil whenever the neutral version should stand alone: neutral
// selection, generation fallback, or a failed quality gate.
func (p *Pipeline) personaVariant(ctx context.Context, rec contextbuild.Record, base core.Synthesis, ledger *cost.Ledger) *core.Synthesis {
	choice := p.deps.Personas.Select(base.Category, base.Sentiment, base.Intensity, base.Title, base.KeyEntities)
	if choice.Persona.ID == persona.Neutral.ID {
		return nil
	}

	res := p.deps.Generator.GenerateVariant(ctx, choice.Persona.Prompt, rec)
	ledger.Add(cost.StagePersona, res.CostUSD)
	if res.Fallback {
		return nil
	}

	text := res.Response.Introduction + "\n" + res.Response.Body + "\n" + res.Response.Analysis
	scores := persona.Score(text, choice.Persona)
	if !persona.Accept(scores, p.opts.PersonaThreshold) {
		p.deps.Events.Log("info", "personas",
			fmt.Sprintf("Variante %s rejetée (conformité %.2f), version neutre conservée", choice.Persona.ID, scores.Total))
		return nil
	}

	v := base
	v.ID = uuid.NewString()
	v.BaseSynthesisID = base.ID
	v.IsPersonaVersion = true
	v.Persona = core.PersonaIdentity{ID: choice.Persona.ID, Name: choice.Persona.Name, Signature: choice.Persona.Signature}
	v.ComplianceScore = scores.Total
	v.Title = res.Response.Title
	v.Introduction = res.Response.Introduction
	v.Body = res.Response.Body
	v.Analysis = res.Response.Analysis
	v.KeyPoints = res.Response.KeyPoints
	v.WordCount = res.WordCount
	v.ReadingTime = res.Response.ReadingTime
	v.GenerationCost = res.CostUSD
	return &v
}

// prune enforces the retention cap: base syntheses beyond the cap are deleted
// lowest persistence score first, each with its persona variants.
func (p *Pipeline) prune(ctx context.Context, now time.Time) {
	max := p.opts.MaxSyntheses
	if max <= 0 {
		return
	}

	filter := &vectorstore.Filter{Must: []vectorstore.Condition{{Key: persister.KeyIsPersonaVersion, Match: false}}}
	var bases []core.Synthesis
	offset := ""
	for {
		points, next, err := p.deps.Store.Scroll(ctx, vectorstore.CollectionSyntheses, filter, 100, offset)
		if err != nil {
			logger.Warn("Retention scan failed", "error", err)
			return
		}
		for _, pt := range points {
			s, err := persister.DecodeSynthesis(pt)
			if err != nil {
				continue
			}
			bases = append(bases, s)
		}
		if next == "" {
			break
		}
		offset = next
	}
	if len(bases) <= max {
		return
	}

	sort.SliceStable(bases, func(i, j int) bool {
		si, sj := bases[i].PersistenceScore(now), bases[j].PersistenceScore(now)
		if si != sj {
			return si < sj
		}
		return bases[i].CreatedAt.Before(bases[j].CreatedAt)
	})

	var doomed []string
	for _, s := range bases[:len(bases)-max] {
		doomed = append(doomed, s.ID)
		vfilter := &vectorstore.Filter{Must: []vectorstore.Condition{{Key: "base_synthesis_id", Match: s.ID}}}
		variants, _, err := p.deps.Store.Scroll(ctx, vectorstore.CollectionSyntheses, vfilter, 10, "")
		if err != nil {
			continue
		}
		for _, v := range variants {
			doomed = append(doomed, v.ID)
		}
	}
	if err := p.deps.Store.Delete(ctx, vectorstore.CollectionSyntheses, doomed); err != nil {
		logger.Warn("Retention deletion failed", "error", err)
		return
	}
	p.deps.Events.Log("info", "rétention", fmt.Sprintf("%d synthèses élaguées (plafond %d)", len(doomed), max))
}

// sourceRefs projects the cluster's articles to source references, crediting
// the sources folded away by dedup through the covered-by list.
func sourceRefs(articles []core.Article) ([]core.SourceRef, int) {
	refs := make([]core.SourceRef, 0, len(articles))
	distinct := make(map[string]bool)
	for _, a := range articles {
		refs = append(refs, core.SourceRef{Name: a.SourceName, URL: a.URL, Title: a.Title})
		distinct[a.SourceName] = true
		for _, covered := range a.CoveredBySources {
			distinct[covered] = true
		}
	}
	return refs, len(distinct)
}

// mergeRefs unions two reference lists by URL, previous first.
func mergeRefs(previous, current []core.SourceRef) []core.SourceRef {
	seen := make(map[string]bool, len(previous))
	out := make([]core.SourceRef, 0, len(previous)+len(current))
	for _, r := range previous {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		out = append(out, r)
	}
	for _, r := range current {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		out = append(out, r)
	}
	return out
}

func countRefSources(refs []core.SourceRef) int {
	distinct := make(map[string]bool, len(refs))
	for _, r := range refs {
		distinct[r.Name] = true
	}
	return len(distinct)
}

// enrichmentStatus folds the enrichment block and the generation outcome into
// the stored status: a skeleton synthesis always reads disabled.
func enrichmentStatus(rec contextbuild.Record, res generator.Result) core.EnrichmentStatus {
	if res.Fallback || rec.Enrichment == nil {
		return core.EnrichmentDisabled
	}
	return rec.Enrichment.Status
}

// meanVector averages the articles' embeddings into the synthesis embedding.
func meanVector(articles []core.Article) []float64 {
	var sum []float64
	n := 0
	for _, a := range articles {
		if len(a.Embedding) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(a.Embedding))
		}
		for i, v := range a.Embedding {
			sum[i] += v
		}
		n++
	}
	if n == 0 {
		return nil
	}
	for i := range sum {
		sum[i] /= float64(n)
	}
	return sum
}

func meanDensity(chunks []contextbuild.Chunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	total := 0.0
	for _, c := range chunks {
		total += c.FactDensity
	}
	return total / float64(len(chunks))
}

func parseSentiment(raw string) core.Sentiment {
	switch core.Sentiment(raw) {
	case core.SentimentPositive, core.SentimentNegative, core.SentimentMixed:
		return core.Sentiment(raw)
	default:
		return core.SentimentNeutral
	}
}

func parseIntensity(raw string) core.TopicIntensity {
	switch core.TopicIntensity(raw) {
	case core.IntensityBreaking, core.IntensityHot, core.IntensityDeveloping:
		return core.TopicIntensity(raw)
	default:
		return core.IntensityStandard
	}
}

func parseArc(raw string, fallback core.NarrativeArc) core.NarrativeArc {
	switch core.NarrativeArc(raw) {
	case core.ArcEmerging, core.ArcDeveloping, core.ArcPeak, core.ArcDeclining, core.ArcResolved:
		return core.NarrativeArc(raw)
	}
	if fallback != "" {
		return fallback
	}
	return core.ArcEmerging
}

// parseTimeline keeps the entries whose date parses; the model sometimes
// writes prose where a date belongs.
func parseTimeline(entries []generator.TimelineEntry) []core.TimelineEvent {
	var out []core.TimelineEvent
	for _, e := range entries {
		if e.Event == "" {
			continue
		}
		var when time.Time
		var err error
		for _, layout := range []string{"2006-01-02", time.RFC3339, "02/01/2006"} {
			when, err = time.Parse(layout, e.Date)
			if err == nil {
				break
			}
		}
		if err != nil {
			continue
		}
		out = append(out, core.TimelineEvent{Date: when, Event: e.Event, URL: e.URL})
	}
	return out
}
