// Package knowledge maintains the entity and topic collections: every
// synthesis' entity mentions resolve to canonical records whose mention
// counts and co-occurrences accumulate across runs, and the synthesis itself
// is attached to a topic when one sits close enough in embedding space.
package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"

	"veilleur/internal/core"
	"veilleur/internal/llm"
	"veilleur/internal/logger"
	"veilleur/internal/vectorstore"
)

// Resolution thresholds of the canonical-id chain.
const (
	NameSimilarityFloor  = 0.85 // Levenshtein ratio on same-kind candidates
	EmbeddingMatchFloor  = 0.90 // Cosine on the name embedding
	TopicAssignmentFloor = 0.70 // Cosine of synthesis to topic centroid
)

// entityNamespace derives deterministic ids for freshly created entities so
// re-runs over the same mention converge on one record.
var entityNamespace = uuid.MustParse("9f2d4a61-7c3e-4b28-9a55-0d8e1f6c2b84")

// Hub resolves mentions and assigns topics.
type Hub struct {
	store   vectorstore.Store
	client  llm.Client
	aliases map[string]string // lowercased alias → canonical lowercased name

	cache map[string]string // lowercased "kind\x00name" → entity id
}

// NewHub wires the hub. aliases may be nil.
func NewHub(store vectorstore.Store, client llm.Client, aliases map[string]string) *Hub {
	normalized := make(map[string]string, len(aliases))
	for alias, canonical := range aliases {
		normalized[strings.ToLower(alias)] = strings.ToLower(canonical)
	}
	return &Hub{
		store:   store,
		client:  client,
		aliases: normalized,
		cache:   make(map[string]string),
	}
}

// DefaultAliases covers the most common French shorthands.
func DefaultAliases() map[string]string {
	return map[string]string{
		"ue":          "union européenne",
		"bce":         "banque centrale européenne",
		"an":          "assemblée nationale",
		"pr":          "président de la république",
		"etats-unis":  "états-unis",
		"usa":         "états-unis",
		"royaume uni": "royaume-uni",
	}
}

// Ingest resolves the synthesis' entities, bumps their counters and tries to
// attach the synthesis to a topic. Returns the topic id, empty when
// unassigned.
func (h *Hub) Ingest(ctx context.Context, syn *core.Synthesis) (string, error) {
	if syn == nil {
		return "", fmt.Errorf("nil synthesis")
	}

	ids := make([]string, 0, len(syn.KeyEntities))
	for _, entity := range syn.KeyEntities {
		if entity.Kind == "date" {
			// Dates are context, not knowledge-graph nodes.
			continue
		}
		id, err := h.resolve(ctx, entity)
		if err != nil {
			logger.Debug("Entity resolution failed", "entity", entity.Name, "error", err)
			continue
		}
		ids = append(ids, id)
	}
	if err := h.recordMentions(ctx, ids, syn.ID); err != nil {
		logger.Warn("Mention accounting failed", "synthesis", syn.ID, "error", err)
	}

	topicID, err := h.assignTopic(ctx, syn)
	if err != nil {
		logger.Debug("Topic assignment failed", "synthesis", syn.ID, "error", err)
		return "", nil
	}
	return topicID, nil
}

// resolve walks the chain: cached exact match, alias table, Levenshtein on
// same-kind candidates, embedding cosine, then creation.
func (h *Hub) resolve(ctx context.Context, entity core.Entity) (string, error) {
	name := canonicalName(h.aliases, entity.Name)
	key := entity.Kind + "\x00" + name

	if id, ok := h.cache[key]; ok {
		return id, nil
	}

	candidates, err := h.sameKindCandidates(ctx, entity.Kind)
	if err != nil {
		return "", err
	}
	for _, c := range candidates {
		stored, _ := c.Payload["name"].(string)
		if strings.ToLower(stored) == name {
			h.cache[key] = c.ID
			return c.ID, nil
		}
	}
	for _, c := range candidates {
		stored, _ := c.Payload["name"].(string)
		if nameSimilarity(name, strings.ToLower(stored)) >= NameSimilarityFloor {
			h.cache[key] = c.ID
			return c.ID, nil
		}
	}

	vector, err := h.embedName(ctx, name)
	if err != nil {
		return "", err
	}
	matches, err := h.store.Query(ctx, vectorstore.CollectionEntities, vectorstore.QueryParams{
		Vector:         vector,
		Limit:          1,
		ScoreThreshold: EmbeddingMatchFloor,
		Filter:         &vectorstore.Filter{Must: []vectorstore.Condition{{Key: "kind", Match: entity.Kind}}},
	})
	if err != nil {
		return "", err
	}
	if len(matches) > 0 {
		h.cache[key] = matches[0].ID
		return matches[0].ID, nil
	}

	id := uuid.NewSHA1(entityNamespace, []byte(key)).String()
	err = h.store.Upsert(ctx, vectorstore.CollectionEntities, []vectorstore.Point{{
		ID:     id,
		Vector: vector,
		Payload: map[string]any{
			"name":          name,
			"display_name":  entity.Name,
			"kind":          entity.Kind,
			"mentions":      float64(0),
			"cooccurrences": []any{},
		},
	}})
	if err != nil {
		return "", err
	}
	h.cache[key] = id
	return id, nil
}

// recordMentions bumps each entity's mention count and merges the run's
// co-occurring entity ids into its list.
func (h *Hub) recordMentions(ctx context.Context, ids []string, synthesisID string) error {
	if len(ids) == 0 {
		return nil
	}
	points, err := h.store.Retrieve(ctx, vectorstore.CollectionEntities, ids, false)
	if err != nil {
		return err
	}
	byID := make(map[string]vectorstore.Point, len(points))
	for _, p := range points {
		byID[p.ID] = p
	}

	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			continue
		}
		mentions, _ := p.Payload["mentions"].(float64)
		cooc := mergeCooccurrences(p.Payload["cooccurrences"], ids, id)
		err := h.store.SetPayload(ctx, vectorstore.CollectionEntities, []string{id}, map[string]any{
			"mentions":          mentions + 1,
			"cooccurrences":     cooc,
			"last_synthesis_id": synthesisID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// assignTopic attaches the synthesis to the nearest topic centroid when it
// clears the floor; otherwise the synthesis stays unassigned for the next
// periodic topic-detection run.
func (h *Hub) assignTopic(ctx context.Context, syn *core.Synthesis) (string, error) {
	if len(syn.Embedding) == 0 {
		return "", nil
	}
	matches, err := h.store.Query(ctx, vectorstore.CollectionTopics, vectorstore.QueryParams{
		Vector:         syn.Embedding,
		Limit:          1,
		ScoreThreshold: TopicAssignmentFloor,
	})
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	topicID := matches[0].ID
	err = h.store.SetPayload(ctx, vectorstore.CollectionSyntheses, []string{syn.ID}, map[string]any{
		"topic_id": topicID,
	})
	if err != nil {
		return "", err
	}
	return topicID, nil
}

func (h *Hub) sameKindCandidates(ctx context.Context, kind string) ([]vectorstore.Point, error) {
	filter := &vectorstore.Filter{Must: []vectorstore.Condition{{Key: "kind", Match: kind}}}
	var out []vectorstore.Point
	offset := ""
	for {
		page, next, err := h.store.Scroll(ctx, vectorstore.CollectionEntities, filter, 200, offset)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if next == "" {
			return out, nil
		}
		offset = next
	}
}

func (h *Hub) embedName(ctx context.Context, name string) ([]float64, error) {
	vectors, err := h.client.Embed(ctx, []string{name})
	if err != nil {
		return nil, fmt.Errorf("embedding entity name: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding entity name: got %d vectors", len(vectors))
	}
	return vectors[0], nil
}

func canonicalName(aliases map[string]string, raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := aliases[name]; ok {
		return canonical
	}
	return name
}

// nameSimilarity is the Levenshtein ratio: 1 minus the edit distance over
// the longer length.
func nameSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// mergeCooccurrences folds the run's other entity ids into the stored list,
// deduplicated and sorted for stable payloads.
func mergeCooccurrences(stored any, runIDs []string, self string) []any {
	set := make(map[string]bool)
	if list, ok := stored.([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				set[s] = true
			}
		}
	}
	for _, id := range runIDs {
		if id != self {
			set[id] = true
		}
	}
	sorted := make([]string, 0, len(set))
	for id := range set {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	out := make([]any, len(sorted))
	for i, id := range sorted {
		out[i] = id
	}
	return out
}
