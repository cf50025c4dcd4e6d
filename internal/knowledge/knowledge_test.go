package knowledge

import (
	"context"
	"testing"

	"veilleur/internal/core"
	"veilleur/internal/llm"
	"veilleur/internal/vectorstore"
)

func newTestHub(t *testing.T) (*Hub, *vectorstore.MemoryStore) {
	t.Helper()
	store := vectorstore.NewMemoryStore()
	client := llm.NewScriptedClient()
	return NewHub(store, client, DefaultAliases()), store
}

func synthesisWith(entities ...core.Entity) *core.Synthesis {
	return &core.Synthesis{ID: "syn-1", KeyEntities: entities}
}

func TestIngestCreatesEntities(t *testing.T) {
	hub, store := newTestHub(t)

	_, err := hub.Ingest(context.Background(), synthesisWith(
		core.Entity{Name: "Jean Dupont", Kind: "person"},
		core.Entity{Name: "Strasbourg", Kind: "location"},
		core.Entity{Name: "12 mars 2024", Kind: "date"},
	))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	count, err := store.Count(context.Background(), vectorstore.CollectionEntities)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	// Dates never become knowledge-graph nodes.
	if count != 2 {
		t.Errorf("entity count = %d, want 2", count)
	}
}

func TestIngestAccumulatesMentions(t *testing.T) {
	hub, store := newTestHub(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := hub.Ingest(ctx, synthesisWith(core.Entity{Name: "Jean Dupont", Kind: "person"})); err != nil {
			t.Fatalf("Ingest %d: %v", i, err)
		}
	}

	points, _, err := store.Scroll(ctx, vectorstore.CollectionEntities, nil, 10, "")
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("repeated mention created %d entities, want 1", len(points))
	}
	if mentions, _ := points[0].Payload["mentions"].(float64); mentions != 3 {
		t.Errorf("mentions = %v, want 3", points[0].Payload["mentions"])
	}
}

func TestResolveAlias(t *testing.T) {
	hub, store := newTestHub(t)
	ctx := context.Background()

	if _, err := hub.Ingest(ctx, synthesisWith(core.Entity{Name: "Union Européenne", Kind: "organization"})); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := hub.Ingest(ctx, synthesisWith(core.Entity{Name: "UE", Kind: "organization"})); err != nil {
		t.Fatalf("Ingest alias: %v", err)
	}

	count, _ := store.Count(ctx, vectorstore.CollectionEntities)
	if count != 1 {
		t.Errorf("alias created a second entity: count = %d", count)
	}
}

func TestResolveNearNameMatch(t *testing.T) {
	hub, store := newTestHub(t)
	ctx := context.Background()

	if _, err := hub.Ingest(ctx, synthesisWith(core.Entity{Name: "Jean-Pierre Martin", Kind: "person"})); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	// One edit away, same kind: must resolve to the existing record.
	if _, err := hub.Ingest(ctx, synthesisWith(core.Entity{Name: "Jean-Pierre Martins", Kind: "person"})); err != nil {
		t.Fatalf("Ingest variant: %v", err)
	}

	count, _ := store.Count(ctx, vectorstore.CollectionEntities)
	if count != 1 {
		t.Errorf("near-duplicate name created a second entity: count = %d", count)
	}
}

func TestResolveKindSeparatesEntities(t *testing.T) {
	hub, store := newTestHub(t)
	ctx := context.Background()

	if _, err := hub.Ingest(ctx, synthesisWith(
		core.Entity{Name: "Orange", Kind: "organization"},
		core.Entity{Name: "Orange", Kind: "location"},
	)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	count, _ := store.Count(ctx, vectorstore.CollectionEntities)
	if count != 2 {
		t.Errorf("same name across kinds should stay distinct: count = %d", count)
	}
}

func TestCooccurrences(t *testing.T) {
	hub, store := newTestHub(t)
	ctx := context.Background()

	if _, err := hub.Ingest(ctx, synthesisWith(
		core.Entity{Name: "Jean Dupont", Kind: "person"},
		core.Entity{Name: "Strasbourg", Kind: "location"},
	)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	points, _, err := store.Scroll(ctx, vectorstore.CollectionEntities, nil, 10, "")
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	for _, p := range points {
		cooc, ok := p.Payload["cooccurrences"].([]any)
		if !ok || len(cooc) != 1 {
			t.Errorf("entity %v cooccurrences = %v, want one peer", p.Payload["name"], p.Payload["cooccurrences"])
		}
	}
}

func TestTopicAssignment(t *testing.T) {
	hub, store := newTestHub(t)
	ctx := context.Background()

	centroid := llm.HashedEmbedding("réforme des retraites gouvernement syndicats", vectorstore.EmbeddingDim)
	if err := store.Upsert(ctx, vectorstore.CollectionTopics, []vectorstore.Point{{
		ID: "11111111-1111-1111-1111-111111111111", Vector: centroid,
		Payload: map[string]any{"label": "retraites"},
	}}); err != nil {
		t.Fatalf("seeding topic: %v", err)
	}
	if err := store.Upsert(ctx, vectorstore.CollectionSyntheses, []vectorstore.Point{{
		ID: "syn-1", Vector: centroid, Payload: map[string]any{"title": "t"},
	}}); err != nil {
		t.Fatalf("seeding synthesis: %v", err)
	}

	syn := &core.Synthesis{
		ID:        "syn-1",
		Embedding: llm.HashedEmbedding("réforme des retraites gouvernement syndicats", vectorstore.EmbeddingDim),
	}
	topicID, err := hub.Ingest(ctx, syn)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if topicID != "11111111-1111-1111-1111-111111111111" {
		t.Errorf("topicID = %q", topicID)
	}

	points, err := store.Retrieve(ctx, vectorstore.CollectionSyntheses, []string{"syn-1"}, false)
	if err != nil || len(points) != 1 {
		t.Fatalf("Retrieve: %v (%d points)", err, len(points))
	}
	if points[0].Payload["topic_id"] != topicID {
		t.Errorf("synthesis payload topic_id = %v", points[0].Payload["topic_id"])
	}
}

func TestTopicUnassignedBelowFloor(t *testing.T) {
	hub, store := newTestHub(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, vectorstore.CollectionTopics, []vectorstore.Point{{
		ID:     "22222222-2222-2222-2222-222222222222",
		Vector: llm.HashedEmbedding("championnat de football résultats", vectorstore.EmbeddingDim),
	}}); err != nil {
		t.Fatalf("seeding topic: %v", err)
	}

	syn := &core.Synthesis{
		ID:        "syn-2",
		Embedding: llm.HashedEmbedding("réforme fiscale budget impôts parlement", vectorstore.EmbeddingDim),
	}
	topicID, err := hub.Ingest(ctx, syn)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if topicID != "" {
		t.Errorf("dissimilar synthesis assigned to topic %q", topicID)
	}
}
