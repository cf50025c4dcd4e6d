package contextbuild

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"veilleur/internal/core"
)

func TestChunkArticleOverlap(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("Cette phrase contient exactement sept mots utiles aujourd'hui. ")
	}
	a := core.Article{URL: "https://exemple.fr/a", SourceName: "Exemple", Title: "Titre", Body: sb.String()}

	chunks := ChunkArticle(a, 50, 10)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d carries index %d", i, c.Index)
		}
		if c.ArticleURL != a.URL || c.SourceName != a.SourceName {
			t.Errorf("chunk %d lost provenance: %+v", i, c)
		}
	}

	// The overlap words of the previous chunk open the next one.
	prev := strings.Fields(chunks[0].Text)
	next := strings.Fields(chunks[1].Text)
	tail := strings.Join(prev[len(prev)-10:], " ")
	head := strings.Join(next[:10], " ")
	if tail != head {
		t.Errorf("overlap mismatch:\n tail %q\n head %q", tail, head)
	}
}

func TestChunkArticleShortBodySingleChunk(t *testing.T) {
	a := core.Article{URL: "u", Title: "Titre court", Body: "Un corps bref. Deux phrases."}
	chunks := ChunkArticle(a, 256, 50)
	if len(chunks) != 1 {
		t.Fatalf("expected one chunk, got %d", len(chunks))
	}
	if !strings.Contains(chunks[0].Text, "Titre court") {
		t.Errorf("title missing from chunk: %q", chunks[0].Text)
	}
}

func TestFactDensityOrdersFactualAboveHedged(t *testing.T) {
	factual := `Le 12 mars 2024, la production a augmenté de 14 % pour atteindre 3 millions de tonnes, selon le ministère. « Un record absolu », a déclaré la ministre.`
	hedged := `Il se pourrait que la situation change. Peut-être que les choses vont probablement évoluer, semble-t-il, sans doute vers une issue possiblement différente.`

	df := FactDensity(factual, "fr")
	dh := FactDensity(hedged, "fr")
	if df <= dh {
		t.Errorf("factual text scored %.3f, hedged %.3f; want factual higher", df, dh)
	}
	if df <= 0.5 {
		t.Errorf("factual text scored %.3f, want above 0.5", df)
	}
	if FactDensity("", "fr") != 0 {
		t.Error("empty text should score zero")
	}
}

func TestTopChunksKeepsOrder(t *testing.T) {
	chunks := []Chunk{
		{Text: "a", Index: 0, FactDensity: 0.1},
		{Text: "b", Index: 1, FactDensity: 0.9},
		{Text: "c", Index: 2, FactDensity: 0.5},
		{Text: "d", Index: 3, FactDensity: 0.8},
	}
	top := TopChunks(chunks, 2)
	if len(top) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(top))
	}
	if top[0].Text != "b" || top[1].Text != "d" {
		t.Errorf("expected [b d] in input order, got [%s %s]", top[0].Text, top[1].Text)
	}
}

func TestDetectContradictionsNegationAsymmetry(t *testing.T) {
	vec := make([]float64, 4)
	vec[0] = 1
	a := core.Article{
		URL: "https://a.fr", Title: "Le ministre confirme la réforme",
		Body:      "La réforme est confirmée. Le texte sera voté. Les syndicats sont consultés.",
		Embedding: vec,
	}
	b := core.Article{
		URL: "https://b.fr", Title: "Le ministre dément la réforme",
		Body:      "Il n'y a pas de réforme. Le ministre nie. Aucun texte ne sera jamais voté. Non, rien n'est pas prévu.",
		Embedding: vec,
	}

	got := DetectContradictions([]core.Article{a, b}, 0.75)
	if len(got) != 1 {
		t.Fatalf("expected 1 contradiction, got %d", len(got))
	}
	if got[0].Kind != "factual" {
		t.Errorf("expected factual kind, got %s", got[0].Kind)
	}
}

func TestDetectContradictionsSkipsDissimilarPairs(t *testing.T) {
	a := core.Article{URL: "a", Body: "Il n'y a pas, non, jamais, aucun accord.", Embedding: []float64{1, 0}}
	b := core.Article{URL: "b", Body: "Accord signé hier matin.", Embedding: []float64{0, 1}}
	if got := DetectContradictions([]core.Article{a, b}, 0.75); len(got) != 0 {
		t.Errorf("orthogonal embeddings should not be compared, got %d", len(got))
	}
}

func TestDetectContradictionsTemporal(t *testing.T) {
	vec := []float64{1, 0}
	a := core.Article{URL: "a", Body: "Le sommet aura lieu le 12 mars 2024 à Paris.", Embedding: vec}
	b := core.Article{URL: "b", Body: "Le sommet aura lieu le 15 avril 2024 à Paris.", Embedding: vec}

	got := DetectContradictions([]core.Article{a, b}, 0.75)
	if len(got) != 1 || got[0].Kind != "temporal" {
		t.Fatalf("expected one temporal contradiction, got %+v", got)
	}
}

func TestExtractEntities(t *testing.T) {
	articles := []core.Article{{
		Title: "Jean Dupont rencontre la Commission Européenne",
		Body:  "Le déplacement à Strasbourg est prévu le 12 mars 2024. Jean Dupont conduira la délégation.",
	}}
	entities := ExtractEntities(articles)

	kinds := make(map[string]string)
	for _, e := range entities {
		kinds[e.Name] = e.Kind
	}
	if kinds["Jean Dupont"] != "person" {
		t.Errorf("Jean Dupont classified as %q", kinds["Jean Dupont"])
	}
	if kinds["Strasbourg"] != "location" {
		t.Errorf("Strasbourg classified as %q", kinds["Strasbourg"])
	}
	foundDate := false
	for _, e := range entities {
		if e.Kind == "date" {
			foundDate = true
		}
	}
	if !foundDate {
		t.Error("expected a date entity")
	}

	// Dedup: Jean Dupont appears twice in the text but once in the output.
	count := 0
	for _, e := range entities {
		if e.Name == "Jean Dupont" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Jean Dupont extracted %d times", count)
	}
}

func TestDeriveArc(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	prior := func(age time.Duration) core.PastSynthesis {
		return core.PastSynthesis{CreatedAt: now.Add(-age), UpdatedAt: now.Add(-age)}
	}

	tests := []struct {
		name     string
		priors   []core.PastSynthesis
		articles int
		want     core.NarrativeArc
	}{
		{"no history", nil, 3, core.ArcEmerging},
		{"single prior", []core.PastSynthesis{prior(time.Hour)}, 3, core.ArcEmerging},
		{"stale story", []core.PastSynthesis{prior(10 * 24 * time.Hour), prior(9 * 24 * time.Hour)}, 2, core.ArcResolved},
		{"hot story", []core.PastSynthesis{prior(time.Hour), prior(2 * time.Hour), prior(3 * time.Hour), prior(4 * time.Hour)}, 6, core.ArcPeak},
		{"slowing down", []core.PastSynthesis{prior(4 * 24 * time.Hour), prior(5 * 24 * time.Hour)}, 1, core.ArcDeclining},
		{"default", []core.PastSynthesis{prior(time.Hour), prior(2 * time.Hour)}, 2, core.ArcDeveloping},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveArc(tt.priors, tt.articles, now); got != tt.want {
				t.Errorf("DeriveArc() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAssembleHistory(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	priors := []core.PastSynthesis{
		{
			Title:     "Premier épisode",
			KeyPoints: []string{"Point A", "Point B"},
			KeyEntities: []core.Entity{
				{Name: "Jean Dupont", Kind: "person"},
				{Name: "Matignon", Kind: "organization"},
			},
			Contradictions: []core.Contradiction{
				{Kind: "factual", Detail: "Les bilans de participation divergent fortement"},
			},
			CreatedAt: now.Add(-48 * time.Hour),
			UpdatedAt: now.Add(-48 * time.Hour),
		},
		{
			Title:     "Deuxième épisode",
			KeyPoints: []string{"Point C", "Point B"},
			KeyEntities: []core.Entity{
				{Name: "Jean Dupont", Kind: "person"},
			},
			Contradictions: []core.Contradiction{
				{Kind: "temporal", Detail: "Les dates de reprise annoncées diffèrent"},
			},
			CreatedAt: now.Add(-24 * time.Hour),
			UpdatedAt: now.Add(-24 * time.Hour),
		},
	}

	h := AssembleHistory(priors, 3, now)
	if h.Arc != core.ArcDeveloping {
		t.Errorf("arc = %s, want developing", h.Arc)
	}
	if !strings.Contains(h.Text, "Premier épisode") || !strings.Contains(h.Text, "Deuxième épisode") {
		t.Errorf("chronology missing episodes:\n%s", h.Text)
	}
	if strings.Count(h.Text, "Point B") != 3 {
		// Both chronology lines carry it, the deduped key points once more.
		t.Errorf("Point B should appear three times (2 chronology + 1 key points):\n%s", h.Text)
	}
	if !strings.Contains(h.Text, arcInstructions[core.ArcDeveloping]) {
		t.Errorf("arc instruction missing:\n%s", h.Text)
	}
	if !strings.Contains(h.Text, "Évolution des entités :") {
		t.Errorf("entity evolution section missing:\n%s", h.Text)
	}
	if !strings.Contains(h.Text, "- Jean Dupont (person) : 23/08/2026, 24/08/2026") {
		t.Errorf("recurring entity should list both appearance dates:\n%s", h.Text)
	}
	if !strings.Contains(h.Text, "- Matignon (organization) : 23/08/2026") {
		t.Errorf("single-appearance entity missing:\n%s", h.Text)
	}
	if !strings.Contains(h.Text, "Contradictions relevées :") {
		t.Errorf("contradiction history section missing:\n%s", h.Text)
	}
	if !strings.Contains(h.Text, "- [factual] Les bilans de participation divergent fortement") ||
		!strings.Contains(h.Text, "- [temporal] Les dates de reprise annoncées diffèrent") {
		t.Errorf("recorded contradictions missing:\n%s", h.Text)
	}

	empty := AssembleHistory(nil, 2, now)
	if empty.Text != "" || empty.Arc != core.ArcEmerging {
		t.Errorf("empty history = %+v", empty)
	}
}

func TestAssembleHistoryCaps(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	var priors []core.PastSynthesis
	for i := 0; i < 6; i++ {
		created := now.Add(-time.Duration(6-i) * 24 * time.Hour)
		priors = append(priors, core.PastSynthesis{
			Title:     fmt.Sprintf("Épisode %d", i+1),
			CreatedAt: created,
			UpdatedAt: created,
			KeyEntities: []core.Entity{
				{Name: "Récurrente", Kind: "person"},
				{Name: fmt.Sprintf("Entité %d", i+1), Kind: "organization"},
			},
			Contradictions: []core.Contradiction{
				{Kind: "factual", Detail: fmt.Sprintf("Contradiction %d", i+1)},
			},
		})
	}

	h := AssembleHistory(priors, 3, now)
	if !strings.Contains(h.Text, "- Récurrente (person) : 22/08/2026, 23/08/2026, 24/08/2026") {
		t.Errorf("recurring entity should keep only its last three dates:\n%s", h.Text)
	}
	if strings.Contains(h.Text, "Entité 5") || strings.Contains(h.Text, "Entité 6") {
		t.Errorf("entity list should stop at five entries:\n%s", h.Text)
	}
	if !strings.Contains(h.Text, "Entité 4") {
		t.Errorf("fifth-ranked entity missing:\n%s", h.Text)
	}
	if strings.Contains(h.Text, "Contradiction 1") {
		t.Errorf("old contradictions should roll off:\n%s", h.Text)
	}
	for _, want := range []string{"Contradiction 4", "Contradiction 5", "Contradiction 6"} {
		if !strings.Contains(h.Text, want) {
			t.Errorf("%s missing from contradiction history:\n%s", want, h.Text)
		}
	}
}
