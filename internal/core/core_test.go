package core

import (
	"strings"
	"testing"
	"time"
)

func TestArticleAcceptable(t *testing.T) {
	tests := []struct {
		name string
		art  Article
		want bool
	}{
		{
			name: "long body passes",
			art:  Article{Body: strings.Repeat("x", 50)},
			want: true,
		},
		{
			name: "short body alone fails",
			art:  Article{Body: strings.Repeat("x", 49)},
			want: false,
		},
		{
			name: "title plus meta description passes",
			art: Article{
				Title:           "Réforme des retraites",
				MetaDescription: strings.Repeat("d", 30),
			},
			want: true,
		},
		{
			name: "title too short with meta fails",
			art: Article{
				Title:           "Court",
				MetaDescription: strings.Repeat("d", 30),
			},
			want: false,
		},
		{
			name: "meta too short with title fails",
			art: Article{
				Title:           "Réforme des retraites",
				MetaDescription: strings.Repeat("d", 29),
			},
			want: false,
		},
		{
			name: "empty article fails",
			art:  Article{},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.art.Acceptable(); got != tt.want {
				t.Errorf("Acceptable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSourceHealthSuccessRate(t *testing.T) {
	h := SourceHealth{Total: 10, Successful: 7, Failed: 3}
	if got := h.SuccessRate(); got != 0.7 {
		t.Errorf("SuccessRate() = %v, want 0.7", got)
	}

	untried := SourceHealth{}
	if got := untried.SuccessRate(); got != 1.0 {
		t.Errorf("SuccessRate() on untried source = %v, want 1.0", got)
	}
}

func TestSourceHealthInvariant(t *testing.T) {
	h := SourceHealth{Total: 12, Successful: 9, Failed: 3}
	if h.Successful+h.Failed != h.Total {
		t.Errorf("successful (%d) + failed (%d) != total (%d)", h.Successful, h.Failed, h.Total)
	}
}

func TestSynthesisPersistenceScore(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		s    Synthesis
		want int
	}{
		{
			name: "fresh story created today",
			s: Synthesis{
				UpdateCount: 0,
				FirstSeen:   now.Add(-2 * time.Hour),
				CreatedAt:   now.Add(-2 * time.Hour),
			},
			want: 5, // recency bonus only
		},
		{
			name: "active long-running story",
			s: Synthesis{
				UpdateCount: 4,
				FirstSeen:   now.Add(-10 * 24 * time.Hour),
				CreatedAt:   now.Add(-1 * time.Hour),
				UpdatedAt:   now.Add(-1 * time.Hour),
			},
			want: 4*2 + 5 + 3,
		},
		{
			name: "stale short story",
			s: Synthesis{
				UpdateCount: 1,
				FirstSeen:   now.Add(-5 * 24 * time.Hour),
				CreatedAt:   now.Add(-5 * 24 * time.Hour),
				UpdatedAt:   now.Add(-4 * 24 * time.Hour),
			},
			want: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.PersistenceScore(now); got != tt.want {
				t.Errorf("PersistenceScore() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSynthesisRef(t *testing.T) {
	created := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	s := Synthesis{
		ID:      "syn-1",
		StoryID: "story-1",
		Title:   "Grève des transports",
		Sources: []SourceRef{
			{Name: "Le Monde", URL: "https://lemonde.fr/a"},
			{Name: "Libération", URL: "https://liberation.fr/b"},
		},
		KeyPoints:      []string{"point 1"},
		KeyEntities:    []Entity{{Name: "SNCF", Kind: "organization"}},
		Contradictions: []Contradiction{{Kind: "temporal", Detail: "dates de reprise divergentes"}},
		UpdateCount:    2,
		FirstSeen:      created,
		CreatedAt:      created,
		Embedding:      []float64{0.1, 0.2},
	}

	ref := s.Ref()
	if ref.ID != "syn-1" || ref.StoryID != "story-1" {
		t.Errorf("Ref() identity mismatch: %+v", ref)
	}
	if len(ref.SourceURLs) != 2 || ref.SourceURLs[0] != "https://lemonde.fr/a" {
		t.Errorf("Ref() source URLs = %v", ref.SourceURLs)
	}
	if ref.UpdateCount != 2 {
		t.Errorf("Ref() update count = %d, want 2", ref.UpdateCount)
	}
	if len(ref.Embedding) != 2 {
		t.Errorf("Ref() embedding length = %d, want 2", len(ref.Embedding))
	}
	if len(ref.KeyEntities) != 1 || ref.KeyEntities[0].Name != "SNCF" {
		t.Errorf("Ref() entities = %v", ref.KeyEntities)
	}
	if len(ref.Contradictions) != 1 || ref.Contradictions[0].Kind != "temporal" {
		t.Errorf("Ref() contradictions = %v", ref.Contradictions)
	}
}

func TestPastSynthesisStorySpan(t *testing.T) {
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	p := PastSynthesis{FirstSeen: first, CreatedAt: first.Add(24 * time.Hour)}
	if got := p.StorySpan(); got != 24*time.Hour {
		t.Errorf("StorySpan() without updates = %v, want 24h", got)
	}

	p.UpdatedAt = first.Add(72 * time.Hour)
	if got := p.StorySpan(); got != 72*time.Hour {
		t.Errorf("StorySpan() with updates = %v, want 72h", got)
	}
}
