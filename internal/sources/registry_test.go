package sources

import (
	"testing"

	"veilleur/internal/core"
)

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"lemonde.fr", "lemonde.fr"},
		{"www.lemonde.fr", "lemonde.fr"},
		{"WWW.LeMonde.FR", "lemonde.fr"},
		{"https://www.lemonde.fr/international/", "lemonde.fr"},
		{"lemonde.fr:443", "lemonde.fr"},
		{"  lemonde.fr  ", "lemonde.fr"},
	}
	for _, tt := range tests {
		if got := NormalizeDomain(tt.in); got != tt.want {
			t.Errorf("NormalizeDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRegisterDefaultsAndLookup(t *testing.T) {
	r := NewRegistry()
	err := r.Register(core.Source{Domain: "www.Example.FR"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	src, ok := r.Get("example.fr")
	if !ok {
		t.Fatal("registered source not found under normalized domain")
	}
	if src.Tier != core.TierStandard {
		t.Errorf("tier = %d, want default %d", src.Tier, core.TierStandard)
	}
	if src.Language != "fr" {
		t.Errorf("language = %q, want fr", src.Language)
	}
	if src.BaseURL != "https://example.fr" {
		t.Errorf("base URL = %q", src.BaseURL)
	}

	// Lookup tolerates un-normalized input.
	if _, ok := r.Get("https://www.example.fr/politique"); !ok {
		t.Error("lookup with full URL failed")
	}
}

func TestRegisterRejectsEmptyDomain(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(core.Source{}); err == nil {
		t.Error("Register accepted a source without domain")
	}
}

func TestRegisterReplacesExisting(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(core.Source{Domain: "example.fr", Name: "Avant"})
	_ = r.Register(core.Source{Domain: "example.fr", Name: "Après"})

	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (domain is unique)", r.Len())
	}
	src, _ := r.Get("example.fr")
	if src.Name != "Après" {
		t.Errorf("name = %q, want the replacing entry", src.Name)
	}
}

func TestDefaultCatalogIsValid(t *testing.T) {
	r := NewDefaultRegistry()
	if r.Len() < 10 {
		t.Errorf("catalog has %d sources, expected at least 10", r.Len())
	}

	seen := map[string]bool{}
	for _, src := range r.All() {
		if seen[src.Domain] {
			t.Errorf("duplicate domain %s in catalog", src.Domain)
		}
		seen[src.Domain] = true
		if src.Selectors.Title == "" || src.Selectors.Content == "" {
			t.Errorf("source %s missing extraction selectors", src.Domain)
		}
		if src.RateLimit <= 0 {
			t.Errorf("source %s has no rate limit", src.Domain)
		}
	}

	// Francophone-first catalog: the flagship must be present with a feed.
	lemonde, ok := r.Get("lemonde.fr")
	if !ok {
		t.Fatal("lemonde.fr missing from catalog")
	}
	if len(lemonde.FeedURLs) == 0 {
		t.Error("lemonde.fr has no RSS feed registered")
	}
	if lemonde.Tier != core.TierMajor {
		t.Errorf("lemonde.fr tier = %d, want %d", lemonde.Tier, core.TierMajor)
	}
}

func TestAllSortedByDomain(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(core.Source{Domain: "zzz.fr"})
	_ = r.Register(core.Source{Domain: "aaa.fr"})

	all := r.All()
	if all[0].Domain != "aaa.fr" || all[1].Domain != "zzz.fr" {
		t.Errorf("All() not sorted: %v", []string{all[0].Domain, all[1].Domain})
	}
}
