package persona

import (
	"math/rand"
	"strings"
	"sync"

	"veilleur/internal/core"
)

// KeywordEntry routes a learned phrase to a persona with the confidence the
// learning pass recorded.
type KeywordEntry struct {
	PersonaID  string
	Confidence float64
}

// KeywordTable maps domain phrases to personas. Safe for concurrent use so
// the keyword-learning pass can update it while runs read it.
type KeywordTable struct {
	mu      sync.RWMutex
	entries map[string]KeywordEntry
}

// NewKeywordTable returns an empty table.
func NewKeywordTable() *KeywordTable {
	return &KeywordTable{entries: make(map[string]KeywordEntry)}
}

// Learn records or overwrites a phrase-to-persona association.
func (t *KeywordTable) Learn(phrase, personaID string, confidence float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[strings.ToLower(phrase)] = KeywordEntry{PersonaID: personaID, Confidence: confidence}
}

// match returns the highest-confidence entry whose phrase appears in the
// text, confidence floor applied.
func (t *KeywordTable) match(text string, floor float64) (KeywordEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	lower := strings.ToLower(text)
	best := KeywordEntry{}
	found := false
	for phrase, entry := range t.entries {
		if entry.Confidence < floor {
			continue
		}
		if strings.Contains(lower, phrase) && (!found || entry.Confidence > best.Confidence) {
			best = entry
			found = true
		}
	}
	return best, found
}

// Choice is a selection outcome with the rule that produced it.
type Choice struct {
	Persona Persona
	Reason  string // breaking, keyword, category or random
}

// Selector applies the voice-selection rules.
type Selector struct {
	personas map[string]Persona
	ordered  []Persona
	mapping  map[string]string
	keywords *KeywordTable

	// KeywordFloor is the confidence below which keyword entries are
	// ignored, default 0.6.
	KeywordFloor float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector builds a selector over the catalog. seed fixes the weighted
// random draw, so simulation runs reproduce.
func NewSelector(personas []Persona, mapping map[string]string, keywords *KeywordTable, seed int64) *Selector {
	if len(personas) == 0 {
		personas = Catalog()
	}
	if mapping == nil {
		mapping = DefaultCategoryMapping()
	}
	if keywords == nil {
		keywords = NewKeywordTable()
	}
	return &Selector{
		personas:     ByID(personas),
		ordered:      personas,
		mapping:      mapping,
		keywords:     keywords,
		KeywordFloor: 0.6,
		rng:          rand.New(rand.NewSource(seed)),
	}
}

// Keywords exposes the table for the learning pass.
func (s *Selector) Keywords() *KeywordTable { return s.keywords }

// Get resolves a persona id, neutral when unknown.
func (s *Selector) Get(id string) Persona {
	if p, ok := s.personas[id]; ok {
		return p
	}
	return Neutral
}

// Select applies the rules in order: breaking forces neutral; a learned
// keyword in the title or entity names overrides; otherwise 70% of the
// weight goes to the category's voice (shifted by sentiment) and 30% spreads
// uniformly over the rest.
func (s *Selector) Select(category string, sentiment core.Sentiment, intensity core.TopicIntensity, title string, entities []core.Entity) Choice {
	if intensity == core.IntensityBreaking {
		return Choice{Persona: Neutral, Reason: "breaking"}
	}

	haystack := title
	for _, e := range entities {
		haystack += " " + e.Name
	}
	if entry, ok := s.keywords.match(haystack, s.KeywordFloor); ok {
		if p, known := s.personas[entry.PersonaID]; known {
			return Choice{Persona: p, Reason: "keyword"}
		}
	}

	favored := s.favoredID(category, sentiment)
	s.mu.Lock()
	draw := s.rng.Float64()
	s.mu.Unlock()

	if favored != "" && draw < 0.7 {
		return Choice{Persona: s.personas[favored], Reason: "category"}
	}

	// Uniform over the remaining voices.
	rest := make([]Persona, 0, len(s.ordered))
	for _, p := range s.ordered {
		if p.ID != favored {
			rest = append(rest, p)
		}
	}
	if len(rest) == 0 {
		return Choice{Persona: Neutral, Reason: "random"}
	}
	s.mu.Lock()
	pick := rest[s.rng.Intn(len(rest))]
	s.mu.Unlock()
	return Choice{Persona: pick, Reason: "random"}
}

// favoredID is the category's voice, pulled toward the optimistic voice on
// positive stories and the sardonic one on negative stories.
func (s *Selector) favoredID(category string, sentiment core.Sentiment) string {
	switch sentiment {
	case core.SentimentPositive:
		if _, ok := s.personas["optimiste"]; ok {
			return "optimiste"
		}
	case core.SentimentNegative:
		if _, ok := s.personas["sarcastique"]; ok {
			return "sarcastique"
		}
	}
	if id, ok := s.mapping[category]; ok {
		if _, known := s.personas[id]; known {
			return id
		}
	}
	return ""
}
