package research

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedProvider serves canned research from memory for tests and
// simulation runs.
type ScriptedProvider struct {
	mu       sync.Mutex
	reports  map[string]Report
	verdicts map[string]string
	queries  []string
}

// NewScriptedProvider returns an empty scripted provider. Unscripted
// queries get a labeled placeholder report rather than an error so
// simulation runs always complete.
func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{
		reports:  make(map[string]Report),
		verdicts: make(map[string]string),
	}
}

// Name identifies the provider.
func (s *ScriptedProvider) Name() string { return "mock" }

// Script registers the report returned for a query.
func (s *ScriptedProvider) Script(query string, report Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[query] = report
}

// ScriptVerdict registers the verdict returned for a claim.
func (s *ScriptedProvider) ScriptVerdict(claim, verdict string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts[claim] = verdict
}

// Queries returns the queries received so far.
func (s *ScriptedProvider) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.queries))
	copy(out, s.queries)
	return out
}

// Search returns the scripted report for the query.
func (s *ScriptedProvider) Search(ctx context.Context, query string, maxTokens int) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	if report, ok := s.reports[query]; ok {
		return report, nil
	}
	return Report{
		Content: fmt.Sprintf("Contexte simulé pour « %s ».", query),
		Citations: []Citation{
			{URL: "https://exemple.fr/contexte", Title: "Contexte simulé"},
		},
	}, nil
}

// FactCheck returns the scripted verdict for the claim.
func (s *ScriptedProvider) FactCheck(ctx context.Context, claim string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, claim)
	if verdict, ok := s.verdicts[claim]; ok {
		return verdict, nil
	}
	return "Vérification simulée : aucune contradiction relevée.", nil
}
