package health

import (
	"context"
	"sync"
	"time"

	"veilleur/internal/core"
)

// MemoryStore is the process-local fallback used when redis is unreachable,
// and the store of simulation runs and tests. Same semantics, no durability.
type MemoryStore struct {
	mu         sync.Mutex
	records    map[string]core.SourceHealth
	blacklist  map[string]bool
	discovered map[string]core.Source
	now        func() time.Time
}

// NewMemoryStore returns an empty in-memory health store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:    make(map[string]core.SourceHealth),
		blacklist:  make(map[string]bool),
		discovered: make(map[string]core.Source),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) get(domain string) core.SourceHealth {
	if h, ok := s.records[domain]; ok {
		return h
	}
	return newRecord(domain)
}

func (s *MemoryStore) Get(_ context.Context, domain string) (core.SourceHealth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(domain), nil
}

func (s *MemoryStore) GetAll(_ context.Context) ([]core.SourceHealth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.SourceHealth, 0, len(s.records))
	for _, h := range s.records {
		out = append(out, h)
	}
	return out, nil
}

func (s *MemoryStore) RecordSuccess(_ context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.get(domain)
	applySuccess(&h, s.now())
	s.records[domain] = h
	return nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, domain, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.get(domain)
	applyFailure(&h, reason, s.now())
	s.records[domain] = h
	return nil
}

func (s *MemoryStore) RecordEmpty(_ context.Context, domain string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.get(domain)
	applyFailure(&h, "no articles extracted", s.now())
	h.EmptyRuns++
	s.records[domain] = h
	return h.EmptyRuns, nil
}

func (s *MemoryStore) Blacklist(_ context.Context, domain, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist[domain] = true
	h := s.get(domain)
	h.Status = core.StatusBlacklisted
	if reason != "" {
		h.LastError = reason
	}
	s.records[domain] = h
	return nil
}

func (s *MemoryStore) Unblacklist(_ context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blacklist, domain)
	h := s.get(domain)
	h.Status = core.StatusActive
	h.EmptyRuns = 0
	s.records[domain] = h
	return nil
}

func (s *MemoryStore) IsBlacklisted(_ context.Context, domain string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blacklist[domain], nil
}

func (s *MemoryStore) Blacklisted(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.blacklist))
	for d := range s.blacklist {
		out = append(out, d)
	}
	return out, nil
}

func (s *MemoryStore) SaveDiscovered(_ context.Context, src core.Source, replaces string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discovered[src.Domain] = src
	h := s.get(src.Domain)
	h.Status = core.StatusDiscovered
	h.DiscoveredBy = "llm"
	h.ReplacesDomain = replaces
	s.records[src.Domain] = h
	return nil
}

func (s *MemoryStore) Discovered(_ context.Context) ([]core.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Source, 0, len(s.discovered))
	for _, src := range s.discovered {
		out = append(out, src)
	}
	return out, nil
}

func (s *MemoryStore) DiscoveredCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.discovered), nil
}

func (s *MemoryStore) Report(_ context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]core.SourceHealth, 0, len(s.records))
	for _, h := range s.records {
		records = append(records, h)
	}
	return buildReport(records, s.now()), nil
}

// Seed loads records wholesale, used when restoring from a snapshot.
func (s *MemoryStore) Seed(records map[string]core.SourceHealth, blacklist []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for d, h := range records {
		s.records[d] = h
	}
	for _, d := range blacklist {
		s.blacklist[d] = true
	}
}
