package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"veilleur/internal/core"
)

const (
	healthKeyPrefix = "sources:health:"
	blacklistKey    = "sources:blacklist"
	discoveredKey   = "sources:discovered"
)

// RedisStore keeps health records in redis. Writes are serialized through a
// mutex so counter updates never interleave.
type RedisStore struct {
	mu     sync.Mutex
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore wraps an existing redis client. The prefix namespaces every
// key, letting several deployments share one redis.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *RedisStore) healthKey(domain string) string {
	return s.prefix + healthKeyPrefix + domain
}

func (s *RedisStore) load(ctx context.Context, domain string) (core.SourceHealth, error) {
	raw, err := s.client.Get(ctx, s.healthKey(domain)).Result()
	if errors.Is(err, redis.Nil) {
		return newRecord(domain), nil
	}
	if err != nil {
		return core.SourceHealth{}, fmt.Errorf("failed to read health for %s: %w", domain, err)
	}
	var h core.SourceHealth
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return core.SourceHealth{}, fmt.Errorf("corrupt health record for %s: %w", domain, err)
	}
	return h, nil
}

func (s *RedisStore) save(ctx context.Context, h core.SourceHealth) error {
	raw, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to encode health for %s: %w", h.Domain, err)
	}
	if err := s.client.Set(ctx, s.healthKey(h.Domain), raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to write health for %s: %w", h.Domain, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, domain string) (core.SourceHealth, error) {
	return s.load(ctx, domain)
}

func (s *RedisStore) GetAll(ctx context.Context) ([]core.SourceHealth, error) {
	var out []core.SourceHealth
	iter := s.client.Scan(ctx, 0, s.prefix+healthKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", iter.Val(), err)
		}
		var h core.SourceHealth
		if err := json.Unmarshal([]byte(raw), &h); err != nil {
			continue // tolerate one corrupt record
		}
		out = append(out, h)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("health scan failed: %w", err)
	}
	return out, nil
}

func (s *RedisStore) RecordSuccess(ctx context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.load(ctx, domain)
	if err != nil {
		return err
	}
	applySuccess(&h, s.now())
	return s.save(ctx, h)
}

func (s *RedisStore) RecordFailure(ctx context.Context, domain, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.load(ctx, domain)
	if err != nil {
		return err
	}
	applyFailure(&h, reason, s.now())
	return s.save(ctx, h)
}

func (s *RedisStore) RecordEmpty(ctx context.Context, domain string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.load(ctx, domain)
	if err != nil {
		return 0, err
	}
	applyFailure(&h, "no articles extracted", s.now())
	h.EmptyRuns++
	if err := s.save(ctx, h); err != nil {
		return 0, err
	}
	return h.EmptyRuns, nil
}

func (s *RedisStore) Blacklist(ctx context.Context, domain, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.client.SAdd(ctx, s.prefix+blacklistKey, domain).Err(); err != nil {
		return fmt.Errorf("failed to blacklist %s: %w", domain, err)
	}
	h, err := s.load(ctx, domain)
	if err != nil {
		return err
	}
	h.Status = core.StatusBlacklisted
	if reason != "" {
		h.LastError = reason
	}
	return s.save(ctx, h)
}

func (s *RedisStore) Unblacklist(ctx context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.client.SRem(ctx, s.prefix+blacklistKey, domain).Err(); err != nil {
		return fmt.Errorf("failed to unblacklist %s: %w", domain, err)
	}
	h, err := s.load(ctx, domain)
	if err != nil {
		return err
	}
	h.Status = core.StatusActive
	h.EmptyRuns = 0
	return s.save(ctx, h)
}

func (s *RedisStore) IsBlacklisted(ctx context.Context, domain string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.prefix+blacklistKey, domain).Result()
	if err != nil {
		return false, fmt.Errorf("blacklist check failed for %s: %w", domain, err)
	}
	return ok, nil
}

func (s *RedisStore) Blacklisted(ctx context.Context) ([]string, error) {
	domains, err := s.client.SMembers(ctx, s.prefix+blacklistKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list blacklist: %w", err)
	}
	return domains, nil
}

// discoveredEntry is the hash value stored per discovered domain.
type discoveredEntry struct {
	Source   core.Source `json:"source"`
	Replaces string      `json:"replaces"`
	SavedAt  time.Time   `json:"saved_at"`
}

func (s *RedisStore) SaveDiscovered(ctx context.Context, src core.Source, replaces string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := discoveredEntry{Source: src, Replaces: replaces, SavedAt: s.now()}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode discovered source %s: %w", src.Domain, err)
	}
	if err := s.client.HSet(ctx, s.prefix+discoveredKey, src.Domain, raw).Err(); err != nil {
		return fmt.Errorf("failed to save discovered source %s: %w", src.Domain, err)
	}

	h, err := s.load(ctx, src.Domain)
	if err != nil {
		return err
	}
	h.Status = core.StatusDiscovered
	h.DiscoveredBy = "llm"
	h.ReplacesDomain = replaces
	return s.save(ctx, h)
}

func (s *RedisStore) Discovered(ctx context.Context) ([]core.Source, error) {
	entries, err := s.client.HGetAll(ctx, s.prefix+discoveredKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list discovered sources: %w", err)
	}
	out := make([]core.Source, 0, len(entries))
	for domain, raw := range entries {
		var entry discoveredEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		if entry.Source.Domain == "" {
			entry.Source.Domain = domain
		}
		out = append(out, entry.Source)
	}
	return out, nil
}

func (s *RedisStore) Report(ctx context.Context) (Report, error) {
	records, err := s.GetAll(ctx)
	if err != nil {
		return Report{}, err
	}
	return buildReport(records, s.now()), nil
}

// DiscoveredCount returns how many sources discovery has injected so far,
// used to enforce the global discovery cap.
func (s *RedisStore) DiscoveredCount(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, s.prefix+discoveredKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count discovered sources: %w", err)
	}
	return int(n), nil
}
