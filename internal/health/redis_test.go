package health

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"veilleur/internal/core"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test:")
}

func TestRedisStoreRecordAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	if err := s.RecordSuccess(ctx, "lemonde.fr"); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	if err := s.RecordFailure(ctx, "lemonde.fr", "timeout"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	h, err := s.Get(ctx, "lemonde.fr")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if h.Total != 2 || h.Successful != 1 || h.Failed != 1 {
		t.Errorf("counters = %d/%d/%d", h.Total, h.Successful, h.Failed)
	}
	if h.LastError != "timeout" {
		t.Errorf("last error = %q", h.LastError)
	}

	// Unknown domain returns a fresh active record.
	fresh, err := s.Get(ctx, "inconnu.fr")
	if err != nil {
		t.Fatalf("Get unknown: %v", err)
	}
	if fresh.Status != core.StatusActive || fresh.Total != 0 {
		t.Errorf("fresh record = %+v", fresh)
	}
}

func TestRedisStoreBlacklist(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	if err := s.Blacklist(ctx, "mort.fr", "Timeout after 45s"); err != nil {
		t.Fatalf("Blacklist: %v", err)
	}

	ok, err := s.IsBlacklisted(ctx, "mort.fr")
	if err != nil || !ok {
		t.Fatalf("IsBlacklisted = %v, %v", ok, err)
	}

	h, _ := s.Get(ctx, "mort.fr")
	if h.Status != core.StatusBlacklisted {
		t.Errorf("status = %s, want blacklisted", h.Status)
	}
	if h.LastError != "Timeout after 45s" {
		t.Errorf("reason = %q", h.LastError)
	}

	if err := s.Unblacklist(ctx, "mort.fr"); err != nil {
		t.Fatalf("Unblacklist: %v", err)
	}
	ok, _ = s.IsBlacklisted(ctx, "mort.fr")
	if ok {
		t.Error("still blacklisted after Unblacklist")
	}
	h, _ = s.Get(ctx, "mort.fr")
	if h.Status != core.StatusActive {
		t.Errorf("status after unblacklist = %s, want active", h.Status)
	}
}

func TestRedisStoreEmptyRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	n, err := s.RecordEmpty(ctx, "vide.fr")
	if err != nil || n != 1 {
		t.Fatalf("first empty run = %d, %v", n, err)
	}
	n, _ = s.RecordEmpty(ctx, "vide.fr")
	if n != 2 {
		t.Fatalf("second empty run = %d, want 2", n)
	}

	// A success resets the streak.
	_ = s.RecordSuccess(ctx, "vide.fr")
	h, _ := s.Get(ctx, "vide.fr")
	if h.EmptyRuns != 0 {
		t.Errorf("empty runs after success = %d, want 0", h.EmptyRuns)
	}
}

func TestRedisStoreDiscovered(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	src := core.Source{Domain: "remplacant.fr", Name: "Remplaçant", AutoDiscovered: true}
	if err := s.SaveDiscovered(ctx, src, "mort.fr"); err != nil {
		t.Fatalf("SaveDiscovered: %v", err)
	}

	list, err := s.Discovered(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("Discovered = %v, %v", list, err)
	}
	if list[0].Domain != "remplacant.fr" {
		t.Errorf("discovered domain = %s", list[0].Domain)
	}

	n, err := s.DiscoveredCount(ctx)
	if err != nil || n != 1 {
		t.Errorf("DiscoveredCount = %d, %v", n, err)
	}

	h, _ := s.Get(ctx, "remplacant.fr")
	if h.Status != core.StatusDiscovered || h.ReplacesDomain != "mort.fr" {
		t.Errorf("health = %+v", h)
	}
}

func TestRedisStoreGetAllAndReport(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	_ = s.RecordSuccess(ctx, "a.fr")
	_ = s.RecordFailure(ctx, "b.fr", "500")
	_ = s.Blacklist(ctx, "c.fr", "opérateur")

	all, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("GetAll returned %d records, want 3", len(all))
	}

	report, err := s.Report(ctx)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if len(report.Blacklisted) != 1 || report.Blacklisted[0].Domain != "c.fr" {
		t.Errorf("blacklisted bucket = %+v", report.Blacklisted)
	}
}
