// Package health tracks per-domain success and failure of the collectors.
// The record of truth lives in redis; a JSON snapshot on disk is the fallback
// for restarts and for operator inspection.
package health

import (
	"context"
	"time"

	"veilleur/internal/core"
)

// Store is the persistence contract for source health. Implementations
// serialize their writes; reads may be slightly stale.
type Store interface {
	// Get returns the health record for a domain, creating a zeroed active
	// record when the domain is unknown.
	Get(ctx context.Context, domain string) (core.SourceHealth, error)

	// GetAll returns every known health record.
	GetAll(ctx context.Context) ([]core.SourceHealth, error)

	// RecordSuccess notes an attempt that yielded at least one article.
	RecordSuccess(ctx context.Context, domain string) error

	// RecordFailure notes a failed attempt with its reason.
	RecordFailure(ctx context.Context, domain, reason string) error

	// RecordEmpty notes an attempt that yielded zero articles and returns
	// the consecutive empty-run count for the domain.
	RecordEmpty(ctx context.Context, domain string) (int, error)

	// Blacklist removes a domain from rotation.
	Blacklist(ctx context.Context, domain, reason string) error

	// Unblacklist returns a domain to rotation with status active.
	Unblacklist(ctx context.Context, domain string) error

	// IsBlacklisted reports whether a domain is out of rotation.
	IsBlacklisted(ctx context.Context, domain string) (bool, error)

	// Blacklisted returns all blacklisted domains.
	Blacklisted(ctx context.Context) ([]string, error)

	// SaveDiscovered records a source injected by auto-discovery.
	SaveDiscovered(ctx context.Context, src core.Source, replaces string) error

	// Discovered returns all discovery-injected sources.
	Discovered(ctx context.Context) ([]core.Source, error)

	// DiscoveredCount returns how many sources discovery has injected,
	// used to enforce the global discovery cap.
	DiscoveredCount(ctx context.Context) (int, error)

	// Report returns the categorized health buckets for operator tooling.
	Report(ctx context.Context) (Report, error)
}

// Report groups health records by status.
type Report struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Active      []core.SourceHealth `json:"active"`
	Degraded    []core.SourceHealth `json:"degraded"`
	Blocked     []core.SourceHealth `json:"blocked"`
	Blacklisted []core.SourceHealth `json:"blacklisted"`
	Discovered  []core.SourceHealth `json:"discovered"`
}

// Counts returns the bucket sizes in status order.
func (r Report) Counts() (active, degraded, blocked, blacklisted, discovered int) {
	return len(r.Active), len(r.Degraded), len(r.Blocked), len(r.Blacklisted), len(r.Discovered)
}

const rollingWindow = 7 * 24 * time.Hour

// rollWindow resets the 7-day counters once the window has elapsed.
func rollWindow(h *core.SourceHealth, now time.Time) {
	if h.WindowStart.IsZero() {
		h.WindowStart = now
		return
	}
	if now.Sub(h.WindowStart) > rollingWindow {
		h.WindowStart = now
		h.WeekSuccesses = 0
		h.WeekFailures = 0
	}
}

// applySuccess mutates a record for a successful attempt and derives the new
// status: degraded sources recover at a 0.7 success rate, discovered sources
// graduate to active on their first success.
func applySuccess(h *core.SourceHealth, now time.Time) {
	rollWindow(h, now)
	h.Total++
	h.Successful++
	h.WeekSuccesses++
	h.LastSuccess = now
	h.EmptyRuns = 0

	switch h.Status {
	case core.StatusDiscovered:
		h.Status = core.StatusActive
	case core.StatusDegraded:
		if h.SuccessRate() >= 0.7 {
			h.Status = core.StatusActive
		}
	case "":
		h.Status = core.StatusActive
	}
}

// applyFailure mutates a record for a failed attempt: active sources degrade
// below a 0.5 success rate, degraded sources block after 5 failures with no
// success inside the rolling week.
func applyFailure(h *core.SourceHealth, reason string, now time.Time) {
	rollWindow(h, now)
	h.Total++
	h.Failed++
	h.WeekFailures++
	h.LastFailure = now
	h.LastError = reason

	switch h.Status {
	case core.StatusActive, "":
		h.Status = core.StatusActive
		if h.SuccessRate() < 0.5 {
			h.Status = core.StatusDegraded
		}
	case core.StatusDegraded:
		if h.WeekFailures >= 5 && h.WeekSuccesses == 0 {
			h.Status = core.StatusBlocked
		}
	}
}

func newRecord(domain string) core.SourceHealth {
	return core.SourceHealth{Domain: domain, Status: core.StatusActive}
}

func buildReport(records []core.SourceHealth, now time.Time) Report {
	r := Report{GeneratedAt: now}
	for _, h := range records {
		switch h.Status {
		case core.StatusDegraded:
			r.Degraded = append(r.Degraded, h)
		case core.StatusBlocked:
			r.Blocked = append(r.Blocked, h)
		case core.StatusBlacklisted:
			r.Blacklisted = append(r.Blacklisted, h)
		case core.StatusDiscovered:
			r.Discovered = append(r.Discovered, h)
		default:
			r.Active = append(r.Active, h)
		}
	}
	return r
}
