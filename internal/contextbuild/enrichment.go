package contextbuild

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"veilleur/internal/core"
	"veilleur/internal/logger"
	"veilleur/internal/research"
	"veilleur/internal/resilience"
	"veilleur/internal/social"
)

// Gate reasons, reported on the synthesis for operator visibility.
const (
	ReasonScrapeSuccess  = "scrape_success"
	ReasonMinorTopic     = "minor_topic"
	ReasonUrgentBreaking = "urgent_breaking"
	ReasonUrgentHot      = "urgent_hot"
	ReasonTier1Failed    = "tier1_scrape_failed"
	ReasonCostControl    = "cost_control"
)

// breakingKeywords triggers the urgent path on title match.
var breakingKeywords = []string{
	"breaking", "urgent", "alerte", "en direct", "dernière minute",
	"attentat", "explosion", "séisme", "crash", "démission", "just in",
}

// GateDecision is the enrichment verdict for one cluster.
type GateDecision struct {
	UseSearch bool
	Reason    string
}

// GateEnrichment decides whether a cluster is worth two extra backend calls.
// Urgency wins over cost; comfortable scrapes and minor topics stay cheap.
func GateEnrichment(cluster core.Cluster, budgetExceeded bool) GateDecision {
	for _, a := range cluster.Articles {
		title := strings.ToLower(a.Title)
		for _, kw := range breakingKeywords {
			if strings.Contains(title, kw) {
				return GateDecision{UseSearch: true, Reason: ReasonUrgentBreaking}
			}
		}
	}

	if budgetExceeded {
		return GateDecision{UseSearch: false, Reason: ReasonCostControl}
	}

	// A tier-1 source that only yielded partial content means the scrape
	// missed substance worth recovering.
	for _, a := range cluster.Articles {
		if a.Tier == core.TierMajor && (a.Method == core.ExtractScrapePartial || a.Method == core.ExtractRSSMetadata) {
			return GateDecision{UseSearch: true, Reason: ReasonTier1Failed}
		}
	}

	if len(cluster.Articles) >= 5 {
		return GateDecision{UseSearch: true, Reason: ReasonUrgentHot}
	}

	allMinor := true
	for _, a := range cluster.Articles {
		if a.Tier != core.TierMinor {
			allMinor = false
			break
		}
	}
	if allMinor {
		return GateDecision{UseSearch: false, Reason: ReasonMinorTopic}
	}

	return GateDecision{UseSearch: false, Reason: ReasonScrapeSuccess}
}

// Enrichment is the combined result of the web-research and social calls.
type Enrichment struct {
	Status   core.EnrichmentStatus `json:"status"`
	Reason   string                `json:"reason"`
	Research *research.Report      `json:"research,omitempty"`
	Social   *social.Pulse         `json:"social,omitempty"`
}

// Enricher fans the two enrichment calls out in parallel, each behind its
// own circuit breaker. Failures degrade the block to partial; they never
// fail the cluster.
type Enricher struct {
	research        research.Provider
	social          social.Analyzer
	researchBreaker *resilience.Breaker
	socialBreaker   *resilience.Breaker
	retry           resilience.RetryConfig
	timeout         time.Duration
}

// NewEnricher wires the two providers. Either may be nil; a nil provider
// simply contributes nothing.
func NewEnricher(researchProvider research.Provider, socialAnalyzer social.Analyzer, timeout time.Duration) *Enricher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Enricher{
		research:        researchProvider,
		social:          socialAnalyzer,
		researchBreaker: resilience.NewBreaker("web-research", resilience.BreakerConfig{}),
		socialBreaker:   resilience.NewBreaker("social-sentiment", resilience.BreakerConfig{}),
		retry:           resilience.DefaultRetryConfig(),
		timeout:         timeout,
	}
}

// Enrich runs both calls for the given topic. The returned status is
// complete when every wired provider answered, partial otherwise.
func (e *Enricher) Enrich(ctx context.Context, topic string, gate GateDecision) *Enrichment {
	out := &Enrichment{Status: core.EnrichmentComplete, Reason: gate.Reason}
	if !gate.UseSearch {
		out.Status = core.EnrichmentDisabled
		return out
	}

	var report research.Report
	var pulse social.Pulse
	var researchErr, socialErr error

	g, gctx := errgroup.WithContext(ctx)
	if e.research != nil {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, e.timeout)
			defer cancel()
			researchErr = resilience.Call(cctx, e.researchBreaker, e.retry, func() error {
				var err error
				report, err = e.research.Search(cctx, topic, 2000)
				return err
			})
			return nil
		})
	}
	if e.social != nil {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, e.timeout)
			defer cancel()
			socialErr = resilience.Call(cctx, e.socialBreaker, e.retry, func() error {
				var err error
				pulse, err = e.social.Analyze(cctx, topic, 1000)
				return err
			})
			return nil
		})
	}
	_ = g.Wait()

	if e.research != nil {
		if researchErr != nil {
			logger.Debug("Web research enrichment failed", "topic", topic, "error", researchErr)
			out.Status = core.EnrichmentPartial
		} else {
			out.Research = &report
		}
	}
	if e.social != nil {
		if socialErr != nil {
			logger.Debug("Social enrichment failed", "topic", topic, "error", socialErr)
			out.Status = core.EnrichmentPartial
		} else {
			out.Social = &pulse
		}
	}
	if out.Research == nil && out.Social == nil {
		out.Status = core.EnrichmentPartial
	}
	return out
}
