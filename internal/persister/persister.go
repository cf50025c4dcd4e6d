// Package persister writes finished syntheses to the vector store and marks
// the consumed articles. The synthesis is the only durable long-form
// artifact; articles keep nothing but their consumption marker.
package persister

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"veilleur/internal/core"
	"veilleur/internal/logger"
	"veilleur/internal/vectorstore"
)

// deterministicID derives a stable point id from an article URL, so the same
// article re-collected on a later run lands on the same point.
func deterministicID(rawURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(NormalizeURL(rawURL))).String()
}

// Persister upserts syntheses and maintains the article consumption markers.
type Persister struct {
	store vectorstore.Store
}

// New creates a persister over the given store.
func New(store vectorstore.Store) *Persister {
	return &Persister{store: store}
}

// Persist writes the base synthesis and, when present, its persona variant.
// The base goes first so the variant's base_synthesis_id always points at an
// existing row. After the write every consumed article URL is marked
// best-effort; marking failures are logged and never roll the write back.
func (p *Persister) Persist(ctx context.Context, base core.Synthesis, variant *core.Synthesis) error {
	if err := p.upsert(ctx, base); err != nil {
		return err
	}
	if variant != nil {
		if err := p.upsert(ctx, *variant); err != nil {
			return err
		}
	}
	p.markConsumed(ctx, base)
	return nil
}

func (p *Persister) upsert(ctx context.Context, s core.Synthesis) error {
	payload, err := EncodeSynthesis(s)
	if err != nil {
		return err
	}
	point := vectorstore.Point{ID: s.ID, Vector: s.Embedding, Payload: payload}
	return p.store.Upsert(ctx, vectorstore.CollectionSyntheses, []vectorstore.Point{point})
}

// markConsumed stamps used_in_synthesis_id on every article point whose URL
// the synthesis consumed. Lookup tries several normalizations because stored
// URLs and feed URLs rarely agree byte for byte.
func (p *Persister) markConsumed(ctx context.Context, s core.Synthesis) {
	for _, ref := range s.Sources {
		if ref.URL == "" {
			continue
		}
		id, found := p.findArticle(ctx, ref.URL)
		if !found {
			logger.Debug("Article not stored, consumption marker skipped", "url", ref.URL, "synthesis", s.ID)
			continue
		}
		err := p.store.SetPayload(ctx, vectorstore.CollectionArticles, []string{id}, map[string]any{
			KeyUsedInSynthesis: s.ID,
		})
		if err != nil {
			logger.Debug("Consumption marker write failed", "url", ref.URL, "error", err)
		}
	}
}

// findArticle looks an article point up by URL, trying the normalization
// strategies in order: exact, lowercased without trailing slash, URL-decoded,
// then domain+path match.
func (p *Persister) findArticle(ctx context.Context, rawURL string) (string, bool) {
	candidates := []struct{ key, value string }{
		{KeyURL, rawURL},
		{KeyURLNormalized, NormalizeURL(rawURL)},
	}
	if decoded, err := url.QueryUnescape(rawURL); err == nil && decoded != rawURL {
		candidates = append(candidates, struct{ key, value string }{KeyURLNormalized, NormalizeURL(decoded)})
	}
	if dp := domainPath(rawURL); dp != "" {
		candidates = append(candidates, struct{ key, value string }{"domain_path", dp})
	}

	for _, c := range candidates {
		filter := &vectorstore.Filter{Must: []vectorstore.Condition{{Key: c.key, Match: c.value}}}
		points, _, err := p.store.Scroll(ctx, vectorstore.CollectionArticles, filter, 1, "")
		if err != nil {
			logger.Debug("Article lookup failed", "url", rawURL, "error", err)
			return "", false
		}
		if len(points) > 0 {
			return points[0].ID, true
		}
	}
	return "", false
}

// StoreArticleMarkers upserts the minimal article points: embedding, URL in
// its normalized forms and an empty consumption marker. Called once per run
// for the clustered articles so later runs can resolve continuity and
// consumption against them.
func (p *Persister) StoreArticleMarkers(ctx context.Context, ids []string, articles []core.Article) error {
	if len(ids) != len(articles) {
		ids = make([]string, len(articles))
	}
	points := make([]vectorstore.Point, 0, len(articles))
	for i, a := range articles {
		id := ids[i]
		if id == "" {
			id = deterministicID(a.URL)
		}
		points = append(points, vectorstore.Point{
			ID:     id,
			Vector: a.Embedding,
			Payload: map[string]any{
				KeyURL:             a.URL,
				KeyURLNormalized:   NormalizeURL(a.URL),
				"domain_path":      domainPath(a.URL),
				KeyDomain:          a.Domain,
				"published":        a.Published.UTC().Format(time.RFC3339),
				KeyUsedInSynthesis: a.UsedInSynthesisID,
			},
		})
	}
	return p.store.Upsert(ctx, vectorstore.CollectionArticles, points)
}

// NormalizeURL lowercases a URL and strips the trailing slash and fragment.
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSuffix(s, "/")
}

// domainPath reduces a URL to host+path, ignoring scheme and query.
func domainPath(raw string) string {
	u, err := url.Parse(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	return host + strings.TrimSuffix(u.Path, "/")
}
