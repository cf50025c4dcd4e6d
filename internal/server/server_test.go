package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"veilleur/internal/broker"
	"veilleur/internal/categorize"
	"veilleur/internal/clustering"
	"veilleur/internal/config"
	"veilleur/internal/contextbuild"
	"veilleur/internal/continuity"
	"veilleur/internal/core"
	"veilleur/internal/embed"
	"veilleur/internal/generator"
	"veilleur/internal/health"
	"veilleur/internal/llm"
	"veilleur/internal/persister"
	"veilleur/internal/persona"
	"veilleur/internal/pipeline"
	"veilleur/internal/scrape"
	"veilleur/internal/sources"
	"veilleur/internal/vectorstore"
)

// blockingCollector parks until the run is cancelled, so tests can observe
// the busy state.
type blockingCollector struct {
	once    sync.Once
	started chan struct{}
}

func (c *blockingCollector) Collect(ctx context.Context, domains []string, _ scrape.RescueFunc) ([]core.Article, scrape.Stats, error) {
	if c.started != nil {
		c.once.Do(func() { close(c.started) })
	}
	<-ctx.Done()
	return nil, scrape.Stats{Attempted: len(domains)}, ctx.Err()
}

func newTestServer(t *testing.T, token string, collector pipeline.Collector) (*Server, *pipeline.Manager, health.Store) {
	t.Helper()
	client := llm.NewScriptedClient()
	store := vectorstore.NewMemoryStore()
	events := broker.New(100)
	healthStore := health.NewMemoryStore()

	p := pipeline.New(pipeline.Deps{
		Registry:   sources.NewRegistry(),
		Health:     healthStore,
		Store:      store,
		Events:     events,
		Collector:  collector,
		Embedder:   embed.New(client, events, 0),
		Past:       continuity.NewSelector(store, 0),
		Engine:     clustering.NewEngine(clustering.Params{}),
		Decider:    continuity.NewDecider(store, continuity.Params{}),
		Builder:    contextbuild.NewBuilder(nil, contextbuild.Options{}),
		Generator:  generator.New(client, generator.Options{}),
		Classifier: categorize.NewClassifier(nil),
		Personas:   persona.NewSelector(nil, nil, nil, 1),
		Persister:  persister.New(store),
	}, pipeline.Options{})
	m := pipeline.NewManager(p, nil)

	s := New(Deps{Manager: m, Health: healthStore}, config.Server{
		Addr:       ":0",
		AdminToken: token,
	})
	return s, m, healthStore
}

func doJSON(t *testing.T, s *Server, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader = strings.NewReader(body)
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("%s %s: undecodable body %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, "", &blockingCollector{})

	rec, body := doJSON(t, s, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("GET /health = %d %v", rec.Code, body)
	}
}

func TestMutatingRoutesNeedToken(t *testing.T) {
	// No token configured: the mutating surface is off.
	s, _, _ := newTestServer(t, "", &blockingCollector{})
	rec, _ := doJSON(t, s, http.MethodPost, "/api/pipeline/start", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("start without configured token = %d, want 503", rec.Code)
	}

	// Token configured: wrong or absent credentials are rejected.
	s, _, _ = newTestServer(t, "secret", &blockingCollector{})
	if rec, _ := doJSON(t, s, http.MethodPost, "/api/pipeline/start", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("start without header = %d, want 401", rec.Code)
	}
	if rec, _ := doJSON(t, s, http.MethodPost, "/api/pipeline/stop", "wrong", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("stop with wrong token = %d, want 401", rec.Code)
	}

	// Read-only routes stay open.
	if rec, _ := doJSON(t, s, http.MethodGet, "/api/pipeline/status", "", ""); rec.Code != http.StatusOK {
		t.Errorf("status without token = %d, want 200", rec.Code)
	}
}

func TestStartValidation(t *testing.T) {
	s, _, _ := newTestServer(t, "secret", &blockingCollector{})

	if rec, _ := doJSON(t, s, http.MethodPost, "/api/pipeline/start", "secret", `{"mode":"TURBO"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown mode = %d, want 400", rec.Code)
	}
	if rec, _ := doJSON(t, s, http.MethodPost, "/api/pipeline/start", "secret", `{"mode":"TOPIC"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("TOPIC without topics = %d, want 400", rec.Code)
	}
	if rec, _ := doJSON(t, s, http.MethodPost, "/api/pipeline/start", "secret", `{not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body = %d, want 400", rec.Code)
	}
}

func TestStartBusyStopLifecycle(t *testing.T) {
	collector := &blockingCollector{started: make(chan struct{})}
	s, m, _ := newTestServer(t, "secret", collector)

	rec, body := doJSON(t, s, http.MethodPost, "/api/pipeline/start", "secret", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start = %d %v, want 202", rec.Code, body)
	}
	runID, _ := body["run_id"].(string)
	if runID == "" {
		t.Fatal("start returned no run_id")
	}
	<-collector.started

	if rec, _ := doJSON(t, s, http.MethodPost, "/api/pipeline/start", "secret", ""); rec.Code != http.StatusConflict {
		t.Errorf("start while busy = %d, want 409", rec.Code)
	}

	rec, _ = doJSON(t, s, http.MethodGet, "/api/pipeline/status", "", "")
	var st struct {
		Running bool   `json:"running"`
		RunID   string `json:"run_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("status body: %v", err)
	}
	if !st.Running || st.RunID != runID {
		t.Errorf("status = %+v, want running run %s", st, runID)
	}

	if rec, _ := doJSON(t, s, http.MethodPost, "/api/pipeline/stop", "secret", ""); rec.Code != http.StatusOK {
		t.Errorf("stop = %d, want 200", rec.Code)
	}
	m.Wait()

	if rec, _ := doJSON(t, s, http.MethodPost, "/api/pipeline/stop", "secret", ""); rec.Code != http.StatusConflict {
		t.Errorf("stop while idle = %d, want 409", rec.Code)
	}

	rec, _ = doJSON(t, s, http.MethodGet, "/api/pipeline/logs?limit=5", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("logs = %d, want 200", rec.Code)
	}
}

func TestSourcesHealthAndBlacklist(t *testing.T) {
	s, _, healthStore := newTestServer(t, "secret", &blockingCollector{})
	ctx := context.Background()

	if err := healthStore.RecordSuccess(ctx, "lemonde.fr"); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	if err := healthStore.Blacklist(ctx, "panne.fr", "quatre échecs consécutifs"); err != nil {
		t.Fatalf("Blacklist: %v", err)
	}

	rec, _ := doJSON(t, s, http.MethodGet, "/api/sources/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("sources health = %d", rec.Code)
	}
	var report health.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("report body: %v", err)
	}
	if len(report.Active) != 1 || len(report.Blacklisted) != 1 {
		t.Errorf("report buckets = %d active / %d blacklisted, want 1 / 1", len(report.Active), len(report.Blacklisted))
	}

	rec, body := doJSON(t, s, http.MethodGet, "/api/sources/blacklist", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("blacklist = %d", rec.Code)
	}
	domains, _ := body["domains"].([]any)
	if len(domains) != 1 || domains[0] != "panne.fr" {
		t.Errorf("blacklist domains = %v", domains)
	}

	if rec, _ := doJSON(t, s, http.MethodDelete, "/api/sources/blacklist/panne.fr", "secret", ""); rec.Code != http.StatusOK {
		t.Errorf("unblacklist = %d, want 200", rec.Code)
	}
	if rec, _ := doJSON(t, s, http.MethodDelete, "/api/sources/blacklist/panne.fr", "secret", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unblacklist again = %d, want 404", rec.Code)
	}

	blacklisted, err := healthStore.IsBlacklisted(ctx, "panne.fr")
	if err != nil || blacklisted {
		t.Errorf("panne.fr still blacklisted (%v)", err)
	}
}

func TestDiscoverDisabled(t *testing.T) {
	s, _, _ := newTestServer(t, "secret", &blockingCollector{})

	rec, _ := doJSON(t, s, http.MethodPost, "/api/sources/discover", "secret", `{"domain":"panne.fr"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("discover without discoverer = %d, want 503", rec.Code)
	}
}
