package pipeline

import (
	"errors"
	"testing"

	"veilleur/internal/broker"
	"veilleur/internal/core"
	"veilleur/internal/runlock"
)

func TestManagerIdleStatus(t *testing.T) {
	p, _ := newTestPipeline(t, &stubCollector{}, nil, nil, Options{})
	m := NewManager(p, nil)

	st := m.Status()
	if st.Running || st.Status != core.RunIdle || st.Last != nil {
		t.Errorf("fresh manager status = %+v", st)
	}
	if m.Stop() {
		t.Error("Stop on an idle manager reported success")
	}
	m.Wait() // must not block
}

func TestManagerRejectsConcurrentStart(t *testing.T) {
	collector := &stubCollector{block: true, started: make(chan struct{})}
	p, _ := newTestPipeline(t, collector, nil, nil, Options{})
	m := NewManager(p, nil)

	runID, err := m.Start(RunOptions{Mode: core.ModeScrape})
	if err != nil || runID == "" {
		t.Fatalf("Start: %v (id %q)", err, runID)
	}
	<-collector.started

	if _, err := m.Start(RunOptions{Mode: core.ModeScrape}); !errors.Is(err, runlock.ErrPipelineBusy) {
		t.Fatalf("second Start error = %v, want ErrPipelineBusy", err)
	}

	if !m.Stop() {
		t.Fatal("Stop on a running manager reported nothing to stop")
	}
	m.Wait()

	st := m.Status()
	if st.Running {
		t.Error("manager still running after Wait")
	}
	if st.Status != core.RunCancelled {
		t.Errorf("Status = %s, want cancelled", st.Status)
	}
	if st.Last == nil || st.Last.Status != core.RunCancelled {
		t.Errorf("Last = %+v, want a cancelled summary", st.Last)
	}
}

func TestManagerRunsSequentially(t *testing.T) {
	p, _ := newTestPipeline(t, &stubCollector{}, nil, nil, Options{})
	m := NewManager(p, nil)

	first, err := m.Start(RunOptions{Mode: core.ModeScrape})
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	m.Wait()

	// The lock must be free again once the run is over.
	second, err := m.Start(RunOptions{Mode: core.ModeScrape})
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if second == first {
		t.Error("run ids not unique across runs")
	}
	m.Wait()

	st := m.Status()
	if st.Status != core.RunCompleted || st.Last == nil {
		t.Errorf("status after two runs = %+v", st)
	}
	if st.Last.RunID != second {
		t.Errorf("Last.RunID = %s, want %s", st.Last.RunID, second)
	}
}

func TestManagerLogsPagination(t *testing.T) {
	p, _ := newTestPipeline(t, &stubCollector{}, nil, nil, Options{})
	m := NewManager(p, nil)

	if _, err := m.Start(RunOptions{Mode: core.ModeScrape}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.Wait()

	logs := m.Logs(0, 0)
	if len(logs) == 0 {
		t.Fatal("no log events after a run")
	}
	for _, ev := range logs {
		if ev.Type != broker.EventLog && ev.Type != broker.EventError {
			t.Errorf("Logs leaked a %s event", ev.Type)
		}
	}

	if page := m.Logs(1, 0); len(page) != 1 || page[0].Seq != logs[0].Seq {
		t.Errorf("Logs(1, 0) = %d events", len(page))
	}
	if page := m.Logs(10, len(logs)+5); page != nil {
		t.Errorf("Logs beyond the end = %d events, want none", len(page))
	}
}

func TestSimulationRun(t *testing.T) {
	m := NewSimulation()

	runID, err := m.Start(RunOptions{Mode: core.ModeSimulation})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.Wait()

	st := m.Status()
	if st.Status != core.RunCompleted {
		t.Fatalf("Status = %s, want completed", st.Status)
	}
	if st.Last == nil {
		t.Fatal("no summary after simulation run")
	}
	sum := *st.Last
	if sum.RunID != runID {
		t.Errorf("RunID = %s, want %s", sum.RunID, runID)
	}
	if sum.ArticlesCollected != 8 {
		t.Errorf("ArticlesCollected = %d, want the whole fixture corpus", sum.ArticlesCollected)
	}
	if sum.ClustersFound < 2 {
		t.Errorf("ClustersFound = %d, want at least the two big stories", sum.ClustersFound)
	}
	if sum.SynthesesCreated < 2 {
		t.Errorf("SynthesesCreated = %d, want >= 2", sum.SynthesesCreated)
	}
	if sum.SynthesesCreated != sum.ClustersFound {
		t.Errorf("created %d of %d clusters on an empty store", sum.SynthesesCreated, sum.ClustersFound)
	}
	if sum.TotalCostUSD <= 0 {
		t.Error("simulation run accounted no cost")
	}

	events := m.Events().Snapshot()
	if len(events) == 0 || events[len(events)-1].Type != broker.EventCompleted {
		t.Error("simulation run did not end with a completed event")
	}
}
