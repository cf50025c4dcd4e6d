package broker

import (
	"testing"
	"time"
)

func TestPublishAndSubscribe(t *testing.T) {
	b := New(10)
	b.StartRun("run-1")

	ch, cancel := b.Subscribe()
	defer cancel()

	b.Log("info", "collect", "démarrage")

	select {
	case ev := <-ch:
		if ev.Type != EventLog {
			t.Errorf("event type = %s, want %s", ev.Type, EventLog)
		}
		if ev.RunID != "run-1" {
			t.Errorf("run id = %s, want run-1", ev.RunID)
		}
		if ev.Seq != 1 {
			t.Errorf("seq = %d, want 1", ev.Seq)
		}
		if ev.Message != "démarrage" {
			t.Errorf("message = %q", ev.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestLateSubscriberGetsReplay(t *testing.T) {
	b := New(10)
	b.StartRun("run-1")

	b.Progress("collect", 10)
	b.Progress("collect", 50)
	b.Progress("collect", 100)

	ch, cancel := b.Subscribe()
	defer cancel()

	for i, want := range []float64{10, 50, 100} {
		select {
		case ev := <-ch:
			if ev.Percent != want {
				t.Errorf("replay event %d percent = %v, want %v", i, ev.Percent, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("replay event %d missing", i)
		}
	}
}

func TestRingBufferDiscardsOldest(t *testing.T) {
	b := New(3)
	b.StartRun("run-1")

	for i := 0; i < 5; i++ {
		b.Progress("collect", float64(i))
	}

	snap := b.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot size = %d, want 3", len(snap))
	}
	if snap[0].Percent != 2 || snap[2].Percent != 4 {
		t.Errorf("ring kept wrong events: first=%v last=%v", snap[0].Percent, snap[2].Percent)
	}
	if snap[0].Seq != 3 {
		t.Errorf("oldest retained seq = %d, want 3", snap[0].Seq)
	}
}

func TestStartRunResetsBuffer(t *testing.T) {
	b := New(10)
	b.StartRun("run-1")
	b.Log("info", "collect", "premier")

	b.StartRun("run-2")
	if got := len(b.Snapshot()); got != 0 {
		t.Errorf("buffer after reset has %d events, want 0", got)
	}

	b.Log("info", "collect", "second")
	snap := b.Snapshot()
	if len(snap) != 1 || snap[0].RunID != "run-2" || snap[0].Seq != 1 {
		t.Errorf("first event of new run = %+v", snap[0])
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New(2)
	b.StartRun("run-1")

	// Never drained; capacity is bufferSize*2 = 4.
	_, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			b.Progress("collect", float64(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	if b.Dropped() == 0 {
		t.Error("expected dropped events for the slow subscriber")
	}
}

func TestCancelClosesChannel(t *testing.T) {
	b := New(5)
	b.StartRun("run-1")

	ch, cancel := b.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}

	// Publishing after cancel must not panic.
	b.Log("info", "collect", "après annulation")
}
