package cost

import "testing"

func TestLedgerAccumulates(t *testing.T) {
	l := NewLedger(1.0)
	l.Add(StageGeneration, 0.25)
	l.Add(StageGeneration, 0.25)
	l.Add(StagePersona, 0.10)
	l.Add(StageEnrichment, -3) // Ignored

	if got := l.Total(); got != 0.60 {
		t.Errorf("Total = %v, want 0.60", got)
	}
	if l.Exceeded() {
		t.Error("budget not reached yet")
	}
	if got := l.Remaining(); got != 0.40 {
		t.Errorf("Remaining = %v, want 0.40", got)
	}

	l.Add(StageGeneration, 0.50)
	if !l.Exceeded() {
		t.Error("budget should be exceeded")
	}
	if got := l.Remaining(); got != 0 {
		t.Errorf("Remaining = %v, want 0", got)
	}
}

func TestLedgerUnlimitedBudget(t *testing.T) {
	l := NewLedger(0)
	l.Add(StageGeneration, 1000)
	if l.Exceeded() {
		t.Error("ledger without budget never reports exceeded")
	}
}

func TestLedgerBreakdown(t *testing.T) {
	l := NewLedger(0)
	l.Add(StagePersona, 0.2)
	l.Add(StageGeneration, 0.1)

	entries := l.Breakdown()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	// Ordered by stage name.
	if entries[0].Stage != StageGeneration || entries[1].Stage != StagePersona {
		t.Errorf("order = %v", entries)
	}
}
