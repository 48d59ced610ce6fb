package events

import "testing"

func TestLedgerCycleAbortedEvent(t *testing.T) {
	id := uint64(7)
	evt := LedgerCycleAborted{CycleID: "c1", Reason: "position at risk", PositionID: &id}.Event()
	if evt.Type != TypeLedgerCycleAborted {
		t.Fatalf("unexpected type %s", evt.Type)
	}
	if evt.Attr("positionId") != "7" || evt.Attr("cycleId") != "c1" {
		t.Fatalf("unexpected attributes %+v", evt.Attributes)
	}

	plain := LedgerCycleAborted{CycleID: "c2", Reason: "action failed"}.Event()
	if _, ok := plain.Attributes["positionId"]; ok {
		t.Fatalf("positionId must be omitted without a position")
	}
}

func TestLedgerCycleCommittedDefaults(t *testing.T) {
	evt := LedgerCycleCommitted{CycleID: "c1", Touched: 2}.Event()
	if evt.Attr("interest") != "0" || evt.Attr("touched") != "2" {
		t.Fatalf("unexpected attributes %+v", evt.Attributes)
	}
}

func TestRecorderLimit(t *testing.T) {
	rec := NewRecorder(2)
	rec.Emit(LedgerPositionOpened{ID: 1})
	rec.Emit(LedgerPositionOpened{ID: 2})
	rec.Emit(LedgerPositionClosed{ID: 1})
	got := rec.Events()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].EventType() != TypeLedgerPositionOpened || got[1].EventType() != TypeLedgerPositionClosed {
		t.Fatalf("unexpected order %v", got)
	}
}
