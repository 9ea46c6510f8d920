package positions

import (
	"context"
	"testing"

	"tradingcore/internal/engine/events"
)

func TestOpenOrUpdateCreatesOpeningPosition(t *testing.T) {
	tr := NewTracker(events.NewBus())

	pos := tr.OpenOrUpdate(context.Background(), "AAPL", SideBuy, 100, 150.0, "ord-1", RoleMain)

	if pos.Status != StatusOpening {
		t.Errorf("expected OPENING, got %s", pos.Status)
	}
	if pos.NetQty != 100 {
		t.Errorf("expected net qty 100, got %d", pos.NetQty)
	}
	if len(pos.MainOrderIDs) != 1 || pos.MainOrderIDs[0] != "ord-1" {
		t.Errorf("expected main order attached, got %v", pos.MainOrderIDs)
	}
}

func TestOpenOrUpdateMergesIntoExistingPosition(t *testing.T) {
	tr := NewTracker(events.NewBus())
	ctx := context.Background()

	tr.OpenOrUpdate(ctx, "AAPL", SideBuy, 100, 100.0, "ord-1", RoleMain)
	second := tr.OpenOrUpdate(ctx, "AAPL", SideBuy, 100, 200.0, "ord-2", RoleDoubleDown)

	if second.Status != StatusOpen {
		t.Errorf("expected OPEN after second fill, got %s", second.Status)
	}
	if second.NetQty != 200 {
		t.Errorf("expected net qty 200, got %d", second.NetQty)
	}
	if second.EntryPrice != 150.0 {
		t.Errorf("expected weighted entry price 150, got %v", second.EntryPrice)
	}
}

func TestAtMostOnePositionPerSymbol(t *testing.T) {
	tr := NewTracker(events.NewBus())
	ctx := context.Background()

	tr.OpenOrUpdate(ctx, "AAPL", SideBuy, 100, 100.0, "ord-1", RoleMain)
	tr.OpenOrUpdate(ctx, "AAPL", SideBuy, 50, 101.0, "ord-2", RoleScale)

	if len(tr.Summary()) != 1 {
		t.Fatalf("expected exactly one active position for AAPL, got %d", len(tr.Summary()))
	}
}

func TestRecordProtectiveFillClosesAtNetZero(t *testing.T) {
	tr := NewTracker(events.NewBus())
	ctx := context.Background()

	tr.OpenOrUpdate(ctx, "AAPL", SideBuy, 100, 100.0, "ord-1", RoleMain)
	tr.RecordProtectiveFill(ctx, "AAPL", 100, "target")

	if _, err := tr.GetBySymbol("AAPL"); err == nil {
		t.Fatal("expected no active position after full protective fill")
	}
	pos, err := tr.GetByID(mustPositionID(t, tr))
	if err != nil {
		t.Fatalf("getById: %v", err)
	}
	if pos.Status != StatusClosed {
		t.Errorf("expected CLOSED, got %s", pos.Status)
	}
	if pos.CloseReason != "target" {
		t.Errorf("expected close reason 'target', got %q", pos.CloseReason)
	}
}

func TestRecordProtectiveFillPartialKeepsPositionAdjusting(t *testing.T) {
	tr := NewTracker(events.NewBus())
	ctx := context.Background()

	tr.OpenOrUpdate(ctx, "AAPL", SideBuy, 200, 100.0, "ord-1", RoleMain)
	tr.RecordProtectiveFill(ctx, "AAPL", 50, "stop")

	pos, err := tr.GetBySymbol("AAPL")
	if err != nil {
		t.Fatalf("expected position still active, got error: %v", err)
	}
	if pos.NetQty != 150 {
		t.Errorf("expected net qty 150 after partial protective fill, got %d", pos.NetQty)
	}
	if pos.Status != StatusAdjusting {
		t.Errorf("expected ADJUSTING, got %s", pos.Status)
	}
}

func TestOpenOrUpdateDedupesRepeatedOrderID(t *testing.T) {
	tr := NewTracker(events.NewBus())
	ctx := context.Background()

	tr.OpenOrUpdate(ctx, "AAPL", SideBuy, 0, 0, "ord-1", RoleMain)
	pos := tr.OpenOrUpdate(ctx, "AAPL", SideBuy, 100, 150.0, "ord-1", RoleMain)

	if len(pos.MainOrderIDs) != 1 {
		t.Errorf("expected ord-1 attached once across shell creation and first fill, got %v", pos.MainOrderIDs)
	}
	if pos.NetQty != 100 || pos.EntryPrice != 150.0 {
		t.Errorf("expected the real fill delta to land, got qty=%d price=%v", pos.NetQty, pos.EntryPrice)
	}
	if pos.Status != StatusOpen {
		t.Errorf("expected promotion to OPEN on the order's real fill, got %s", pos.Status)
	}
}

func mustPositionID(t *testing.T, tr *Tracker) string {
	t.Helper()
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for id := range tr.byID {
		return id
	}
	t.Fatal("no position recorded")
	return ""
}
