package database

import (
	"context"
	"testing"

	"model-market-go/internal/models"

	"github.com/shopspring/decimal"
)

func testEvent(txHash string, logIndex uint, block uint64) models.Web3Event {
	return models.Web3Event{
		BlockNumber:     block,
		TransactionHash: txHash,
		LogIndex:        logIndex,
		Address:         "0x00000000000000000000000000000000000000bb",
		EventName:       models.EventNameDeposit,
		EventHash:       "0xtopic",
		Data: map[string]string{
			models.DepositFromKey:   testWallet,
			models.DepositAmountKey: "50000000000000000",
		},
	}
}

func TestAddEvents_Idempotent(t *testing.T) {
	service, cleanup := setupTestDb(t, decimal.Zero)
	defer cleanup()

	ctx := context.Background()
	batch := []models.Web3Event{testEvent("0xAA", 0, 10), testEvent("0xaa", 1, 10)}

	inserted, err := service.AddEvents(ctx, batch)
	if err != nil {
		t.Fatalf("AddEvents failed: %v", err)
	}
	if inserted != 2 {
		t.Errorf("Expected 2 inserted, got %d", inserted)
	}

	inserted, err = service.AddEvents(ctx, append(batch, testEvent("0xbb", 0, 12)))
	if err != nil {
		t.Fatalf("AddEvents failed: %v", err)
	}
	if inserted != 1 {
		t.Errorf("Expected only the new event inserted, got %d", inserted)
	}

	events, err := service.GetEventsAfter(ctx, models.EventNameDeposit, 0, 10)
	if err != nil {
		t.Fatalf("GetEventsAfter failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	if events[0].EventId != "0xaa:0" {
		t.Errorf("Expected derived event id 0xaa:0, got %s", events[0].EventId)
	}
	if events[2].Data[models.DepositAmountKey] != "50000000000000000" {
		t.Errorf("Expected event data to round trip, got %v", events[2].Data)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq <= events[i-1].Seq {
			t.Errorf("Expected events in seq order, got %d after %d", events[i].Seq, events[i-1].Seq)
		}
	}

	after, err := service.GetEventsAfter(ctx, models.EventNameDeposit, events[1].Seq, 10)
	if err != nil {
		t.Fatalf("GetEventsAfter failed: %v", err)
	}
	if len(after) != 1 || after[0].EventId != "0xbb:0" {
		t.Errorf("Expected only 0xbb:0 after seq %d, got %v", events[1].Seq, after)
	}
}

func TestGetLastBlockNumber(t *testing.T) {
	service, cleanup := setupTestDb(t, decimal.Zero)
	defer cleanup()

	ctx := context.Background()
	if _, ok, err := service.GetLastBlockNumber(ctx); err != nil || ok {
		t.Fatalf("Expected no block on empty table, got ok=%v err=%v", ok, err)
	}

	if _, err := service.AddEvents(ctx, []models.Web3Event{testEvent("0x01", 0, 42), testEvent("0x02", 0, 17)}); err != nil {
		t.Fatalf("AddEvents failed: %v", err)
	}

	block, ok, err := service.GetLastBlockNumber(ctx)
	if err != nil || !ok {
		t.Fatalf("GetLastBlockNumber failed: ok=%v err=%v", ok, err)
	}
	if block != 42 {
		t.Errorf("Expected block 42, got %d", block)
	}
}

func TestCursors(t *testing.T) {
	service, cleanup := setupTestDb(t, decimal.Zero)
	defer cleanup()

	ctx := context.Background()
	if _, ok, err := service.GetCursor(ctx, "events"); err != nil || ok {
		t.Fatalf("Expected missing cursor, got ok=%v err=%v", ok, err)
	}

	for _, position := range []int64{5, 9} {
		if err := service.SetCursor(ctx, "events", position); err != nil {
			t.Fatalf("SetCursor failed: %v", err)
		}
	}

	position, ok, err := service.GetCursor(ctx, "events")
	if err != nil || !ok {
		t.Fatalf("GetCursor failed: ok=%v err=%v", ok, err)
	}
	if position != 9 {
		t.Errorf("Expected position 9, got %d", position)
	}
}
