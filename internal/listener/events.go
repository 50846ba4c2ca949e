package listener

import (
	"context"
	"fmt"
	"time"

	"model-market-go/internal/models"
	"model-market-go/internal/store"

	"go.uber.org/zap"
)

const EventCursor = "web3_events"

// DepositSource reads Deposit logs from the chain
type DepositSource interface {
	LatestBlock(ctx context.Context) (uint64, error)
	FetchDepositEvents(ctx context.Context, from, to uint64) ([]models.Web3Event, error)
}

type EventIngesterConfig struct {
	Source         DepositSource
	Store          store.EventStore
	StartLookback  uint64
	BatchSize      uint64
	ConfirmOverlap uint64
}

// EventIngester copies contract deposit logs into the event store. Ranges overlap by
// ConfirmOverlap blocks and repeated logs are dropped by event id.
type EventIngester struct {
	source         DepositSource
	store          store.EventStore
	startLookback  uint64
	batchSize      uint64
	confirmOverlap uint64
}

func NewEventIngester(cfg EventIngesterConfig) *EventIngester {
	batch := cfg.BatchSize
	if batch == 0 {
		batch = 2000
	}
	return &EventIngester{
		source:         cfg.Source,
		store:          cfg.Store,
		startLookback:  cfg.StartLookback,
		batchSize:      batch,
		confirmOverlap: cfg.ConfirmOverlap,
	}
}

func (i *EventIngester) Job(interval time.Duration) Job {
	return Job{Name: "web3_events", Interval: interval, Run: i.Tick}
}

// Tick scans from the stored block cursor to the latest block
func (i *EventIngester) Tick(ctx context.Context) error {
	latest, err := i.source.LatestBlock(ctx)
	if err != nil {
		return err
	}

	from, err := i.startBlock(ctx, latest)
	if err != nil {
		return err
	}
	if from > latest {
		return nil
	}

	total := 0
	for start := from; start <= latest; start += i.batchSize {
		end := start + i.batchSize - 1
		if end > latest {
			end = latest
		}

		events, err := i.source.FetchDepositEvents(ctx, start, end)
		if err != nil {
			return err
		}
		inserted, err := i.store.AddEvents(ctx, events)
		if err != nil {
			return fmt.Errorf("failed to store events for blocks %d-%d: %w", start, end, err)
		}
		if err := i.store.SetCursor(ctx, EventCursor, int64(end)); err != nil {
			return err
		}
		total += inserted

		zap.L().Debug("Scanned block range",
			zap.Uint64("from", start),
			zap.Uint64("to", end),
			zap.Int("events", len(events)),
			zap.Int("inserted", inserted))
	}

	if total > 0 {
		zap.L().Info("New deposit events ingested",
			zap.Uint64("from_block", from),
			zap.Uint64("to_block", latest),
			zap.Int("inserted", total))
	}
	return nil
}

func (i *EventIngester) startBlock(ctx context.Context, latest uint64) (uint64, error) {
	cursor, ok, err := i.store.GetCursor(ctx, EventCursor)
	if err != nil {
		return 0, err
	}
	if ok {
		return subtractClamped(uint64(cursor), i.confirmOverlap), nil
	}

	last, ok, err := i.store.GetLastBlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	if ok {
		return subtractClamped(last, i.confirmOverlap), nil
	}

	zap.L().Info("No event cursor, starting from lookback window",
		zap.Uint64("latest", latest),
		zap.Uint64("lookback", i.startLookback))
	return subtractClamped(latest, i.startLookback), nil
}

func subtractClamped(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
