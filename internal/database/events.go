package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"model-market-go/internal/models"

	"go.uber.org/zap"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AddEvents ingests chain events. Events whose event_id is already stored are skipped;
// the returned count only includes newly inserted rows. An event without a block time is
// stamped with the ingestion time.
func (s *Service) AddEvents(ctx context.Context, events []models.Web3Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	ingestedAt := s.now()
	for _, event := range events {
		createdAt := event.CreatedAt
		if createdAt.IsZero() {
			createdAt = ingestedAt
		}
		if event.EventId == "" {
			event.EventId = models.NewEventId(event.TransactionHash, event.LogIndex)
		}

		data, err := json.Marshal(event.Data)
		if err != nil {
			return 0, fmt.Errorf("failed to encode event data for %s: %w", event.EventId, err)
		}

		result, err := tx.ExecContext(ctx, queryInsertEvent,
			event.EventId, event.BlockNumber, event.TransactionHash, event.LogIndex,
			event.Address, event.EventName, event.EventHash, string(data), createdAt)
		if err != nil {
			return 0, fmt.Errorf("failed to insert event %s: %w", event.EventId, err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to check rows affected: %w", err)
		}
		if rowsAffected == 0 {
			zap.L().Debug("Event already ingested, skipping", zap.String("event_id", event.EventId))
			continue
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit events: %w", err)
	}

	zap.L().Info("Events ingested", zap.Int("received", len(events)), zap.Int("inserted", inserted))
	return inserted, nil
}

// GetEventsAfter returns events of the given name with seq > afterSeq in ingestion order
func (s *Service) GetEventsAfter(ctx context.Context, eventName string, afterSeq int64, limit int) ([]models.Web3Event, error) {
	rows, err := s.db.QueryContext(ctx, queryGetEventsAfter, eventName, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("unable to query events: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var events []models.Web3Event
	for rows.Next() {
		var event models.Web3Event
		var data string
		if err := rows.Scan(&event.Seq, &event.EventId, &event.BlockNumber, &event.TransactionHash,
			&event.LogIndex, &event.Address, &event.EventName, &event.EventHash, &data, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("unable to scan event row: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &event.Data); err != nil {
			return nil, fmt.Errorf("unable to decode data of event %s: %w", event.EventId, err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}

// GetLastBlockNumber returns the highest ingested block, if any event exists
func (s *Service) GetLastBlockNumber(ctx context.Context) (uint64, bool, error) {
	var block sql.NullInt64
	if err := s.db.QueryRowContext(ctx, queryGetLastBlockNumber).Scan(&block); err != nil {
		return 0, false, fmt.Errorf("failed to get last block number: %w", err)
	}
	if !block.Valid {
		return 0, false, nil
	}
	return uint64(block.Int64), true, nil
}

// GetCursor returns the persisted position of a job cursor
func (s *Service) GetCursor(ctx context.Context, name string) (int64, bool, error) {
	var position int64
	err := s.db.QueryRowContext(ctx, queryGetCursor, name).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get cursor %s: %w", name, err)
	}
	return position, true, nil
}

func (s *Service) SetCursor(ctx context.Context, name string, position int64) error {
	return setCursor(ctx, s.db, name, position, s.now())
}

func setCursor(ctx context.Context, e execer, name string, position int64, at time.Time) error {
	if _, err := e.ExecContext(ctx, queryUpsertCursor, name, position, at); err != nil {
		return fmt.Errorf("failed to set cursor %s: %w", name, err)
	}
	return nil
}
