package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/securebridge/securebridge/internal/database/models"
)

// eventRepo implements EventRepository.
type eventRepo struct {
	db *DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *DB) EventRepository {
	return &eventRepo{db: db}
}

const eventColumns = `event_id, event_type, entity_type, entity_id, order_id,
	 call_id, state, previous_state, metadata, error_message, seq, journal_seq, created_at`

// ListByOrderID returns every event recorded for an order and its call,
// oldest first. journal_seq keeps cross-entity rows in write order even when
// their timestamps collide.
func (r *eventRepo) ListByOrderID(ctx context.Context, orderID string) ([]models.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE order_id = $1
		 ORDER BY journal_seq`, orderID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	return scanEvents(rows)
}

// ListByEntity returns the journal of a single entity, oldest first.
func (r *eventRepo) ListByEntity(ctx context.Context, entityType, entityID string) ([]models.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE entity_type = $1 AND entity_id = $2
		 ORDER BY seq`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	return scanEvents(rows)
}

// insertEvent appends one journal row, assigning the next per-entity sequence
// number inside the caller's transaction.
func insertEvent(ctx context.Context, q querier, ev *models.Event) error {
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE entity_type = $1 AND entity_id = $2`,
		ev.EntityType, ev.EntityID,
	).Scan(&ev.Seq)
	if err != nil {
		return fmt.Errorf("assigning event seq: %w", err)
	}

	metadata, err := marshalJSON(ev.Metadata, "{}")
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO events (event_id, event_type, entity_type, entity_id, order_id,
		 call_id, state, previous_state, metadata, error_message, seq, journal_seq, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		ev.EventID, ev.EventType, ev.EntityType, ev.EntityID, ev.OrderID,
		ev.CallID, ev.State, ev.PreviousState, metadata, ev.ErrorMessage,
		ev.Seq, ev.JournalSeq, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]models.Event, error) {
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var (
			ev           models.Event
			metadataJSON string
		)
		if err := rows.Scan(&ev.EventID, &ev.EventType, &ev.EntityType, &ev.EntityID,
			&ev.OrderID, &ev.CallID, &ev.State, &ev.PreviousState, &metadataJSON,
			&ev.ErrorMessage, &ev.Seq, &ev.JournalSeq, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		if metadataJSON != "" && metadataJSON != "{}" {
			ev.Metadata = map[string]any{}
			if err := unmarshalJSON(metadataJSON, &ev.Metadata); err != nil {
				return nil, err
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
