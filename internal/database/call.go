package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/securebridge/securebridge/internal/state"
)

// callRepo implements CallRepository.
type callRepo struct {
	db *DB
}

// NewCallRepository creates a new CallRepository.
func NewCallRepository(db *DB) CallRepository {
	return &callRepo{db: db}
}

const callColumns = `call_id, order_id, state, number_a, number_b, caller_id,
	 trunk_name, channel_a_id, channel_b_id, metadata, state_history,
	 state_timestamps, error_log, duration_seconds, started_at, answered_at,
	 bridged_at, completed_at, failed_at`

// GetByID returns the call aggregate, rehydrated with its full transition
// history.
func (r *callRepo) GetByID(ctx context.Context, callID string) (*state.Call, error) {
	return scanCall(r.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE call_id = $1`, callID,
	))
}

// GetByOrderID returns the call attached to the given order.
func (r *callRepo) GetByOrderID(ctx context.Context, orderID string) (*state.Call, error) {
	return scanCall(r.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE order_id = $1`, orderID,
	))
}

// CountByState returns how many calls sit in each state.
func (r *callRepo) CountByState(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM calls GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("counting calls: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var s string
		var n int64
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("scanning call count: %w", err)
		}
		counts[s] = n
	}
	return counts, rows.Err()
}

// saveCall upserts the aggregate row.
func saveCall(ctx context.Context, q querier, c *state.Call) error {
	metadata, err := marshalJSON(c.Metadata, "{}")
	if err != nil {
		return err
	}
	history, err := marshalJSON(c.History(), "[]")
	if err != nil {
		return err
	}
	timestamps, err := marshalJSON(c.Timestamps(), "[]")
	if err != nil {
		return err
	}
	errorLog, err := marshalJSON(c.ErrorLog(), "[]")
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO calls (call_id, order_id, state, number_a, number_b, caller_id,
		 trunk_name, channel_a_id, channel_b_id, metadata, state_history,
		 state_timestamps, error_log, is_final, duration_seconds, created_at,
		 updated_at, started_at, answered_at, bridged_at, completed_at, failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		 ON CONFLICT (call_id) DO UPDATE SET
		 state = excluded.state, channel_a_id = excluded.channel_a_id,
		 channel_b_id = excluded.channel_b_id, metadata = excluded.metadata,
		 state_history = excluded.state_history, state_timestamps = excluded.state_timestamps,
		 error_log = excluded.error_log, is_final = excluded.is_final,
		 duration_seconds = excluded.duration_seconds, updated_at = excluded.updated_at,
		 started_at = excluded.started_at, answered_at = excluded.answered_at,
		 bridged_at = excluded.bridged_at, completed_at = excluded.completed_at,
		 failed_at = excluded.failed_at`,
		c.CallID, c.OrderID, string(c.State()), c.NumberA, c.NumberB, c.CallerID,
		c.TrunkName, c.ChannelAID, c.ChannelBID, metadata, history, timestamps, errorLog,
		c.IsFinal(), c.DurationSeconds, c.CreatedAt(), c.UpdatedAt(),
		nullFromPtr(c.StartedAt), nullFromPtr(c.AnsweredAt), nullFromPtr(c.BridgedAt),
		nullFromPtr(c.CompletedAt), nullFromPtr(c.FailedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting call: %w", err)
	}
	return nil
}

func scanCall(row interface{ Scan(dest ...any) error }) (*state.Call, error) {
	var (
		callID, orderID, stateStr, numberA, numberB, callerID, trunkName string
		channelA, channelB                                               string
		metadataJSON, historyJSON, timestampsJSON, errorLogJSON          string
		durationSeconds                                                  int64
		startedAt, answeredAt, bridgedAt, completedAt, failedAt          sql.NullTime
	)
	err := row.Scan(&callID, &orderID, &stateStr, &numberA, &numberB, &callerID,
		&trunkName, &channelA, &channelB, &metadataJSON, &historyJSON,
		&timestampsJSON, &errorLogJSON, &durationSeconds,
		&startedAt, &answeredAt, &bridgedAt, &completedAt, &failedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call row: %w", err)
	}

	var (
		history    []state.CallState
		timestamps []state.TransitionRecord
		errorLog   []state.ErrorRecord
	)
	metadata := map[string]any{}
	if err := unmarshalJSON(historyJSON, &history); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(timestampsJSON, &timestamps); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(errorLogJSON, &errorLog); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadataJSON, &metadata); err != nil {
		return nil, err
	}

	c := state.RestoreCall(callID, orderID, state.CallState(stateStr), history, timestamps, errorLog)
	c.NumberA = numberA
	c.NumberB = numberB
	c.CallerID = callerID
	c.TrunkName = trunkName
	c.ChannelAID = channelA
	c.ChannelBID = channelB
	c.Metadata = metadata
	c.DurationSeconds = durationSeconds
	c.StartedAt = timeOrNil(startedAt)
	c.AnsweredAt = timeOrNil(answeredAt)
	c.BridgedAt = timeOrNil(bridgedAt)
	c.CompletedAt = timeOrNil(completedAt)
	c.FailedAt = timeOrNil(failedAt)
	return c, nil
}
