package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/securebridge/securebridge/internal/state"
)

// orderRepo implements OrderRepository.
type orderRepo struct {
	db *DB
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db *DB) OrderRepository {
	return &orderRepo{db: db}
}

const orderColumns = `order_id, state, user_token, number_a, number_b, caller_id,
	 trunk_name, call_id, metadata, state_history, state_timestamps, error_log,
	 completed_at, failed_at, cancelled_at`

// GetByID returns the order aggregate, rehydrated with its full transition
// history.
func (r *orderRepo) GetByID(ctx context.Context, orderID string) (*state.Order, error) {
	return scanOrder(r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID,
	))
}

// GetByCallID returns the order owning the given call.
func (r *orderRepo) GetByCallID(ctx context.Context, callID string) (*state.Order, error) {
	return scanOrder(r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE call_id = $1`, callID,
	))
}

// ListByUserToken returns all orders placed under a user token, newest first.
func (r *orderRepo) ListByUserToken(ctx context.Context, userToken string) ([]*state.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_token = $1 ORDER BY created_at DESC`, userToken)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	defer rows.Close()

	var orders []*state.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// CountByState returns how many orders sit in each state.
func (r *orderRepo) CountByState(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM orders GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("counting orders: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var s string
		var n int64
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("scanning order count: %w", err)
		}
		counts[s] = n
	}
	return counts, rows.Err()
}

// saveOrder upserts the aggregate row. The caller supplies the transaction
// when the write must be atomic with a journal event.
func saveOrder(ctx context.Context, q querier, o *state.Order) error {
	metadata, err := marshalJSON(o.Metadata, "{}")
	if err != nil {
		return err
	}
	history, err := marshalJSON(o.History(), "[]")
	if err != nil {
		return err
	}
	timestamps, err := marshalJSON(o.Timestamps(), "[]")
	if err != nil {
		return err
	}
	errorLog, err := marshalJSON(o.ErrorLog(), "[]")
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO orders (order_id, state, user_token, number_a, number_b, caller_id,
		 trunk_name, call_id, metadata, state_history, state_timestamps, error_log,
		 is_final, created_at, updated_at, completed_at, failed_at, cancelled_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 ON CONFLICT (order_id) DO UPDATE SET
		 state = excluded.state, call_id = excluded.call_id, metadata = excluded.metadata,
		 state_history = excluded.state_history, state_timestamps = excluded.state_timestamps,
		 error_log = excluded.error_log, is_final = excluded.is_final,
		 updated_at = excluded.updated_at, completed_at = excluded.completed_at,
		 failed_at = excluded.failed_at, cancelled_at = excluded.cancelled_at`,
		o.OrderID, string(o.State()), o.UserToken, o.NumberA, o.NumberB, o.CallerID,
		o.TrunkName, o.CallID, metadata, history, timestamps, errorLog,
		o.IsFinal(), o.CreatedAt(), o.UpdatedAt(),
		nullFromPtr(o.CompletedAt), nullFromPtr(o.FailedAt), nullFromPtr(o.CancelledAt),
	)
	if err != nil {
		return fmt.Errorf("upserting order: %w", err)
	}
	return nil
}

func scanOrder(row interface{ Scan(dest ...any) error }) (*state.Order, error) {
	var (
		orderID, stateStr, userToken, numberA, numberB, callerID, trunkName, callID string
		metadataJSON, historyJSON, timestampsJSON, errorLogJSON                     string
		completedAt, failedAt, cancelledAt                                          sql.NullTime
	)
	err := row.Scan(&orderID, &stateStr, &userToken, &numberA, &numberB, &callerID,
		&trunkName, &callID, &metadataJSON, &historyJSON, &timestampsJSON, &errorLogJSON,
		&completedAt, &failedAt, &cancelledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning order row: %w", err)
	}

	var (
		history    []state.OrderState
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

	o := state.RestoreOrder(orderID, state.OrderState(stateStr), history, timestamps, errorLog)
	o.UserToken = userToken
	o.NumberA = numberA
	o.NumberB = numberB
	o.CallerID = callerID
	o.TrunkName = trunkName
	o.CallID = callID
	o.Metadata = metadata
	o.CompletedAt = timeOrNil(completedAt)
	o.FailedAt = timeOrNil(failedAt)
	o.CancelledAt = timeOrNil(cancelledAt)
	return o, nil
}
