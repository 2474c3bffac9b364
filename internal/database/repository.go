package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/securebridge/securebridge/internal/database/models"
	"github.com/securebridge/securebridge/internal/state"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx so repository helpers can
// run inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OrderRepository reads order aggregates. Writes go through the Store so the
// aggregate row and its journal event land in one transaction.
type OrderRepository interface {
	GetByID(ctx context.Context, orderID string) (*state.Order, error)
	GetByCallID(ctx context.Context, callID string) (*state.Order, error)
	ListByUserToken(ctx context.Context, userToken string) ([]*state.Order, error)
	CountByState(ctx context.Context) (map[string]int64, error)
}

// CallRepository reads call aggregates.
type CallRepository interface {
	GetByID(ctx context.Context, callID string) (*state.Call, error)
	GetByOrderID(ctx context.Context, orderID string) (*state.Call, error)
	CountByState(ctx context.Context) (map[string]int64, error)
}

// EventRepository reads the append-only journal.
type EventRepository interface {
	ListByOrderID(ctx context.Context, orderID string) ([]models.Event, error)
	ListByEntity(ctx context.Context, entityType, entityID string) ([]models.Event, error)
}

// AsteriskConfigRepository manages stored PBX manager credentials.
type AsteriskConfigRepository interface {
	Get(ctx context.Context, name string) (*models.AsteriskConfig, error)
	Upsert(ctx context.Context, cfg *models.AsteriskConfig) error
}

// marshalJSON renders v for a TEXT column, with a stable fallback for nil.
func marshalJSON(v any, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling json column: %w", err)
	}
	return string(b), nil
}

func unmarshalJSON(data string, v any) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("unmarshaling json column: %w", err)
	}
	return nil
}

func timeOrNil(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullFromPtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
