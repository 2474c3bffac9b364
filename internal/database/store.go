package database

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/securebridge/securebridge/internal/database/models"
	"github.com/securebridge/securebridge/internal/state"
)

// Entity types recorded in the journal.
const (
	EntityOrder = "order"
	EntityCall  = "call"
)

// Store is the persistence facade. Reads go straight to the repositories;
// transition writes run under a per-entity lock and commit the aggregate row
// together with its journal event in a single transaction, so no observer can
// see a transition without its event or vice versa.
type Store struct {
	db *DB

	orders   OrderRepository
	calls    CallRepository
	events   EventRepository
	asterisk AsteriskConfigRepository

	mu    sync.Mutex
	locks map[string]*entityLock

	seqMu      sync.Mutex
	journalSeq int64
	seqSeeded  bool
}

type entityLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates a Store over an open database.
func NewStore(db *DB) *Store {
	return &Store{
		db:       db,
		orders:   NewOrderRepository(db),
		calls:    NewCallRepository(db),
		events:   NewEventRepository(db),
		asterisk: NewAsteriskConfigRepository(db),
		locks:    make(map[string]*entityLock),
	}
}

// Orders returns the order repository.
func (s *Store) Orders() OrderRepository { return s.orders }

// Calls returns the call repository.
func (s *Store) Calls() CallRepository { return s.calls }

// Events returns the event repository.
func (s *Store) Events() EventRepository { return s.events }

// AsteriskConfig returns the manager credentials repository.
func (s *Store) AsteriskConfig() AsteriskConfigRepository { return s.asterisk }

// Lock serialises writers of one entity. The returned func releases the lock.
// Locks are reference-counted so the map does not grow with dead entities.
func (s *Store) Lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &entityLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// nextJournalSeq hands out the next global journal position, seeded from the
// table on first use. Cross-entity writers hold different entity locks, so the
// total order over the journal comes from this counter, not from timestamps.
// This process is the only writer.
func (s *Store) nextJournalSeq(ctx context.Context) (int64, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	if !s.seqSeeded {
		err := s.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(journal_seq), 0) FROM events`).Scan(&s.journalSeq)
		if err != nil {
			return 0, fmt.Errorf("seeding journal sequence: %w", err)
		}
		s.seqSeeded = true
	}
	s.journalSeq++
	return s.journalSeq, nil
}

// SaveOrder upserts the order aggregate without journaling. Used for field
// updates that are not state transitions, such as attaching a call id.
func (s *Store) SaveOrder(ctx context.Context, o *state.Order) error {
	if err := saveOrder(ctx, s.db, o); err != nil {
		return fmt.Errorf("saving order %s: %w", o.OrderID, err)
	}
	return nil
}

// SaveCall upserts the call aggregate without journaling.
func (s *Store) SaveCall(ctx context.Context, c *state.Call) error {
	if err := saveCall(ctx, s.db, c); err != nil {
		return fmt.Errorf("saving call %s: %w", c.CallID, err)
	}
	return nil
}

// SaveOrderTransition persists the order after a state transition and appends
// the matching journal event atomically.
func (s *Store) SaveOrderTransition(ctx context.Context, o *state.Order, eventType string) error {
	last := o.LastTransition()
	ev := &models.Event{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EntityType:    EntityOrder,
		EntityID:      o.OrderID,
		OrderID:       o.OrderID,
		CallID:        o.CallID,
		State:         last.State,
		PreviousState: last.PreviousState,
		Metadata:      last.Metadata,
		ErrorMessage:  last.Error,
		CreatedAt:     last.Timestamp,
	}

	seq, err := s.nextJournalSeq(ctx)
	if err != nil {
		return err
	}
	ev.JournalSeq = seq

	err = s.inTx(ctx, func(tx querier) error {
		if err := saveOrder(ctx, tx, o); err != nil {
			return err
		}
		return insertEvent(ctx, tx, ev)
	})
	if err != nil {
		return fmt.Errorf("saving order transition %s -> %s: %w", o.OrderID, o.State(), err)
	}
	return nil
}

// SaveCallTransition persists the call after a state transition and appends
// the matching journal event atomically.
func (s *Store) SaveCallTransition(ctx context.Context, c *state.Call, eventType string) error {
	last := c.LastTransition()
	ev := &models.Event{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EntityType:    EntityCall,
		EntityID:      c.CallID,
		OrderID:       c.OrderID,
		CallID:        c.CallID,
		State:         last.State,
		PreviousState: last.PreviousState,
		Metadata:      last.Metadata,
		ErrorMessage:  last.Error,
		CreatedAt:     last.Timestamp,
	}

	seq, err := s.nextJournalSeq(ctx)
	if err != nil {
		return err
	}
	ev.JournalSeq = seq

	err = s.inTx(ctx, func(tx querier) error {
		if err := saveCall(ctx, tx, c); err != nil {
			return err
		}
		return insertEvent(ctx, tx, ev)
	})
	if err != nil {
		return fmt.Errorf("saving call transition %s -> %s: %w", c.CallID, c.State(), err)
	}
	return nil
}

// inTx runs fn in a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
