package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/securebridge/securebridge/internal/database/models"
)

// asteriskConfigRepo implements AsteriskConfigRepository.
type asteriskConfigRepo struct {
	db *DB
}

// NewAsteriskConfigRepository creates a new AsteriskConfigRepository.
func NewAsteriskConfigRepository(db *DB) AsteriskConfigRepository {
	return &asteriskConfigRepo{db: db}
}

// Get returns the stored manager credentials under the given name.
func (r *asteriskConfigRepo) Get(ctx context.Context, name string) (*models.AsteriskConfig, error) {
	var cfg models.AsteriskConfig
	err := r.db.QueryRowContext(ctx,
		`SELECT name, host, port, username, secret, updated_at
		 FROM asterisk_config WHERE name = $1`, name,
	).Scan(&cfg.Name, &cfg.Host, &cfg.Port, &cfg.Username, &cfg.Secret, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning asterisk config row: %w", err)
	}
	return &cfg, nil
}

// Upsert stores manager credentials. The secret column receives the value
// byte-identically; no normalisation happens on either side.
func (r *asteriskConfigRepo) Upsert(ctx context.Context, cfg *models.AsteriskConfig) error {
	cfg.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO asterisk_config (name, host, port, username, secret, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (name) DO UPDATE SET
		 host = excluded.host, port = excluded.port, username = excluded.username,
		 secret = excluded.secret, updated_at = excluded.updated_at`,
		cfg.Name, cfg.Host, cfg.Port, cfg.Username, cfg.Secret, cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting asterisk config: %w", err)
	}
	return nil
}
