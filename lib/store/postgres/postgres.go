// Package postgres implements the snapshot store for PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/0xFannie/gmt-pay-dashboard/lib/chain/types"
	"github.com/0xFannie/gmt-pay-dashboard/lib/store"
)

// Postgres implements a connection to a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// New opens a connection to the specified PostgreSQL uri and ensures the
// snapshot table exists.
func New(uri string) (*Postgres, error) {
	db, err := sql.Open("postgres", uri)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to postgres DB in %s: %w", uri, err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		id SERIAL PRIMARY KEY,
		taken TIMESTAMPTZ NOT NULL,
		since TIMESTAMPTZ NOT NULL,
		partial BOOLEAN NOT NULL,
		failed TEXT[],
		errors JSONB,
		txs JSONB NOT NULL)`)
	if err != nil {
		return nil, fmt.Errorf("cannot create snapshot table: %w", err)
	}

	return &Postgres{db: db}, nil
}

// Close will close the database connection. Must be called at termination time.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// SaveSnapshot inserts s as a new row. The latest row is the current
// snapshot, older rows are history.
func (p *Postgres) SaveSnapshot(ctx context.Context, s *store.Snapshot) error {
	body, err := json.Marshal(s.Txs)
	if err != nil {
		return fmt.Errorf("could not encode snapshot: %w", err)
	}

	report, err := json.Marshal(s.Errors)
	if err != nil {
		return fmt.Errorf("could not encode snapshot: %w", err)
	}

	_, err = p.db.ExecContext(ctx,
		`INSERT INTO snapshots (taken, since, partial, failed, errors, txs) VALUES ($1, $2, $3, $4, $5, $6)`,
		s.Taken, s.Since, s.Partial, pq.Array(s.Failed), report, body)
	if err != nil {
		return fmt.Errorf("could not save snapshot in db: %w", err)
	}

	return nil
}

// LoadSnapshot loads the latest snapshot from db.
func (p *Postgres) LoadSnapshot(ctx context.Context) (*store.Snapshot, error) {
	var (
		s      store.Snapshot
		report []byte
		body   []byte
	)

	row := p.db.QueryRowContext(ctx,
		`SELECT taken, since, partial, failed, errors, txs FROM snapshots ORDER BY taken DESC LIMIT 1`)

	err := row.Scan(&s.Taken, &s.Since, &s.Partial, pq.Array(&s.Failed), &report, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNoSnapshot
	}

	if err != nil {
		return nil, fmt.Errorf("could not load snapshot from db: %w", err)
	}

	if len(report) > 0 {
		if err = json.Unmarshal(report, &s.Errors); err != nil {
			return nil, fmt.Errorf("could not decode snapshot: %w", err)
		}
	}

	s.Txs = []types.Transaction{}
	if err = json.Unmarshal(body, &s.Txs); err != nil {
		return nil, fmt.Errorf("could not decode snapshot: %w", err)
	}

	return &s, nil
}
