// Package postgres provides a destination that upserts items into a
// PostgreSQL table keyed by item identity. Redelivery after a crash hits
// the conflict clause, which keeps at-least-once delivery idempotent at
// the database.
//
// Expected schema:
//
//	CREATE TABLE <table> (
//	    id         TEXT PRIMARY KEY,
//	    source     TEXT NOT NULL,
//	    payload    JSONB NOT NULL,
//	    emitted_at TIMESTAMPTZ NOT NULL
//	);
package postgres

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/core"
	"github.com/conveyr/conveyr/pkg/connector/registry"
	"github.com/conveyr/conveyr/pkg/errors"
	"github.com/conveyr/conveyr/pkg/models"
)

func init() {
	registry.RegisterDestination("postgres", func(cfg *config.ConnectorConfig, pc *config.PipelineConfig) (core.Destination, error) {
		dsn := cfg.Option("dsn", "")
		if dsn == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "postgres destination requires a dsn option")
		}
		table := cfg.Option("table", "")
		if table == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "postgres destination requires a table option")
		}
		return &Destination{
			name:  cfg.BindingName(),
			dsn:   dsn,
			table: table,
		}, nil
	})
}

// Destination writes items through a pgx connection pool.
type Destination struct {
	name  string
	dsn   string
	table string

	pool *pgxpool.Pool
}

// Name implements core.Destination.
func (d *Destination) Name() string { return d.name }

// Open implements core.Destination.
func (d *Destination) Open(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, d.dsn)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid postgres dsn")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to reach postgres")
	}
	d.pool = pool
	return nil
}

// Send implements core.Destination.
func (d *Destination) Send(ctx context.Context, item *models.Item) error {
	if d.pool == nil {
		return errors.New(errors.ErrorTypeInternal, "destination not open")
	}

	payload := item.Data
	if payload == nil {
		payload = map[string]interface{}{"raw": string(item.Raw)}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "item not serializable")
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (id, source, payload, emitted_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`, d.table)
	if _, err := d.pool.Exec(ctx, query, item.ID, item.Source, body, item.Timestamp); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "insert failed")
	}
	return nil
}

// Close implements core.Destination.
func (d *Destination) Close() error {
	if d.pool != nil {
		d.pool.Close()
	}
	return nil
}
