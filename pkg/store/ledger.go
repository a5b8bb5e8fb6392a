package store

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xhad/danfe/internal/models"
	"github.com/xhad/danfe/pkg/artifact"
)

type LedgerConfig struct {
	ConnString string
	TableName  string
}

// Ledger records every outcome in Postgres so past runs can be audited.
type Ledger struct {
	config LedgerConfig
	pool   *pgxpool.Pool
}

// Record is one stored outcome.
type Record struct {
	BatchID      string
	Position     int
	Key          string
	Status       string
	Attempts     int
	LastStatus   string
	HasPrimary   bool
	HasSecondary bool
	Issuer       string
	Total        float64
	FinishedAt   time.Time
}

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func NewLedger(ctx context.Context, config LedgerConfig) (*Ledger, error) {
	if config.TableName == "" {
		config.TableName = "retrievals"
	}
	if !tableNamePattern.MatchString(config.TableName) {
		return nil, fmt.Errorf("invalid table name %q", config.TableName)
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	l := &Ledger{
		config: config,
		pool:   pool,
	}

	if err := l.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return l, nil
}

func (l *Ledger) initialize(ctx context.Context) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			batch_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			key TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			last_status TEXT,
			has_primary BOOLEAN NOT NULL,
			has_secondary BOOLEAN NOT NULL,
			issuer TEXT,
			total NUMERIC(15, 2),
			lines TEXT[],
			finished_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (batch_id, position)
		)`, l.config.TableName)

	if _, err := l.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_key_idx ON %s (key, finished_at DESC)`,
		l.config.TableName, l.config.TableName)
	if _, err := l.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// Save implements types.Sink.
func (l *Ledger) Save(ctx context.Context, batchID string, outcome models.Outcome) error {
	var issuer string
	var total float64
	if outcome.HasPrimary() {
		if summary, err := artifact.Summarize(outcome.Primary); err == nil {
			issuer = summary.Issuer
			total = summary.Total
		}
	}

	finishedAt := outcome.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (batch_id, position, key, status, attempts, last_status, has_primary, has_secondary, issuer, total, lines, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (batch_id, position) DO UPDATE SET
			key = EXCLUDED.key,
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			last_status = EXCLUDED.last_status,
			has_primary = EXCLUDED.has_primary,
			has_secondary = EXCLUDED.has_secondary,
			issuer = EXCLUDED.issuer,
			total = EXCLUDED.total,
			lines = EXCLUDED.lines,
			finished_at = EXCLUDED.finished_at`,
		l.config.TableName)

	_, err := l.pool.Exec(ctx, stmt,
		batchID,
		outcome.Position,
		outcome.Key.String(),
		string(outcome.Status),
		outcome.Attempts,
		outcome.LastStatus,
		outcome.HasPrimary(),
		outcome.HasSecondary(),
		issuer,
		total,
		outcome.Lines,
		finishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// History returns the recorded outcomes of key, newest first.
func (l *Ledger) History(ctx context.Context, key models.DocumentKey, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(`
		SELECT batch_id, position, key, status, attempts, COALESCE(last_status, ''), has_primary, has_secondary,
			COALESCE(issuer, ''), COALESCE(total, 0)::float8, finished_at
		FROM %s
		WHERE key = $1
		ORDER BY finished_at DESC, position DESC
		LIMIT $2`,
		l.config.TableName)

	rows, err := l.pool.Query(ctx, query, key.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var r Record
		err := row.Scan(&r.BatchID, &r.Position, &r.Key, &r.Status, &r.Attempts, &r.LastStatus,
			&r.HasPrimary, &r.HasSecondary, &r.Issuer, &r.Total, &r.FinishedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan history: %w", err)
	}
	return records, nil
}

func (l *Ledger) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}
