package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/discordwell/cliaas/pkg/errors"
	"github.com/discordwell/cliaas/pkg/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS cliaas_tickets (
	source      TEXT NOT NULL,
	external_id TEXT NOT NULL,
	subject     TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT '',
	priority    TEXT NOT NULL DEFAULT '',
	requester   TEXT NOT NULL DEFAULT '',
	assignee    TEXT NOT NULL DEFAULT '',
	tags        TEXT[] NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ,
	updated_at  TIMESTAMPTZ,
	raw         JSONB,
	synced_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (source, external_id)
);
CREATE TABLE IF NOT EXISTS cliaas_messages (
	source             TEXT NOT NULL,
	external_id        TEXT NOT NULL,
	ticket_external_id TEXT NOT NULL,
	author             TEXT NOT NULL DEFAULT '',
	body               TEXT NOT NULL DEFAULT '',
	public             BOOLEAN NOT NULL DEFAULT TRUE,
	created_at         TIMESTAMPTZ,
	raw                JSONB,
	synced_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (source, external_id)
);
CREATE TABLE IF NOT EXISTS cliaas_cursors (
	connector  TEXT PRIMARY KEY,
	cursor     TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const upsertTicketSQL = `
INSERT INTO cliaas_tickets (source, external_id, subject, status, priority, requester, assignee, tags, created_at, updated_at, raw)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (source, external_id) DO UPDATE SET
	subject = EXCLUDED.subject,
	status = EXCLUDED.status,
	priority = EXCLUDED.priority,
	requester = EXCLUDED.requester,
	assignee = EXCLUDED.assignee,
	tags = EXCLUDED.tags,
	created_at = EXCLUDED.created_at,
	updated_at = EXCLUDED.updated_at,
	raw = EXCLUDED.raw,
	synced_at = now()`

const upsertMessageSQL = `
INSERT INTO cliaas_messages (source, external_id, ticket_external_id, author, body, public, created_at, raw)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (source, external_id) DO UPDATE SET
	ticket_external_id = EXCLUDED.ticket_external_id,
	author = EXCLUDED.author,
	body = EXCLUDED.body,
	public = EXCLUDED.public,
	created_at = EXCLUDED.created_at,
	raw = EXCLUDED.raw,
	synced_at = now()`

// PostgresStore persists records with ON CONFLICT upserts through a pgx pool
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the schema exists
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "store: postgres requires a dsn")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "store: invalid postgres dsn")
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "store: failed to create postgres pool")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "store: failed to ping postgres")
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "store: failed to create schema")
	}
	return &PostgresStore{pool: pool}, nil
}

// LoadCursor implements Store
func (p *PostgresStore) LoadCursor(ctx context.Context, connector string) (models.Cursor, error) {
	var cursor string
	err := p.pool.QueryRow(ctx, `SELECT cursor FROM cliaas_cursors WHERE connector = $1`, connector).Scan(&cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeQuery, "store: failed to load cursor")
	}
	return models.Cursor(cursor), nil
}

// SaveCursor implements Store
func (p *PostgresStore) SaveCursor(ctx context.Context, connector string, cursor models.Cursor) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO cliaas_cursors (connector, cursor, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (connector) DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = now()`,
		connector, string(cursor))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "store: failed to save cursor")
	}
	return nil
}

// UpsertTickets implements Store
func (p *PostgresStore) UpsertTickets(ctx context.Context, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range tickets {
		tags := t.Tags
		if tags == nil {
			tags = []string{}
		}
		batch.Queue(upsertTicketSQL,
			t.Source, t.ExternalID, t.Subject, t.Status, t.Priority,
			t.Requester, t.Assignee, tags,
			nullTime(t.CreatedAt), nullTime(t.UpdatedAt), nullJSON(t.Raw))
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "store: failed to upsert tickets")
	}
	return nil
}

// UpsertMessages implements Store
func (p *PostgresStore) UpsertMessages(ctx context.Context, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range messages {
		batch.Queue(upsertMessageSQL,
			m.Source, m.ExternalID, m.TicketExternalID, m.Author, m.Body, m.Public,
			nullTime(m.CreatedAt), nullJSON(m.Raw))
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "store: failed to upsert messages")
	}
	return nil
}

// Close implements Store
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
