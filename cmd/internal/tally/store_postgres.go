package tally

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"chattrack/cmd/internal/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "chattrack").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("tally: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("tally: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "chattrack",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("tally: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// EnsureSchema creates the schema and table if they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errors.New("tally: nil store")
	}

	tallies := pgIdent(s.schema, "chat_tallies")
	idx := pgx.Identifier{"chat_tallies_chat_idx"}.Sanitize()

	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id            TEXT PRIMARY KEY,
  chat_id       TEXT NOT NULL,
  total         BIGINT NOT NULL CHECK (total >= 0),
  terminated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS %s ON %s (chat_id, terminated_at DESC, id DESC);
`, pgx.Identifier{s.schema}.Sanitize(), tallies, idx, tallies)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Record inserts one tally row.
func (s *PostgresStore) Record(ctx context.Context, in RecordInput) (Tally, error) {
	if s == nil || s.pool == nil {
		return Tally{}, errors.New("tally: nil store")
	}
	if err := in.validate(); err != nil {
		return Tally{}, err
	}
	if err := ctx.Err(); err != nil {
		return Tally{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Tally{}, err
	}

	tallies := pgIdent(s.schema, "chat_tallies")

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+tallies+` (id, chat_id, total, terminated_at) VALUES ($1, $2, $3, $4)`,
		id, in.ChatID, in.Total, now,
	); err != nil {
		return Tally{}, fmt.Errorf("insert tally: %w", err)
	}

	return Tally{
		ID:           id,
		ChatID:       in.ChatID,
		Total:        in.Total,
		TerminatedAt: now,
	}, nil
}

// ListByChat returns tallies for a chat ordered by terminated_at DESC, id DESC.
func (s *PostgresStore) ListByChat(ctx context.Context, in ListInput) (ListResult, error) {
	if s == nil || s.pool == nil {
		return ListResult{}, errors.New("tally: nil store")
	}
	if in.ChatID == "" {
		return ListResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return ListResult{}, err
	}

	limit := clampLimit(in.Limit)
	fetch := limit + 1

	tallies := pgIdent(s.schema, "chat_tallies")

	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, total, terminated_at
		   FROM `+tallies+`
		  WHERE chat_id = $1
		  ORDER BY terminated_at DESC, id DESC
		  LIMIT $2`,
		in.ChatID, fetch,
	)
	if err != nil {
		return ListResult{}, err
	}
	defer rows.Close()

	out := make([]Tally, 0, fetch)
	for rows.Next() {
		var t Tally
		if err := rows.Scan(&t.ID, &t.ChatID, &t.Total, &t.TerminatedAt); err != nil {
			return ListResult{}, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, err
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return ListResult{Tallies: out, HasMore: hasMore}, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
