package events

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// The events table uses a bigserial id, which provides the monotonic ordering
// key; MarkSeen's WHERE clause makes it naturally idempotent.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "fitlink").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("events: empty schema")
		}
		if !eventsIdentRE.MatchString(schema) {
			return errors.New("events: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed event Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "fitlink",
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
		return nil, errors.New("events: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) Create(ctx context.Context, in CreateInput) (Event, error) {
	if s == nil || s.pool == nil {
		return Event{}, errors.New("events: nil store")
	}
	if in.UserID <= 0 {
		return Event{}, ErrInvalidInput
	}
	if !in.Type.Valid() {
		return Event{}, ErrInvalidType
	}
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	table := eventsIdent(s.schema)

	ev := Event{
		UserID:     in.UserID,
		Type:       in.Type,
		ActorID:    in.ActorID,
		ResourceID: in.ResourceID,
		Payload:    in.Payload,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+table+` (user_id, type, actor_id, resource_id, payload, seen_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, NULL, $6)
		 RETURNING id, created_at`,
		in.UserID, string(in.Type), in.ActorID, in.ResourceID, in.Payload, now,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}

func (s *PostgresStore) ListUnseen(ctx context.Context, userID int64) ([]Event, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("events: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	table := eventsIdent(s.schema)

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, actor_id, resource_id, payload, seen_at, created_at
		   FROM `+table+`
		  WHERE user_id = $1 AND seen_at IS NULL
		  ORDER BY id ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (s *PostgresStore) ListAfter(ctx context.Context, userID, after int64) ([]Event, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("events: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	table := eventsIdent(s.schema)

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, actor_id, resource_id, payload, seen_at, created_at
		   FROM `+table+`
		  WHERE user_id = $1 AND id > $2
		  ORDER BY id ASC`,
		userID, after,
	)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (s *PostgresStore) MarkSeen(ctx context.Context, userID, upTo int64, now time.Time) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("events: nil store")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	table := eventsIdent(s.schema)

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+table+`
		    SET seen_at = $3
		  WHERE user_id = $1 AND id <= $2 AND seen_at IS NULL`,
		userID, upTo, now,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanEvents(rows pgx.Rows) ([]Event, error) {
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev  Event
			typ string
		)
		if err := rows.Scan(
			&ev.ID,
			&ev.UserID,
			&typ,
			&ev.ActorID,
			&ev.ResourceID,
			&ev.Payload,
			&ev.SeenAt,
			&ev.CreatedAt,
		); err != nil {
			return nil, err
		}
		ev.Type = Type(typ)
		out = append(out, ev)
	}
	return out, rows.Err()
}

var eventsIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func eventsIdent(schema string) string {
	return pgx.Identifier{schema, "events"}.Sanitize()
}
