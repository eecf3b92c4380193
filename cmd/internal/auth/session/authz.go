package session

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuthzStore defines the revocation boundary for verified identities.
//
// A user whose record is absent or carries authorized=false must be rejected
// even when their token verifies.
type AuthzStore interface {
	// Authorized returns true if userID currently holds an active authorization record.
	Authorized(ctx context.Context, userID int64) (bool, error)
}

// PostgresAuthzStore checks authorization via fitlink.user_authorizations.
type PostgresAuthzStore struct {
	pool   *pgxpool.Pool
	schema string
}

// AuthzOption configures PostgresAuthzStore behavior.
type AuthzOption func(*PostgresAuthzStore) error

// WithAuthzSchema sets the DB schema used by the authz store (default: "fitlink").
func WithAuthzSchema(schema string) AuthzOption {
	return func(s *PostgresAuthzStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("session: empty schema")
		}
		if !authzIdentRE.MatchString(schema) {
			return errors.New("session: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresAuthzStore constructs an authz store backed by PostgreSQL.
func NewPostgresAuthzStore(pool *pgxpool.Pool, opts ...AuthzOption) (*PostgresAuthzStore, error) {
	st := &PostgresAuthzStore{
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
		return nil, errors.New("session: nil pool")
	}
	return st, nil
}

// Authorized checks the revocation flag for userID. No row means not authorized.
func (s *PostgresAuthzStore) Authorized(ctx context.Context, userID int64) (bool, error) {
	if s == nil || s.pool == nil {
		return false, errors.New("session: nil authz store")
	}
	if userID <= 0 {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	table := pgx.Identifier{s.schema, "user_authorizations"}.Sanitize()

	var authorized bool
	err := s.pool.QueryRow(ctx,
		`SELECT authorized FROM `+table+` WHERE user_id = $1`,
		userID,
	).Scan(&authorized)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return authorized, nil
}

var authzIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
