package friends

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - Every pair transition takes a transactional advisory lock on the unordered
//   pair key, so concurrent transitions on the same pair serialize and the
//   "at most one relation per pair" invariant holds without table locks.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "fitlink").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("friends: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("friends: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed friend Store.
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
		return nil, errors.New("friends: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) ResolveName(ctx context.Context, name string) (Profile, error) {
	if s == nil || s.pool == nil {
		return Profile{}, errors.New("friends: nil store")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Profile{}, ErrUnknownTarget
	}
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}

	users := pgIdent(s.schema, "users")

	var p Profile
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(picture, ''), COALESCE(bio, ''), created_at
		   FROM `+users+`
		  WHERE lower(name) = lower($1)`,
		name,
	).Scan(&p.ID, &p.Name, &p.Picture, &p.Bio, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrUnknownTarget
	}
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (s *PostgresStore) ProfileByID(ctx context.Context, id int64) (Profile, error) {
	if s == nil || s.pool == nil {
		return Profile{}, errors.New("friends: nil store")
	}
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}

	users := pgIdent(s.schema, "users")

	var p Profile
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(picture, ''), COALESCE(bio, ''), created_at
		   FROM `+users+`
		  WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.Picture, &p.Bio, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrUnknownTarget
	}
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (s *PostgresStore) ProfilesByIDs(ctx context.Context, ids []int64) ([]Profile, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("friends: nil store")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	users := pgIdent(s.schema, "users")

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, COALESCE(picture, ''), COALESCE(bio, ''), created_at
		   FROM `+users+`
		  WHERE id = ANY($1)
		  ORDER BY id ASC`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Profile, 0, len(ids))
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Picture, &p.Bio, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RelationshipView assembles the caller's friends/incoming/outgoing/blocked
// id sets, each ordered ascending.
func (s *PostgresStore) RelationshipView(ctx context.Context, userID int64) (View, error) {
	if s == nil || s.pool == nil {
		return View{}, errors.New("friends: nil store")
	}
	if err := ctx.Err(); err != nil {
		return View{}, err
	}

	friendships := pgIdent(s.schema, "friendships")
	requests := pgIdent(s.schema, "friend_requests")
	blocks := pgIdent(s.schema, "blocks")

	var v View

	rows, err := s.pool.Query(ctx,
		`SELECT CASE WHEN user_lo = $1 THEN user_hi ELSE user_lo END
		   FROM `+friendships+`
		  WHERE user_lo = $1 OR user_hi = $1
		  ORDER BY 1 ASC`,
		userID,
	)
	if err != nil {
		return View{}, err
	}
	v.Friends, err = collectIDs(rows)
	if err != nil {
		return View{}, err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT sender_id FROM `+requests+` WHERE recipient_id = $1 ORDER BY sender_id ASC`,
		userID,
	)
	if err != nil {
		return View{}, err
	}
	v.Incoming, err = collectIDs(rows)
	if err != nil {
		return View{}, err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT recipient_id FROM `+requests+` WHERE sender_id = $1 ORDER BY recipient_id ASC`,
		userID,
	)
	if err != nil {
		return View{}, err
	}
	v.Outgoing, err = collectIDs(rows)
	if err != nil {
		return View{}, err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT blocked_id FROM `+blocks+` WHERE blocker_id = $1 ORDER BY blocked_id ASC`,
		userID,
	)
	if err != nil {
		return View{}, err
	}
	v.Blocked, err = collectIDs(rows)
	if err != nil {
		return View{}, err
	}

	return v, nil
}

func (s *PostgresStore) CreateRequest(ctx context.Context, sender, recipient int64) error {
	if sender == recipient {
		return ErrSelfReference
	}

	return s.inPairTx(ctx, sender, recipient, func(tx pgx.Tx) error {
		users := pgIdent(s.schema, "users")
		requests := pgIdent(s.schema, "friend_requests")

		var count int
		if err := tx.QueryRow(ctx,
			`SELECT count(*) FROM `+users+` WHERE id = ANY($1)`,
			[]int64{sender, recipient},
		).Scan(&count); err != nil {
			return err
		}
		if count != 2 {
			return ErrUnknownTarget
		}

		related, err := s.pairRelated(ctx, tx, sender, recipient)
		if err != nil {
			return err
		}
		if related {
			return ErrAlreadyRelated
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO `+requests+` (sender_id, recipient_id, created_at) VALUES ($1, $2, now())`,
			sender, recipient,
		)
		return err
	})
}

func (s *PostgresStore) AcceptRequest(ctx context.Context, recipient, sender int64) error {
	return s.inPairTx(ctx, recipient, sender, func(tx pgx.Tx) error {
		requests := pgIdent(s.schema, "friend_requests")
		friendships := pgIdent(s.schema, "friendships")

		tag, err := tx.Exec(ctx,
			`DELETE FROM `+requests+` WHERE sender_id = $1 AND recipient_id = $2`,
			sender, recipient,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotPending
		}

		lo, hi := orderPair(sender, recipient)
		_, err = tx.Exec(ctx,
			`INSERT INTO `+friendships+` (user_lo, user_hi, created_at) VALUES ($1, $2, now())`,
			lo, hi,
		)
		return err
	})
}

func (s *PostgresStore) DeclineRequest(ctx context.Context, recipient, sender int64) error {
	return s.dropRequest(ctx, sender, recipient)
}

func (s *PostgresStore) CancelRequest(ctx context.Context, sender, recipient int64) error {
	return s.dropRequest(ctx, sender, recipient)
}

func (s *PostgresStore) dropRequest(ctx context.Context, sender, recipient int64) error {
	return s.inPairTx(ctx, sender, recipient, func(tx pgx.Tx) error {
		requests := pgIdent(s.schema, "friend_requests")

		tag, err := tx.Exec(ctx,
			`DELETE FROM `+requests+` WHERE sender_id = $1 AND recipient_id = $2`,
			sender, recipient,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotPending
		}
		return nil
	})
}

func (s *PostgresStore) RemoveFriend(ctx context.Context, userID, friendID int64) error {
	return s.inPairTx(ctx, userID, friendID, func(tx pgx.Tx) error {
		friendships := pgIdent(s.schema, "friendships")

		lo, hi := orderPair(userID, friendID)
		tag, err := tx.Exec(ctx,
			`DELETE FROM `+friendships+` WHERE user_lo = $1 AND user_hi = $2`,
			lo, hi,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFriends
		}
		return nil
	})
}

func (s *PostgresStore) Block(ctx context.Context, blocker, target int64) error {
	if blocker == target {
		return ErrSelfReference
	}

	return s.inPairTx(ctx, blocker, target, func(tx pgx.Tx) error {
		users := pgIdent(s.schema, "users")
		requests := pgIdent(s.schema, "friend_requests")
		friendships := pgIdent(s.schema, "friendships")
		blocks := pgIdent(s.schema, "blocks")

		var one int
		err := tx.QueryRow(ctx, `SELECT 1 FROM `+users+` WHERE id = $1`, target).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUnknownTarget
		}
		if err != nil {
			return err
		}

		err = tx.QueryRow(ctx,
			`SELECT 1 FROM `+blocks+` WHERE blocker_id = $1 AND blocked_id = $2`,
			blocker, target,
		).Scan(&one)
		if err == nil {
			return ErrDuplicateBlock
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		// Clear whatever relation exists, then record the block.
		lo, hi := orderPair(blocker, target)
		if _, err := tx.Exec(ctx,
			`DELETE FROM `+friendships+` WHERE user_lo = $1 AND user_hi = $2`,
			lo, hi,
		); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM `+requests+`
			  WHERE (sender_id = $1 AND recipient_id = $2)
			     OR (sender_id = $2 AND recipient_id = $1)`,
			blocker, target,
		); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO `+blocks+` (blocker_id, blocked_id, created_at) VALUES ($1, $2, now())`,
			blocker, target,
		)
		return err
	})
}

func (s *PostgresStore) Unblock(ctx context.Context, blocker, target int64) error {
	return s.inPairTx(ctx, blocker, target, func(tx pgx.Tx) error {
		blocks := pgIdent(s.schema, "blocks")

		tag, err := tx.Exec(ctx,
			`DELETE FROM `+blocks+` WHERE blocker_id = $1 AND blocked_id = $2`,
			blocker, target,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotBlocked
		}
		return nil
	})
}

// inPairTx runs fn inside a transaction holding the pair's advisory lock.
func (s *PostgresStore) inPairTx(ctx context.Context, a, b int64, fn func(tx pgx.Tx) error) error {
	if s == nil || s.pool == nil {
		return errors.New("friends: nil store")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize transitions per unordered pair. hashtextextended reduces
	// collision risk vs hashtext (still a hash, but better).
	lo, hi := orderPair(a, b)
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		fmt.Sprintf("pair:%d:%d", lo, hi),
	); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// pairRelated reports whether any relation exists between a and b in either direction.
func (s *PostgresStore) pairRelated(ctx context.Context, tx pgx.Tx, a, b int64) (bool, error) {
	friendships := pgIdent(s.schema, "friendships")
	requests := pgIdent(s.schema, "friend_requests")
	blocks := pgIdent(s.schema, "blocks")

	lo, hi := orderPair(a, b)

	var one int
	err := tx.QueryRow(ctx,
		`SELECT 1
		  WHERE EXISTS (SELECT 1 FROM `+friendships+` WHERE user_lo = $1 AND user_hi = $2)
		     OR EXISTS (SELECT 1 FROM `+requests+`
		                 WHERE (sender_id = $3 AND recipient_id = $4)
		                    OR (sender_id = $4 AND recipient_id = $3))
		     OR EXISTS (SELECT 1 FROM `+blocks+`
		                 WHERE (blocker_id = $3 AND blocked_id = $4)
		                    OR (blocker_id = $4 AND blocked_id = $3))`,
		lo, hi, a, b,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func orderPair(a, b int64) (int64, int64) {
	if a < b {
		return a, b
	}
	return b, a
}

func collectIDs(rows pgx.Rows) ([]int64, error) {
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
