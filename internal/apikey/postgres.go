package apikey

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PGStore implements Store using PostgreSQL. Scopes are stored as a
// space-joined text column; the secret digest as bytea.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Get(ctx context.Context, keyID string) (*Key, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, secret_hash, coalesce(org_id, ''), scopes, is_active, created_at, revoked_at
		from api_keys where id=$1`, keyID)
	var (
		key       Key
		scopesRaw string
		revokedAt sql.NullTime
	)
	if err := row.Scan(&key.ID, &key.SecretHash, &key.OrgID, &scopesRaw, &key.IsActive, &key.CreatedAt, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	key.Scopes = make(map[string]struct{})
	for _, scope := range strings.Fields(scopesRaw) {
		key.Scopes[scope] = struct{}{}
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		key.RevokedAt = &t
	}
	return &key, nil
}

func (s *PGStore) Put(ctx context.Context, key *Key) error {
	scopes := make([]string, 0, len(key.Scopes))
	for scope := range key.Scopes {
		scopes = append(scopes, scope)
	}
	var orgID any
	if key.OrgID != "" {
		orgID = key.OrgID
	}
	_, err := s.db.ExecContext(ctx, `
		insert into api_keys(id, secret_hash, org_id, scopes, is_active, created_at)
		values($1,$2,$3,$4,$5,$6)`,
		key.ID, key.SecretHash, orgID, strings.Join(scopes, " "), key.IsActive, key.CreatedAt,
	)
	return err
}

func (s *PGStore) MarkRevoked(ctx context.Context, keyID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update api_keys set is_active=false, revoked_at=$2
		where id=$1 and is_active`, keyID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
