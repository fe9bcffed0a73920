package login

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PGAccountStore implements AccountStore using PostgreSQL. Backup-code
// hashes are a space-joined text column; consuming one rewrites the
// column.
type PGAccountStore struct {
	db *sql.DB
}

var _ AccountStore = (*PGAccountStore)(nil)

func NewPGAccountStore(db *sql.DB) *PGAccountStore {
	return &PGAccountStore{db: db}
}

func (s *PGAccountStore) FindByIdentity(ctx context.Context, identity string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		select identity, class, password_hash, totp_enabled, coalesce(totp_secret, ''),
		       coalesce(backup_code_hashes, ''), is_locked, locked_until, is_active
		from accounts where identity=$1`, strings.ToLower(identity))
	var (
		account     Account
		backupRaw   string
		lockedUntil sql.NullTime
	)
	err := row.Scan(&account.Identity, &account.Class, &account.PasswordHash,
		&account.TOTPEnabled, &account.TOTPSecret, &backupRaw,
		&account.IsLocked, &lockedUntil, &account.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	account.BackupCodeHashes = strings.Fields(backupRaw)
	if lockedUntil.Valid {
		t := lockedUntil.Time
		account.LockedUntil = &t
	}
	return &account, nil
}

func (s *PGAccountStore) Put(ctx context.Context, account *Account) error {
	var lockedUntil any
	if account.LockedUntil != nil {
		lockedUntil = *account.LockedUntil
	}
	_, err := s.db.ExecContext(ctx, `
		insert into accounts(identity, class, password_hash, totp_enabled, totp_secret,
		                     backup_code_hashes, is_locked, locked_until, is_active)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9)
		on conflict (identity) do update set
			class=excluded.class,
			password_hash=excluded.password_hash,
			totp_enabled=excluded.totp_enabled,
			totp_secret=excluded.totp_secret,
			backup_code_hashes=excluded.backup_code_hashes,
			is_locked=excluded.is_locked,
			locked_until=excluded.locked_until,
			is_active=excluded.is_active`,
		strings.ToLower(account.Identity), account.Class, account.PasswordHash,
		account.TOTPEnabled, account.TOTPSecret,
		strings.Join(account.BackupCodeHashes, " "),
		account.IsLocked, lockedUntil, account.IsActive,
	)
	return err
}

func (s *PGAccountStore) ReplaceBackupCodes(ctx context.Context, identity string, hashes []string) error {
	res, err := s.db.ExecContext(ctx, `
		update accounts set backup_code_hashes=$2 where identity=$1`,
		strings.ToLower(identity), strings.Join(hashes, " "))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}
