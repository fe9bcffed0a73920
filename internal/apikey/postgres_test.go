package apikey

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGStoreGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	created := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "secret_hash", "org_id", "scopes", "is_active", "created_at", "revoked_at"}).
		AddRow("k1", HashSecret("s"), "o1", "federation:billing:read federation:sso:issue", true, created, nil)
	mock.ExpectQuery("select id, secret_hash").WithArgs("k1").WillReturnRows(rows)

	store := NewPGStore(db)
	key, err := store.Get(context.Background(), "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if key.ID != "k1" || key.OrgID != "o1" || !key.IsActive {
		t.Fatalf("unexpected key: %+v", key)
	}
	if len(key.Scopes) != 2 || !key.HasScope("federation:sso:issue") {
		t.Fatalf("scopes not decoded: %v", key.Scopes)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select id, secret_hash").WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "secret_hash", "org_id", "scopes", "is_active", "created_at", "revoked_at"}))

	store := NewPGStore(db)
	if _, err := store.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGStoreMarkRevoked(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	at := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("update api_keys set is_active=false").
		WithArgs("k1", at).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update api_keys set is_active=false").
		WithArgs("k1", at).WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPGStore(db)
	revoked, err := store.MarkRevoked(context.Background(), "k1", at)
	if err != nil || !revoked {
		t.Fatalf("first revoke: revoked=%v err=%v", revoked, err)
	}
	revoked, err = store.MarkRevoked(context.Background(), "k1", at)
	if err != nil || revoked {
		t.Fatalf("second revoke: revoked=%v err=%v", revoked, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
