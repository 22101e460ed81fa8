package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGUserRolesListByUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	created := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "user_id", "role", "department_id", "created_at"}).
		AddRow("r1", "u1", "ADMIN", "dept-1", created).
		AddRow("r2", "u1", "OWNER", nil, created)
	mock.ExpectQuery("select id, user_id, role, department_id, created_at").
		WithArgs("u1").
		WillReturnRows(rows)

	store := NewPGStore(db)
	out, err := store.UserRoles(context.Background()).ListByUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(out))
	}
	if out[0].Role != RoleAdmin || out[0].DepartmentID != "dept-1" {
		t.Fatalf("unexpected first row: %+v", out[0])
	}
	if out[1].Role != RoleOwner || out[1].DepartmentID != "" {
		t.Fatalf("owner row should carry no department: %+v", out[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGUsersFindByEmailNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select id, organization_id, email").
		WithArgs("ghost@acme.test").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	store := NewPGStore(db)
	_, err = store.Users(context.Background()).FindByEmail(context.Background(), "ghost@acme.test")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRefreshTokenRevocation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update refresh_tokens set revoked=true where id=").
		WithArgs("tok-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update refresh_tokens set revoked=true where id=").
		WithArgs("tok-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPGStore(db)
	tokens := store.RefreshTokens(context.Background())

	if err := tokens.MarkRevoked(context.Background(), "tok-1"); err != nil {
		t.Fatalf("MarkRevoked: %v", err)
	}
	if err := tokens.MarkRevoked(context.Background(), "tok-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing token, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
