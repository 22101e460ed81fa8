package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"taskgrid.org/internal/ids"
)

const pgErrUniqueViolation = "23505"

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

// OpenPG opens a pooled connection and wraps it in a PGStore.
func OpenPG(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &PGStore{db: db}, nil
}

// NewPGStore wraps an existing connection pool.
func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Close() error { return s.db.Close() }

func (s *PGStore) DB() *sql.DB { return s.db }

func (s *PGStore) Organizations(context.Context) OrganizationStore { return &pgOrgStore{s.db} }
func (s *PGStore) Users(context.Context) UserStore                 { return &pgUserStore{s.db} }
func (s *PGStore) Departments(context.Context) DepartmentStore     { return &pgDeptStore{s.db} }
func (s *PGStore) UserRoles(context.Context) UserRoleStore         { return &pgRoleStore{s.db} }
func (s *PGStore) Permissions(context.Context) PermissionStore     { return &pgPermStore{s.db} }
func (s *PGStore) RefreshTokens(context.Context) RefreshTokenStore { return &pgTokenStore{s.db} }

func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
		return ErrConflict
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Organization store --------------------------------------------------------

type pgOrgStore struct{ db *sql.DB }

func (s *pgOrgStore) Create(ctx context.Context, org *Organization) error {
	if org.ID == "" {
		org.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into organizations (id, name)
		values ($1, $2)
		returning created_at, updated_at
	`, org.ID, org.Name)
	if err := row.Scan(&org.CreatedAt, &org.UpdatedAt); err != nil {
		return mapPGError(err)
	}
	return nil
}

func (s *pgOrgStore) Find(ctx context.Context, id string) (*Organization, error) {
	var org Organization
	err := s.db.QueryRowContext(ctx, `
		select id, name, created_at, updated_at from organizations where id=$1
	`, id).Scan(&org.ID, &org.Name, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, mapPGError(err)
	}
	return &org, nil
}

// User store -----------------------------------------------------------------

type pgUserStore struct{ db *sql.DB }

func (s *pgUserStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, organization_id, email, name, is_owner, password_hash, status)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning created_at, updated_at
	`, u.ID, u.OrganizationID, u.Email, u.Name, u.IsOwner, u.PasswordHash, u.Status)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		return mapPGError(err)
	}
	return nil
}

func (s *pgUserStore) Find(ctx context.Context, id string) (*User, error) {
	return s.scanOne(ctx, `where id=$1`, id)
}

func (s *pgUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanOne(ctx, `where email=$1`, email)
}

func (s *pgUserStore) scanOne(ctx context.Context, where string, arg any) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		select id, organization_id, email, name, is_owner, password_hash, status, created_at, updated_at
		from users `+where,
		arg,
	).Scan(&u.ID, &u.OrganizationID, &u.Email, &u.Name, &u.IsOwner, &u.PasswordHash, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapPGError(err)
	}
	return &u, nil
}

// Department store -------------------------------------------------------------

type pgDeptStore struct{ db *sql.DB }

func (s *pgDeptStore) Create(ctx context.Context, d *Department) error {
	if d.ID == "" {
		d.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into departments (id, organization_id, name)
		values ($1, $2, $3)
		returning created_at, updated_at
	`, d.ID, d.OrganizationID, d.Name)
	if err := row.Scan(&d.CreatedAt, &d.UpdatedAt); err != nil {
		return mapPGError(err)
	}
	return nil
}

func (s *pgDeptStore) Find(ctx context.Context, id string) (*Department, error) {
	var d Department
	err := s.db.QueryRowContext(ctx, `
		select id, organization_id, name, created_at, updated_at from departments where id=$1
	`, id).Scan(&d.ID, &d.OrganizationID, &d.Name, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, mapPGError(err)
	}
	return &d, nil
}

func (s *pgDeptStore) ListByOrg(ctx context.Context, orgID string) ([]Department, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, organization_id, name, created_at, updated_at
		from departments where organization_id=$1 order by name
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Department
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.ID, &d.OrganizationID, &d.Name, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UserRole store --------------------------------------------------------------

type pgRoleStore struct{ db *sql.DB }

func (s *pgRoleStore) Assign(ctx context.Context, row *UserRole) error {
	if row.ID == "" {
		row.ID = ids.New()
	}
	// department_id is null for org-wide OWNER rows.
	var dept sql.NullString
	if row.DepartmentID != "" {
		dept = sql.NullString{String: row.DepartmentID, Valid: true}
	}
	r := s.db.QueryRowContext(ctx, `
		insert into user_roles (id, user_id, role, department_id)
		values ($1, $2, $3, $4)
		returning created_at
	`, row.ID, row.UserID, string(row.Role), dept)
	if err := r.Scan(&row.CreatedAt); err != nil {
		return mapPGError(err)
	}
	return nil
}

func (s *pgRoleStore) ListByUser(ctx context.Context, userID string) ([]UserRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, role, department_id, created_at
		from user_roles where user_id=$1 order by created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserRole
	for rows.Next() {
		var (
			row  UserRole
			role string
			dept sql.NullString
		)
		if err := rows.Scan(&row.ID, &row.UserID, &role, &dept, &row.CreatedAt); err != nil {
			return nil, err
		}
		row.Role = Role(role)
		if dept.Valid {
			row.DepartmentID = dept.String
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *pgRoleStore) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from user_roles where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Permission store --------------------------------------------------------------

type pgPermStore struct{ db *sql.DB }

func (s *pgPermStore) Ensure(ctx context.Context, rules []PermissionRule) error {
	for _, r := range rules {
		if _, err := s.db.ExecContext(ctx, `
			insert into permissions (action, resource, role)
			values ($1, $2, $3)
			on conflict (action, resource, role) do nothing
		`, r.Action, r.Resource, string(r.Role)); err != nil {
			return err
		}
	}
	return nil
}

func (s *pgPermStore) List(ctx context.Context) ([]PermissionRule, error) {
	rows, err := s.db.QueryContext(ctx, `select action, resource, role from permissions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PermissionRule
	for rows.Next() {
		var (
			rule PermissionRule
			role string
		)
		if err := rows.Scan(&rule.Action, &rule.Resource, &role); err != nil {
			return nil, err
		}
		rule.Role = Role(role)
		out = append(out, rule)
	}
	return out, rows.Err()
}

// RefreshToken store --------------------------------------------------------------

type pgTokenStore struct{ db *sql.DB }

func (s *pgTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, expires_at, revoked)
		values ($1, $2, $3, $4, false)
	`, tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt)
	if err != nil {
		return mapPGError(err)
	}
	return nil
}

func (s *pgTokenStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	var tok RefreshToken
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, expires_at, created_at, revoked
		from refresh_tokens where id=$1
	`, id).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked)
	if err != nil {
		return nil, mapPGError(err)
	}
	return &tok, nil
}

func (s *pgTokenStore) MarkRevoked(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `update refresh_tokens set revoked=true where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgTokenStore) MarkRevokedByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `update refresh_tokens set revoked=true where user_id=$1`, userID)
	return err
}
