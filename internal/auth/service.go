package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"taskgrid.org/internal/ids"
)

const (
	defaultIssuer     = "taskgrid"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour
)

// Claims are the access token claims used across the service.
type Claims struct {
	OrganizationID string `json:"org"`
	Owner          bool   `json:"owner"`
	TokenType      string `json:"token_type"`
	jwt.RegisteredClaims
}

// Service authenticates users and issues credential pairs. Access tokens are
// signed JWTs; refresh tokens are opaque `id.secret` strings whose secret hash
// is persisted and rotated on every exchange.
type Service struct {
	store      Store
	now        func() time.Time
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithTokenSecret sets the HS256 signing secret. Required.
func WithTokenSecret(secret string) ServiceOption {
	return func(s *Service) error {
		if strings.TrimSpace(secret) == "" {
			return errors.New("auth: token secret is empty")
		}
		s.secret = []byte(secret)
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:      store,
		now:        time.Now,
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if len(svc.secret) == 0 {
		return nil, errors.New("auth: token secret is not configured")
	}
	return svc, nil
}

// EnsurePermissions seeds the builtin permission reference table.
func (s *Service) EnsurePermissions(ctx context.Context) error {
	return s.store.Permissions(ctx).Ensure(ctx, BuiltinPermissions)
}

// PermissionTable loads the permission reference table from storage, falling
// back to the builtin rules when the store holds none.
func (s *Service) PermissionTable(ctx context.Context) (*PermissionTable, error) {
	rules, err := s.store.Permissions(ctx).List(ctx)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		rules = BuiltinPermissions
	}
	return NewPermissionTable(rules), nil
}

// RegisterParams are the registration fields. Registration bootstraps a
// tenant: the organization is created together with its owner user.
type RegisterParams struct {
	Organization string
	Name         string
	Email        string
	Password     string
}

// Register creates the organization and its owner, then issues tokens.
func (s *Service) Register(ctx context.Context, p RegisterParams) (TokenPair, *User, error) {
	p.Organization = strings.TrimSpace(p.Organization)
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.TrimSpace(strings.ToLower(p.Email))
	if p.Organization == "" || p.Email == "" || p.Password == "" {
		return TokenPair{}, nil, fmt.Errorf("%w: organization, email and password are required", ErrInvalidInput)
	}
	if existing, err := s.store.Users(ctx).FindByEmail(ctx, p.Email); err == nil && existing != nil {
		return TokenPair{}, nil, fmt.Errorf("%w: email already registered", ErrConflict)
	}
	hash, err := HashPassword(p.Password)
	if err != nil {
		return TokenPair{}, nil, err
	}

	org := &Organization{ID: ids.New(), Name: p.Organization}
	if err := s.store.Organizations(ctx).Create(ctx, org); err != nil {
		return TokenPair{}, nil, err
	}
	user := &User{
		ID:             ids.New(),
		OrganizationID: org.ID,
		Email:          p.Email,
		Name:           p.Name,
		IsOwner:        true,
		PasswordHash:   hash,
		Status:         UserStatusActive,
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return TokenPair{}, nil, err
	}
	pair, err := s.mintTokens(ctx, user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

// Login authenticates credentials and issues a fresh pair.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, *User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, nil, ErrUnauthorized
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		return TokenPair{}, nil, ErrUnauthorized
	}
	if user.Status != UserStatusActive {
		return TokenPair{}, nil, ErrUnauthorized
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, nil, ErrUnauthorized
	}
	pair, err := s.mintTokens(ctx, user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

// Refresh rotates the refresh token and issues new access credentials. Any
// validation failure is reported as ErrInvalidToken; a mismatched secret also
// revokes the stored record.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, *User, error) {
	tokenID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, nil, ErrInvalidToken
	}
	store := s.store.RefreshTokens(ctx)
	record, err := store.Find(ctx, tokenID)
	if err != nil {
		return TokenPair{}, nil, ErrInvalidToken
	}
	if record.Revoked || s.now().After(record.ExpiresAt) {
		return TokenPair{}, nil, ErrInvalidToken
	}
	if !secureCompareHash(record.TokenHash, secret) {
		_ = store.MarkRevoked(ctx, record.ID)
		return TokenPair{}, nil, ErrInvalidToken
	}
	user, err := s.store.Users(ctx).Find(ctx, record.UserID)
	if err != nil {
		return TokenPair{}, nil, ErrInvalidToken
	}
	if user.Status != UserStatusActive {
		return TokenPair{}, nil, ErrInvalidToken
	}

	// Rotate: revoke the old record before issuing a new pair.
	if err := store.MarkRevoked(ctx, record.ID); err != nil {
		return TokenPair{}, nil, err
	}
	pair, err := s.mintTokens(ctx, user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

// RevokeAll revokes every refresh token of the user (server-side logout).
func (s *Service) RevokeAll(ctx context.Context, userID string) error {
	return s.store.RefreshTokens(ctx).MarkRevokedByUser(ctx, userID)
}

// AuthenticateToken validates an access token and resolves the principal from
// storage, so revoked roles take effect immediately.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (Principal, error) {
	claims, err := s.verifyAccessToken(token)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	principal, err := s.Principal(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, err
	}
	return principal, nil
}

// Principal loads a user with its role rows.
func (s *Service) Principal(ctx context.Context, userID string) (Principal, error) {
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	roles, err := s.store.UserRoles(ctx).ListByUser(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		UserID:         user.ID,
		OrganizationID: user.OrganizationID,
		IsOwner:        user.IsOwner,
		Roles:          roles,
	}, nil
}

// WhoAmI returns the current identity and role rows for the "who am I" endpoint.
func (s *Service) WhoAmI(ctx context.Context, userID string) (*User, []UserRole, error) {
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	roles, err := s.store.UserRoles(ctx).ListByUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return user, roles, nil
}

// AssignRole grants a role, enforcing the scoping invariant: OWNER rows are
// org-wide, ADMIN/VIEWER rows always name a department.
func (s *Service) AssignRole(ctx context.Context, userID string, role Role, departmentID string) (UserRole, error) {
	userID = strings.TrimSpace(userID)
	departmentID = strings.TrimSpace(departmentID)
	if userID == "" {
		return UserRole{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	switch role {
	case RoleOwner:
		if departmentID != "" {
			return UserRole{}, fmt.Errorf("%w: owner roles are organization-wide", ErrInvalidInput)
		}
	case RoleAdmin, RoleViewer:
		if departmentID == "" {
			return UserRole{}, fmt.Errorf("%w: %s roles require a department", ErrInvalidInput, role)
		}
		if _, err := s.store.Departments(ctx).Find(ctx, departmentID); err != nil {
			return UserRole{}, err
		}
	default:
		return UserRole{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	row := &UserRole{
		ID:           ids.New(),
		UserID:       userID,
		Role:         role,
		DepartmentID: departmentID,
	}
	if err := s.store.UserRoles(ctx).Assign(ctx, row); err != nil {
		return UserRole{}, err
	}
	return *row, nil
}

// CreateDepartment adds a department to an organization.
func (s *Service) CreateDepartment(ctx context.Context, orgID, name string) (Department, error) {
	orgID = strings.TrimSpace(orgID)
	name = strings.TrimSpace(name)
	if orgID == "" || name == "" {
		return Department{}, fmt.Errorf("%w: organization_id and name are required", ErrInvalidInput)
	}
	dept := &Department{ID: ids.New(), OrganizationID: orgID, Name: name}
	if err := s.store.Departments(ctx).Create(ctx, dept); err != nil {
		return Department{}, err
	}
	return *dept, nil
}

// Departments lists an organization's departments.
func (s *Service) Departments(ctx context.Context, orgID string) ([]Department, error) {
	return s.store.Departments(ctx).ListByOrg(ctx, orgID)
}

// Token plumbing ------------------------------------------------------------

func (s *Service) mintTokens(ctx context.Context, user *User) (TokenPair, error) {
	now := s.now()
	accessToken, accessExp, err := s.signAccessToken(user, now)
	if err != nil {
		return TokenPair{}, err
	}
	refreshString, record, err := s.generateRefreshToken(user.ID, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.RefreshTokens(ctx).Create(ctx, record); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshString,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

func (s *Service) signAccessToken(user *User, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.accessTTL)
	claims := Claims{
		OrganizationID: user.OrganizationID,
		Owner:          user.IsOwner,
		TokenType:      "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (s *Service) verifyAccessToken(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.TokenType != "access" {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) generateRefreshToken(userID string, now time.Time) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	tokenID := ids.New()
	sum := sha256.Sum256([]byte(secret))
	record := &RefreshToken{
		ID:        tokenID,
		UserID:    userID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	return tokenID + "." + secret, record, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
