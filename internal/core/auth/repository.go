package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/pmr/pmr-api/internal/storage/postgres"
)

// Store is the persistence the auth service depends on. Write methods that
// take a Querier run inside the caller's transaction when given a *sql.Tx.
type Store interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error

	CreateUser(ctx context.Context, q postgres.Querier, user *User) error
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByRFC(ctx context.Context, rfc string) (*User, error)
	MarkEmailVerified(ctx context.Context, q postgres.Querier, userID int64, at time.Time) error

	CreateAccessToken(ctx context.Context, token *AccessToken) error
	GetAccessToken(ctx context.Context, id uuid.UUID) (*AccessToken, error)
	TouchAccessToken(ctx context.Context, id uuid.UUID, at time.Time) error
	DeleteAccessToken(ctx context.Context, id uuid.UUID) error
	DeleteUserAccessTokens(ctx context.Context, userID int64) error

	CreateVerificationToken(ctx context.Context, q postgres.Querier, token *VerificationToken) error
	GetVerificationToken(ctx context.Context, token string) (*VerificationToken, error)
	DeleteUserVerificationTokens(ctx context.Context, q postgres.Querier, userID int64) error
	HasPendingVerification(ctx context.Context, userID int64, now time.Time) (bool, error)

	GetRoles(ctx context.Context) ([]*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	GetUserRoles(ctx context.Context, userID int64) ([]string, error)
	GetUserPermissions(ctx context.Context, userID int64) ([]string, error)
	SyncUserRoles(ctx context.Context, q postgres.Querier, userID int64, roles []string) error
}

type Repository struct {
	db *postgres.Client
}

func NewRepository(db *postgres.Client) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return r.db.WithTx(ctx, fn)
}

const userColumns = `id, rfc, user_type, name, email, email_verified_at, password, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	user := &User{}
	var rfc sql.NullString
	var verifiedAt, deletedAt sql.NullTime
	err := row.Scan(
		&user.ID, &rfc, &user.UserType, &user.Name, &user.Email, &verifiedAt,
		&user.PasswordHash, &user.CreatedAt, &user.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}
	user.RFC = rfc.String
	if verifiedAt.Valid {
		user.EmailVerifiedAt = &verifiedAt.Time
	}
	if deletedAt.Valid {
		user.DeletedAt = &deletedAt.Time
	}
	return user, nil
}

// User methods
func (r *Repository) CreateUser(ctx context.Context, q postgres.Querier, user *User) error {
	query := `
		INSERT INTO users (rfc, user_type, name, email, email_verified_at, password)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`
	return q.QueryRowContext(ctx, query,
		user.RFC, user.UserType, user.Name, user.Email, user.EmailVerifiedAt, user.PasswordHash,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
}

func (r *Repository) getUser(ctx context.Context, where string, arg any) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where + ` AND deleted_at IS NULL`
	user, err := scanUser(r.db.DB.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

func (r *Repository) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return r.getUser(ctx, `id = $1`, id)
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx, `email = $1`, email)
}

func (r *Repository) GetUserByRFC(ctx context.Context, rfc string) (*User, error) {
	return r.getUser(ctx, `rfc = $1`, rfc)
}

func (r *Repository) MarkEmailVerified(ctx context.Context, q postgres.Querier, userID int64, at time.Time) error {
	query := `UPDATE users SET email_verified_at = $2, updated_at = NOW() WHERE id = $1`
	_, err := q.ExecContext(ctx, query, userID, at)
	return err
}

// Access token methods
func (r *Repository) CreateAccessToken(ctx context.Context, token *AccessToken) error {
	query := `
		INSERT INTO personal_access_tokens (id, user_id, name, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`
	return r.db.DB.QueryRowContext(ctx, query,
		token.ID, token.UserID, token.Name, token.ExpiresAt,
	).Scan(&token.CreatedAt)
}

func (r *Repository) GetAccessToken(ctx context.Context, id uuid.UUID) (*AccessToken, error) {
	query := `SELECT id, user_id, name, expires_at, last_used_at, created_at FROM personal_access_tokens WHERE id = $1`
	token := &AccessToken{}
	var lastUsed sql.NullTime
	err := r.db.DB.QueryRowContext(ctx, query, id).Scan(
		&token.ID, &token.UserID, &token.Name, &token.ExpiresAt, &lastUsed, &token.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		token.LastUsedAt = &lastUsed.Time
	}
	return token, nil
}

func (r *Repository) TouchAccessToken(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.DB.ExecContext(ctx, `UPDATE personal_access_tokens SET last_used_at = $2 WHERE id = $1`, id, at)
	return err
}

func (r *Repository) DeleteAccessToken(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.DB.ExecContext(ctx, `DELETE FROM personal_access_tokens WHERE id = $1`, id)
	return err
}

func (r *Repository) DeleteUserAccessTokens(ctx context.Context, userID int64) error {
	_, err := r.db.DB.ExecContext(ctx, `DELETE FROM personal_access_tokens WHERE user_id = $1`, userID)
	return err
}

// Email verification methods
func (r *Repository) CreateVerificationToken(ctx context.Context, q postgres.Querier, token *VerificationToken) error {
	query := `
		INSERT INTO email_verification_tokens (user_id, token, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`
	return q.QueryRowContext(ctx, query,
		token.UserID, token.Token, token.ExpiresAt,
	).Scan(&token.ID, &token.CreatedAt)
}

func (r *Repository) GetVerificationToken(ctx context.Context, token string) (*VerificationToken, error) {
	query := `SELECT id, user_id, token, expires_at, created_at FROM email_verification_tokens WHERE token = $1`
	v := &VerificationToken{}
	err := r.db.DB.QueryRowContext(ctx, query, token).Scan(
		&v.ID, &v.UserID, &v.Token, &v.ExpiresAt, &v.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

func (r *Repository) DeleteUserVerificationTokens(ctx context.Context, q postgres.Querier, userID int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM email_verification_tokens WHERE user_id = $1`, userID)
	return err
}

func (r *Repository) HasPendingVerification(ctx context.Context, userID int64, now time.Time) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM email_verification_tokens WHERE user_id = $1 AND expires_at > $2)`
	var exists bool
	err := r.db.DB.QueryRowContext(ctx, query, userID, now).Scan(&exists)
	return exists, err
}

// Role methods
func (r *Repository) GetRoles(ctx context.Context) ([]*Role, error) {
	query := `
		SELECT r.id, r.name, r.created_at, COALESCE(array_agg(p.name ORDER BY p.name) FILTER (WHERE p.name IS NOT NULL), '{}')
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		GROUP BY r.id, r.name, r.created_at
		ORDER BY r.id`
	rows, err := r.db.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role := &Role{}
		if err := rows.Scan(&role.ID, &role.Name, &role.CreatedAt, pq.Array(&role.Permissions)); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *Repository) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	query := `
		SELECT r.id, r.name, r.created_at, COALESCE(array_agg(p.name ORDER BY p.name) FILTER (WHERE p.name IS NOT NULL), '{}')
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE r.name = $1
		GROUP BY r.id, r.name, r.created_at`
	role := &Role{}
	err := r.db.DB.QueryRowContext(ctx, query, name).Scan(
		&role.ID, &role.Name, &role.CreatedAt, pq.Array(&role.Permissions),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return role, err
}

func (r *Repository) GetUserRoles(ctx context.Context, userID int64) ([]string, error) {
	query := `
		SELECT r.name FROM roles r
		INNER JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.id`
	return r.names(ctx, query, userID)
}

func (r *Repository) GetUserPermissions(ctx context.Context, userID int64) ([]string, error) {
	query := `
		SELECT DISTINCT p.name FROM permissions p
		INNER JOIN role_permissions rp ON rp.permission_id = p.id
		INNER JOIN user_roles ur ON ur.role_id = rp.role_id
		WHERE ur.user_id = $1
		ORDER BY p.name`
	return r.names(ctx, query, userID)
}

func (r *Repository) names(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// SyncUserRoles replaces the user's roles with the named ones.
func (r *Repository) SyncUserRoles(ctx context.Context, q postgres.Querier, userID int64, roles []string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		return err
	}
	if len(roles) == 0 {
		return nil
	}
	query := `
		INSERT INTO user_roles (user_id, role_id)
		SELECT $1, id FROM roles WHERE name = ANY($2)
		ON CONFLICT DO NOTHING`
	_, err := q.ExecContext(ctx, query, userID, pq.Array(roles))
	return err
}

// Seeding

// EnsureRole creates the role and its permissions when missing and grants
// every listed permission. Existing grants are kept.
func (r *Repository) EnsureRole(ctx context.Context, q postgres.Querier, name string, permissions []string) error {
	if _, err := q.ExecContext(ctx,
		`INSERT INTO roles (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name); err != nil {
		return err
	}
	if len(permissions) == 0 {
		return nil
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO permissions (name) SELECT unnest($1::text[]) ON CONFLICT (name) DO NOTHING`,
		pq.Array(permissions)); err != nil {
		return err
	}
	query := `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT r.id, p.id FROM roles r, permissions p
		WHERE r.name = $1 AND p.name = ANY($2)
		ON CONFLICT DO NOTHING`
	_, err := q.ExecContext(ctx, query, name, pq.Array(permissions))
	return err
}
