package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/pmr/pmr-api/internal/storage/postgres"
)

// Seeder is the store used by the bootstrap command. Implemented by
// Repository.
type Seeder interface {
	Store
	EnsureRole(ctx context.Context, q postgres.Querier, name string, permissions []string) error
}

// SuperAdmin describes the bootstrap administrator account.
type SuperAdmin struct {
	Name     string
	Email    string
	Password string
	RFC      string
}

// SeedRoles creates the default roles and permissions. Safe to re-run.
func SeedRoles(ctx context.Context, repo Seeder) error {
	return repo.WithTx(ctx, func(tx *sql.Tx) error {
		for _, role := range DefaultRoles {
			if err := repo.EnsureRole(ctx, tx, role.Name, role.Permissions); err != nil {
				return err
			}
		}
		return nil
	})
}

// SeedSuperAdmin creates the verified internal administrator unless a user
// with that email exists. It reports whether a user was created.
func SeedSuperAdmin(ctx context.Context, repo Seeder, admin SuperAdmin) (*User, bool, error) {
	existing, err := repo.GetUserByEmail(ctx, admin.Email)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		roles, err := repo.GetUserRoles(ctx, existing.ID)
		if err != nil {
			return nil, false, err
		}
		if len(roles) == 0 {
			err = repo.WithTx(ctx, func(tx *sql.Tx) error {
				return repo.SyncUserRoles(ctx, tx, existing.ID, []string{RoleAdminSistema})
			})
		}
		return existing, false, err
	}

	hash, err := HashPassword(admin.Password)
	if err != nil {
		return nil, false, err
	}
	now := time.Now()
	user := &User{
		RFC:             NormalizeRFC(admin.RFC),
		UserType:        UserTypeInternal,
		Name:            admin.Name,
		Email:           admin.Email,
		EmailVerifiedAt: &now,
		PasswordHash:    hash,
	}

	err = repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := repo.CreateUser(ctx, tx, user); err != nil {
			return err
		}
		return repo.SyncUserRoles(ctx, tx, user.ID, []string{RoleAdminSistema})
	})
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}
