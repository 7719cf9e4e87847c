package auth

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pmr/pmr-api/config"
	"github.com/pmr/pmr-api/internal/core/mail"
	"github.com/pmr/pmr-api/internal/log"
	"github.com/pmr/pmr-api/internal/metrics"
	"github.com/pmr/pmr-api/internal/storage/postgres"
)

// MockStore implements Store in memory for testing
type MockStore struct {
	users         map[int64]*User
	nextUserID    int64
	tokens        map[uuid.UUID]*AccessToken
	verifications map[string]*VerificationToken
	roles         map[string]*Role
	userRoles     map[int64][]string
}

func NewMockStore() *MockStore {
	m := &MockStore{
		users:         make(map[int64]*User),
		tokens:        make(map[uuid.UUID]*AccessToken),
		verifications: make(map[string]*VerificationToken),
		roles:         make(map[string]*Role),
		userRoles:     make(map[int64][]string),
	}
	for i, r := range DefaultRoles {
		m.roles[r.Name] = &Role{ID: int64(i + 1), Name: r.Name, Permissions: r.Permissions}
	}
	return m
}

func (m *MockStore) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

func (m *MockStore) EnsureRole(ctx context.Context, q postgres.Querier, name string, permissions []string) error {
	if r, ok := m.roles[name]; ok {
		r.Permissions = permissions
		return nil
	}
	m.roles[name] = &Role{ID: int64(len(m.roles) + 1), Name: name, Permissions: permissions}
	return nil
}

func (m *MockStore) CreateUser(ctx context.Context, q postgres.Querier, user *User) error {
	m.nextUserID++
	user.ID = m.nextUserID
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	m.users[user.ID] = user
	return nil
}

func (m *MockStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return m.users[id], nil
}

func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (m *MockStore) GetUserByRFC(ctx context.Context, rfc string) (*User, error) {
	for _, u := range m.users {
		if u.RFC == rfc {
			return u, nil
		}
	}
	return nil, nil
}

func (m *MockStore) MarkEmailVerified(ctx context.Context, q postgres.Querier, userID int64, at time.Time) error {
	if u, ok := m.users[userID]; ok {
		u.EmailVerifiedAt = &at
	}
	return nil
}

func (m *MockStore) CreateAccessToken(ctx context.Context, token *AccessToken) error {
	token.CreatedAt = time.Now()
	m.tokens[token.ID] = token
	return nil
}

func (m *MockStore) GetAccessToken(ctx context.Context, id uuid.UUID) (*AccessToken, error) {
	return m.tokens[id], nil
}

func (m *MockStore) TouchAccessToken(ctx context.Context, id uuid.UUID, at time.Time) error {
	if t, ok := m.tokens[id]; ok {
		t.LastUsedAt = &at
	}
	return nil
}

func (m *MockStore) DeleteAccessToken(ctx context.Context, id uuid.UUID) error {
	delete(m.tokens, id)
	return nil
}

func (m *MockStore) DeleteUserAccessTokens(ctx context.Context, userID int64) error {
	for id, t := range m.tokens {
		if t.UserID == userID {
			delete(m.tokens, id)
		}
	}
	return nil
}

func (m *MockStore) CreateVerificationToken(ctx context.Context, q postgres.Querier, token *VerificationToken) error {
	token.ID = int64(len(m.verifications) + 1)
	m.verifications[token.Token] = token
	return nil
}

func (m *MockStore) GetVerificationToken(ctx context.Context, token string) (*VerificationToken, error) {
	return m.verifications[token], nil
}

func (m *MockStore) DeleteUserVerificationTokens(ctx context.Context, q postgres.Querier, userID int64) error {
	for k, v := range m.verifications {
		if v.UserID == userID {
			delete(m.verifications, k)
		}
	}
	return nil
}

func (m *MockStore) HasPendingVerification(ctx context.Context, userID int64, now time.Time) (bool, error) {
	for _, v := range m.verifications {
		if v.UserID == userID && !v.Expired(now) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockStore) GetRoles(ctx context.Context) ([]*Role, error) {
	roles := make([]*Role, 0, len(m.roles))
	for _, r := range m.roles {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })
	return roles, nil
}

func (m *MockStore) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	return m.roles[name], nil
}

func (m *MockStore) GetUserRoles(ctx context.Context, userID int64) ([]string, error) {
	return append([]string{}, m.userRoles[userID]...), nil
}

func (m *MockStore) GetUserPermissions(ctx context.Context, userID int64) ([]string, error) {
	seen := map[string]bool{}
	perms := []string{}
	for _, name := range m.userRoles[userID] {
		for _, p := range m.roles[name].Permissions {
			if !seen[p] {
				seen[p] = true
				perms = append(perms, p)
			}
		}
	}
	sort.Strings(perms)
	return perms, nil
}

func (m *MockStore) SyncUserRoles(ctx context.Context, q postgres.Querier, userID int64, roles []string) error {
	m.userRoles[userID] = append([]string{}, roles...)
	return nil
}

type recordingMailer struct {
	sent []mail.Message
}

func (r *recordingMailer) Send(ctx context.Context, msg mail.Message) error {
	r.sent = append(r.sent, msg)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		JWT:  config.JWTConfig{Secret: "test-secret", ExpirationMinutes: 60},
		Auth: config.AuthConfig{LoginAttemptsPerMinute: 5, RegisterAttemptsPerHour: 5, VerificationExpiryMinutes: 60},
		Mail: config.MailConfig{FrontendURL: "http://localhost:4200"},
	}
}

func newTestService() (*Service, *MockStore, *recordingMailer) {
	store := NewMockStore()
	mailer := &recordingMailer{}
	svc := NewService(store, testConfig(), mailer, log.Nop(), metrics.NewForTesting())
	return svc, store, mailer
}

// addUser stores a user with the given password and role.
func addUser(store *MockStore, rfc, email, password, role string, verified bool) *User {
	hash, _ := HashPassword(password)
	user := &User{RFC: rfc, UserType: UserTypeExternal, Name: "Test User", Email: email, PasswordHash: hash}
	if verified {
		now := time.Now()
		user.EmailVerifiedAt = &now
	}
	store.CreateUser(context.Background(), nil, user)
	if role != "" {
		store.SyncUserRoles(context.Background(), nil, user.ID, []string{role})
	}
	return user
}
