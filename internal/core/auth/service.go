package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pmr/pmr-api/config"
	"github.com/pmr/pmr-api/internal/core/mail"
	"github.com/pmr/pmr-api/internal/log"
	"github.com/pmr/pmr-api/internal/metrics"
	"github.com/pmr/pmr-api/internal/storage/postgres"
)

var (
	ErrInvalidCredentials  = errors.New("invalid rfc or password")
	ErrEmailNotVerified    = errors.New("email not verified")
	ErrEmailTaken          = errors.New("user with this email already exists")
	ErrRFCTaken            = errors.New("user with this rfc already exists")
	ErrTooManyAttempts     = errors.New("too many attempts")
	ErrUserNotFound        = errors.New("user not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrTokenExpired        = errors.New("token expired")
	ErrVerificationExpired = errors.New("verification token expired")
	ErrVerificationUnknown = errors.New("verification token not found")
	ErrAlreadyVerified     = errors.New("email already verified")
	ErrRoleNotFound        = errors.New("role not found")
	ErrSelfDemotion        = errors.New("cannot change own system administrator role")
)

// ThrottledError is returned when a caller ran out of attempts.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("too many attempts, retry in %d seconds", e.Seconds())
}

func (e *ThrottledError) Is(target error) bool {
	return target == ErrTooManyAttempts
}

// Seconds rounds the wait up so clients never retry early.
func (e *ThrottledError) Seconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// ForbiddenError carries the user-facing reason for a denied action.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	return e.Message
}

func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

const (
	tokenName = "auth_token"
	tokenType = "Bearer"
)

type Service struct {
	store       Store
	jwt         config.JWTConfig
	auth        config.AuthConfig
	frontendURL string
	mailer      mail.Mailer
	logger      log.Logger
	metrics     *metrics.MetricsCollection

	loginThrottle    *Throttle
	registerThrottle *Throttle
	verifyThrottle   *Throttle

	now func() time.Time
}

func NewService(store Store, cfg *config.Config, mailer mail.Mailer, logger log.Logger, m *metrics.MetricsCollection) *Service {
	return &Service{
		store:            store,
		jwt:              cfg.JWT,
		auth:             cfg.Auth,
		frontendURL:      cfg.Mail.FrontendURL,
		mailer:           mailer,
		logger:           logger,
		metrics:          m,
		loginThrottle:    NewThrottle(cfg.Auth.LoginAttemptsPerMinute, time.Minute),
		registerThrottle: NewThrottle(cfg.Auth.RegisterAttemptsPerHour, time.Hour),
		verifyThrottle:   NewThrottle(10, time.Hour),
		now:              time.Now,
	}
}

type JWTClaims struct {
	UserID int64  `json:"user_id"`
	RFC    string `json:"rfc"`
	jwt.RegisteredClaims
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func NormalizeRFC(rfc string) string {
	return strings.ToUpper(strings.TrimSpace(rfc))
}

// Register creates an external user with the solicitante role and mails a
// verification link.
func (s *Service) Register(ctx context.Context, req *RegisterRequest, clientIP string) (*UserView, error) {
	key := "register:" + clientIP
	if ok, wait := s.registerThrottle.Allow(key); !ok {
		return nil, &ThrottledError{RetryAfter: wait}
	}

	rfc := NormalizeRFC(req.RFC)
	if existing, err := s.store.GetUserByEmail(ctx, req.Email); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrEmailTaken
	}
	if existing, err := s.store.GetUserByRFC(ctx, rfc); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrRFCTaken
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &User{
		RFC:          rfc,
		UserType:     UserTypeExternal,
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
	}

	var verification *VerificationToken
	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.store.CreateUser(ctx, tx, user); err != nil {
			return err
		}
		if err := s.store.SyncUserRoles(ctx, tx, user.ID, []string{RoleSolicitante}); err != nil {
			return err
		}
		v, err := s.issueVerification(ctx, tx, user.ID)
		verification = v
		return err
	})
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	s.sendVerification(ctx, user, verification)
	return s.view(ctx, user)
}

// Login authenticates by rfc and password and issues a fresh token, revoking
// the user's previous ones.
func (s *Service) Login(ctx context.Context, req *LoginRequest, clientIP string) (*AuthResponse, error) {
	key := strings.ToLower(strings.TrimSpace(req.RFC)) + "|" + clientIP
	if ok, wait := s.loginThrottle.Allow(key); !ok {
		s.countLogin("throttled")
		return nil, &ThrottledError{RetryAfter: wait}
	}

	user, err := s.store.GetUserByRFC(ctx, NormalizeRFC(req.RFC))
	if err != nil {
		return nil, err
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		s.countLogin("invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	// Only failed credentials keep their attempt.
	s.loginThrottle.Clear(key)
	if !user.IsEmailVerified() {
		s.countLogin("unverified")
		return nil, ErrEmailNotVerified
	}

	if err := s.store.DeleteUserAccessTokens(ctx, user.ID); err != nil {
		return nil, err
	}

	resp, err := s.issueToken(ctx, user)
	if err != nil {
		return nil, err
	}
	s.countLogin("success")
	resp.Message = "Login exitoso."
	return resp, nil
}

func (s *Service) countLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.LoginAttempts.WithLabelValues(outcome).Inc()
	}
}

// Logout revokes every token of the caller.
func (s *Service) Logout(ctx context.Context, p *Principal) error {
	return s.store.DeleteUserAccessTokens(ctx, p.User.ID)
}

// Refresh replaces the caller's current token with a new one.
func (s *Service) Refresh(ctx context.Context, p *Principal) (*AuthResponse, error) {
	if err := s.store.DeleteAccessToken(ctx, p.TokenID); err != nil {
		return nil, err
	}
	resp, err := s.issueToken(ctx, p.User)
	if err != nil {
		return nil, err
	}
	resp.Message = "Token refrescado exitosamente."
	return resp, nil
}

func (s *Service) Me(ctx context.Context, p *Principal) (*UserView, error) {
	return s.view(ctx, p.User)
}

// CheckToken reports the expiry of the caller's current token.
func (s *Service) CheckToken(ctx context.Context, p *Principal) (*TokenStatus, error) {
	token, err := s.store.GetAccessToken(ctx, p.TokenID)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, ErrUnauthorized
	}

	now := s.now()
	status := &TokenStatus{
		Valid:            !token.Expired(now),
		ExpiresAt:        token.ExpiresAt,
		ExpiresInMinutes: int(math.Max(0, token.ExpiresAt.Sub(now).Minutes())),
		Message:          "Token válido.",
	}
	if !status.Valid {
		status.Message = "Token expirado."
	}
	return status, nil
}

// Authenticate resolves a bearer token into a principal. The token's jti must
// still be present in the token store.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*Principal, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrUnauthorized
	}

	tokenID, err := uuid.Parse(claims.ID)
	if err != nil {
		return nil, ErrUnauthorized
	}
	token, err := s.store.GetAccessToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if token == nil || token.UserID != claims.UserID {
		return nil, ErrUnauthorized
	}
	now := s.now()
	if token.Expired(now) {
		return nil, ErrTokenExpired
	}

	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUnauthorized
	}

	roles, err := s.store.GetUserRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	permissions, err := s.store.GetUserPermissions(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	if err := s.store.TouchAccessToken(ctx, tokenID, now); err != nil {
		s.logger.Warn("failed to record token use", "token_id", tokenID, "error", err)
	}

	return &Principal{User: user, TokenID: tokenID, Roles: roles, Permissions: permissions}, nil
}

func (s *Service) issueToken(ctx context.Context, user *User) (*AuthResponse, error) {
	now := s.now()
	record := &AccessToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		Name:      tokenName,
		ExpiresAt: now.Add(s.jwt.ExpirationDuration()),
	}
	if err := s.store.CreateAccessToken(ctx, record); err != nil {
		return nil, err
	}

	signed, err := s.generateToken(user, record, now)
	if err != nil {
		return nil, err
	}

	view, err := s.view(ctx, user)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		User:             view,
		Token:            signed,
		TokenType:        tokenType,
		ExpiresAt:        record.ExpiresAt,
		ExpiresInMinutes: s.jwt.ExpirationMinutes,
	}, nil
}

func (s *Service) generateToken(user *User, record *AccessToken, now time.Time) (string, error) {
	claims := JWTClaims{
		UserID: user.ID,
		RFC:    user.RFC,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        record.ID.String(),
			Subject:   strconv.FormatInt(user.ID, 10),
			ExpiresAt: jwt.NewNumericDate(record.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwt.Secret))
}

func (s *Service) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwt.Secret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrUnauthorized
}

// view loads the authorization data shown alongside a user.
func (s *Service) view(ctx context.Context, user *User) (*UserView, error) {
	roles, err := s.store.GetUserRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	permissions, err := s.store.GetUserPermissions(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.HasPendingVerification(ctx, user.ID, s.now())
	if err != nil {
		return nil, err
	}

	v := &UserView{
		User:                   user,
		IsEmailVerified:        user.IsEmailVerified(),
		HasPendingVerification: pending,
		Roles:                  roles,
		Permissions:            permissions,
	}
	if len(roles) > 0 {
		v.PrimaryRole = &roles[0]
	}
	return v, nil
}

func generateVerificationToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
