package auth

import (
	"context"
	"database/sql"

	"github.com/pmr/pmr-api/internal/core/mail"
	"github.com/pmr/pmr-api/internal/storage/postgres"
)

// issueVerification replaces any outstanding verification token of the user.
func (s *Service) issueVerification(ctx context.Context, q postgres.Querier, userID int64) (*VerificationToken, error) {
	if err := s.store.DeleteUserVerificationTokens(ctx, q, userID); err != nil {
		return nil, err
	}

	token, err := generateVerificationToken()
	if err != nil {
		return nil, err
	}
	v := &VerificationToken{
		UserID:    userID,
		Token:     token,
		ExpiresAt: s.now().Add(s.auth.VerificationExpiry()),
	}
	if err := s.store.CreateVerificationToken(ctx, q, v); err != nil {
		return nil, err
	}
	return v, nil
}

// sendVerification mails the link. Delivery failures are logged; the user can
// ask for a new link.
func (s *Service) sendVerification(ctx context.Context, user *User, v *VerificationToken) {
	msg, err := mail.VerificationEmail(user.Email, user.Name, s.frontendURL, v.Token, v.ExpiresAt)
	if err == nil {
		err = s.mailer.Send(ctx, msg)
	}
	if err != nil {
		s.logger.Error("failed to send verification email", "user_id", user.ID, "error", err)
	}
}

// VerifyEmail marks the owner of token as verified and discards all of the
// owner's verification tokens.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*User, error) {
	v, err := s.store.GetVerificationToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrVerificationUnknown
	}

	if v.Expired(s.now()) {
		err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
			return s.store.DeleteUserVerificationTokens(ctx, tx, v.UserID)
		})
		if err != nil {
			return nil, err
		}
		return nil, ErrVerificationExpired
	}

	user, err := s.store.GetUserByID(ctx, v.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrVerificationUnknown
	}

	now := s.now()
	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if !user.IsEmailVerified() {
			if err := s.store.MarkEmailVerified(ctx, tx, user.ID, now); err != nil {
				return err
			}
		}
		return s.store.DeleteUserVerificationTokens(ctx, tx, user.ID)
	})
	if err != nil {
		return nil, err
	}

	if !user.IsEmailVerified() {
		user.EmailVerifiedAt = &now
	}
	return user, nil
}

// ResendVerification issues and mails a new token to an unverified user.
func (s *Service) ResendVerification(ctx context.Context, email, clientIP string) (*VerificationToken, error) {
	key := "email-verify:" + clientIP
	if ok, wait := s.verifyThrottle.Allow(key); !ok {
		return nil, &ThrottledError{RetryAfter: wait}
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if user.IsEmailVerified() {
		return nil, ErrAlreadyVerified
	}

	var v *VerificationToken
	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		issued, err := s.issueVerification(ctx, tx, user.ID)
		v = issued
		return err
	})
	if err != nil {
		return nil, err
	}

	s.sendVerification(ctx, user, v)
	return v, nil
}

func (s *Service) CheckVerification(ctx context.Context, email string) (*VerificationStatus, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	pending, err := s.store.HasPendingVerification(ctx, user.ID, s.now())
	if err != nil {
		return nil, err
	}
	return &VerificationStatus{
		Email:                  user.Email,
		IsVerified:             user.IsEmailVerified(),
		HasPendingVerification: pending,
		EmailVerifiedAt:        user.EmailVerifiedAt,
	}, nil
}
