package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"credential-service/internal/observability"
)

const defaultMinPasswordLength = 6

// UserStore is the persistence boundary for user records keyed by email.
type UserStore interface {
	Find(ctx context.Context, email string) (UserRecord, error)
	Create(ctx context.Context, user UserRecord) error
	Update(ctx context.Context, user UserRecord) error
}

type Service struct {
	users             UserStore
	verifier          CredentialVerifier
	tokens            *TokenIssuer
	attempts          *AttemptTracker
	registry          TokenRegistry
	logger            *observability.Logger
	locks             *identityLocks
	minPasswordLength int
	now               func() time.Time
}

func NewService(users UserStore, verifier CredentialVerifier, tokens *TokenIssuer) *Service {
	now := func() time.Time { return time.Now().UTC() }

	return &Service{
		users:             users,
		verifier:          verifier,
		tokens:            tokens,
		attempts:          NewAttemptTracker(defaultMaxAttempts, defaultLockWindow).WithClock(now),
		locks:             newIdentityLocks(),
		minPasswordLength: defaultMinPasswordLength,
		now:               now,
	}
}

// WithSecurityConfig overrides the lockout policy. Non-positive values keep the defaults.
func (s *Service) WithSecurityConfig(maxAttempts int, lockWindow time.Duration) *Service {
	s.attempts = NewAttemptTracker(maxAttempts, lockWindow).WithClock(s.now)
	return s
}

// WithPasswordPolicy sets the minimum secret length checked at registration.
// Zero disables the check.
func (s *Service) WithPasswordPolicy(minLength int) *Service {
	if minLength < 0 {
		minLength = 0
	}
	s.minPasswordLength = minLength
	return s
}

// WithRegistry turns on refresh tokens.
func (s *Service) WithRegistry(registry TokenRegistry) *Service {
	s.registry = registry
	return s
}

func (s *Service) WithLogger(logger *observability.Logger) *Service {
	s.logger = logger
	return s
}

// WithClock drives the service, its tracker and its token issuer from one clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.attempts.WithClock(now)
	s.tokens.WithClock(now)
	return s
}

func (s *Service) RefreshEnabled() bool {
	return s.registry != nil
}

func (s *Service) Now() time.Time {
	return s.now()
}

func (s *Service) Register(ctx context.Context, email, password, name string) (PublicUser, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return PublicUser{}, InputError{Reason: "email and password are required"}
	}
	if s.minPasswordLength > 0 && len(password) < s.minPasswordLength {
		return PublicUser{}, InputError{Reason: fmt.Sprintf("password must be at least %d characters", s.minPasswordLength)}
	}

	unlock := s.locks.Lock(email)
	defer unlock()

	if _, err := s.users.Find(ctx, email); err == nil {
		return PublicUser{}, ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return PublicUser{}, fmt.Errorf("find user: %w", err)
	}

	secret, err := s.verifier.Hash(password)
	if err != nil {
		return PublicUser{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return PublicUser{}, fmt.Errorf("generate user id: %w", err)
	}

	user := UserRecord{
		ID:     id.String(),
		Email:  email,
		Name:   name,
		Secret: secret,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrUserExists) {
			return PublicUser{}, ErrUserExists
		}
		return PublicUser{}, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user_registered", map[string]any{"user_id": user.ID})

	return user.Public(), nil
}

// Login runs the whole check, verify and record sequence under the identity lock so
// concurrent failures for one email are never under-counted.
func (s *Service) Login(ctx context.Context, email, password string) (Tokens, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return Tokens{}, InputError{Reason: "email and password are required"}
	}

	unlock := s.locks.Lock(email)
	defer unlock()

	status := s.attempts.Check(email)
	if !status.Allowed {
		return Tokens{}, TooManyAttemptsError{Until: status.LockedUntil}
	}

	user, err := s.users.Find(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Tokens{}, s.failAttempt(email)
		}
		return Tokens{}, fmt.Errorf("find user: %w", err)
	}

	if !s.verifier.Verify(password, user.Secret) {
		return Tokens{}, s.failAttempt(email)
	}

	s.attempts.Record(email, true)

	tokens, err := s.issueTokens(ctx, user)
	if err != nil {
		return Tokens{}, err
	}

	now := s.now()
	user.LastLogin = &now
	if err := s.users.Update(ctx, user); err != nil {
		s.logger.Error("update_last_login_failed", map[string]any{
			"user_id": user.ID,
			"error":   err.Error(),
		})
	}

	return tokens, nil
}

// failAttempt charges one failure and reports what the tracker says is left.
func (s *Service) failAttempt(email string) error {
	s.attempts.Record(email, false)
	status := s.attempts.Check(email)
	return InvalidCredentialsError{Remaining: status.Remaining}
}

func (s *Service) issueTokens(ctx context.Context, user UserRecord) (Tokens, error) {
	access, _, err := s.tokens.IssueAccess(user.ID, user.Email)
	if err != nil {
		return Tokens{}, err
	}

	tokens := Tokens{
		AccessToken: access,
		ExpiresIn:   int64(s.tokens.AccessTTL().Seconds()),
	}
	if s.registry == nil {
		return tokens, nil
	}

	refresh, tokenID, expiresAt, err := s.tokens.IssueRefresh(user.ID, user.Email)
	if err != nil {
		return Tokens{}, err
	}
	if err := s.registry.Put(ctx, RefreshEntry{
		TokenID:   tokenID,
		TokenHash: HashToken(refresh),
		UserID:    user.ID,
		Email:     user.Email,
		ExpiresAt: expiresAt,
	}); err != nil {
		return Tokens{}, fmt.Errorf("store refresh token: %w", err)
	}
	tokens.RefreshToken = refresh

	return tokens, nil
}

// Refresh exchanges a live refresh token for a new access token. The refresh token
// itself is not rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	entry, err := s.lookupRefresh(ctx, refreshToken)
	if err != nil {
		return Tokens{}, err
	}

	access, _, err := s.tokens.IssueAccess(entry.UserID, entry.Email)
	if err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken: access,
		ExpiresIn:   int64(s.tokens.AccessTTL().Seconds()),
	}, nil
}

// Logout removes the refresh token from the registry so it stops working at once.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	entry, err := s.lookupRefresh(ctx, refreshToken)
	if err != nil {
		return err
	}

	if err := s.registry.Delete(ctx, entry.TokenID); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}

	return nil
}

func (s *Service) lookupRefresh(ctx context.Context, refreshToken string) (RefreshEntry, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return RefreshEntry{}, InputError{Reason: "refreshToken is required"}
	}
	if s.registry == nil {
		return RefreshEntry{}, ErrTokenNotFound
	}

	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return RefreshEntry{}, err
	}

	entry, err := s.registry.Get(ctx, claims.ID, s.now())
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return RefreshEntry{}, ErrTokenNotFound
		}
		return RefreshEntry{}, fmt.Errorf("lookup refresh token: %w", err)
	}
	if !entry.Matches(refreshToken) {
		return RefreshEntry{}, ErrTokenNotFound
	}

	return entry, nil
}

// Authenticate verifies an access token using only its signature and claims.
func (s *Service) Authenticate(accessToken string) (*Claims, error) {
	return s.tokens.ParseAccess(accessToken)
}

func (s *Service) Profile(ctx context.Context, email string) (PublicUser, error) {
	user, err := s.users.Find(ctx, email)
	if err != nil {
		return PublicUser{}, err
	}
	return user.Public(), nil
}

// Sweep purges expired refresh entries and elapsed attempt windows.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.now()
	result := SweepResult{DeletedLoginAttempts: s.attempts.Sweep(now)}

	if s.registry != nil {
		deleted, err := s.registry.Sweep(ctx, now)
		if err != nil {
			return result, fmt.Errorf("sweep refresh tokens: %w", err)
		}
		result.DeletedRefreshTokens = deleted
	}

	return result, nil
}
