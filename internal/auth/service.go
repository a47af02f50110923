package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"delivery-backend/internal/security"
)

var usernameRule = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)

// Service orchestrates the register, login and change-password flows. The
// lockout store is injected so the backing implementation (in-memory map or
// Redis) can be swapped without touching the flow.
type Service struct {
	repo       *Repository
	lockout    security.LockoutStore
	tokens     *security.TokenIssuer
	policy     security.Policy
	bcryptCost int
}

func NewService(repo *Repository, lockout security.LockoutStore, tokens *security.TokenIssuer) *Service {
	return &Service{
		repo:       repo,
		lockout:    lockout,
		tokens:     tokens,
		policy:     security.DefaultPolicy(),
		bcryptCost: security.DefaultBcryptCost,
	}
}

func (s *Service) WithPasswordConfig(policy security.Policy, bcryptCost int) {
	if policy.MinLength > 0 {
		s.policy = policy
	}
	if bcryptCost > 0 {
		s.bcryptCost = bcryptCost
	}
}

func (s *Service) Policy() security.Policy {
	return s.policy
}

// Register creates a new user record. Inputs are sanitized first; every
// failing password rule is reported at once.
func (s *Service) Register(ctx context.Context, username, email, password string, role Role) (PublicUser, error) {
	username = strings.ToLower(security.Sanitize(strings.TrimSpace(username)))
	email = strings.ToLower(security.Sanitize(strings.TrimSpace(email)))

	if !usernameRule.MatchString(username) {
		return PublicUser{}, ValidationError{Field: "username", Reasons: []string{"username must be 3-32 characters of a-z, 0-9, '_', '.' or '-'"}}
	}
	if !security.ValidEmail(email) {
		return PublicUser{}, ValidationError{Field: "email", Reasons: []string{"invalid email format"}}
	}
	if result := s.policy.Validate(password); !result.Valid {
		return PublicUser{}, ValidationError{Field: "password", Reasons: result.Violations}
	}

	if _, err := s.repo.GetByUsername(ctx, username); err == nil {
		return PublicUser{}, ConflictError{Field: "username"}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return PublicUser{}, err
	}
	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return PublicUser{}, ConflictError{Field: "email"}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return PublicUser{}, err
	}

	hash, err := security.HashPassword(password, s.bcryptCost)
	if err != nil {
		return PublicUser{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return PublicUser{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	user := User{
		ID:           id.String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Insert(ctx, user); err != nil {
		return PublicUser{}, err
	}

	return user.Public(), nil
}

// Login verifies credentials and issues an access token. The lockout check
// runs before the user lookup, so a locked-out username reports locked even
// when no such user exists. Absent user and wrong password share one error
// to avoid username enumeration.
func (s *Service) Login(ctx context.Context, username, password string) (LoginResult, error) {
	username = strings.ToLower(security.Sanitize(strings.TrimSpace(username)))
	if username == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	locked, until, err := s.lockout.IsLocked(ctx, username)
	if err != nil {
		return LoginResult{}, err
	}
	if locked {
		// Fail fast without consuming an attempt.
		return LoginResult{}, ErrLoginLocked{Until: until}
	}

	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if recErr := s.lockout.RecordAttempt(ctx, username, false); recErr != nil {
				return LoginResult{}, recErr
			}
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if !security.CheckPassword(password, user.PasswordHash) {
		if recErr := s.lockout.RecordAttempt(ctx, username, false); recErr != nil {
			return LoginResult{}, recErr
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	if !user.IsActive {
		if recErr := s.lockout.RecordAttempt(ctx, username, false); recErr != nil {
			return LoginResult{}, recErr
		}
		return LoginResult{}, ErrInactiveAccount
	}

	if err := s.lockout.RecordAttempt(ctx, username, true); err != nil {
		return LoginResult{}, err
	}

	token, err := s.tokens.Issue(user.Username)
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.tokens.TTL().Seconds()),
		User:        user.Public(),
	}, nil
}

// CurrentUser resolves the authenticated username (taken from a verified
// token) to its public view.
func (s *Service) CurrentUser(ctx context.Context, username string) (PublicUser, error) {
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PublicUser{}, ErrUnauthenticated
		}
		return PublicUser{}, err
	}
	if !user.IsActive {
		return PublicUser{}, ErrUnauthenticated
	}

	return user.Public(), nil
}

// ChangePassword verifies the current password and persists a new one that
// satisfies the policy.
func (s *Service) ChangePassword(ctx context.Context, username, currentPassword, newPassword string) error {
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUnauthenticated
		}
		return err
	}

	if !security.CheckPassword(currentPassword, user.PasswordHash) {
		return ErrWrongPassword
	}
	if result := s.policy.Validate(newPassword); !result.Valid {
		return ValidationError{Field: "new_password", Reasons: result.Violations}
	}

	hash, err := security.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}

	return s.repo.UpdatePassword(ctx, user.ID, hash)
}

// SecurityStatus reports the lockout state for the authenticated user plus
// the active password policy.
func (s *Service) SecurityStatus(ctx context.Context, username string) (SecurityStatus, error) {
	locked, _, err := s.lockout.IsLocked(ctx, username)
	if err != nil {
		return SecurityStatus{}, err
	}

	return SecurityStatus{
		Username:      username,
		AccountLocked: locked,
		PasswordRequirements: PolicyView{
			MinLength:        s.policy.MinLength,
			RequireUppercase: s.policy.RequireUppercase,
			RequireLowercase: s.policy.RequireLowercase,
			RequireDigits:    s.policy.RequireDigit,
			RequireSpecial:   s.policy.RequireSpecial,
		},
	}, nil
}
