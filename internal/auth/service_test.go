package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"delivery-backend/internal/security"
)

const testBcryptCost = 4

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *security.MemoryLockoutStore) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	lockout := security.NewMemoryLockoutStore(5, 15*time.Minute)
	tokens := security.NewTokenIssuer("test-secret", 30*time.Minute)
	service := NewService(NewRepository(db), lockout, tokens)
	service.WithPasswordConfig(security.DefaultPolicy(), testBcryptCost)

	return service, mock, lockout
}

func userRows(t *testing.T, username, password string, role Role, active bool) *sqlmock.Rows {
	t.Helper()

	hash, err := security.HashPassword(password, testBcryptCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "role", "is_active", "created_at", "updated_at"}).
		AddRow("0198c6c1-0000-7000-8000-000000000001", username, username+"@example.com", hash, string(role), active, now, now)
}

func expectNoUser(mock sqlmock.Sqlmock, column string) {
	mock.ExpectQuery(`(?s)SELECT.*FROM users.*WHERE ` + column).WillReturnError(sql.ErrNoRows)
}

func TestRegisterSuccess(t *testing.T) {
	service, mock, _ := newTestService(t)

	expectNoUser(mock, "username")
	expectNoUser(mock, "email")
	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(sqlmock.AnyArg(), "alice", "alice@example.com", sqlmock.AnyArg(), "driver", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	user, err := service.Register(context.Background(), "Alice", "Alice@Example.com", "Strong1!", RoleDriver)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Username != "alice" {
		t.Fatalf("username = %q, want alice (sanitized, lowercased)", user.Username)
	}
	if user.Role != RoleDriver || !user.IsActive {
		t.Fatalf("unexpected public view: %+v", user)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRegisterWeakPassword(t *testing.T) {
	service, mock, _ := newTestService(t)

	_, err := service.Register(context.Background(), "alice", "alice@example.com", "Weak1!", RoleDriver)
	var validationErr ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if validationErr.Field != "password" {
		t.Fatalf("field = %q, want password", validationErr.Field)
	}
	if len(validationErr.Reasons) != 1 {
		t.Fatalf("reasons = %v, want a single length violation", validationErr.Reasons)
	}

	// Validation failures never reach the database.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database traffic: %v", err)
	}
}

func TestRegisterInvalidInput(t *testing.T) {
	service, _, _ := newTestService(t)

	cases := []struct {
		name     string
		username string
		email    string
		field    string
	}{
		{name: "username too short", username: "al", email: "alice@example.com", field: "username"},
		{name: "username markup stripped", username: "<script>alert(1)</script>", email: "alice@example.com", field: "username"},
		{name: "bad email", username: "alice", email: "not-an-email", field: "email"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.Register(context.Background(), tc.username, tc.email, "Strong1!", RoleDriver)
			var validationErr ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if validationErr.Field != tc.field {
				t.Fatalf("field = %q, want %q", validationErr.Field, tc.field)
			}
		})
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	service, mock, _ := newTestService(t)

	mock.ExpectQuery(`(?s)SELECT.*FROM users.*WHERE username`).
		WillReturnRows(userRows(t, "alice", "Strong1!", RoleDriver, true))

	_, err := service.Register(context.Background(), "alice", "alice@example.com", "Strong1!", RoleDriver)
	var conflictErr ConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflictErr.Field != "username" {
		t.Fatalf("field = %q, want username", conflictErr.Field)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	service, mock, _ := newTestService(t)

	expectNoUser(mock, "username")
	mock.ExpectQuery(`(?s)SELECT.*FROM users.*WHERE email`).
		WillReturnRows(userRows(t, "someone", "Strong1!", RoleDriver, true))

	_, err := service.Register(context.Background(), "alice", "alice@example.com", "Strong1!", RoleDriver)
	var conflictErr ConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflictErr.Field != "email" {
		t.Fatalf("field = %q, want email", conflictErr.Field)
	}
}

func TestLoginSuccess(t *testing.T) {
	service, mock, lockout := newTestService(t)

	mock.ExpectQuery(`(?s)SELECT.*FROM users.*WHERE username`).
		WillReturnRows(userRows(t, "alice", "Strong1!", RoleDriver, true))

	result, err := service.Login(context.Background(), "alice", "Strong1!")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.TokenType != "bearer" {
		t.Fatalf("token type = %q, want bearer", result.TokenType)
	}
	if result.User.Username != "alice" {
		t.Fatalf("user = %+v", result.User)
	}

	subject, err := service.tokens.Verify(result.AccessToken)
	if err != nil || subject != "alice" {
		t.Fatalf("issued token must verify to the username, got %q (%v)", subject, err)
	}

	if locked, _, _ := lockout.IsLocked(context.Background(), "alice"); locked {
		t.Fatalf("successful login must not leave a lock")
	}
}

func TestLoginUnknownUser(t *testing.T) {
	service, mock, _ := newTestService(t)

	expectNoUser(mock, "username")

	_, err := service.Login(context.Background(), "ghost", "Whatever1!")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	service, mock, _ := newTestService(t)

	mock.ExpectQuery(`(?s)SELECT.*FROM users.*WHERE username`).
		WillReturnRows(userRows(t, "alice", "Strong1!", RoleDriver, true))

	_, err := service.Login(context.Background(), "alice", "Wrong1!!")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginInactiveUser(t *testing.T) {
	service, mock, _ := newTestService(t)

	mock.ExpectQuery(`(?s)SELECT.*FROM users.*WHERE username`).
		WillReturnRows(userRows(t, "alice", "Strong1!", RoleDriver, false))

	_, err := service.Login(context.Background(), "alice", "Strong1!")
	if !errors.Is(err, ErrInactiveAccount) {
		t.Fatalf("expected ErrInactiveAccount, got %v", err)
	}
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	service, mock, _ := newTestService(t)

	for i := 0; i < 5; i++ {
		mock.ExpectQuery(`(?s)SELECT.*FROM users.*WHERE username`).
			WillReturnRows(userRows(t, "bob", "Correct1!", RoleDriver, true))
	}

	for i := 0; i < 5; i++ {
		if _, err := service.Login(context.Background(), "bob", "Wrong1!!"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	// The sixth attempt fails fast even with the correct password, before
	// any user lookup runs.
	_, err := service.Login(context.Background(), "bob", "Correct1!")
	var lockedErr ErrLoginLocked
	if !errors.As(err, &lockedErr) {
		t.Fatalf("expected ErrLoginLocked, got %v", err)
	}
	if !lockedErr.Until.After(time.Now().UTC()) {
		t.Fatalf("lockout expiry %v must be in the future", lockedErr.Until)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("locked login must not query the user store: %v", err)
	}
}

func TestLoginLockedUnknownUsername(t *testing.T) {
	service, mock, _ := newTestService(t)

	for i := 0; i < 5; i++ {
		expectNoUser(mock, "username")
	}
	for i := 0; i < 5; i++ {
		_, _ = service.Login(context.Background(), "nobody", "Whatever1!")
	}

	// A locked-out username reports locked even when no such user exists;
	// the check runs before the lookup.
	_, err := service.Login(context.Background(), "nobody", "Whatever1!")
	var lockedErr ErrLoginLocked
	if !errors.As(err, &lockedErr) {
		t.Fatalf("expected ErrLoginLocked, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	service, mock, _ := newTestService(t)

	mock.ExpectQuery(`(?s)SELECT.*FROM users.*WHERE username`).
		WillReturnRows(userRows(t, "alice", "Strong1!", RoleDriver, true))
	mock.ExpectExec(`UPDATE users`).
		WithArgs("0198c6c1-0000-7000-8000-000000000001", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := service.ChangePassword(context.Background(), "alice", "Strong1!", "NewStrong2!"); err != nil {
		t.Fatalf("change password: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	service, mock, _ := newTestService(t)

	mock.ExpectQuery(`(?s)SELECT.*FROM users.*WHERE username`).
		WillReturnRows(userRows(t, "alice", "Strong1!", RoleDriver, true))

	err := service.ChangePassword(context.Background(), "alice", "Wrong1!!", "NewStrong2!")
	if !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
}

func TestChangePasswordWeakNew(t *testing.T) {
	service, mock, _ := newTestService(t)

	mock.ExpectQuery(`(?s)SELECT.*FROM users.*WHERE username`).
		WillReturnRows(userRows(t, "alice", "Strong1!", RoleDriver, true))

	err := service.ChangePassword(context.Background(), "alice", "Strong1!", "weak")
	var validationErr ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if validationErr.Field != "new_password" {
		t.Fatalf("field = %q, want new_password", validationErr.Field)
	}
}

func TestSecurityStatus(t *testing.T) {
	service, _, lockout := newTestService(t)
	ctx := context.Background()

	status, err := service.SecurityStatus(ctx, "alice")
	if err != nil {
		t.Fatalf("security status: %v", err)
	}
	if status.AccountLocked {
		t.Fatalf("fresh account must not be locked")
	}
	if status.PasswordRequirements.MinLength != security.DefaultMinPasswordLength {
		t.Fatalf("policy view = %+v", status.PasswordRequirements)
	}

	for i := 0; i < 5; i++ {
		_ = lockout.RecordAttempt(ctx, "alice", false)
	}
	status, err = service.SecurityStatus(ctx, "alice")
	if err != nil {
		t.Fatalf("security status: %v", err)
	}
	if !status.AccountLocked {
		t.Fatalf("expected locked status after threshold failures")
	}
}
