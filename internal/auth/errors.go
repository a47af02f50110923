package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidCredentials covers both an unknown username and a wrong
	// password; responses never distinguish the two.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrWrongPassword      = errors.New("current password is incorrect")
	ErrUnauthenticated    = errors.New("unauthenticated")
)

type ErrLoginLocked struct {
	Until time.Time
}

func (e ErrLoginLocked) Error() string {
	return "account temporarily locked"
}

type ValidationError struct {
	Field   string
	Reasons []string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Field, strings.Join(e.Reasons, ", "))
}

type ConflictError struct {
	Field string
}

func (e ConflictError) Error() string {
	return e.Field + " already registered"
}
