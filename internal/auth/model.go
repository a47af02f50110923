package auth

import (
	"strings"
	"time"
)

type Role string

const (
	RoleDeveloper  Role = "developer"
	RoleStoreOwner Role = "store_owner"
	RoleDriver     Role = "driver"
)

// ParseRole maps free-form input onto the role enum.
func ParseRole(value string) (Role, bool) {
	switch Role(strings.TrimSpace(strings.ToLower(value))) {
	case RoleDeveloper:
		return RoleDeveloper, true
	case RoleStoreOwner:
		return RoleStoreOwner, true
	case RoleDriver:
		return RoleDriver, true
	}
	return "", false
}

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublicUser is the projection returned to clients. The password hash never
// crosses this boundary.
type PublicUser struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}

type LoginResult struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresIn   int64      `json:"expires_in"`
	User        PublicUser `json:"user"`
}

type SecurityStatus struct {
	Username             string     `json:"username"`
	AccountLocked        bool       `json:"account_locked"`
	PasswordRequirements PolicyView `json:"password_requirements"`
}

// PolicyView mirrors security.Policy for the status endpoint without
// re-exporting the security package type in the JSON surface.
type PolicyView struct {
	MinLength        int  `json:"min_length"`
	RequireUppercase bool `json:"require_uppercase"`
	RequireLowercase bool `json:"require_lowercase"`
	RequireDigits    bool `json:"require_digits"`
	RequireSpecial   bool `json:"require_special"`
}
