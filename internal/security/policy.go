package security

import (
	"fmt"
	"regexp"
)

const DefaultMinPasswordLength = 8

var (
	uppercaseRule = regexp.MustCompile(`[A-Z]`)
	lowercaseRule = regexp.MustCompile(`[a-z]`)
	digitRule     = regexp.MustCompile(`\d`)
	specialRule   = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)
)

// Policy holds the password strength rules. Every toggle is independent so
// deployments can relax individual rules via environment overrides.
type Policy struct {
	MinLength        int  `json:"min_length"`
	RequireUppercase bool `json:"require_uppercase"`
	RequireLowercase bool `json:"require_lowercase"`
	RequireDigit     bool `json:"require_digits"`
	RequireSpecial   bool `json:"require_special"`
}

func DefaultPolicy() Policy {
	return Policy{
		MinLength:        DefaultMinPasswordLength,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireDigit:     true,
		RequireSpecial:   true,
	}
}

type ValidationResult struct {
	Valid      bool     `json:"valid"`
	Violations []string `json:"violations"`
}

// Validate checks every rule unconditionally and accumulates all violations,
// so a caller can report everything wrong with a password at once.
func (p Policy) Validate(password string) ValidationResult {
	violations := make([]string, 0)

	if len(password) < p.MinLength {
		violations = append(violations, fmt.Sprintf("password must be at least %d characters long", p.MinLength))
	}
	if p.RequireUppercase && !uppercaseRule.MatchString(password) {
		violations = append(violations, "password must contain at least one uppercase letter")
	}
	if p.RequireLowercase && !lowercaseRule.MatchString(password) {
		violations = append(violations, "password must contain at least one lowercase letter")
	}
	if p.RequireDigit && !digitRule.MatchString(password) {
		violations = append(violations, "password must contain at least one digit")
	}
	if p.RequireSpecial && !specialRule.MatchString(password) {
		violations = append(violations, "password must contain at least one special character")
	}

	return ValidationResult{
		Valid:      len(violations) == 0,
		Violations: violations,
	}
}
