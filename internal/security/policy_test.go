package security

import (
	"strings"
	"testing"
)

func TestPolicyValidate(t *testing.T) {
	policy := DefaultPolicy()

	cases := []struct {
		name       string
		password   string
		valid      bool
		violations int
		mention    string
	}{
		{name: "meets every rule", password: "Strong1!", valid: true, violations: 0},
		{name: "too short", password: "Weak1!", valid: false, violations: 1, mention: "at least 8 characters"},
		{name: "missing uppercase", password: "strong1!pass", valid: false, violations: 1, mention: "uppercase"},
		{name: "missing lowercase", password: "STRONG1!PASS", valid: false, violations: 1, mention: "lowercase"},
		{name: "missing digit", password: "Strongpass!", valid: false, violations: 1, mention: "digit"},
		{name: "missing special", password: "Strongpass1", valid: false, violations: 1, mention: "special"},
		{name: "accumulates all failures", password: "a", valid: false, violations: 4},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := policy.Validate(tc.password)
			if result.Valid != tc.valid {
				t.Fatalf("valid = %v, want %v (violations: %v)", result.Valid, tc.valid, result.Violations)
			}
			if len(result.Violations) != tc.violations {
				t.Fatalf("got %d violations, want %d: %v", len(result.Violations), tc.violations, result.Violations)
			}
			if tc.mention != "" && !strings.Contains(strings.Join(result.Violations, "; "), tc.mention) {
				t.Fatalf("expected a violation mentioning %q, got %v", tc.mention, result.Violations)
			}
		})
	}
}

func TestPolicyTogglesOff(t *testing.T) {
	policy := Policy{MinLength: 4}

	result := policy.Validate("aaaa")
	if !result.Valid {
		t.Fatalf("expected password to pass with all rules disabled, got %v", result.Violations)
	}
}

func TestPolicyValidateShortPasswords(t *testing.T) {
	policy := DefaultPolicy()

	for _, password := range []string{"", "A1!a", "Weak1!", "Abcde1!"} {
		result := policy.Validate(password)
		if result.Valid {
			t.Fatalf("password %q shorter than %d must be invalid", password, policy.MinLength)
		}
		found := false
		for _, v := range result.Violations {
			if strings.Contains(v, "characters long") {
				found = true
			}
		}
		if !found {
			t.Fatalf("password %q must report a length violation, got %v", password, result.Violations)
		}
	}
}
