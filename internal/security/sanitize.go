package security

import (
	"net/mail"
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

// Inert formatting tags only. Attributes are never allowed, which drops
// event handlers along with everything else.
var sanitizePolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "strong", "em", "u")
	return p
}()

var emailRule = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Sanitize strips all markup from free-text input except an allow-list of
// inert formatting tags. Script tags are removed together with their
// content. Empty input yields an empty string.
func Sanitize(text string) string {
	if text == "" {
		return ""
	}
	return sanitizePolicy.Sanitize(text)
}

// ValidEmail reports whether the input has the shape of an email address.
func ValidEmail(email string) bool {
	if len(email) > 254 {
		return false
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return false
	}
	return emailRule.MatchString(email)
}
