package observability

import (
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry is a no-op when no DSN is configured, so local runs work
// without a Sentry project.
func InitSentry(dsn, environment string) error {
	if strings.TrimSpace(dsn) == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          os.Getenv("APP_RELEASE"),
		AttachStacktrace: true,
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
