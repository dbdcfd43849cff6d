// Package errorreporting wraps Sentry for critical cluster alerts. All
// functions are no-ops when no DSN is configured, so the rest of the system
// calls them unconditionally.
package errorreporting

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

var enabled bool

// Init initializes Sentry error reporting. An empty DSN disables reporting
// without error.
func Init(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Sentry: %w", err)
	}

	enabled = true
	return nil
}

// CaptureMessage reports a message at the given level. Fire-and-forget:
// failures are not surfaced and delivery never blocks the caller.
func CaptureMessage(level sentry.Level, msg string) {
	if !enabled {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		sentry.CaptureMessage(msg)
	})
}

// Flush drains buffered events on shutdown, waiting at most timeout.
func Flush(timeout time.Duration) {
	if !enabled {
		return
	}
	sentry.Flush(timeout)
}
