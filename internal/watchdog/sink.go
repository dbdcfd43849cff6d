package watchdog

import (
	"fmt"

	"github.com/getsentry/sentry-go"

	"github.com/ironlake/hivecache/internal/errorreporting"
	"github.com/ironlake/hivecache/internal/logger"
)

// EventSink is the production transition sink: it logs one discrete
// "cluster unhealthy" / "cluster recovered" event per transition and
// reports entries into the Critical verdict to Sentry when configured.
type EventSink struct{}

// NewEventSink creates the production sink.
func NewEventSink() *EventSink {
	return &EventSink{}
}

// HealthChanged emits the external event for one verdict transition.
func (s *EventSink) HealthChanged(prev, next Snapshot) {
	log := logger.WithComponent("events")

	switch {
	case next.Verdict == VerdictCritical:
		log.Error("cluster unhealthy", "reason", next.Reason)
		errorreporting.CaptureMessage(sentry.LevelError,
			fmt.Sprintf("hivecache cluster unhealthy: %s", next.Reason))
	case prev.Verdict == VerdictCritical:
		log.Info("cluster recovered", "verdict", next.Verdict.String(), "reason", next.Reason)
		errorreporting.CaptureMessage(sentry.LevelInfo,
			fmt.Sprintf("hivecache cluster recovered: %s", next.Reason))
	default:
		log.Info("cluster health changed", "verdict", next.Verdict.String(), "reason", next.Reason)
	}
}
