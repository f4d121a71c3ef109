// Package cleanup: AlarmTracker
//
// This file implements the error-rate alarm for the cleanup worker. Every
// cleanup failure is reported to the tracker; when the number of failures
// inside a sliding window reaches the threshold, an alarm is raised on every
// subsequent failure while the window stays saturated, so a sustained outage
// keeps the signal loud instead of alarming once and going quiet.
package cleanup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/emirhandeniz58/frame-customizer-v2/internal/domain"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/repo"
)

// Alarm defaults.
const (
	defaultAlarmWindow    = 5 * time.Minute
	defaultAlarmThreshold = 3
)

// failure is one tracked cleanup error kept in the rolling log.
type failure struct {
	At    time.Time `json:"at"`
	Cause string    `json:"cause"`
}

// AlarmTracker keeps a rolling log of cleanup failures over a sliding window
// and raises an alarm whenever the count reaches the threshold. Safe for
// concurrent use.
type AlarmTracker struct {
	DB *gorm.DB

	// Window is the sliding interval failures are counted over.
	Window time.Duration
	// Threshold is the failure count at which an alarm fires.
	Threshold int

	mu       sync.Mutex
	failures []failure

	now func() time.Time // test seam
}

// NewAlarmTracker returns a tracker with the default five minute window and
// threshold of three.
func NewAlarmTracker(db *gorm.DB) *AlarmTracker {
	return &AlarmTracker{
		DB:        db,
		Window:    defaultAlarmWindow,
		Threshold: defaultAlarmThreshold,
		now:       time.Now,
	}
}

// Track records one cleanup failure and reports whether it pushed the window
// over the threshold. When it did, the alarm is logged, counted, and written
// to the audit log with the serialized in-window failure list.
func (t *AlarmTracker) Track(ctx context.Context, cause string) bool {
	now := t.now()
	cutoff := now.Add(-t.window())

	t.mu.Lock()
	kept := t.failures[:0]
	for _, f := range t.failures {
		if f.At.After(cutoff) {
			kept = append(kept, f)
		}
	}
	t.failures = append(kept, failure{At: now, Cause: cause})
	recent := make([]failure, len(t.failures))
	copy(recent, t.failures)
	t.mu.Unlock()

	count := len(recent)
	threshold := t.Threshold
	if threshold <= 0 {
		threshold = defaultAlarmThreshold
	}
	if count < threshold {
		return false
	}

	alarmsFired.Inc()
	log.Error().
		Int("failures", count).
		Dur("window", t.window()).
		Str("cause", cause).
		Msg("cleanup error rate alarm")

	details := serializeFailures(recent)
	entry := &domain.AuditLogEntry{
		Action:       domain.ActionAlarm,
		Message:      fmt.Sprintf("cleanup error rate alarm: %d failures in %s", count, t.window()),
		ErrorDetails: &details,
	}
	if err := repo.AppendAudit(ctx, t.DB, entry); err != nil {
		log.Warn().Err(err).Msg("alarm audit entry not persisted")
	}
	return true
}

// serializeFailures renders the in-window failure list for the audit entry.
func serializeFailures(recent []failure) string {
	b, err := json.Marshal(recent)
	if err != nil {
		// Unreachable for this shape; keep at least the causes.
		out := ""
		for i, f := range recent {
			if i > 0 {
				out += "; "
			}
			out += f.Cause
		}
		return out
	}
	return string(b)
}

func (t *AlarmTracker) window() time.Duration {
	if t.Window > 0 {
		return t.Window
	}
	return defaultAlarmWindow
}
