// Package cleanup: Reconciler
//
// This file implements the background worker that removes expired ephemeral
// variants from the catalog and keeps the local records in sync. Two loops
// run once Start is called:
//
//   - a periodic sweep (default every two hours) that deletes records whose
//     scheduled deletion time has passed, oldest first;
//   - a daily full scan (default 03:00 local) that catches any record older
//     than the maximum age the sweep missed or kept failing on.
//
// A failure on one record never aborts a scan; it is recorded on the record,
// written to the audit log, and reported to the AlarmTracker. Records that
// keep failing are parked (dead-lettered) after a bounded number of attempts
// so a permanently broken record cannot poison every future scan.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/emirhandeniz58/frame-customizer-v2/internal/catalog"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/domain"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/repo"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/services"
)

// Worker defaults.
const (
	defaultSweepInterval      = 2 * time.Hour
	defaultDailyScanHour      = 3
	defaultMaxRecordAge       = 24 * time.Hour
	defaultMaxCleanupAttempts = 25
)

// Scan kinds used in metrics labels and audit summaries.
const (
	scanSweep = "sweep"
	scanDaily = "daily"
)

// ScanResult summarizes one sweep or daily scan.
type ScanResult struct {
	Scanned      int
	Deleted      int
	Failed       int
	DeadLettered int
}

// Reconciler deletes expired variants from the catalog and marks their
// records. Construct with NewReconciler and call Start once.
type Reconciler struct {
	DB        *gorm.DB
	Sessions  services.SessionStore
	NewClient services.ClientFactory
	Tracker   *AlarmTracker

	// SweepInterval is the period of the expiry sweep.
	SweepInterval time.Duration
	// DailyScanHour is the local hour (0-23) the full scan first runs at.
	DailyScanHour int
	// MaxRecordAge is the age past which the daily scan deletes a record
	// regardless of its scheduled deletion time.
	MaxRecordAge time.Duration
	// MaxCleanupAttempts parks a record after this many failed deletions;
	// zero or negative retries forever.
	MaxCleanupAttempts int

	now func() time.Time // test seam

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewReconciler returns a reconciler with the production defaults: a two hour
// sweep, a 03:00 full scan over records older than 24 hours, and a cap of 25
// cleanup attempts per record.
func NewReconciler(db *gorm.DB, sessions services.SessionStore, factory services.ClientFactory, tracker *AlarmTracker) *Reconciler {
	return &Reconciler{
		DB:                 db,
		Sessions:           sessions,
		NewClient:          factory,
		Tracker:            tracker,
		SweepInterval:      defaultSweepInterval,
		DailyScanHour:      defaultDailyScanHour,
		MaxRecordAge:       defaultMaxRecordAge,
		MaxCleanupAttempts: defaultMaxCleanupAttempts,
		now:                time.Now,
		stop:               make(chan struct{}),
	}
}

// Start launches the sweep and daily scan loops. The sweep runs immediately;
// the daily scan first runs at the next occurrence of DailyScanHour. Loops
// exit when ctx is canceled or Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(2)
	go r.sweepLoop(ctx)
	go r.dailyLoop(ctx)
}

// Stop terminates the loops and waits for any in-flight scan to finish.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

func (r *Reconciler) sweepLoop(ctx context.Context) {
	defer r.wg.Done()

	r.runShielded(ctx, scanSweep, r.Sweep)

	ticker := time.NewTicker(r.sweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.runShielded(ctx, scanSweep, r.Sweep)
		}
	}
}

func (r *Reconciler) dailyLoop(ctx context.Context) {
	defer r.wg.Done()

	timer := time.NewTimer(r.untilDailyScan())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-timer.C:
			r.runShielded(ctx, scanDaily, r.DailyScan)
			timer.Reset(24 * time.Hour)
		}
	}
}

// runShielded runs one scan with panic recovery so a bug in a single scan
// cannot kill the loop.
func (r *Reconciler) runShielded(ctx context.Context, kind string, scan func(context.Context) (ScanResult, error)) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("scan", kind).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("cleanup scan panicked")
		}
	}()

	start := r.now()
	res, err := scan(ctx)
	scanDuration.WithLabelValues(kind).Observe(r.now().Sub(start).Seconds())
	if err != nil {
		log.Error().Err(err).Str("scan", kind).Msg("cleanup scan failed")
		return
	}
	log.Info().
		Str("scan", kind).
		Int("scanned", res.Scanned).
		Int("deleted", res.Deleted).
		Int("failed", res.Failed).
		Int("dead_lettered", res.DeadLettered).
		Msg("cleanup scan finished")
}

// Sweep deletes every record whose scheduled deletion time has passed and
// writes a summary audit entry.
func (r *Reconciler) Sweep(ctx context.Context) (ScanResult, error) {
	tr := otel.Tracer("cleanup/Reconciler")
	ctx, span := tr.Start(ctx, "Sweep")
	defer span.End()

	now := r.now().UTC()
	due, err := repo.FindExpiredVariants(ctx, r.DB, now)
	if err != nil {
		return ScanResult{}, fmt.Errorf("find expired variants: %w", err)
	}
	res := r.processBatch(ctx, scanSweep, due)
	annotateScanSpan(span, res)
	r.appendSummary(ctx, domain.ActionCleanupRun, "cleanup run", res)
	return res, nil
}

// DailyScan deletes every record older than MaxRecordAge, regardless of its
// scheduled deletion time, and writes a summary audit entry.
func (r *Reconciler) DailyScan(ctx context.Context) (ScanResult, error) {
	tr := otel.Tracer("cleanup/Reconciler")
	ctx, span := tr.Start(ctx, "DailyScan")
	defer span.End()

	cutoff := r.now().UTC().Add(-r.maxRecordAge())
	stale, err := repo.FindStaleVariants(ctx, r.DB, cutoff)
	if err != nil {
		return ScanResult{}, fmt.Errorf("find stale variants: %w", err)
	}
	res := r.processBatch(ctx, scanDaily, stale)
	annotateScanSpan(span, res)
	r.appendSummary(ctx, domain.ActionDailyScan, "daily scan", res)
	return res, nil
}

// annotateScanSpan records the scan outcome on its span.
func annotateScanSpan(span trace.Span, res ScanResult) {
	span.SetAttributes(
		attribute.Int("scan.scanned", res.Scanned),
		attribute.Int("scan.deleted", res.Deleted),
		attribute.Int("scan.failed", res.Failed),
		attribute.Int("scan.dead_lettered", res.DeadLettered),
	)
}

// processBatch deletes each record in turn. One record's failure is recorded
// and the batch continues; only context cancellation stops it early.
func (r *Reconciler) processBatch(ctx context.Context, kind string, records []domain.EphemeralVariant) ScanResult {
	res := ScanResult{Scanned: len(records)}
	for i := range records {
		if ctx.Err() != nil {
			return res
		}
		rec := &records[i]
		if err := r.deleteOne(ctx, rec); err != nil {
			res.Failed++
			cleanupFailures.WithLabelValues(kind).Inc()
			if r.recordFailure(ctx, rec, err) {
				res.DeadLettered++
			}
			continue
		}
		res.Deleted++
		variantsDeleted.WithLabelValues(kind).Inc()
	}
	return res
}

// deleteOne removes one variant from the catalog and marks its record. The
// catalog is read first; a variant that is already gone still gets its record
// marked, since the goal state is "absent from the catalog", not "we issued a
// delete".
func (r *Reconciler) deleteOne(ctx context.Context, rec *domain.EphemeralVariant) error {
	sess, err := r.Sessions.Get(ctx, rec.SessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("session %s not found", rec.SessionID)
		}
		return fmt.Errorf("load session: %w", err)
	}
	client := r.NewClient(sess.ShopDomain, sess.AccessToken)

	_, err = client.GetVariant(ctx, rec.VariantID)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		// Already gone remotely; only the record needs updating.
	case err != nil:
		return fmt.Errorf("read variant %d: %w", rec.VariantID, err)
	default:
		if err := client.DeleteVariant(ctx, rec.ProductID, rec.VariantID); err != nil {
			return fmt.Errorf("delete variant %d: %w", rec.VariantID, err)
		}
	}

	now := r.now().UTC()
	if err := repo.MarkVariantDeleted(ctx, r.DB, rec.ID, now); err != nil {
		return fmt.Errorf("mark record deleted: %w", err)
	}

	entry := &domain.AuditLogEntry{
		Action:    domain.ActionDeleted,
		ProductID: &rec.ProductID,
		VariantID: &rec.VariantID,
		Message:   fmt.Sprintf("deleted variant %d (%dx%d %s)", rec.VariantID, rec.Width, rec.Height, rec.Material),
	}
	if err := repo.AppendAudit(ctx, r.DB, entry); err != nil {
		log.Warn().Err(err).Int64("variant_id", rec.VariantID).Msg("deletion audit entry not persisted")
	}
	return nil
}

// recordFailure books one failed deletion on the record, the audit log, and
// the alarm tracker. It reports whether the record was dead-lettered.
func (r *Reconciler) recordFailure(ctx context.Context, rec *domain.EphemeralVariant, cause error) bool {
	now := r.now().UTC()
	msg := cause.Error()

	attempts, dead, err := repo.RecordCleanupFailure(ctx, r.DB, rec.ID, msg, r.MaxCleanupAttempts, now)
	if err != nil {
		log.Error().Err(err).Str("record_id", rec.ID).Msg("cleanup failure not recorded")
	}
	if dead {
		deadLettered.Inc()
		log.Error().
			Str("record_id", rec.ID).
			Int64("variant_id", rec.VariantID).
			Int("attempts", attempts).
			Msg("record dead-lettered after repeated cleanup failures")
	}

	entry := &domain.AuditLogEntry{
		Action:       domain.ActionError,
		ProductID:    &rec.ProductID,
		VariantID:    &rec.VariantID,
		Message:      fmt.Sprintf("cleanup of variant %d failed (attempt %d)", rec.VariantID, attempts),
		ErrorDetails: &msg,
	}
	if aerr := repo.AppendAudit(ctx, r.DB, entry); aerr != nil {
		log.Warn().Err(aerr).Str("record_id", rec.ID).Msg("failure audit entry not persisted")
	}

	if r.Tracker != nil {
		r.Tracker.Track(ctx, msg)
	}
	return dead
}

// appendSummary writes the per-scan summary entry. A scan that found nothing
// still leaves an entry, so operators can tell "ran and found nothing" from
// "never ran".
func (r *Reconciler) appendSummary(ctx context.Context, action domain.AuditAction, label string, res ScanResult) {
	msg := fmt.Sprintf("%s: scanned %d, deleted %d, failed %d", label, res.Scanned, res.Deleted, res.Failed)
	if res.Scanned == 0 {
		msg = label + ": nothing to delete"
	}
	if res.DeadLettered > 0 {
		msg += fmt.Sprintf(", dead-lettered %d", res.DeadLettered)
	}
	entry := &domain.AuditLogEntry{Action: action, Message: msg}
	if err := repo.AppendAudit(ctx, r.DB, entry); err != nil {
		log.Warn().Err(err).Str("scan", label).Msg("summary audit entry not persisted")
	}
}

// untilDailyScan returns the wait until the next occurrence of DailyScanHour
// in local time.
func (r *Reconciler) untilDailyScan() time.Duration {
	now := r.now()
	hour := r.DailyScanHour
	if hour < 0 || hour > 23 {
		hour = defaultDailyScanHour
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

func (r *Reconciler) sweepInterval() time.Duration {
	if r.SweepInterval > 0 {
		return r.SweepInterval
	}
	return defaultSweepInterval
}

func (r *Reconciler) maxRecordAge() time.Duration {
	if r.MaxRecordAge > 0 {
		return r.MaxRecordAge
	}
	return defaultMaxRecordAge
}
