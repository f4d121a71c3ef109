package cleanup

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/emirhandeniz58/frame-customizer-v2/internal/domain"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/repo"
)

// statsWindow is the lookback for the per-action counts.
const statsWindow = 24 * time.Hour

// recentErrorLimit caps the error excerpt in the stats response.
const recentErrorLimit = 10

// Stats is the operational snapshot served to the dashboard: how much the
// cleanup worker did in the last day, the most recent failures, and how many
// records are currently overdue.
type Stats struct {
	ActionCounts map[domain.AuditAction]int64 `json:"action_counts"`
	RecentErrors []domain.AuditLogEntry       `json:"recent_errors"`
	PastDue      int64                        `json:"past_due"`
	GeneratedAt  time.Time                    `json:"generated_at"`
}

// QueryStats builds the snapshot from the audit log and the variant records.
func QueryStats(ctx context.Context, db *gorm.DB) (*Stats, error) {
	now := time.Now().UTC()

	counts, err := repo.CountAuditActionsSince(ctx, db, now.Add(-statsWindow))
	if err != nil {
		return nil, fmt.Errorf("count audit actions: %w", err)
	}

	recent, err := repo.RecentAuditErrors(ctx, db, recentErrorLimit)
	if err != nil {
		return nil, fmt.Errorf("list recent errors: %w", err)
	}

	pastDue, err := repo.CountPastDueVariants(ctx, db, now)
	if err != nil {
		return nil, fmt.Errorf("count past-due variants: %w", err)
	}

	return &Stats{
		ActionCounts: counts,
		RecentErrors: recent,
		PastDue:      pastDue,
		GeneratedAt:  now,
	}, nil
}
