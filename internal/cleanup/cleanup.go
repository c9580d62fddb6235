package cleanup

import (
	"time"

	"github.com/italolelis/download_history/internal/history"
)

// DefaultRetention is how long an overwritten download stays in history.
const DefaultRetention = 90 * 24 * time.Hour

// Policy decides which stored rows are dropped at startup instead of being
// restored. It implements history.LoadPlanner.
type Policy struct {
	// DedupOverwritten drops old completed rows whose target path was
	// downloaded again later.
	DedupOverwritten     bool
	OverwrittenRetention time.Duration

	// DeleteExpired drops rows that never completed and started before the
	// expiry threshold.
	DeleteExpired    bool
	ExpiredRetention time.Duration

	Now func() time.Time
}

// Plan counts, per target path, the completed rows sharing it.
func (p Policy) Plan(rows []history.Row) history.LoadPlan {
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}

	plan := &Plan{
		policy:            p,
		pathCount:         make(map[string]int),
		latestEndTime:     make(map[string]time.Time),
		overwrittenBefore: now.Add(-p.OverwrittenRetention),
		expiredBefore:     now.Add(-p.ExpiredRetention),
	}

	if !p.DedupOverwritten {
		return plan
	}

	for _, row := range rows {
		if row.State != history.StateComplete || row.TargetPath == "" {
			continue
		}

		plan.pathCount[row.TargetPath]++

		if row.EndTime.After(plan.latestEndTime[row.TargetPath]) {
			plan.latestEndTime[row.TargetPath] = row.EndTime
		}
	}

	return plan
}

// Plan is the per-load state of a Policy.
type Plan struct {
	policy            Policy
	pathCount         map[string]int
	latestEndTime     map[string]time.Time
	overwrittenBefore time.Time
	expiredBefore     time.Time
}

// ShouldSkip reports whether row should be removed instead of restored.
// Rows must be passed in load order, each exactly once.
func (p *Plan) ShouldSkip(row history.Row) bool {
	if p.policy.DeleteExpired && row.State != history.StateComplete &&
		!row.StartTime.IsZero() && row.StartTime.Before(p.expiredBefore) {
		return true
	}

	if !p.policy.DedupOverwritten || row.State != history.StateComplete {
		return false
	}

	path := row.TargetPath
	if p.pathCount[path] <= 1 {
		return false
	}

	// The most recent download of a path always survives.
	if !row.EndTime.Before(p.latestEndTime[path]) {
		return false
	}

	if !row.EndTime.Before(p.overwrittenBefore) {
		return false
	}

	p.pathCount[path]--

	return true
}
