package cleanup

import (
	"testing"
	"time"

	"github.com/italolelis/download_history/internal/history"
	"github.com/stretchr/testify/assert"
)

var now = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func completed(id uint32, path string, end time.Time) history.Row {
	return history.Row{ID: id, TargetPath: path, State: history.StateComplete, StartTime: end.Add(-time.Minute), EndTime: end}
}

func skipped(plan history.LoadPlan, rows []history.Row) []uint32 {
	var ids []uint32

	for _, row := range rows {
		if plan.ShouldSkip(row) {
			ids = append(ids, row.ID)
		}
	}

	return ids
}

func TestPolicy_DedupOverwritten(t *testing.T) {
	policy := Policy{
		DedupOverwritten:     true,
		OverwrittenRetention: DefaultRetention,
		Now:                  func() time.Time { return now },
	}

	old := now.Add(-100 * 24 * time.Hour)
	recent := now.Add(-time.Hour)

	tests := []struct {
		name string
		rows []history.Row
		want []uint32
	}{
		{
			name: "older duplicate past retention is skipped",
			rows: []history.Row{completed(1, "/a", old), completed(2, "/a", recent)},
			want: []uint32{1},
		},
		{
			name: "order of rows does not matter",
			rows: []history.Row{completed(2, "/a", recent), completed(1, "/a", old)},
			want: []uint32{1},
		},
		{
			name: "duplicate within retention is kept",
			rows: []history.Row{completed(1, "/a", now.Add(-24*time.Hour)), completed(2, "/a", recent)},
		},
		{
			name: "single old row is kept",
			rows: []history.Row{completed(1, "/a", old), completed(2, "/b", recent)},
		},
		{
			name: "most recent survives when all are old",
			rows: []history.Row{
				completed(1, "/a", old.Add(-2*time.Hour)),
				completed(2, "/a", old.Add(-time.Hour)),
				completed(3, "/a", old),
			},
			want: []uint32{1, 2},
		},
		{
			name: "incomplete rows are not counted",
			rows: []history.Row{
				completed(1, "/a", old),
				{ID: 2, TargetPath: "/a", State: history.StateInterrupted, EndTime: recent},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, skipped(policy.Plan(tt.rows), tt.rows))
		})
	}
}

func TestPolicy_DedupDisabled(t *testing.T) {
	policy := Policy{OverwrittenRetention: time.Hour, Now: func() time.Time { return now }}
	rows := []history.Row{completed(1, "/a", now.Add(-48*time.Hour)), completed(2, "/a", now)}

	assert.Empty(t, skipped(policy.Plan(rows), rows))
}

func TestPolicy_DeleteExpired(t *testing.T) {
	policy := Policy{
		DeleteExpired:    true,
		ExpiredRetention: 7 * 24 * time.Hour,
		Now:              func() time.Time { return now },
	}

	rows := []history.Row{
		{ID: 1, State: history.StateInterrupted, StartTime: now.Add(-8 * 24 * time.Hour)},
		{ID: 2, State: history.StateInterrupted, StartTime: now.Add(-time.Hour)},
		{ID: 3, State: history.StateCancelled, StartTime: now.Add(-30 * 24 * time.Hour)},
		completed(4, "/b", now.Add(-30*24*time.Hour)),
		{ID: 5, State: history.StateInterrupted},
	}

	assert.Equal(t, []uint32{1, 3}, skipped(policy.Plan(rows), rows))
}
