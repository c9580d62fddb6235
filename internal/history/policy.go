package history

import (
	"bytes"
	"slices"
)

// UpdateKind says whether, and how urgently, a changed row must be written.
type UpdateKind int

const (
	NoUpdate UpdateKind = iota
	UpdateDeferred
	UpdateImmediate
)

func (k UpdateKind) String() string {
	switch k {
	case NoUpdate:
		return "no_update"
	case UpdateDeferred:
		return "deferred"
	case UpdateImmediate:
		return "immediate"
	default:
		return "unknown"
	}
}

// ShouldPersist reports whether d belongs in history at all. Downloads
// attributed to an installing agent always do, so the attribution survives
// even while they are in progress.
func ShouldPersist(d Download) bool {
	row := d.Row()
	if row.AttributionID != "" {
		return true
	}

	return !row.Transient && (d.IsSavePackage() || d.IsDone())
}

// ClassifyUpdate compares the last written row with the current one.
// A path change is written immediately: a crash before a deferred commit
// would otherwise leave an orphaned file behind.
func ClassifyUpdate(previous *Row, current Row) UpdateKind {
	if previous == nil ||
		previous.CurrentPath != current.CurrentPath ||
		!bytes.Equal(previous.RerouteInfo, current.RerouteInfo) {
		return UpdateImmediate
	}

	p := previous
	if p.TargetPath != current.TargetPath ||
		!p.EndTime.Equal(current.EndTime) ||
		p.ReceivedBytes != current.ReceivedBytes ||
		p.TotalBytes != current.TotalBytes ||
		p.ETag != current.ETag ||
		p.LastModified != current.LastModified ||
		p.State != current.State ||
		p.DangerType != current.DangerType ||
		p.InterruptReason != current.InterruptReason ||
		p.Hash != current.Hash ||
		p.Opened != current.Opened ||
		!p.LastAccessTime.Equal(current.LastAccessTime) ||
		p.Transient != current.Transient ||
		p.AttributionID != current.AttributionID ||
		p.AttributionName != current.AttributionName ||
		!slices.Equal(p.Slices, current.Slices) {
		return UpdateDeferred
	}

	// URL chain, referrers, mime types, start time, id and guid never change
	// after creation.
	return NoUpdate
}
