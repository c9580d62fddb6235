package manager

import (
	"github.com/italolelis/download_history/internal/history"
)

// partialSuffix marks the file of an unfinished download.
const partialSuffix = ".part"

// Item is a live download owned by the Manager.
type Item struct {
	row            history.Row
	savePackage    bool
	temporary      bool
	trustedInstall bool
}

func (i *Item) ID() uint32 { return i.row.ID }

// Row returns a copy of the item's persisted fields.
func (i *Item) Row() history.Row { return i.row.Clone() }

func (i *Item) IsSavePackage() bool    { return i.savePackage }
func (i *Item) IsTemporary() bool      { return i.temporary }
func (i *Item) IsTrustedInstall() bool { return i.trustedInstall }

// IsDone reports whether the item reached a state it cannot leave on its
// own. Interruptions caused by the network or a crash can still be resumed.
func (i *Item) IsDone() bool {
	switch i.row.State {
	case history.StateComplete, history.StateCancelled:
		return true
	case history.StateInterrupted:
		return !resumable(i.row.InterruptReason)
	default:
		return false
	}
}

func resumable(reason history.InterruptReason) bool {
	switch reason {
	case history.InterruptNetworkFailed,
		history.InterruptNetworkTimeout,
		history.InterruptServerFailed,
		history.InterruptCrash:
		return true
	default:
		return false
	}
}
