package history

import (
	"slices"
	"strings"
	"time"
)

// maxDataURLLength bounds how much of a data: URL is written to the store.
const maxDataURLLength = 1024

// DownloadState is the lifecycle state of a download as stored in history.
type DownloadState int

const (
	StateInProgress DownloadState = iota
	StateComplete
	StateCancelled
	StateInterrupted
)

func (s DownloadState) String() string {
	switch s {
	case StateInProgress:
		return "in_progress"
	case StateComplete:
		return "complete"
	case StateCancelled:
		return "cancelled"
	case StateInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// ParseDownloadState is the inverse of DownloadState.String. Unknown values
// map to StateInterrupted so a restored row never looks resumable.
func ParseDownloadState(s string) DownloadState {
	switch s {
	case "in_progress":
		return StateInProgress
	case "complete":
		return StateComplete
	case "cancelled":
		return StateCancelled
	default:
		return StateInterrupted
	}
}

// DangerType classifies how dangerous the downloaded content is.
type DangerType int

const (
	DangerNotDangerous DangerType = iota
	DangerFile
	DangerURL
	DangerContent
	DangerMaybeDangerous
	DangerUncommon
	DangerUserValidated
	DangerHost
	DangerPotentiallyUnwanted
)

func (d DangerType) String() string {
	switch d {
	case DangerNotDangerous:
		return "not_dangerous"
	case DangerFile:
		return "dangerous_file"
	case DangerURL:
		return "dangerous_url"
	case DangerContent:
		return "dangerous_content"
	case DangerMaybeDangerous:
		return "maybe_dangerous"
	case DangerUncommon:
		return "uncommon_content"
	case DangerUserValidated:
		return "user_validated"
	case DangerHost:
		return "dangerous_host"
	case DangerPotentiallyUnwanted:
		return "potentially_unwanted"
	default:
		return "unknown"
	}
}

// InterruptReason explains why a download stopped before completing.
type InterruptReason int

const (
	InterruptNone InterruptReason = iota
	InterruptFileFailed
	InterruptFileNoSpace
	InterruptNetworkFailed
	InterruptNetworkTimeout
	InterruptServerFailed
	InterruptUserCanceled
	InterruptUserShutdown
	InterruptCrash
)

func (r InterruptReason) String() string {
	switch r {
	case InterruptNone:
		return "none"
	case InterruptFileFailed:
		return "file_failed"
	case InterruptFileNoSpace:
		return "file_no_space"
	case InterruptNetworkFailed:
		return "network_failed"
	case InterruptNetworkTimeout:
		return "network_timeout"
	case InterruptServerFailed:
		return "server_failed"
	case InterruptUserCanceled:
		return "user_canceled"
	case InterruptUserShutdown:
		return "user_shutdown"
	case InterruptCrash:
		return "crash"
	default:
		return "unknown"
	}
}

// ParseInterruptReason is the inverse of InterruptReason.String.
func ParseInterruptReason(s string) (InterruptReason, bool) {
	for r := InterruptNone; r <= InterruptCrash; r++ {
		if r.String() == s {
			return r, true
		}
	}

	return InterruptNone, false
}

// SliceInfo describes one received byte range of a parallel download.
type SliceInfo struct {
	Offset        int64 `json:"offset"`
	ReceivedBytes int64 `json:"received_bytes"`
	Finished      bool  `json:"finished"`
}

// Row is the persisted snapshot of a download, the unit exchanged with the store.
type Row struct {
	ID               uint32          `json:"id"`
	GUID             string          `json:"guid"`
	CurrentPath      string          `json:"current_path"`
	TargetPath       string          `json:"target_path"`
	URLChain         []string        `json:"url_chain"`
	ReferrerURL      string          `json:"referrer_url,omitempty"`
	EmbedderData     string          `json:"embedder_data,omitempty"`
	TabURL           string          `json:"tab_url,omitempty"`
	TabReferrerURL   string          `json:"tab_referrer_url,omitempty"`
	MimeType         string          `json:"mime_type,omitempty"`
	OriginalMimeType string          `json:"original_mime_type,omitempty"`
	StartTime        time.Time       `json:"start_time"`
	EndTime          time.Time       `json:"end_time"`
	ETag             string          `json:"etag,omitempty"`
	LastModified     string          `json:"last_modified,omitempty"`
	ReceivedBytes    int64           `json:"received_bytes"`
	TotalBytes       int64           `json:"total_bytes"`
	State            DownloadState   `json:"state"`
	DangerType       DangerType      `json:"danger_type"`
	InterruptReason  InterruptReason `json:"interrupt_reason"`
	Hash             string          `json:"hash,omitempty"`
	Opened           bool            `json:"opened"`
	LastAccessTime   time.Time       `json:"last_access_time"`
	Transient        bool            `json:"transient"`
	AttributionID    string          `json:"attribution_id,omitempty"`
	AttributionName  string          `json:"attribution_name,omitempty"`
	Slices           []SliceInfo     `json:"slices,omitempty"`
	RerouteInfo      []byte          `json:"reroute_info,omitempty"`
}

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	c := r
	c.URLChain = slices.Clone(r.URLChain)
	c.Slices = slices.Clone(r.Slices)
	c.RerouteInfo = slices.Clone(r.RerouteInfo)

	return c
}

// URL returns the final URL of the redirect chain.
func (r Row) URL() string {
	if len(r.URLChain) == 0 {
		return ""
	}

	return r.URLChain[len(r.URLChain)-1]
}

// TruncateURLChain caps an over-long data: URL at the end of the chain.
// The input is never modified.
func TruncateURLChain(chain []string) []string {
	if len(chain) == 0 {
		return chain
	}

	last := chain[len(chain)-1]
	if len(last) <= maxDataURLLength || !isDataURL(last) {
		return chain
	}

	out := slices.Clone(chain)
	out[len(out)-1] = last[:maxDataURLLength]

	return out
}

func isDataURL(u string) bool {
	return len(u) >= 5 && strings.EqualFold(u[:5], "data:")
}
