package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/italolelis/download_history/internal/history"
)

var (
	ErrNotFound          = errors.New("download not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrMissingURL        = errors.New("download needs at least one url")
	ErrNotInitialized    = errors.New("download history is still loading")
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// StartOptions describes a new download.
type StartOptions struct {
	URLChain        []string `json:"url_chain"`
	TargetPath      string   `json:"target_path"`
	ReferrerURL     string   `json:"referrer_url,omitempty"`
	TabURL          string   `json:"tab_url,omitempty"`
	MimeType        string   `json:"mime_type,omitempty"`
	TotalBytes      int64    `json:"total_bytes,omitempty"`
	Transient       bool     `json:"transient,omitempty"`
	SavePackage     bool     `json:"save_package,omitempty"`
	Temporary       bool     `json:"temporary,omitempty"`
	TrustedInstall  bool     `json:"trusted_install,omitempty"`
	AttributionID   string   `json:"attribution_id,omitempty"`
	AttributionName string   `json:"attribution_name,omitempty"`
}

// Manager is an in-memory download manager. It is not safe for concurrent
// use: every method must run on the history loop, which is also where
// observers are notified.
type Manager struct {
	logger *slog.Logger
	now    func() time.Time

	nextID    uint32
	items     map[uint32]*Item
	guids     map[string]uint32
	observers []history.ManagerObserver

	ready       bool
	initialized bool
}

// New creates a manager that is not ready until SetReady is called.
func New(opts ...Option) *Manager {
	m := &Manager{
		logger: slog.Default(),
		now:    time.Now,
		nextID: 1,
		items:  make(map[uint32]*Item),
		guids:  make(map[string]uint32),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Manager) GetAllDownloads() []history.Download {
	out := make([]history.Download, 0, len(m.items))
	for _, item := range m.List() {
		out = append(out, item)
	}

	return out
}

func (m *Manager) GetDownload(id uint32) history.Download {
	item, ok := m.items[id]
	if !ok {
		return nil
	}

	return item
}

// CreateDownloadItem restores a download from history. Rows whose id or
// GUID is already live are declined. A row left in progress by a previous
// run comes back as interrupted by a crash.
func (m *Manager) CreateDownloadItem(row history.Row) history.Download {
	if _, ok := m.items[row.ID]; ok {
		m.logger.Warn("declining stored download with live id", "download_id", row.ID)

		return nil
	}

	if _, ok := m.guids[row.GUID]; ok || row.GUID == "" {
		m.logger.Warn("declining stored download with duplicate guid", "download_id", row.ID, "guid", row.GUID)

		return nil
	}

	row = row.Clone()
	if row.State == history.StateInProgress {
		row.State = history.StateInterrupted
		row.InterruptReason = history.InterruptCrash
	}

	item := &Item{row: row}
	m.insert(item)

	if row.ID >= m.nextID {
		m.nextID = row.ID + 1
	}

	m.each(func(o history.ManagerObserver) { o.OnDownloadCreated(item) })

	return item
}

func (m *Manager) IsReady() bool { return m.ready }

// PostInitialization records that history finished loading.
func (m *Manager) PostInitialization() {
	m.initialized = true

	m.logger.Info("download manager initialized", "downloads", len(m.items))
}

// Initialized reports whether history finished loading into the manager.
func (m *Manager) Initialized() bool { return m.initialized }

func (m *Manager) AddObserver(o history.ManagerObserver) {
	if slices.Contains(m.observers, o) {
		return
	}

	m.observers = append(m.observers, o)
}

func (m *Manager) RemoveObserver(o history.ManagerObserver) {
	m.observers = slices.DeleteFunc(m.observers, func(x history.ManagerObserver) bool { return x == o })
}

// SetReady makes the manager accept restored downloads.
func (m *Manager) SetReady() {
	if m.ready {
		return
	}

	m.ready = true
	m.each(func(o history.ManagerObserver) { o.OnManagerReady() })
}

// Get returns the live item with id.
func (m *Manager) Get(id uint32) (*Item, bool) {
	item, ok := m.items[id]

	return item, ok
}

// List returns the live items ordered by id.
func (m *Manager) List() []*Item {
	items := make([]*Item, 0, len(m.items))
	for _, item := range m.items {
		items = append(items, item)
	}

	slices.SortFunc(items, func(a, b *Item) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		default:
			return 0
		}
	})

	return items
}

// Start begins a new download. It is refused until history finished loading
// so new ids never collide with stored rows.
func (m *Manager) Start(opts StartOptions) (*Item, error) {
	if !m.initialized {
		return nil, ErrNotInitialized
	}

	if len(opts.URLChain) == 0 {
		return nil, ErrMissingURL
	}

	row := history.Row{
		ID:               m.nextID,
		GUID:             uuid.NewString(),
		CurrentPath:      partialPath(opts.TargetPath),
		TargetPath:       opts.TargetPath,
		URLChain:         slices.Clone(opts.URLChain),
		ReferrerURL:      opts.ReferrerURL,
		TabURL:           opts.TabURL,
		MimeType:         opts.MimeType,
		OriginalMimeType: opts.MimeType,
		StartTime:        m.now(),
		TotalBytes:       opts.TotalBytes,
		State:            history.StateInProgress,
		Transient:        opts.Transient,
		AttributionID:    opts.AttributionID,
		AttributionName:  opts.AttributionName,
	}

	m.nextID++

	item := &Item{
		row:            row,
		savePackage:    opts.SavePackage,
		temporary:      opts.Temporary,
		trustedInstall: opts.TrustedInstall,
	}
	m.insert(item)

	m.logger.Info("download started",
		"download_id", row.ID,
		"url", row.URL(),
		"target_path", row.TargetPath,
		"total", humanize.Bytes(uint64(max(row.TotalBytes, 0))))

	m.each(func(o history.ManagerObserver) { o.OnDownloadCreated(item) })

	return item, nil
}

// Progress records received bytes of an in-progress download.
func (m *Manager) Progress(id uint32, receivedBytes int64, parts []history.SliceInfo) error {
	item, err := m.inProgress(id)
	if err != nil {
		return err
	}

	item.row.ReceivedBytes = receivedBytes
	item.row.Slices = slices.Clone(parts)

	if receivedBytes > item.row.TotalBytes && item.row.TotalBytes > 0 {
		item.row.TotalBytes = receivedBytes
	}

	m.logger.Debug("download progress",
		"download_id", id,
		"downloaded", humanize.Bytes(uint64(max(receivedBytes, 0))),
		"total", humanize.Bytes(uint64(max(item.row.TotalBytes, 0))))

	m.updated(item)

	return nil
}

// Rename moves the download to a new target path.
func (m *Manager) Rename(id uint32, targetPath string) error {
	item, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}

	if item.row.State == history.StateCancelled {
		return fmt.Errorf("rename cancelled download %d: %w", id, ErrInvalidTransition)
	}

	item.row.TargetPath = targetPath
	if item.row.State == history.StateComplete {
		item.row.CurrentPath = targetPath
	} else {
		item.row.CurrentPath = partialPath(targetPath)
	}

	m.logger.Info("download renamed", "download_id", id, "target_path", targetPath)

	m.updated(item)

	return nil
}

// Complete finishes a download.
func (m *Manager) Complete(id uint32, hash string) error {
	item, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}

	switch item.row.State {
	case history.StateInProgress:
	case history.StateInterrupted:
		if !resumable(item.row.InterruptReason) {
			return fmt.Errorf("complete download %d: %w", id, ErrInvalidTransition)
		}
	default:
		return fmt.Errorf("complete download %d in state %s: %w", id, item.row.State, ErrInvalidTransition)
	}

	item.row.State = history.StateComplete
	item.row.InterruptReason = history.InterruptNone
	item.row.CurrentPath = item.row.TargetPath
	item.row.EndTime = m.now()
	item.row.Hash = hash
	item.row.Slices = nil

	if item.row.TotalBytes == 0 {
		item.row.TotalBytes = item.row.ReceivedBytes
	}

	m.logger.Info("download completed",
		"download_id", id,
		"target_path", item.row.TargetPath,
		"size", humanize.Bytes(uint64(max(item.row.ReceivedBytes, 0))))

	m.updated(item)

	return nil
}

// Interrupt stops an in-progress download for reason.
func (m *Manager) Interrupt(id uint32, reason history.InterruptReason) error {
	item, err := m.inProgress(id)
	if err != nil {
		return err
	}

	if reason == history.InterruptNone {
		return fmt.Errorf("interrupt download %d without a reason: %w", id, ErrInvalidTransition)
	}

	item.row.State = history.StateInterrupted
	item.row.InterruptReason = reason
	item.row.EndTime = m.now()

	m.logger.Warn("download interrupted", "download_id", id, "reason", reason.String())

	m.updated(item)

	return nil
}

// Cancel stops a download that has not completed.
func (m *Manager) Cancel(id uint32) error {
	item, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}

	if item.row.State == history.StateComplete || item.row.State == history.StateCancelled {
		return fmt.Errorf("cancel download %d in state %s: %w", id, item.row.State, ErrInvalidTransition)
	}

	item.row.State = history.StateCancelled
	item.row.InterruptReason = history.InterruptUserCanceled
	item.row.EndTime = m.now()

	m.logger.Info("download cancelled", "download_id", id)

	m.updated(item)

	return nil
}

// Open records that the user opened a completed download.
func (m *Manager) Open(id uint32) error {
	item, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}

	if item.row.State != history.StateComplete {
		return fmt.Errorf("open download %d in state %s: %w", id, item.row.State, ErrInvalidTransition)
	}

	item.row.Opened = true
	item.row.LastAccessTime = m.now()

	m.each(func(o history.ManagerObserver) { o.OnDownloadOpened(item) })

	return nil
}

// Remove deletes a download from the manager. Observers see the removal
// followed by the destruction of the item.
func (m *Manager) Remove(id uint32) error {
	item, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}

	m.each(func(o history.ManagerObserver) { o.OnDownloadRemoved(item) })

	delete(m.items, id)
	delete(m.guids, item.row.GUID)

	m.logger.Info("download removed", "download_id", id)

	m.each(func(o history.ManagerObserver) { o.OnDownloadDestroyed(id) })

	return nil
}

func (m *Manager) inProgress(id uint32) (*Item, error) {
	item, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}

	if item.row.State != history.StateInProgress {
		return nil, fmt.Errorf("download %d is %s: %w", id, item.row.State, ErrInvalidTransition)
	}

	return item, nil
}

func (m *Manager) insert(item *Item) {
	m.items[item.ID()] = item
	m.guids[item.row.GUID] = item.ID()
}

func (m *Manager) updated(item *Item) {
	m.each(func(o history.ManagerObserver) { o.OnDownloadUpdated(item) })
}

func (m *Manager) each(fn func(history.ManagerObserver)) {
	for _, o := range slices.Clone(m.observers) {
		fn(o)
	}
}

func partialPath(target string) string {
	if target == "" {
		return ""
	}

	return target + partialSuffix
}
