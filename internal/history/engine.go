package history

import (
	"fmt"
	"log/slog"

	"github.com/italolelis/download_history/internal/telemetry"
)

// PersistenceState tracks where a live download stands relative to the store.
type PersistenceState int

const (
	NotPersisted PersistenceState = iota
	Persisting
	Persisted
)

func (s PersistenceState) String() string {
	switch s {
	case NotPersisted:
		return "not_persisted"
	case Persisting:
		return "persisting"
	case Persisted:
		return "persisted"
	default:
		return "unknown"
	}
}

// LoadPlan decides, row by row, which stored rows are dropped instead of
// restored at startup.
type LoadPlan interface {
	ShouldSkip(row Row) bool
}

// LoadPlanner builds a LoadPlan from the full set of stored rows.
type LoadPlanner interface {
	Plan(rows []Row) LoadPlan
}

// entry is the engine's side data for one live download.
type entry struct {
	state PersistenceState
	// lastWritten is the row most recently written for an unfinished download.
	lastWritten *Row
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLoadPlanner sets the policy that prunes stored rows at startup.
func WithLoadPlanner(p LoadPlanner) Option {
	return func(e *Engine) {
		e.planner = p
	}
}

// WithTelemetry enables engine metrics.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(e *Engine) {
		e.telemetry = t
	}
}

// Engine keeps the history store consistent with the manager's live
// downloads. Every method must be called on the engine's TaskRunner.
type Engine struct {
	runner    TaskRunner
	manager   Manager
	store     Store
	planner   LoadPlanner
	logger    *slog.Logger
	telemetry *telemetry.Telemetry

	entries            map[uint32]*entry
	removals           *removalBatcher
	removedWhileAdding map[uint32]struct{}

	loading   bool
	loadingID uint32

	queried     bool
	loaded      bool
	pendingRows []Row

	initialLoadComplete bool
	observers           observerList

	generation uint64
	closed     bool
}

// NewEngine creates an engine. Nothing happens until Initialize is called.
func NewEngine(runner TaskRunner, manager Manager, store Store, opts ...Option) *Engine {
	e := &Engine{
		runner:             runner,
		manager:            manager,
		store:              store,
		logger:             slog.Default(),
		entries:            make(map[uint32]*entry),
		removedWhileAdding: make(map[uint32]struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.removals = newRemovalBatcher(runner, e.flushRemovals)

	return e
}

// Initialize subscribes to the manager, adopts the downloads it already
// owns and starts the asynchronous query of stored rows.
func (e *Engine) Initialize() {
	e.manager.AddObserver(e)

	for _, d := range e.manager.GetAllDownloads() {
		e.OnDownloadCreated(d)
	}

	e.logger.Debug("querying download history", "live_downloads", len(e.entries))

	e.store.QueryDownloads(func(rows []Row) {
		e.post(func() { e.onQueryCompleted(rows) })
	})
}

// AddObserver registers o. If the initial load already finished, a newly
// added o is told so before AddObserver returns.
func (e *Engine) AddObserver(o Observer) {
	if !e.observers.add(o) {
		return
	}

	if e.initialLoadComplete {
		o.OnInitialLoadComplete()
	}
}

func (e *Engine) RemoveObserver(o Observer) {
	e.observers.remove(o)
}

// IsPersisted reports whether the download with id has a confirmed row.
func (e *Engine) IsPersisted(id uint32) bool {
	ent, ok := e.entries[id]

	return ok && ent.state == Persisted
}

// State returns the persistence state of a live download.
func (e *Engine) State(id uint32) (PersistenceState, bool) {
	ent, ok := e.entries[id]
	if !ok {
		return NotPersisted, false
	}

	return ent.state, true
}

// InitialLoadComplete reports whether stored rows have been restored.
func (e *Engine) InitialLoadComplete() bool {
	return e.initialLoadComplete
}

// Close issues any pending removal batch, tells observers the engine is going
// away and drops every store completion that arrives afterwards.
func (e *Engine) Close() {
	if e.closed {
		return
	}

	if ids := e.removals.take(); len(ids) > 0 {
		e.flushRemovals(ids)
	}

	e.observers.each(func(o Observer) { o.OnEngineShuttingDown() })

	e.manager.RemoveObserver(e)

	e.closed = true
	e.generation++

	e.logger.Info("download history engine closed")
}

// post re-enters the engine on its runner, unless the engine was closed in
// the meantime.
func (e *Engine) post(fn func()) {
	gen := e.generation

	e.runner.PostTask(func() {
		if e.closed || e.generation != gen {
			return
		}

		fn()
	})
}

func (e *Engine) onQueryCompleted(rows []Row) {
	e.queried = true
	e.pendingRows = rows

	e.logger.Debug("download history queried", "rows", len(rows))

	if e.manager.IsReady() {
		e.loadHistoryRows()
	}
}

// OnManagerReady loads buffered rows once the manager can materialize them.
func (e *Engine) OnManagerReady() {
	if e.queried {
		e.loadHistoryRows()
	}
}

func (e *Engine) loadHistoryRows() {
	if e.loaded {
		return
	}

	e.loaded = true

	rows := e.pendingRows
	e.pendingRows = nil

	var plan LoadPlan
	if e.planner != nil {
		plan = e.planner.Plan(rows)
	}

	var restored, pruned, declined int

	for _, row := range rows {
		if plan != nil && plan.ShouldSkip(row) {
			e.logger.Debug("pruning stored download", "download_id", row.ID, "target_path", row.TargetPath)
			e.scheduleRemoval(row.ID)

			pruned++

			continue
		}

		e.loading, e.loadingID = true, row.ID
		d := e.manager.CreateDownloadItem(row)
		e.loading = false

		if d == nil {
			e.logger.Debug("manager declined stored download", "download_id", row.ID, "guid", row.GUID)
			e.scheduleRemoval(row.ID)

			declined++

			continue
		}

		if ent, ok := e.entries[d.ID()]; ok {
			e.setState(ent, Persisted)
		} else {
			e.logger.Warn("restored download was never announced", "download_id", d.ID())
		}

		restored++
	}

	e.telemetry.RecordHistoryLoad("restored", restored)
	e.telemetry.RecordHistoryLoad("pruned", pruned)
	e.telemetry.RecordHistoryLoad("declined", declined)

	e.logger.Info("download history loaded",
		"restored", restored,
		"pruned", pruned,
		"declined", declined)

	e.manager.PostInitialization()

	e.initialLoadComplete = true
	e.observers.each(func(o Observer) { o.OnInitialLoadComplete() })
}

// OnDownloadCreated attaches persistence state to a new live download.
func (e *Engine) OnDownloadCreated(d Download) {
	id := d.ID()
	if _, ok := e.entries[id]; ok {
		panic(fmt.Sprintf("history: download %d announced twice", id))
	}

	ent := &entry{state: NotPersisted}
	e.entries[id] = ent

	if e.loading && id == e.loadingID {
		e.setState(ent, Persisted)
		e.loading = false
	} else if !d.IsDone() && ShouldPersist(d) {
		snapshot := RowOf(d).Clone()
		ent.lastWritten = &snapshot
	}

	e.maybeAddToHistory(d)
}

func (e *Engine) maybeAddToHistory(d Download) {
	if !ShouldPersist(d) {
		return
	}

	id := d.ID()

	ent, ok := e.entries[id]
	if !ok {
		return
	}

	row := RowOf(d)

	if d.IsTrustedInstall() || d.IsTemporary() || row.Transient ||
		ent.state != NotPersisted || e.removals.contains(id) {
		return
	}

	e.setState(ent, Persisting)

	if d.IsDone() {
		ent.lastWritten = nil
	} else {
		snapshot := row.Clone()
		ent.lastWritten = &snapshot
	}

	e.logger.Debug("adding download to history", "download_id", id, "state", row.State.String())
	e.telemetry.RecordStoreOperation("create", "issued")

	e.store.CreateDownload(row, func(success bool) {
		e.post(func() { e.onCreateCompleted(id, row, success) })
	})
}

func (e *Engine) onCreateCompleted(id uint32, row Row, success bool) {
	if _, ok := e.removedWhileAdding[id]; ok {
		delete(e.removedWhileAdding, id)

		if ent, ok := e.entries[id]; ok {
			e.setState(ent, NotPersisted)
		}

		if success {
			e.scheduleRemoval(id)
		}

		return
	}

	d := e.manager.GetDownload(id)
	if d == nil {
		e.logger.Debug("download gone before its row was created", "download_id", id)

		return
	}

	ent, ok := e.entries[id]
	if !ok {
		return
	}

	if !success {
		// No automatic retry: the next update of the download tries again.
		e.logger.Warn("failed to add download to history", "download_id", id)
		e.telemetry.RecordStoreOperation("create", "error")
		e.setState(ent, NotPersisted)

		return
	}

	e.telemetry.RecordStoreOperation("create", "success")

	wasPersisted := ent.state == Persisted
	e.setState(ent, Persisted)

	if !wasPersisted {
		e.observers.each(func(o Observer) { o.OnStored(d, row) })
	}
}

// OnDownloadUpdated writes the download's row if it changed in a way history cares about.
func (e *Engine) OnDownloadUpdated(d Download) {
	ent, ok := e.entries[d.ID()]
	if !ok {
		return
	}

	if ent.state == NotPersisted {
		e.maybeAddToHistory(d)

		return
	}

	row := RowOf(d)

	if row.Transient || d.IsTemporary() {
		e.OnDownloadRemoved(d)

		return
	}

	if !ShouldPersist(d) {
		return
	}

	if kind := ClassifyUpdate(ent.lastWritten, row); kind != NoUpdate {
		e.telemetry.RecordStoreOperation("update_"+kind.String(), "issued")
		e.store.UpdateDownload(row, kind == UpdateImmediate)

		e.observers.each(func(o Observer) { o.OnStored(d, row) })
	}

	if d.IsDone() {
		ent.lastWritten = nil
	} else {
		snapshot := row.Clone()
		ent.lastWritten = &snapshot
	}
}

// OnDownloadOpened records the opened flag and access time.
func (e *Engine) OnDownloadOpened(d Download) {
	e.OnDownloadUpdated(d)
}

// OnDownloadRemoved deletes the download's row from the store.
func (e *Engine) OnDownloadRemoved(d Download) {
	id := d.ID()

	ent, ok := e.entries[id]
	if !ok {
		return
	}

	switch ent.state {
	case Persisting:
		// The removal is issued once the pending create completes.
		e.removedWhileAdding[id] = struct{}{}

		return
	case Persisted:
	default:
		return
	}

	e.scheduleRemoval(id)
	// Must happen before anything else can observe the download.
	e.setState(ent, NotPersisted)
}

// OnDownloadDestroyed forgets the download.
func (e *Engine) OnDownloadDestroyed(id uint32) {
	ent, ok := e.entries[id]
	if !ok {
		return
	}

	if ent.state == Persisted {
		e.telemetry.DecrementPersistedDownloads()
	}

	delete(e.entries, id)
}

func (e *Engine) scheduleRemoval(id uint32) {
	e.removals.schedule(id)
}

func (e *Engine) flushRemovals(ids []uint32) {
	if e.closed {
		return
	}

	e.logger.Debug("removing downloads from history", "count", len(ids))
	e.telemetry.RecordRemovalBatch(len(ids))

	e.store.RemoveDownloads(ids)

	e.observers.each(func(o Observer) { o.OnRemoved(ids) })
}

func (e *Engine) setState(ent *entry, state PersistenceState) {
	if ent.state == state {
		return
	}

	switch {
	case state == Persisted:
		e.telemetry.IncrementPersistedDownloads()
	case ent.state == Persisted:
		e.telemetry.DecrementPersistedDownloads()
	}

	ent.state = state
}
