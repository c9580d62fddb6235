package history

import (
	"slices"
)

// manualRunner queues tasks until the test drains them.
type manualRunner struct {
	tasks []func()
}

func (r *manualRunner) PostTask(task func()) {
	r.tasks = append(r.tasks, task)
}

// runUntilIdle runs queued tasks, including ones they post, until none are left.
func (r *manualRunner) runUntilIdle() {
	for len(r.tasks) > 0 {
		task := r.tasks[0]
		r.tasks = r.tasks[1:]
		task()
	}
}

type createCall struct {
	row      Row
	callback func(bool)
}

type updateCall struct {
	row       Row
	immediate bool
}

type fakeStore struct {
	queryCallback func([]Row)
	creates       []createCall
	updates       []updateCall
	removes       [][]uint32
}

func (s *fakeStore) QueryDownloads(callback func([]Row)) {
	s.queryCallback = callback
}

func (s *fakeStore) CreateDownload(row Row, callback func(bool)) {
	s.creates = append(s.creates, createCall{row: row, callback: callback})
}

func (s *fakeStore) UpdateDownload(row Row, immediate bool) {
	s.updates = append(s.updates, updateCall{row: row, immediate: immediate})
}

func (s *fakeStore) RemoveDownloads(ids []uint32) {
	s.removes = append(s.removes, slices.Clone(ids))
}

// completeCreate answers the i-th create call. Like a real store it calls
// back from outside the engine's runner.
func (s *fakeStore) completeCreate(i int, success bool) {
	s.creates[i].callback(success)
}

func (s *fakeStore) totalCalls() int {
	return len(s.creates) + len(s.updates) + len(s.removes)
}

type fakeDownload struct {
	row            Row
	savePackage    bool
	temporary      bool
	trustedInstall bool
	resumable      bool
}

func (d *fakeDownload) ID() uint32             { return d.row.ID }
func (d *fakeDownload) Row() Row               { return d.row.Clone() }
func (d *fakeDownload) IsSavePackage() bool    { return d.savePackage }
func (d *fakeDownload) IsTemporary() bool      { return d.temporary }
func (d *fakeDownload) IsTrustedInstall() bool { return d.trustedInstall }

func (d *fakeDownload) IsDone() bool {
	switch d.row.State {
	case StateComplete, StateCancelled:
		return true
	case StateInterrupted:
		return !d.resumable
	default:
		return false
	}
}

type fakeManager struct {
	downloads       map[uint32]*fakeDownload
	observers       []ManagerObserver
	ready           bool
	postInitialized int
	declineGUIDs    map[string]bool
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		downloads:    make(map[uint32]*fakeDownload),
		ready:        true,
		declineGUIDs: make(map[string]bool),
	}
}

func (m *fakeManager) GetAllDownloads() []Download {
	var out []Download

	for _, id := range sortedIDs(m.downloads) {
		out = append(out, m.downloads[id])
	}

	return out
}

func (m *fakeManager) GetDownload(id uint32) Download {
	if d, ok := m.downloads[id]; ok {
		return d
	}

	return nil
}

func (m *fakeManager) CreateDownloadItem(row Row) Download {
	if m.declineGUIDs[row.GUID] {
		return nil
	}

	d := &fakeDownload{row: row.Clone()}
	m.downloads[row.ID] = d
	m.each(func(o ManagerObserver) { o.OnDownloadCreated(d) })

	return d
}

func (m *fakeManager) IsReady() bool        { return m.ready }
func (m *fakeManager) PostInitialization() { m.postInitialized++ }

func (m *fakeManager) AddObserver(o ManagerObserver) {
	m.observers = append(m.observers, o)
}

func (m *fakeManager) RemoveObserver(o ManagerObserver) {
	m.observers = slices.DeleteFunc(m.observers, func(x ManagerObserver) bool { return x == o })
}

func (m *fakeManager) each(fn func(ManagerObserver)) {
	for _, o := range slices.Clone(m.observers) {
		fn(o)
	}
}

func (m *fakeManager) add(d *fakeDownload) *fakeDownload {
	m.downloads[d.ID()] = d
	m.each(func(o ManagerObserver) { o.OnDownloadCreated(d) })

	return d
}

func (m *fakeManager) update(d *fakeDownload, fn func(*Row)) {
	fn(&d.row)
	m.each(func(o ManagerObserver) { o.OnDownloadUpdated(d) })
}

func (m *fakeManager) remove(d *fakeDownload) {
	m.each(func(o ManagerObserver) { o.OnDownloadRemoved(d) })
}

func (m *fakeManager) destroy(d *fakeDownload) {
	delete(m.downloads, d.ID())
	m.each(func(o ManagerObserver) { o.OnDownloadDestroyed(d.ID()) })
}

func (m *fakeManager) becomeReady() {
	m.ready = true
	m.each(func(o ManagerObserver) { o.OnManagerReady() })
}

func sortedIDs(m map[uint32]*fakeDownload) []uint32 {
	ids := make([]uint32, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

type storedEvent struct {
	id  uint32
	row Row
}

type recordingObserver struct {
	stored       []storedEvent
	removed      [][]uint32
	loadComplete int
	shuttingDown int
}

func (o *recordingObserver) OnStored(d Download, row Row) {
	o.stored = append(o.stored, storedEvent{id: d.ID(), row: row})
}

func (o *recordingObserver) OnRemoved(ids []uint32) {
	o.removed = append(o.removed, slices.Clone(ids))
}

func (o *recordingObserver) OnInitialLoadComplete() { o.loadComplete++ }
func (o *recordingObserver) OnEngineShuttingDown()  { o.shuttingDown++ }
