package history

// Download is a live download owned by the download manager.
type Download interface {
	ID() uint32
	// Row returns the current snapshot of the download's persisted fields.
	Row() Row
	// IsDone reports whether the download reached a terminal state.
	IsDone() bool
	IsSavePackage() bool
	// IsTemporary reports manager-internal scratch downloads that never reach history.
	IsTemporary() bool
	// IsTrustedInstall reports silent installs from a trusted source.
	IsTrustedInstall() bool
}

// ManagerObserver receives download manager notifications. The manager must
// deliver them on the same TaskRunner the engine runs on.
type ManagerObserver interface {
	OnDownloadCreated(d Download)
	OnDownloadUpdated(d Download)
	OnDownloadOpened(d Download)
	OnDownloadRemoved(d Download)
	OnDownloadDestroyed(id uint32)
	OnManagerReady()
}

// Manager is the authoritative owner of live downloads.
type Manager interface {
	GetAllDownloads() []Download
	// GetDownload returns nil when no live download has the id.
	GetDownload(id uint32) Download
	// CreateDownloadItem materializes a download from a persisted row. It must
	// fire OnDownloadCreated before returning, and returns nil when the
	// manager declines the row.
	CreateDownloadItem(row Row) Download
	// IsReady reports whether the manager accepts materialized downloads.
	IsReady() bool
	// PostInitialization tells the manager history has been loaded.
	PostInitialization()
	AddObserver(o ManagerObserver)
	RemoveObserver(o ManagerObserver)
}

// Store is the asynchronous history backend. Callbacks may be invoked from
// any goroutine; the engine re-posts them onto its own runner.
type Store interface {
	QueryDownloads(callback func(rows []Row))
	CreateDownload(row Row, callback func(success bool))
	UpdateDownload(row Row, immediate bool)
	RemoveDownloads(ids []uint32)
}

// TaskRunner runs posted tasks sequentially, in posting order.
type TaskRunner interface {
	PostTask(task func())
}

// RowOf builds the row to write for d.
func RowOf(d Download) Row {
	row := d.Row()
	row.URLChain = TruncateURLChain(row.URLChain)

	return row
}
