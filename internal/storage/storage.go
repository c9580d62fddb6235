package storage

import (
	"context"

	"github.com/italolelis/download_history/internal/history"
)

// DownloadReadRepository reads persisted history rows.
type DownloadReadRepository interface {
	QueryDownloads(ctx context.Context) ([]history.Row, error)
	// GetDownload returns ErrNotFound when no row has the id.
	GetDownload(ctx context.Context, id uint32) (history.Row, error)
}

// DownloadWriteRepository writes history rows. Every call commits on return.
type DownloadWriteRepository interface {
	// CreateDownload returns ErrAlreadyExists when a row with the same id is stored.
	CreateDownload(ctx context.Context, row history.Row) error
	// UpdateDownload returns ErrNotFound when the row does not exist.
	UpdateDownload(ctx context.Context, row history.Row) error
	// RemoveDownloads deletes the given ids. Unknown ids are ignored.
	RemoveDownloads(ctx context.Context, ids []uint32) error
}

// DownloadRepository is a synchronous history backend.
type DownloadRepository interface {
	DownloadReadRepository
	DownloadWriteRepository
}
