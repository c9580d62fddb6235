package storage

import (
	"context"

	"github.com/italolelis/download_history/internal/history"
	"github.com/italolelis/download_history/internal/telemetry"
)

// InstrumentedDownloadRepository wraps a DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      DownloadRepository
	backend   string
	telemetry *telemetry.Telemetry
}

// NewInstrumentedDownloadRepository creates a new instrumented download
// repository. backend names the database system in spans, e.g. "sqlite".
func NewInstrumentedDownloadRepository(repo DownloadRepository, backend string, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      repo,
		backend:   backend,
		telemetry: tel,
	}
}

// QueryDownloads retrieves all rows with telemetry.
func (r *InstrumentedDownloadRepository) QueryDownloads(ctx context.Context) ([]history.Row, error) {
	var result []history.Row

	err := r.telemetry.InstrumentDBOperation(ctx, r.backend, "query_downloads", func(ctx context.Context) error {
		var err error

		result, err = r.repo.QueryDownloads(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetDownload retrieves one row with telemetry.
func (r *InstrumentedDownloadRepository) GetDownload(ctx context.Context, id uint32) (history.Row, error) {
	var result history.Row

	err := r.telemetry.InstrumentDBOperation(ctx, r.backend, "get_download", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetDownload(ctx, id)

		return err
	})

	return result, err
}

// CreateDownload inserts a row with telemetry.
func (r *InstrumentedDownloadRepository) CreateDownload(ctx context.Context, row history.Row) error {
	return r.telemetry.InstrumentDBOperation(ctx, r.backend, "create_download", func(ctx context.Context) error {
		return r.repo.CreateDownload(ctx, row)
	})
}

// UpdateDownload updates a row with telemetry.
func (r *InstrumentedDownloadRepository) UpdateDownload(ctx context.Context, row history.Row) error {
	return r.telemetry.InstrumentDBOperation(ctx, r.backend, "update_download", func(ctx context.Context) error {
		return r.repo.UpdateDownload(ctx, row)
	})
}

// RemoveDownloads deletes rows with telemetry.
func (r *InstrumentedDownloadRepository) RemoveDownloads(ctx context.Context, ids []uint32) error {
	return r.telemetry.InstrumentDBOperation(ctx, r.backend, "remove_downloads", func(ctx context.Context) error {
		return r.repo.RemoveDownloads(ctx, ids)
	})
}
