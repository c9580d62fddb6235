package storage

import (
	"context"
	"testing"

	"github.com/italolelis/download_history/internal/history"
	"github.com/italolelis/download_history/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentedDownloadRepository_Delegates(t *testing.T) {
	ctx := context.Background()

	tel, err := telemetry.New(ctx, telemetry.Config{Enabled: false})
	require.NoError(t, err)

	repo := NewInstrumentedDownloadRepository(newMemRepo(), "memory", tel)

	require.NoError(t, repo.CreateDownload(ctx, history.Row{ID: 1, GUID: "a"}))
	require.NoError(t, repo.UpdateDownload(ctx, history.Row{ID: 1, GUID: "a", Opened: true}))

	row, err := repo.GetDownload(ctx, 1)
	require.NoError(t, err)
	assert.True(t, row.Opened)

	rows, err := repo.QueryDownloads(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	require.NoError(t, repo.RemoveDownloads(ctx, []uint32{1}))

	_, err = repo.GetDownload(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	err = repo.UpdateDownload(ctx, history.Row{ID: 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInstrumentedDownloadRepository_NilTelemetry(t *testing.T) {
	repo := NewInstrumentedDownloadRepository(newMemRepo(), "memory", nil)

	assert.NoError(t, repo.CreateDownload(context.Background(), history.Row{ID: 1}))
}
