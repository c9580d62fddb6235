package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/download_history/internal/history"
	"github.com/italolelis/download_history/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *DownloadRepository {
	t.Helper()

	db, err := InitDB(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return NewDownloadRepository(db)
}

func sampleRow(id uint32) history.Row {
	return history.Row{
		ID:               id,
		GUID:             "7f0c1e2a-0000-4000-8000-00000000000" + string(rune('0'+id%10)),
		CurrentPath:      "/downloads/report.pdf",
		TargetPath:       "/downloads/report.pdf",
		URLChain:         []string{"https://example.com/r", "https://cdn.example.com/report.pdf"},
		ReferrerURL:      "https://example.com/",
		TabURL:           "https://example.com/page",
		MimeType:         "application/pdf",
		OriginalMimeType: "application/pdf",
		StartTime:        time.UnixMicro(1_700_000_000_000_000).UTC(),
		EndTime:          time.UnixMicro(1_700_000_060_000_000).UTC(),
		ETag:             `"abc"`,
		ReceivedBytes:    2048,
		TotalBytes:       2048,
		State:            history.StateComplete,
		DangerType:       history.DangerNotDangerous,
		InterruptReason:  history.InterruptNone,
		Hash:             "deadbeef",
		Slices:           []history.SliceInfo{{Offset: 0, ReceivedBytes: 1024, Finished: true}},
		RerouteInfo:      []byte{0x0a, 0x02},
	}
}

func TestDownloadRepository_CreateAndQuery(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	want := []history.Row{sampleRow(2), sampleRow(1)}
	for _, row := range want {
		require.NoError(t, repo.CreateDownload(ctx, row))
	}

	got, err := repo.QueryDownloads(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, want[1], got[0])
	assert.Equal(t, want[0], got[1])
}

func TestDownloadRepository_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	require.NoError(t, repo.CreateDownload(ctx, sampleRow(1)))

	err := repo.CreateDownload(ctx, sampleRow(1))
	require.ErrorIs(t, err, storage.ErrAlreadyExists)

	var opErr *storage.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "create_download", opErr.Op)
	assert.Equal(t, uint32(1), opErr.ID)
}

func TestDownloadRepository_Update(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	row := sampleRow(1)
	require.NoError(t, repo.CreateDownload(ctx, row))

	row.CurrentPath = "/downloads/report (1).pdf"
	row.Opened = true
	row.LastAccessTime = time.UnixMicro(1_700_000_100_000_000).UTC()
	row.Slices = nil
	row.URLChain = []string{"https://ignored.example.com"}

	require.NoError(t, repo.UpdateDownload(ctx, row))

	got, err := repo.GetDownload(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, "/downloads/report (1).pdf", got.CurrentPath)
	assert.True(t, got.Opened)
	assert.True(t, row.LastAccessTime.Equal(got.LastAccessTime))
	assert.Nil(t, got.Slices)
	assert.Equal(t, sampleRow(1).URLChain, got.URLChain, "url chain is fixed at creation")
}

func TestDownloadRepository_UpdateMissing(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.UpdateDownload(context.Background(), sampleRow(9))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDownloadRepository_GetMissing(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.GetDownload(context.Background(), 9)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDownloadRepository_RemoveDownloads(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	for id := uint32(1); id <= 3; id++ {
		require.NoError(t, repo.CreateDownload(ctx, sampleRow(id)))
	}

	require.NoError(t, repo.RemoveDownloads(ctx, []uint32{1, 3, 42}))
	require.NoError(t, repo.RemoveDownloads(ctx, nil))

	got, err := repo.QueryDownloads(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint32(2), got[0].ID)

	// The removed id can be reused and gets a fresh URL chain.
	row := sampleRow(1)
	row.URLChain = []string{"https://other.example.com/file"}
	require.NoError(t, repo.CreateDownload(ctx, row))

	restored, err := repo.GetDownload(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, row.URLChain, restored.URLChain)
}

func TestDownloadRepository_MalformedSlicesAreDropped(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	require.NoError(t, repo.CreateDownload(ctx, sampleRow(1)))

	_, err := repo.db.ExecContext(ctx, `UPDATE downloads SET slices = '{not json' WHERE id = 1`)
	require.NoError(t, err)

	got, err := repo.QueryDownloads(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Nil(t, got[0].Slices)
	assert.Equal(t, "deadbeef", got[0].Hash)
}

func TestDownloadRepository_ZeroTimesRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	row := sampleRow(1)
	row.State = history.StateInProgress
	row.EndTime = time.Time{}
	require.NoError(t, repo.CreateDownload(ctx, row))

	got, err := repo.GetDownload(ctx, 1)
	require.NoError(t, err)

	assert.True(t, got.EndTime.IsZero())
	assert.True(t, got.LastAccessTime.IsZero())
	assert.Equal(t, history.StateInProgress, got.State)
}

func TestInitDB_MigratesOlderSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	old, err := sql.Open("sqlite3", path)
	require.NoError(t, err)

	_, err = old.ExecContext(ctx, schema)
	require.NoError(t, err)
	require.NoError(t, old.Close())

	db, err := InitDB(ctx, path)
	require.NoError(t, err)

	defer db.Close()

	for _, col := range addedColumns {
		rows, err := db.QueryContext(ctx, `SELECT `+col.name+` FROM downloads LIMIT 1`)
		require.NoError(t, err, col.name)
		rows.Close()
	}

	// Reopening a migrated database is a no-op.
	require.NoError(t, db.Close())

	db, err = InitDB(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}
