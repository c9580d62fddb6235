package manager

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/download_history/internal/history"
	"github.com/italolelis/download_history/internal/storage"
	"github.com/italolelis/download_history/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// session wires a manager and an engine to a SQLite history the way the
// service does.
type session struct {
	loop    *history.Loop
	manager *Manager
	engine  *history.Engine
	repo    storage.DownloadRepository

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startSession(t *testing.T, path string) *session {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	db, err := sqlite.InitDB(ctx, path)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := &session{
		loop:    history.NewLoop(),
		manager: New(WithLogger(logger)),
		repo:    sqlite.NewDownloadRepository(db),
		cancel:  cancel,
	}

	store := storage.NewAsyncStore(s.repo)
	s.engine = history.NewEngine(s.loop, s.manager, store, history.WithLogger(logger))

	s.wg.Add(2)

	go func() {
		defer s.wg.Done()
		_ = s.loop.Run(ctx)
	}()

	go func() {
		defer s.wg.Done()
		_ = store.Run(ctx)
	}()

	t.Cleanup(func() {
		s.stop()
		db.Close()
	})

	s.do(t, func() {
		s.engine.Initialize()
		s.manager.SetReady()
	})

	return s
}

func (s *session) do(t *testing.T, fn func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.loop.Do(ctx, fn))
}

func (s *session) stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *session) eventually(t *testing.T, cond func() bool) {
	t.Helper()

	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		var ok bool
		if err := s.loop.Do(ctx, func() { ok = cond() }); err != nil {
			return false
		}

		return ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHistorySurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	first := startSession(t, path)
	first.eventually(t, first.engine.InitialLoadComplete)

	var (
		id  uint32
		err error
	)

	first.do(t, func() {
		var item *Item

		item, err = first.manager.Start(StartOptions{
			URLChain:   []string{"https://example.com/a.iso"},
			TargetPath: "/downloads/a.iso",
		})
		if err != nil {
			return
		}

		id = item.ID()

		if err = first.manager.Progress(id, 10, nil); err != nil {
			return
		}

		err = first.manager.Complete(id, "beef")
	})
	require.NoError(t, err)

	first.eventually(t, func() bool { return first.engine.IsPersisted(id) })
	first.do(t, first.engine.Close)
	first.stop()

	second := startSession(t, path)
	second.eventually(t, second.engine.InitialLoadComplete)

	var (
		persisted, initialized bool
		row                    history.Row
		found                  bool
	)

	second.do(t, func() {
		persisted = second.engine.IsPersisted(id)
		initialized = second.manager.Initialized()

		if d := second.manager.GetDownload(id); d != nil {
			row, found = d.Row(), true
		}
	})

	assert.True(t, persisted)
	assert.True(t, initialized)
	require.True(t, found)
	assert.Equal(t, history.StateComplete, row.State)
	assert.Equal(t, "beef", row.Hash)

	second.do(t, func() { err = second.manager.Remove(id) })
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := second.repo.GetDownload(context.Background(), id)

		return err != nil
	}, 5*time.Second, 10*time.Millisecond)
}
