package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/italolelis/download_history/internal/history"
	"github.com/italolelis/download_history/internal/logctx"
)

type opKind int

const (
	opQuery opKind = iota
	opCreate
	opUpdate
	opRemove
)

func (k opKind) String() string {
	switch k {
	case opQuery:
		return "query"
	case opCreate:
		return "create"
	case opUpdate:
		return "update"
	case opRemove:
		return "remove"
	default:
		return "unknown"
	}
}

type op struct {
	kind      opKind
	row       history.Row
	ids       []uint32
	immediate bool
	onQuery   func(rows []history.Row)
	onCreate  func(success bool)
}

// AsyncStore adapts a DownloadRepository to history.Store. Operations run in
// submission order on the goroutine that calls Run. Deferred updates to the
// same download that are still queued collapse into one write.
type AsyncStore struct {
	repo DownloadRepository

	mu       sync.Mutex
	queue    []*op
	deferred map[uint32]*op
	wake     chan struct{}
}

// NewAsyncStore wraps repo. Nothing is executed until Run is called.
func NewAsyncStore(repo DownloadRepository) *AsyncStore {
	return &AsyncStore{
		repo:     repo,
		deferred: make(map[uint32]*op),
		wake:     make(chan struct{}, 1),
	}
}

func (s *AsyncStore) QueryDownloads(callback func(rows []history.Row)) {
	s.enqueue(&op{kind: opQuery, onQuery: callback})
}

func (s *AsyncStore) CreateDownload(row history.Row, callback func(success bool)) {
	s.enqueue(&op{kind: opCreate, row: row.Clone(), onCreate: callback})
}

func (s *AsyncStore) UpdateDownload(row history.Row, immediate bool) {
	row = row.Clone()

	s.mu.Lock()

	if !immediate {
		if queued, ok := s.deferred[row.ID]; ok {
			queued.row = row
			s.mu.Unlock()

			return
		}
	}

	o := &op{kind: opUpdate, row: row, immediate: immediate}
	s.push(o)

	if !immediate {
		s.deferred[row.ID] = o
	}

	s.mu.Unlock()
	s.signal()
}

func (s *AsyncStore) RemoveDownloads(ids []uint32) {
	s.enqueue(&op{kind: opRemove, ids: append([]uint32(nil), ids...)})
}

// Pending returns the number of queued operations.
func (s *AsyncStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.queue)
}

// Run executes queued operations until ctx is cancelled, then drains what is
// left so accepted writes are not lost on shutdown.
func (s *AsyncStore) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("history store worker started")

	// Operations never see the cancellation: an op picked up while shutdown
	// begins must still reach the repository.
	opCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			n := s.drain(opCtx)

			logger.Info("history store worker shutdown", "drained_operations", n)

			return nil
		case <-s.wake:
			s.drain(opCtx)
		}
	}
}

func (s *AsyncStore) enqueue(o *op) {
	s.mu.Lock()
	s.push(o)
	s.mu.Unlock()

	s.signal()
}

// push appends o. Any other operation touching a download ends the
// coalescing window of its queued deferred update. Must hold s.mu.
func (s *AsyncStore) push(o *op) {
	switch o.kind {
	case opCreate, opUpdate:
		delete(s.deferred, o.row.ID)
	case opRemove:
		for _, id := range o.ids {
			delete(s.deferred, id)
		}
	}

	s.queue = append(s.queue, o)
}

func (s *AsyncStore) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *AsyncStore) next() (*op, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil, false
	}

	o := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]

	if o.kind == opUpdate && s.deferred[o.row.ID] == o {
		delete(s.deferred, o.row.ID)
	}

	return o, true
}

func (s *AsyncStore) drain(ctx context.Context) int {
	n := 0

	for {
		o, ok := s.next()
		if !ok {
			return n
		}

		s.exec(ctx, o)
		n++
	}
}

func (s *AsyncStore) exec(ctx context.Context, o *op) {
	logger := logctx.LoggerFromContext(ctx)

	switch o.kind {
	case opQuery:
		rows, err := s.repo.QueryDownloads(ctx)
		if err != nil {
			// History starts empty rather than blocking startup.
			logger.Error("failed to query download history", "err", err)

			rows = nil
		}

		o.onQuery(rows)
	case opCreate:
		err := s.repo.CreateDownload(ctx, o.row)

		switch {
		case errors.Is(err, ErrAlreadyExists):
			logger.Warn("download already in history", "download_id", o.row.ID, "err", err)
		case err != nil:
			logger.Error("failed to create history row", "download_id", o.row.ID, "err", err)
		}

		o.onCreate(err == nil)
	case opUpdate:
		if err := s.repo.UpdateDownload(ctx, o.row); err != nil {
			logger.Error("failed to update history row",
				"download_id", o.row.ID,
				"immediate", o.immediate,
				"err", err)
		}
	case opRemove:
		if err := s.repo.RemoveDownloads(ctx, o.ids); err != nil {
			logger.Error("failed to remove history rows", "count", len(o.ids), "err", err)
		}
	default:
		logger.Error("unknown history store operation", "op", o.kind.String())
	}
}
