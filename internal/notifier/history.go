package notifier

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/download_history/internal/history"
	"github.com/italolelis/download_history/internal/logctx"
)

const defaultQueueSize = 64

// HistoryObserver announces finished and failed downloads once their rows
// reach history. Messages are delivered from Run so the history loop never
// waits on the webhook.
type HistoryObserver struct {
	history.NopObserver

	notifier Notifier
	messages chan message
	// notified holds ids already announced. Only touched on the history loop.
	notified map[uint32]struct{}
}

type message struct {
	id      uint32
	content string
}

func NewHistoryObserver(n Notifier) *HistoryObserver {
	return &HistoryObserver{
		notifier: n,
		messages: make(chan message, defaultQueueSize),
		notified: make(map[uint32]struct{}),
	}
}

func (o *HistoryObserver) OnStored(d history.Download, row history.Row) {
	if _, ok := o.notified[row.ID]; ok {
		return
	}

	var content string

	switch {
	case row.State == history.StateComplete:
		content = fmt.Sprintf("✅ Download finished: %s (%s)",
			filepath.Base(row.TargetPath), humanize.Bytes(uint64(max(row.TotalBytes, 0))))
	case row.State == history.StateInterrupted && d.IsDone():
		content = fmt.Sprintf("❌ Download failed: %s (%s)",
			filepath.Base(row.TargetPath), row.InterruptReason)
	default:
		return
	}

	o.notified[row.ID] = struct{}{}

	select {
	case o.messages <- message{id: row.ID, content: content}:
	default:
		// Run is behind; dropping keeps the history loop responsive.
	}
}

func (o *HistoryObserver) OnRemoved(ids []uint32) {
	for _, id := range ids {
		delete(o.notified, id)
	}
}

// Run delivers queued messages until ctx is cancelled.
func (o *HistoryObserver) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-o.messages:
			if err := o.notifier.Notify(ctx, msg.content); err != nil {
				logger.Error("failed to send notification", "download_id", msg.id, "err", err)
			}
		}
	}
}
