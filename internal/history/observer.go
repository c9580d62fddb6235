package history

import "slices"

// Observer is notified about changes the engine makes to history.
type Observer interface {
	// OnStored is called after a row for d was written or queued for writing.
	OnStored(d Download, row Row)
	// OnRemoved is called with every batch of ids deleted from the store.
	OnRemoved(ids []uint32)
	// OnInitialLoadComplete fires once after stored rows were restored.
	// Observers added later get it replayed immediately.
	OnInitialLoadComplete()
	OnEngineShuttingDown()
}

// NopObserver implements Observer with no-ops, for embedding.
type NopObserver struct{}

func (NopObserver) OnStored(Download, Row) {}
func (NopObserver) OnRemoved([]uint32)     {}
func (NopObserver) OnInitialLoadComplete() {}
func (NopObserver) OnEngineShuttingDown()  {}

type observerList struct {
	observers []Observer
}

// add registers o and reports whether it was not registered yet.
func (l *observerList) add(o Observer) bool {
	if slices.Contains(l.observers, o) {
		return false
	}

	l.observers = append(l.observers, o)

	return true
}

func (l *observerList) remove(o Observer) {
	l.observers = slices.DeleteFunc(l.observers, func(x Observer) bool { return x == o })
}

// each iterates over a snapshot so observers may add or remove observers
// from inside a notification.
func (l *observerList) each(fn func(Observer)) {
	for _, o := range slices.Clone(l.observers) {
		fn(o)
	}
}
