package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	l := NewLoop()

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		_ = l.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	return l, cancel
}

func TestLoop_RunsTasksInOrder(t *testing.T) {
	l, _ := runLoop(t)

	var got []int

	for i := range 5 {
		l.PostTask(func() { got = append(got, i) })
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, l.Do(ctx, func() {}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoop_PostTaskNeverRunsInline(t *testing.T) {
	l := NewLoop()

	ran := false
	l.PostTask(func() { ran = true })

	assert.False(t, ran)
}

func TestLoop_NestedPostRunsAfterCurrentTask(t *testing.T) {
	l, _ := runLoop(t)

	var got []string

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, l.Do(ctx, func() {
		l.PostTask(func() { got = append(got, "nested") })
		got = append(got, "outer")
	}))
	require.NoError(t, l.Do(ctx, func() {}))

	assert.Equal(t, []string{"outer", "nested"}, got)
}

func TestLoop_RecoversPanics(t *testing.T) {
	l, _ := runLoop(t)

	l.PostTask(func() { panic("boom") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, l.Do(ctx, func() {}))
}

func TestLoop_DoHonorsContext(t *testing.T) {
	l := NewLoop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, l.Do(ctx, func() {}), context.Canceled)
}
