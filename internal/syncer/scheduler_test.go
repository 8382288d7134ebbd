package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerrors "github.com/marksync/marksync/internal/errors"
)

// blockingRunner holds each cycle until released so tests can observe
// the in-flight state.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (r *blockingRunner) RunCycle(ctx context.Context) SyncResult {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	select {
	case r.started <- struct{}{}:
	default:
	}

	select {
	case <-r.release:
	case <-ctx.Done():
	}

	return SyncResult{Status: StatusSuccess}
}

func (r *blockingRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.calls
}

func TestTriggerNowRejectsConcurrentCycle(t *testing.T) {
	runner := newBlockingRunner()
	s := NewScheduler(runner, time.Hour, testLogger())

	done := make(chan SyncResult, 1)

	go func() {
		result, _ := s.TriggerNow(context.Background())
		done <- result
	}()

	<-runner.started

	_, err := s.TriggerNow(context.Background())
	require.ErrorIs(t, err, syncerrors.ErrSyncInProgress)

	close(runner.release)

	result := <-done
	assert.Equal(t, StatusSuccess, result.Status)

	// The guard is released once the first cycle finishes.
	_, err = s.TriggerNow(context.Background())
	require.NoError(t, err)
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)

	s := NewScheduler(runner, time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)

	go func() {
		errCh <- s.Run(ctx)
	}()

	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerTicks(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)

	s := NewScheduler(runner, 20*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = s.Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		return runner.callCount() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSetIntervalDoesNotBlock(t *testing.T) {
	s := NewScheduler(newBlockingRunner(), time.Hour, testLogger())

	done := make(chan struct{})

	go func() {
		// No Run loop is draining the channel; repeated calls must still
		// return.
		s.SetInterval(time.Minute)
		s.SetInterval(30 * time.Second)
		s.SetInterval(10 * time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SetInterval blocked")
	}
}

func TestSetIntervalTakesEffect(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)

	s := NewScheduler(runner, time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = s.Run(ctx)
	}()

	s.SetInterval(20 * time.Millisecond)

	assert.Eventually(t, func() bool {
		return runner.callCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}
