package iosched

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// newTestLogger returns a logrus.Logger with output discarded, so tests
// that exercise worker lifecycle logging don't spam test output.
func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// newTestScheduler builds a Scheduler with a synthetic two-slot device
// table, bypassing buildDeviceTable's dependence on /proc/mounts so these
// tests don't depend on the host's real mount layout.
func newTestScheduler(t *testing.T) *Scheduler {
	table := &deviceTable{slotOf: map[int64]int{1: 0}, cpu: 1}
	s := &Scheduler{
		table:   table,
		devices: make(map[int]*device),
		log:     newTestLogger(),
	}
	for _, slot := range []int{0, 1} {
		d := &device{slot: slot}
		d.cond = sync.NewCond(&d.mu)
		s.devices[slot] = d
		s.wg.Add(1)
		go s.run(d)
	}
	t.Cleanup(s.Stop)
	return s
}

func TestSchedulerRunsTasksInSubmissionOrderPerDevice(t *testing.T) {
	s := newTestScheduler(t)

	var mu sync.Mutex
	var order []int
	var futures []*Future
	for i := 0; i < 5; i++ {
		i := i
		futures = append(futures, s.Schedule(0, func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	for _, f := range futures {
		require.NoError(t, f.Wait())
	}
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSchedulerRunsDifferentDevicesConcurrently(t *testing.T) {
	s := newTestScheduler(t)

	release := make(chan struct{})
	blocked := s.Schedule(0, func() error {
		<-release
		return nil
	})
	var ran atomic.Bool
	other := s.Schedule(1, func() error {
		ran.Store(true)
		return nil
	})

	require.NoError(t, other.Wait())
	require.True(t, ran.Load())

	close(release)
	require.NoError(t, blocked.Wait())
}

func TestFuturePropagatesTaskError(t *testing.T) {
	s := newTestScheduler(t)
	wantErr := errors.New("boom")
	f := s.Schedule(0, func() error { return wantErr })
	require.ErrorIs(t, f.Wait(), wantErr)
}

func TestStopWaitsForWorkersToDrain(t *testing.T) {
	table := &deviceTable{slotOf: map[int64]int{}, cpu: 0}
	s := &Scheduler{table: table, devices: make(map[int]*device), log: newTestLogger()}
	d := &device{slot: 0}
	d.cond = sync.NewCond(&d.mu)
	s.devices[0] = d
	s.wg.Add(1)
	go s.run(d)

	var ran atomic.Bool
	done := make(chan struct{})
	time.AfterFunc(10*time.Millisecond, func() {
		s.Schedule(0, func() error { ran.Store(true); return nil })
		close(done)
	})
	<-done
	s.Stop()
	require.True(t, ran.Load())
}
