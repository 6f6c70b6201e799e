// Package iosched provides cooperative per-device serialization: one worker
// goroutine per physical device, each draining a capacity-1-in-flight FIFO
// task queue, so concurrent Streams on the same disk never thrash the head
// while Streams on different disks proceed in parallel.
package iosched

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

type task struct {
	fn     func() error
	future *Future
}

type device struct {
	mu    sync.Mutex
	cond  *sync.Cond
	tasks []task
	slot  int
}

// Scheduler is the process-wide I/O scheduling core. It must be constructed
// with New and torn down with Stop once every DataSet/DataMux referencing
// it has been closed.
type Scheduler struct {
	table   *deviceTable
	devices map[int]*device
	wg      sync.WaitGroup
	log     *logrus.Logger

	mu       sync.Mutex
	stopping bool
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithLogger overrides the logger used for worker lifecycle messages.
// Defaults to logrus.StandardLogger().
func WithLogger(log *logrus.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// New builds the device table from the system mount table and starts one
// worker goroutine per device slot, plus one for the CPU pseudo-device.
func New(opts ...Option) (*Scheduler, error) {
	table, err := buildDeviceTable()
	if err != nil {
		return nil, fmt.Errorf("striper: building device table: %w", err)
	}

	s := &Scheduler{
		table:   table,
		devices: make(map[int]*device),
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	slots := map[int]bool{table.CPUSlot(): true}
	for _, slot := range table.slotOf {
		slots[slot] = true
	}
	for slot := range slots {
		d := &device{slot: slot}
		d.cond = sync.NewCond(&d.mu)
		s.devices[slot] = d
		s.wg.Add(1)
		go s.run(d)
	}
	return s, nil
}

// DeviceFor resolves a filesystem path to its logical device slot.
func (s *Scheduler) DeviceFor(path string) (int, error) {
	return s.table.identify(path)
}

// CPUDevice returns the slot reserved for non-I/O (CPU-bound) tasks.
func (s *Scheduler) CPUDevice() int {
	return s.table.CPUSlot()
}

// Schedule enqueues fn on dev's FIFO and returns a Future that becomes
// ready when fn returns. Schedule never blocks the caller beyond the
// device's mutex; tasks on the same device run in submission order, tasks
// on different devices run concurrently. Scheduling after Stop is
// undefined and is prevented by construction via reference-counted
// lifetime guards at the DataSet/DataMux layer.
func (s *Scheduler) Schedule(dev int, fn func() error) *Future {
	d := s.devices[dev]
	future := newFuture()
	d.mu.Lock()
	d.tasks = append(d.tasks, task{fn: fn, future: future})
	d.cond.Signal()
	d.mu.Unlock()
	return future
}

func (s *Scheduler) run(d *device) {
	defer s.wg.Done()
	s.log.WithField("device", d.slot).Debug("striper: io worker starting")
	for {
		d.mu.Lock()
		for len(d.tasks) == 0 && !s.isStopping() {
			d.cond.Wait()
		}
		if len(d.tasks) == 0 && s.isStopping() {
			d.mu.Unlock()
			break
		}
		t := d.tasks[0]
		d.tasks = d.tasks[1:]
		d.mu.Unlock()

		err := t.fn()
		t.future.resolve(err)
	}
	s.log.WithField("device", d.slot).Debug("striper: io worker stopped")
}

func (s *Scheduler) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// Stop signals every worker to exit once its queue has drained, and blocks
// until all worker goroutines have returned. The scheduler must not be used
// after Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	for _, d := range s.devices {
		d.mu.Lock()
		d.cond.Broadcast()
		d.mu.Unlock()
	}
	s.wg.Wait()
}
