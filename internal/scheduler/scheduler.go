// Package scheduler implements the priority/coalescing/supersession
// scheduler that decides which caller-submitted task runs next against the
// single-threaded analyzer connection.
package scheduler

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

// Class is a request priority class. Ordering: Typing > Interactive > Background.
type Class int

const (
	Typing Class = iota
	Interactive
	Background

	numClasses = 3
)

// ErrSuperseded is returned by a task's checkpoint, and by the pending
// future of a task that was canceled before it started, whenever a newer
// submission with the same key makes it redundant. It is not a fault:
// callers must neither panic on it nor log it as a failure.
var ErrSuperseded = errors.New("scheduler: request superseded")

// defaultBackgroundGrace is the yield window that lets a just-arrived
// higher-priority task preempt a background task before it starts.
const defaultBackgroundGrace = 8 * time.Millisecond

// Checkpoint is passed to a task's work function; it must be called at
// safe yield points and returns ErrSuperseded if the task has since been
// superseded or canceled.
type Checkpoint func() error

// Work is the caller-supplied body of a scheduled task.
type Work func(ctx context.Context, cp Checkpoint) (any, error)

// Metrics receives observable scheduler counters. All methods are no-ops on
// a nil Metrics (callers may pass nil).
type Metrics interface {
	Scheduled(class Class)
	Started(class Class)
	Completed(class Class, wait time.Duration)
	Failed(class Class)
	Canceled(class Class)
}

type task struct {
	ctx        context.Context
	work       Work
	key        string
	class      Class
	enqueuedAt time.Time

	done   chan struct{}
	result any
	err    error

	superseded atomic32
	started    atomic32
}

// atomic32 is a minimal bool-ish flag without importing sync/atomic in two
// places; kept local to avoid leaking implementation details through task.
type atomic32 struct {
	mu sync.Mutex
	v  bool
}

func (a *atomic32) set(v bool) {
	a.mu.Lock()
	a.v = v
	a.mu.Unlock()
}

func (a *atomic32) get() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.v
}

// pendingCoalesce is a task held in the pre-queue delay for a coalesce window.
type pendingCoalesce struct {
	timer *time.Timer
	t     *task
}

// Scheduler drains three priority queues with keyed supersession and
// coalescing, one task at a time, via a single dispatch goroutine.
type Scheduler struct {
	mu       sync.Mutex
	queues   [numClasses]*list.List
	byKey    map[string]*list.Element // keys pending or started in a queue
	coalesce map[string]*pendingCoalesce

	grace time.Duration

	wake    chan struct{}
	closeCh chan struct{}
	closed  bool

	metrics Metrics
}

// New constructs a Scheduler and starts its dispatch goroutine.
func New(metrics Metrics) *Scheduler {
	s := &Scheduler{
		byKey:    make(map[string]*list.Element),
		coalesce: make(map[string]*pendingCoalesce),
		grace:    defaultBackgroundGrace,
		wake:     make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
		metrics:  metrics,
	}

	for i := range s.queues {
		s.queues[i] = list.New()
	}

	go s.dispatchLoop()

	return s
}

// SetBackgroundGrace overrides the default background-starvation grace window.
func (s *Scheduler) SetBackgroundGrace(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.grace = d
}

// Future is returned by Schedule; callers block on Done() and then read
// Result()/Err().
type Future struct {
	t *task
}

// Done returns a channel closed when the task reaches a terminal state.
func (f *Future) Done() <-chan struct{} { return f.t.done }

// Result returns the task's result and error once Done is closed.
func (f *Future) Result() (any, error) { return f.t.result, f.t.err }

// Schedule submits work to run under the given class. key, if non-empty,
// identifies the task for supersession: a later Schedule call with the same
// key cancels this one. coalesceMs > 0 (only meaningful with a non-empty
// key) holds the task in a pre-queue delay during which a same-keyed
// resubmission replaces it outright.
func (s *Scheduler) Schedule(ctx context.Context, class Class, key string, coalesceMs int, work Work) *Future {
	t := &task{ctx: ctx, work: work, key: key, class: class, enqueuedAt: time.Now(), done: make(chan struct{})}

	s.mu.Lock()

	if key != "" {
		s.supersedeLocked(key)
	}

	if key != "" && coalesceMs > 0 {
		s.scheduleCoalescedLocked(key, coalesceMs, t)
		s.mu.Unlock()
		s.recordScheduled(class)

		return &Future{t: t}
	}

	s.enqueueLocked(t)
	s.mu.Unlock()

	s.recordScheduled(class)
	s.notify()

	return &Future{t: t}
}

func (s *Scheduler) recordScheduled(class Class) {
	if s.metrics != nil {
		s.metrics.Scheduled(class)
	}
}

// supersedeLocked cancels any pending-coalesce or queued-but-not-started
// task with the given key, and marks an already-started task superseded so
// its next checkpoint() call observes it.
func (s *Scheduler) supersedeLocked(key string) {
	if pc, ok := s.coalesce[key]; ok {
		pc.timer.Stop()
		s.failTask(pc.t, Class(pc.t.class), ErrSuperseded, true)
		delete(s.coalesce, key)
	}

	if elem, ok := s.byKey[key]; ok {
		t, _ := elem.Value.(*task)
		if !t.started.get() {
			s.queues[t.class].Remove(elem)
			delete(s.byKey, key)
			s.failTask(t, t.class, ErrSuperseded, true)
		} else {
			t.superseded.set(true)
		}
	}
}

func (s *Scheduler) scheduleCoalescedLocked(key string, coalesceMs int, t *task) {
	timer := time.AfterFunc(time.Duration(coalesceMs)*time.Millisecond, func() {
		s.mu.Lock()
		delete(s.coalesce, key)
		s.enqueueLocked(t)
		s.mu.Unlock()
		s.notify()
	})

	s.coalesce[key] = &pendingCoalesce{timer: timer, t: t}
}

func (s *Scheduler) enqueueLocked(t *task) {
	elem := s.queues[t.class].PushBack(t)
	if t.key != "" {
		s.byKey[t.key] = elem
	}
}

func (s *Scheduler) failTask(t *task, class Class, err error, notifyCanceled bool) {
	t.err = err
	close(t.done)

	if notifyCanceled && s.metrics != nil {
		s.metrics.Canceled(class)
	}
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// CancelPendingByKey cancels a pending (not-yet-started) task by key. A
// started task is only marked superseded for its own checkpoint to observe.
func (s *Scheduler) CancelPendingByKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.supersedeLocked(key)
}

func (s *Scheduler) dispatchLoop() {
	for {
		select {
		case <-s.closeCh:
			return
		case <-s.wake:
		}

		for {
			t, class, ok := s.popNext()
			if !ok {
				break
			}

			s.run(t, class)
		}
	}
}

// popNext selects the next task to run: highest-priority non-empty queue
// head, with a grace window before starting a background task in case a
// higher-priority task is about to arrive.
func (s *Scheduler) popNext() (*task, Class, bool) {
	s.mu.Lock()

	for c := Typing; c <= Interactive; c++ {
		if s.queues[c].Len() > 0 {
			return s.popFromLocked(c)
		}
	}

	if s.queues[Background].Len() == 0 {
		s.mu.Unlock()

		return nil, 0, false
	}

	grace := s.grace
	s.mu.Unlock()

	if grace > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-s.wake:
			s.mu.Lock()

			for c := Typing; c <= Interactive; c++ {
				if s.queues[c].Len() > 0 {
					return s.popFromLocked(c)
				}
			}

			s.mu.Unlock()
		case <-s.closeCh:
			return nil, 0, false
		}
	}

	s.mu.Lock()

	if s.queues[Background].Len() == 0 {
		s.mu.Unlock()

		return nil, 0, false
	}

	return s.popFromLocked(Background)
}

func (s *Scheduler) popFromLocked(c Class) (*task, Class, bool) {
	elem := s.queues[c].Front()
	s.queues[c].Remove(elem)

	t, _ := elem.Value.(*task)
	if t.key != "" {
		delete(s.byKey, t.key)
	}

	t.started.set(true)

	s.mu.Unlock()

	return t, c, true
}

func (s *Scheduler) run(t *task, class Class) {
	if s.metrics != nil {
		s.metrics.Started(class)
	}

	start := time.Now()

	cp := func() error {
		if t.superseded.get() {
			return ErrSuperseded
		}

		select {
		case <-t.ctx.Done():
			return t.ctx.Err()
		default:
			return nil
		}
	}

	result, err := t.work(t.ctx, cp)

	t.result = result
	t.err = err

	close(t.done)

	switch {
	case errors.Is(err, ErrSuperseded):
		if s.metrics != nil {
			s.metrics.Canceled(class)
		}
	case err != nil:
		if s.metrics != nil {
			s.metrics.Failed(class)
		}
	default:
		if s.metrics != nil {
			s.metrics.Completed(class, start.Sub(t.enqueuedAt))
		}
	}
}

// Close stops the dispatch goroutine. Pending tasks are left as-is; callers
// should drain them via their Futures if needed.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return
	}

	s.closed = true
	s.mu.Unlock()

	close(s.closeCh)
}

// QueueDepths returns the number of pending tasks in each priority class,
// for diagnostics; it does not include the task currently running.
func (s *Scheduler) QueueDepths() map[Class]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	depths := make(map[Class]int, numClasses)
	for c := range s.queues {
		depths[Class(c)] = s.queues[c].Len()
	}

	return depths
}
