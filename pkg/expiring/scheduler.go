package expiring

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs zero-argument actions at or after an absolute deadline on a
// single worker goroutine. Each action runs at most once and never on the
// goroutine that scheduled it.
//
// Ownership model:
// the Scheduler owns its worker goroutine. Shutdown stops it; Wait blocks
// until it has exited.
type Scheduler struct {
	name   string
	logger *slog.Logger

	mu     sync.Mutex
	queue  taskQueue
	seq    uint64
	closed bool

	wake chan struct{} // buffered(1): "the head of the queue changed"
	done chan struct{}
	wg   sync.WaitGroup
}

// Task is the handle of one scheduled action.
type Task struct {
	s     *Scheduler
	at    time.Time
	seq   uint64
	fn    func()
	index int // position in the heap; -1 once popped or canceled
}

// NewScheduler starts a Scheduler. name only labels log records.
func NewScheduler(name string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		name:   name,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Schedule registers fn to run at at. A deadline in the past runs as soon as
// the worker gets to it. Returns ErrClosed after Shutdown.
func (s *Scheduler) Schedule(at time.Time, fn func()) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	s.seq++
	t := &Task{s: s, at: at, seq: s.seq, fn: fn}
	heap.Push(&s.queue, t)
	if t.index == 0 {
		s.notify()
	}
	return t, nil
}

// Cancel removes the task from the queue. It reports whether a pending
// action was actually withdrawn; canceling a task that already ran, is
// running, or was canceled before is a no-op.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.index < 0 {
		return false
	}
	head := t.index == 0
	heap.Remove(&s.queue, t.index)
	if head {
		s.notify()
	}
	return true
}

// Deadline returns the time the task was scheduled for.
func (t *Task) Deadline() time.Time { return t.at }

// Pending returns the number of actions still waiting to run.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Shutdown cancels every pending action and refuses further scheduling.
// It does not wait for the worker: an action that is already running may
// still finish. Use Wait for that. Shutdown is safe to call more than once.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for _, t := range s.queue {
		t.index = -1
	}
	s.queue = nil
	close(s.done)
}

// Wait blocks until the worker goroutine has exited. Call it after Shutdown
// and never while holding a lock that a running action may need.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// notify wakes the loop without blocking. Callers hold s.mu.
func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}

		var wait time.Duration = -1
		var due *Task
		if s.queue.Len() > 0 {
			head := s.queue[0]
			if d := time.Until(head.at); d > 0 {
				wait = d
			} else {
				due = heap.Pop(&s.queue).(*Task)
			}
		}
		s.mu.Unlock()

		if due != nil {
			s.run(due)
			continue
		}

		var fire <-chan time.Time
		if wait >= 0 {
			timer.Reset(wait)
			fire = timer.C
		}

		select {
		case <-s.done:
			return
		case <-s.wake:
		case <-fire:
			continue
		}
		stopTimer(timer)
	}
}

// run executes one action. A panicking action is logged and swallowed so
// the remaining deadlines still fire.
func (s *Scheduler) run(t *Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("expiring: scheduled action panicked",
				"scheduler", s.name, "deadline", t.at, "panic", r)
		}
	}()
	t.fn()
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// taskQueue is a min-heap on (deadline, insertion order).
type taskQueue []*Task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*Task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
