package timer

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrSchedulerStopped is returned when scheduling on a stopped Scheduler
var ErrSchedulerStopped = errors.New("scheduler is stopped")

// Task is a job due at a point in time
type Task struct {
	ID    string
	DueAt time.Time
	Run   func(ctx context.Context)
	index int // position in the heap
}

// taskHeap is a min-heap of Tasks ordered by DueAt
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].DueAt.Before(h[j].DueAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	task := x.(*Task)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[:n-1]
	return task
}

// Scheduler runs tasks at their due time on a fixed pool of workers
type Scheduler struct {
	mu      sync.Mutex
	heap    taskHeap
	tasks   map[string]*Task
	wakeup  chan struct{}
	due     chan *Task
	workers int
	running int
	started bool
	stopped bool

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	workerWg sync.WaitGroup
	logger   *slog.Logger
}

// NewScheduler creates a scheduler with the given number of workers
func NewScheduler(workers int, logger *slog.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		heap:     make(taskHeap, 0),
		tasks:    make(map[string]*Task),
		wakeup:   make(chan struct{}, 1),
		due:      make(chan *Task, workers),
		workers:  workers,
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
		logger:   logger.With("component", "scheduler"),
	}
	heap.Init(&s.heap)
	return s
}

// Start launches the scheduling loop and the workers
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	for i := 0; i < s.workers; i++ {
		s.workerWg.Add(1)
		go s.worker()
	}
	go s.run()
}

// Stop cancels pending tasks and waits for running ones to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	s.cancel()
	if !started {
		return
	}
	<-s.loopDone
	close(s.due)
	s.workerWg.Wait()
}

// Schedule adds a task, replacing any pending task with the same id
func (s *Scheduler) Schedule(id string, dueAt time.Time, run func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	if existing, ok := s.tasks[id]; ok {
		heap.Remove(&s.heap, existing.index)
		delete(s.tasks, id)
	}

	task := &Task{ID: id, DueAt: dueAt, Run: run}
	heap.Push(&s.heap, task)
	s.tasks[id] = task

	if s.heap[0] == task {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}
	return nil
}

// Cancel removes a pending task
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return false
	}
	heap.Remove(&s.heap, task.index)
	delete(s.tasks, id)
	return true
}

// NextDue returns the due time of a pending task
func (s *Scheduler) NextDue(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return time.Time{}, false
	}
	return task.DueAt, true
}

func (s *Scheduler) run() {
	defer close(s.loopDone)

	for {
		s.mu.Lock()
		var wait time.Duration
		if s.heap.Len() == 0 {
			wait = 24 * time.Hour
		} else {
			next := s.heap[0]
			wait = time.Until(next.DueAt)
			if wait <= 0 {
				task := heap.Pop(&s.heap).(*Task)
				delete(s.tasks, task.ID)
				s.mu.Unlock()

				select {
				case s.due <- task:
				case <-s.ctx.Done():
					return
				}
				continue
			}
		}
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) worker() {
	defer s.workerWg.Done()

	for task := range s.due {
		s.execute(task)
	}
}

func (s *Scheduler) execute(task *Task) {
	s.mu.Lock()
	s.running++
	s.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("scheduled task panicked", "task", task.ID, "panic", rec)
		}
		s.mu.Lock()
		s.running--
		s.mu.Unlock()
	}()

	s.logger.Debug("running scheduled task", "task", task.ID, "due_at", task.DueAt)
	task.Run(s.ctx)
}

// Stats returns statistics about the scheduler
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		ScheduledTasks: len(s.tasks),
		RunningTasks:   s.running,
		Workers:        s.workers,
	}
}

// Stats contains statistics about the scheduler
type Stats struct {
	ScheduledTasks int
	RunningTasks   int
	Workers        int
}
