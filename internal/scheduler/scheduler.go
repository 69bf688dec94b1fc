// Package scheduler runs the node's collaborators cooperatively.
//
// Collaborators (the portal action queue, daemon housekeeping, firmware
// update checks) register a task. The run loop calls YieldOnce on every
// tick, including ticks spent waiting for the link, for configuration or
// out a backoff, so no collaborator is ever starved by connectivity.
package scheduler

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// slowTask is the duration after which a task is reported as hogging the tick.
const slowTask = 50 * time.Millisecond

// Task is one collaborator's slice of work. It must return promptly.
type Task func(now time.Time)

// Logger is the logging surface the scheduler needs.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type entry struct {
	name string
	task Task
}

// Scheduler holds the registered collaborator tasks.
type Scheduler struct {
	logger Logger
	clock  func() time.Time

	mu    sync.RWMutex
	tasks []entry

	yields atomic.Uint64
}

// New creates an empty scheduler.
func New(logger Logger) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Scheduler{logger: logger, clock: time.Now}
}

// Register adds a task. Tasks run in registration order.
func (s *Scheduler) Register(name string, task Task) {
	s.mu.Lock()
	s.tasks = append(s.tasks, entry{name: name, task: task})
	s.mu.Unlock()
}

// YieldOnce runs every registered task once, then yields the processor.
// A panicking task is logged and skipped; it does not take the node down.
func (s *Scheduler) YieldOnce() {
	s.mu.RLock()
	tasks := s.tasks
	s.mu.RUnlock()

	for _, e := range tasks {
		s.run(e)
	}
	s.yields.Add(1)
	runtime.Gosched()
}

func (s *Scheduler) run(e entry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("collaborator task panicked", "task", e.name, "panic", r)
		}
	}()

	start := s.clock()
	e.task(start)
	if took := s.clock().Sub(start); took > slowTask {
		s.logger.Warn("collaborator task slow", "task", e.name, "took", took)
	}
}

// Yields returns how many times YieldOnce has completed.
func (s *Scheduler) Yields() uint64 {
	return s.yields.Load()
}
