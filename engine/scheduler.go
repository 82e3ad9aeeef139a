package engine

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/revgo/model"
)

// scheduler decouples store_version from retention work: triggers enqueue
// a pass onto a fixed worker pool, and a trigger that lands while a pass
// for the same document is running queues exactly one follow-up pass.
// Execution is at-least-once; the pass itself is idempotent.
type scheduler struct {
	e *Engine

	workCh   chan func()
	stopCh   chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
	submitMu sync.RWMutex

	mu    sync.Mutex
	state map[model.DocumentID]*triggerState
}

type triggerState struct {
	queued  bool
	running bool
	rerun   bool
}

func newScheduler(e *Engine, workers int) *scheduler {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	s := &scheduler{
		e:      e,
		workCh: make(chan func(), workers*2),
		stopCh: make(chan struct{}),
		state:  make(map[model.DocumentID]*triggerState),
	}

	s.wg.Add(workers)
	for range workers {
		go s.worker()
	}
	return s
}

func (s *scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			// Drain queued work before exiting.
			for {
				select {
				case task, ok := <-s.workCh:
					if !ok {
						return
					}
					task()
				default:
					return
				}
			}
		case task, ok := <-s.workCh:
			if !ok {
				return
			}
			task()
		}
	}
}

// Trigger schedules a retention pass for the document. It never blocks:
// the caller may hold the document's stripe lock, and a worker waiting on
// that same stripe cannot drain the queue first. When the queue is full
// the trigger is dropped; the next trigger or sweep recovers the pass.
func (s *scheduler) Trigger(doc model.DocumentID) {
	s.mu.Lock()
	st, ok := s.state[doc]
	if !ok {
		st = &triggerState{}
		s.state[doc] = st
	}
	switch {
	case st.running:
		st.rerun = true
		s.mu.Unlock()
		return
	case st.queued:
		s.mu.Unlock()
		return
	}
	st.queued = true
	s.mu.Unlock()

	if s.trySubmit(func() { s.run(doc) }) {
		return
	}

	// Dropped: clear the queued marker so a later trigger resubmits.
	s.mu.Lock()
	if st := s.state[doc]; st != nil && st.queued && !st.running {
		delete(s.state, doc)
	}
	s.mu.Unlock()
}

func (s *scheduler) run(doc model.DocumentID) {
	s.mu.Lock()
	st := s.state[doc]
	if st == nil {
		s.mu.Unlock()
		return
	}
	st.queued = false
	st.running = true
	s.mu.Unlock()

	if err := s.e.CompactDocument(context.Background(), doc); err != nil {
		// Left for the next trigger; a failed pass never mutates the
		// committed version sequence.
		s.e.logger.Error("compaction pass failed",
			slog.Uint64("document", uint64(doc)), slog.Any("error", err))
	}

	s.mu.Lock()
	st.running = false
	rerun := st.rerun
	st.rerun = false
	if rerun {
		st.queued = true
	} else {
		delete(s.state, doc)
	}
	s.mu.Unlock()

	if rerun {
		// Off the worker goroutine: a worker must not block on a full
		// queue it is itself responsible for draining.
		go s.submit(func() { s.run(doc) })
	}
}

// submit enqueues a task unless the scheduler is closed. Tasks submitted
// close to shutdown may be dropped; retention work is recoverable by the
// next trigger or sweep.
func (s *scheduler) submit(task func()) {
	s.submitMu.RLock()
	defer s.submitMu.RUnlock()

	if s.closed.Load() {
		return
	}
	select {
	case s.workCh <- task:
	case <-s.stopCh:
	}
}

// trySubmit enqueues a task without ever blocking. Returns false when the
// queue is full or the scheduler is closed.
func (s *scheduler) trySubmit(task func()) bool {
	s.submitMu.RLock()
	defer s.submitMu.RUnlock()

	if s.closed.Load() {
		return false
	}
	select {
	case s.workCh <- task:
		return true
	default:
		return false
	}
}

// close drains the pool and waits for running passes.
func (s *scheduler) close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.submitMu.Lock()
	close(s.stopCh)
	close(s.workCh)
	s.submitMu.Unlock()

	s.wg.Wait()
}
