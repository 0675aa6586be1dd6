package deploy

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/simplesurance/deployd/internal/logfields"
	"github.com/simplesurance/deployd/internal/routines"
)

// SubmitResult describes how a submitted work function was admitted.
type SubmitResult int

const (
	// SubmitStarted means that the work was scheduled for immediate
	// execution.
	SubmitStarted SubmitResult = iota
	// SubmitCoalesced means that work for the same repository was in
	// progress. The work runs once after the in-progress one finished,
	// it replaces work that was coalesced before.
	SubmitCoalesced
	// SubmitRejected means that the LockManager was stopped.
	SubmitRejected
)

func (r SubmitResult) String() string {
	switch r {
	case SubmitStarted:
		return "started"
	case SubmitCoalesced:
		return "coalesced"
	case SubmitRejected:
		return "rejected"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

type admission struct {
	running bool
	// pending is the work that runs after the running one finished, nil
	// if no follow-up is requested.
	pending func()
}

// LockManager runs submitted work functions on a worker pool.
// Work for the same repository is never run concurrently, work for
// different repositories runs in parallel.
type LockManager struct {
	lock       sync.Mutex
	admissions map[string]*admission
	stopped    bool

	pool *routines.Pool
	wg   sync.WaitGroup

	logger *zap.Logger
}

// NewLockManager creates a LockManager that runs work on a pool with
// workers go-routines.
func NewLockManager(workers int, poolOpts ...routines.Option) *LockManager {
	return &LockManager{
		admissions: map[string]*admission{},
		pool:       routines.NewPool(workers, poolOpts...),
		logger:     zap.L().Named(loggerName).Named("lock_manager"),
	}
}

// Submit schedules work for the repository name.
// If no work for the repository is in progress, it is queued for
// execution. Otherwise it is coalesced and run once after the running work
// finished. Submit never blocks on running work.
func (m *LockManager) Submit(name string, work func()) SubmitResult {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.stopped {
		return SubmitRejected
	}

	a, exist := m.admissions[name]
	if !exist {
		a = &admission{}
		m.admissions[name] = a
	}

	if a.running {
		merged := a.pending != nil
		a.pending = work

		m.logger.Debug(
			"update in progress, trigger coalesced",
			logfields.Repository(name),
			logEventTriggerCoalesced,
			zap.Bool("merged_into_pending", merged),
		)

		return SubmitCoalesced
	}

	a.running = true
	m.wg.Add(1)
	m.pool.Queue(func() { m.run(name, a, work) })

	m.logger.Debug(
		"update queued",
		logfields.Repository(name),
		zap.Int("pool_queue_len", m.pool.QueueLen()),
	)

	return SubmitStarted
}

func (m *LockManager) run(name string, a *admission, work func()) {
	m.runRecover(name, work)

	m.lock.Lock()
	defer m.lock.Unlock()

	next := a.pending
	if next == nil {
		a.running = false
		m.wg.Done()
		return
	}

	a.pending = nil
	m.pool.Queue(func() { m.run(name, a, next) })
}

func (m *LockManager) runRecover(name string, work func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error(
				"update work panicked",
				logfields.Repository(name),
				zap.String("panic", fmt.Sprint(r)),
				zap.StackSkip("stacktrace", 2),
			)
		}
	}()

	work()
}

// IsRunning returns true if work for the repository is in progress.
func (m *LockManager) IsRunning(name string) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	a, exist := m.admissions[name]
	return exist && a.running
}

// Stop rejects further submissions and waits until running and pending work
// finished.
func (m *LockManager) Stop() {
	m.lock.Lock()
	if m.stopped {
		m.lock.Unlock()
		return
	}
	m.stopped = true
	m.lock.Unlock()

	m.logger.Debug("waiting for running updates to finish")

	m.wg.Wait()
	m.pool.Wait()

	m.logger.Debug("lock manager stopped")
}
