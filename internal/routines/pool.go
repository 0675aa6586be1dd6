// Package routines provides a bounded go-routine pool.
package routines

import (
	"sync"

	"github.com/simplesurance/deployd/internal/linkedlist"
)

// Pool runs functions concurrently in a fixed number of go-routines.
// Queued functions are stored in an unbounded FIFO-queue, Queue() never
// blocks.
type Pool struct {
	lock    sync.Mutex
	cond    *sync.Cond
	queue   *linkedlist.List[func()]
	closed  bool
	deferFn func()

	wg sync.WaitGroup
}

type Option func(*Pool)

// WithDeferFunc sets a function that is deferred for every executed
// function, it can be used to recover from panics.
func WithDeferFunc(fn func()) Option {
	return func(p *Pool) {
		p.deferFn = fn
	}
}

// NewPool creates a pool and starts workers go-routines.
// If workers is < 1, 1 go-routine is started.
func NewPool(workers int, opts ...Option) *Pool {
	p := Pool{
		queue: linkedlist.New[func()](),
	}
	p.cond = sync.NewCond(&p.lock)

	for _, opt := range opts {
		opt(&p)
	}

	if workers < 1 {
		workers = 1
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return &p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		p.lock.Lock()
		for p.queue.Len() == 0 && !p.closed {
			p.cond.Wait()
		}

		e := p.queue.Front()
		if e == nil {
			// closed and queue is drained
			p.lock.Unlock()
			return
		}

		fn := p.queue.Remove(e)
		p.lock.Unlock()

		p.run(fn)
	}
}

func (p *Pool) run(fn func()) {
	if p.deferFn != nil {
		defer p.deferFn()
	}

	fn()
}

// Queue schedules fn to be run by one of the go-routines of the pool.
// Calling Queue after Wait() panics.
func (p *Pool) Queue(fn func()) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed {
		panic("routines: Queue() called on a terminated pool")
	}

	p.queue.PushBack(fn)
	p.cond.Signal()
}

// QueueLen returns the number of functions that are queued and wait for being
// executed.
func (p *Pool) QueueLen() int {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.queue.Len()
}

// Wait waits until all queued functions were executed and terminates the
// go-routines of the pool.
func (p *Pool) Wait() {
	p.lock.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.lock.Unlock()

	p.wg.Wait()
}
