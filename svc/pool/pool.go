// Package pool runs blocking work (file I/O, compression) on a fixed set
// of workers so request goroutines only ever wait on a channel.
package pool

import (
	"context"
	"runtime"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrPoolStopped    = errors.New("pool stopped")
	ErrPoolNotStarted = errors.New("pool not started - call Start() first")
)

type Pool struct {
	jobQueue chan job
	wg       sync.WaitGroup
	started  bool
	stopped  bool
	startMu  sync.RWMutex
	stopOnce sync.Once
}
type job struct {
	fn   func() error
	resp chan error
}

func New(queueSize int) *Pool {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Pool{
		jobQueue: make(chan job, queueSize),
	}
}
func (p *Pool) Start(workers int) error {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if p.started {
		return errors.New("pool already started")
	}
	if p.stopped {
		return ErrPoolStopped
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	p.started = true
	return nil
}

// Stop lets queued jobs drain, then waits for the workers to exit.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.startMu.Lock()
		p.stopped = true
		close(p.jobQueue)
		p.startMu.Unlock()
		p.wg.Wait()
	})
}
func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.jobQueue {
		j.resp <- run(j.fn)
	}
}
func run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("pool job panicked: %v", r)
		}
	}()
	return fn()
}

// Submit queues fn and returns the channel its result will arrive on.
// An error means fn was not queued and will never run.
func (p *Pool) Submit(ctx context.Context, fn func() error) (<-chan error, error) {
	p.startMu.RLock()
	defer p.startMu.RUnlock()
	if p.stopped {
		return nil, ErrPoolStopped
	}
	if !p.started {
		return nil, ErrPoolNotStarted
	}
	resp := make(chan error, 1)
	select {
	case p.jobQueue <- job{fn: fn, resp: resp}:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do queues fn and waits for it. If ctx ends first Do returns ctx.Err(),
// but a job already queued still runs to completion.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	resp, err := p.Submit(ctx, fn)
	if err != nil {
		return err
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
