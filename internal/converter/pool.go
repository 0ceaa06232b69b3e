package converter

import (
	"context"
	"errors"
	"sync"
)

var ErrPoolClosed = errors.New("converter pool is closed")

type task struct {
	ctx       context.Context
	inputPath string
	options   string
	result    chan Result
}

// Pool bounds how many engine processes run at once. Request handlers submit
// a conversion and block on its result channel; the subprocess itself is
// always owned by one of the pool's workers, never by a handler goroutine.
type Pool struct {
	conv  *Converter
	queue chan task
	wg    sync.WaitGroup

	mu      sync.Mutex
	senders sync.WaitGroup
	closed  bool
}

func NewPool(conv *Converter, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		conv:  conv,
		queue: make(chan task, queueSize),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		t.result <- p.conv.Convert(t.ctx, t.inputPath, t.options)
	}
}

// Convert submits a conversion and waits for it to finish. The wait is
// cancellable; the conversion itself keeps its own context so a caller that
// gives up does not kill a run already in flight for the shared directory.
func (p *Pool) Convert(ctx context.Context, inputPath, options string) (Result, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Result{}, ErrPoolClosed
	}
	// Registered before the mutex is released, so Close cannot close the
	// queue under a submitter that already passed the closed check.
	p.senders.Add(1)
	p.mu.Unlock()

	t := task{ctx: ctx, inputPath: inputPath, options: options, result: make(chan Result, 1)}
	select {
	case p.queue <- t:
		p.senders.Done()
	case <-ctx.Done():
		p.senders.Done()
		return Result{}, ctx.Err()
	}

	select {
	case res := <-t.result:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Close stops accepting new work and waits for all queued conversions to
// drain. Submitters already past the closed check finish their send first.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.senders.Wait()
	close(p.queue)
	p.wg.Wait()
}
