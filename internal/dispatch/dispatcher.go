// Package dispatch drains a WorkQueue through a rate gate.
//
// The Dispatcher is either idle or draining. Kick moves it from idle to
// draining; while draining it takes a batch of permits from the gate, pops
// that many tasks in FIFO order and invokes them without waiting for their
// outcome. When the queue is empty it returns to idle and can be kicked
// again.
package dispatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/valpere/batchtran/internal/ratelimit"
)

type Dispatcher struct {
	gate   ratelimit.Gate
	queue  *WorkQueue
	logger zerolog.Logger
	onDrop func(n int)

	mu       sync.Mutex
	draining bool
	idle     chan struct{}
	cycles   int
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for per-cycle debug output.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// OnDrop registers a callback invoked with the number of queued tasks
// discarded after the dispatch context was canceled.
func OnDrop(fn func(n int)) Option {
	return func(d *Dispatcher) { d.onDrop = fn }
}

func New(gate ratelimit.Gate, queue *WorkQueue, opts ...Option) *Dispatcher {
	idle := make(chan struct{})
	close(idle)
	d := &Dispatcher{
		gate:   gate,
		queue:  queue,
		logger: zerolog.Nop(),
		idle:   idle,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Kick starts draining unless a drain is already in progress. Tasks are
// invoked with ctx; once ctx is done the remaining queue is dropped.
func (d *Dispatcher) Kick(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.draining {
		return
	}
	d.draining = true
	d.idle = make(chan struct{})
	go d.drain(ctx, d.idle)
}

// Draining reports whether a drain is in progress.
func (d *Dispatcher) Draining() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draining
}

// Idle returns a channel closed once the dispatcher is idle.
func (d *Dispatcher) Idle() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.idle
}

// Cycles returns how many batches have been dispatched so far.
func (d *Dispatcher) Cycles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cycles
}

func (d *Dispatcher) drain(ctx context.Context, idle chan struct{}) {
	for {
		d.mu.Lock()
		if ctx.Err() != nil {
			dropped := d.queue.Drain()
			d.stop(idle)
			d.mu.Unlock()
			if dropped > 0 {
				d.logger.Info().Int("dropped", dropped).Msg("dispatch canceled, queue dropped")
				if d.onDrop != nil {
					d.onDrop(dropped)
				}
			}
			return
		}
		pending := d.queue.Len()
		if pending == 0 {
			d.stop(idle)
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()

		n, err := d.gate.Take(ctx, pending)
		if err != nil {
			// A gate only fails when ctx is done or its deadline cannot be
			// met; either way the queue is dropped once ctx ends.
			<-ctx.Done()
			continue
		}

		batch := d.queue.PopN(n)
		for _, task := range batch {
			task(ctx)
		}

		d.mu.Lock()
		d.cycles++
		cycle := d.cycles
		d.mu.Unlock()

		d.logger.Debug().
			Int("cycle", cycle).
			Int("started", len(batch)).
			Int("pending", d.queue.Len()).
			Msg("dispatch cycle")
	}
}

// stop must be called with d.mu held.
func (d *Dispatcher) stop(idle chan struct{}) {
	d.draining = false
	close(idle)
}
