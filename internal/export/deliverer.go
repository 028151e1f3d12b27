package export

import (
	"context"
	"sync"

	"github.com/wolfman30/course-checkout/pkg/logging"
)

// Deliverer queues events and hands them to a downstream Sink from a single
// worker goroutine. When the queue is full the event is dropped and logged.
type Deliverer struct {
	next   Sink
	logger *logging.Logger
	queue  chan queued
	done   chan struct{}
	once   sync.Once
}

type queued struct {
	ctx context.Context
	ev  Event
}

const defaultQueueSize = 64

func NewDeliverer(next Sink, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		next:   next,
		logger: logger,
		queue:  make(chan queued, defaultQueueSize),
		done:   make(chan struct{}),
	}
}

func (d *Deliverer) WithQueueSize(size int) *Deliverer {
	if size > 0 {
		d.queue = make(chan queued, size)
	}
	return d
}

func (d *Deliverer) Emit(ctx context.Context, ev Event) {
	select {
	case d.queue <- queued{ctx: context.WithoutCancel(ctx), ev: ev}:
	default:
		d.logger.Warn("export queue full, dropping event", "event_id", ev.ID, "kind", string(ev.Kind))
	}
}

// Start drains the queue until ctx is done, then flushes what is left.
func (d *Deliverer) Start(ctx context.Context) {
	defer d.once.Do(func() { close(d.done) })
	if d.next == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			d.flush()
			return
		case q := <-d.queue:
			d.next.Emit(q.ctx, q.ev)
		}
	}
}

// Done is closed once Start has returned.
func (d *Deliverer) Done() <-chan struct{} { return d.done }

func (d *Deliverer) flush() {
	for {
		select {
		case q := <-d.queue:
			d.next.Emit(q.ctx, q.ev)
		default:
			return
		}
	}
}
