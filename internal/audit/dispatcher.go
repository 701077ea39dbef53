package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Config controls the dispatcher queue. OnDrop, when set, is called for
// every event discarded because the queue was full.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	OnDrop     func()
	// Now stamps events that arrive without a Timestamp.
	Now    func() time.Time
	Logger logrus.FieldLogger
}

// Dispatcher hands audit events to a sink on a single background goroutine,
// so engine operations never wait on sink I/O unless the queue is full and
// DropIfFull is off.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool
	onDrop     func()
	now        func() time.Time
	logger     logrus.FieldLogger

	// mu guards closed against sends racing close(queue).
	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	stopped chan struct{}
	dropped atomic.Uint64
}

// NewDispatcher starts a dispatcher, or returns nil when auditing is
// disabled. A nil Dispatcher accepts every call.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		onDrop:     cfg.OnDrop,
		now:        cfg.Now,
		logger:     cfg.Logger,
		queue:      make(chan Event, cfg.BufferSize),
		stopped:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for event := range d.queue {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"event":        event.EventType,
				"challenge_id": event.ChallengeID,
				"panic":        fmt.Sprint(r),
			}).Error("audit sink panicked")
		}
	}()
	d.sink.Emit(context.Background(), event)
}

// Emit queues event. With DropIfFull a full queue drops the event; otherwise
// Emit waits for room or for ctx to end. Events emitted after Close are
// discarded.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = d.now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		default:
			d.dropped.Add(1)
			if d.onDrop != nil {
				d.onDrop()
			}
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
	}
}

// Close stops accepting events, delivers what is queued and returns once
// the sink has seen the last one. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.stopped
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.stopped
}

// Dropped reports how many events DropIfFull discarded.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
