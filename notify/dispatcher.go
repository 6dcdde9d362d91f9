package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/glidauth/internal/queue"
)

// DispatcherConfig sizes the delivery queue.
type DispatcherConfig struct {
	BufferSize  int
	Workers     int
	SendTimeout time.Duration
}

// Dispatcher delivers messages asynchronously. Failures are logged and
// counted; Send never blocks the caller on delivery.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration

	queue  *queue.Queue[Message]
	failed atomic.Uint64
}

// NewDispatcher starts cfg.Workers goroutines delivering through n.
func NewDispatcher(n Notifier, logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if n == nil {
		n = Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	d := &Dispatcher{
		notifier: n,
		logger:   logger,
		timeout:  cfg.SendTimeout,
	}
	d.queue = queue.New(queue.Options{Buffer: cfg.BufferSize, Workers: cfg.Workers}, d.deliver)
	return d
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.notifier.Notify(ctx, msg); err != nil {
		d.failed.Add(1)
		d.logger.Warn("notification delivery failed",
			"kind", string(msg.Kind),
			"delivery", string(msg.Delivery),
			"error", err,
		)
	}
}

// Send queues msg. A full queue drops the message.
func (d *Dispatcher) Send(ctx context.Context, msg Message) {
	if d == nil {
		return
	}
	if errors.Is(d.queue.Push(ctx, msg), queue.ErrFull) {
		d.logger.Warn("notification queue full", "kind", string(msg.Kind))
	}
}

// Close stops accepting messages and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.queue.Close()
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.queue.Dropped()
}

func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
