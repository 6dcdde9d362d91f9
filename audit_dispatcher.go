package glidauth

import (
	"context"

	"github.com/MrEthical07/glidauth/internal/queue"
)

// auditDispatcher hands events to the sink on one background goroutine so
// flows never wait on sink latency. With DropIfFull a full buffer drops the
// event; otherwise Emit waits for room until its context ends.
type auditDispatcher struct {
	events *queue.Queue[AuditEvent]
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	events := queue.New(queue.Options{Buffer: cfg.BufferSize, Workers: 1, Block: !cfg.DropIfFull},
		func(event AuditEvent) { sink.Emit(context.Background(), event) })
	return &auditDispatcher{events: events}
}

func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil {
		return
	}
	_ = d.events.Push(ctx, event)
}

// Close stops intake and drains buffered events into the sink.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.events.Close()
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.events.Dropped()
}
