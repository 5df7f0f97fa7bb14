package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stagehand-live/stagehand/internal/observe"
)

// DanmakuPath is the hub path chat messages broadcast to.
const DanmakuPath = "/ws/danmaku"

const reconnectDelay = 5 * time.Second

// Broadcaster fans messages out to subscribers. *hub.Hub satisfies it.
type Broadcaster interface {
	BroadcastJSON(path string, v any) error
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithTrigger sets the batch flush thresholds: flush when count messages
// are pending or interval has passed since the first, whichever first.
func WithTrigger(count int, interval time.Duration) BridgeOption {
	return func(b *Bridge) {
		if count > 0 {
			b.triggerCount = count
		}
		if interval > 0 {
			b.triggerInterval = interval
		}
	}
}

// WithBridgeMetrics overrides the metrics instance.
func WithBridgeMetrics(m *observe.Metrics) BridgeOption {
	return func(b *Bridge) { b.metrics = m }
}

// Bridge consumes events from a chat source and fans them out. Ordinary
// messages batch until a count or time threshold; the last message of each
// flush is the trigger. Super-chats and gifts bypass batching and always
// trigger; entry/follow events broadcast immediately and never trigger.
type Bridge struct {
	source  Source
	hub     Broadcaster
	room    string
	metrics *observe.Metrics

	triggerCount    int
	triggerInterval time.Duration

	mu        sync.Mutex
	pending   []Message
	flushStop chan struct{}
}

// NewBridge wires a bridge between source and hub for the given room.
func NewBridge(source Source, hub Broadcaster, room string, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		source:          source,
		hub:             hub,
		room:            room,
		metrics:         observe.DefaultMetrics(),
		triggerCount:    5,
		triggerInterval: 15 * time.Second,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Run connects and consumes events until ctx is cancelled, reconnecting
// after connection loss.
func (b *Bridge) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		events, err := b.source.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("chat connect failed, retrying", "room", b.room, "delay", reconnectDelay, "err", err)
			if !sleepCtx(ctx, reconnectDelay) {
				return
			}
			continue
		}
		slog.Info("chat connected", "room", b.room)

		for ev := range events {
			b.Handle(ctx, ev)
		}
		b.flushNow()
		if ctx.Err() != nil {
			return
		}
		slog.Warn("chat stream ended, reconnecting", "room", b.room, "delay", reconnectDelay)
		if !sleepCtx(ctx, reconnectDelay) {
			return
		}
	}
}

// Handle processes one raw event: parse, then batch or broadcast by kind.
func (b *Bridge) Handle(ctx context.Context, ev Event) {
	msg, err := parseEvent(b.room, ev)
	if err != nil {
		slog.Debug("dropping chat event", "err", err)
		return
	}
	b.metrics.RecordChatMessage(ctx, ev.Cmd)

	if msg.IsSystem {
		// System kinds skip batching; their trigger flag is already fixed.
		b.broadcast(msg)
		return
	}
	b.enqueue(msg)
}

// enqueue appends a danmaku to the pending batch, arming the flush timer on
// the first message and flushing when the count threshold is reached.
func (b *Bridge) enqueue(msg Message) {
	b.mu.Lock()
	b.pending = append(b.pending, msg)
	count := len(b.pending)

	if count == 1 {
		stop := make(chan struct{})
		b.flushStop = stop
		go b.flushAfter(b.triggerInterval, stop)
	}

	if count >= b.triggerCount {
		batch := b.takeBatchLocked()
		b.mu.Unlock()
		b.flush(batch)
		return
	}
	b.mu.Unlock()
}

func (b *Bridge) flushAfter(d time.Duration, stop chan struct{}) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-stop:
		return
	}

	b.mu.Lock()
	// The timer can fire in the same instant a count flush closes stop; by
	// the time the lock is held a new batch may have armed its own timer.
	// Only the batch this timer was armed for may be flushed.
	if b.flushStop != stop {
		b.mu.Unlock()
		return
	}
	batch := b.takeBatchLocked()
	b.mu.Unlock()
	b.flush(batch)
}

// takeBatchLocked snapshots and clears the pending batch, disarming the
// flush timer. Callers hold b.mu.
func (b *Bridge) takeBatchLocked() []Message {
	batch := b.pending
	b.pending = nil
	if b.flushStop != nil {
		close(b.flushStop)
		b.flushStop = nil
	}
	return batch
}

// flushNow flushes whatever is pending, regardless of thresholds.
func (b *Bridge) flushNow() {
	b.mu.Lock()
	batch := b.takeBatchLocked()
	b.mu.Unlock()
	b.flush(batch)
}

// flush broadcasts a batch in order, marking only the last message as the
// trigger.
func (b *Bridge) flush(batch []Message) {
	if len(batch) == 0 {
		return
	}
	batch[len(batch)-1].IsTrigger = true
	for _, msg := range batch {
		b.broadcast(msg)
	}
	b.metrics.ChatTriggers.Add(context.Background(), 1)
}

func (b *Bridge) broadcast(msg Message) {
	if err := b.hub.BroadcastJSON(DanmakuPath, msg); err != nil {
		slog.Warn("chat broadcast failed", "err", err)
	}
}

// sleepCtx waits for d; returns false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
