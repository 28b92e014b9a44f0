package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/storyboard/enrich-go/internal/logging"
)

const defaultBufferSize = 256

// Bus fans alert events out to registered consumers on a worker goroutine.
// Publish never blocks the caller; events are dropped (and counted) when the
// buffer is full.
type Bus struct {
	ch        chan *AlertEvent
	consumers []Consumer
	mu        sync.RWMutex
	stats     struct {
		published      atomic.Uint64
		processed      atomic.Uint64
		dropped        atomic.Uint64
		consumerErrors atomic.Uint64
	}
	done chan struct{}
	wg   sync.WaitGroup
	log  *slog.Logger
}

// NewBus creates and starts an alert bus.
func NewBus() *Bus {
	b := &Bus{
		ch:   make(chan *AlertEvent, defaultBufferSize),
		done: make(chan struct{}),
		log:  logging.ForService("events"),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// RegisterConsumer adds a consumer to the fan-out set.
func (b *Bus) RegisterConsumer(c Consumer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consumers = append(b.consumers, c)
}

// Publish enqueues an alert event without blocking. Returns false when the
// event was dropped because the buffer is full or the bus is shut down.
func (b *Bus) Publish(event *AlertEvent) bool {
	if event == nil {
		return false
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case <-b.done:
		b.stats.dropped.Add(1)
		return false
	default:
	}
	select {
	case b.ch <- event:
		b.stats.published.Add(1)
		return true
	default:
		b.stats.dropped.Add(1)
		return false
	}
}

func (b *Bus) run() {
	defer b.wg.Done()
	for {
		select {
		case event := <-b.ch:
			b.dispatch(event)
		case <-b.done:
			// Drain whatever is buffered before exiting.
			for {
				select {
				case event := <-b.ch:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(event *AlertEvent) {
	b.mu.RLock()
	consumers := b.consumers
	b.mu.RUnlock()

	for _, c := range consumers {
		if err := c.ProcessAlert(event); err != nil {
			b.stats.consumerErrors.Add(1)
			b.log.Warn("alert consumer failed",
				"consumer", c.Name(),
				"type", event.Type,
				"error", err)
		}
	}
	b.stats.processed.Add(1)
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() BusStats {
	return BusStats{
		Published:      b.stats.published.Load(),
		Processed:      b.stats.processed.Load(),
		Dropped:        b.stats.dropped.Load(),
		ConsumerErrors: b.stats.consumerErrors.Load(),
	}
}

// Shutdown stops the worker after draining buffered events.
func (b *Bus) Shutdown() {
	close(b.done)
	b.wg.Wait()
}

// LogConsumer writes alerts to the structured log. It is the consumer of
// last resort and is always registered.
type LogConsumer struct {
	Logger *slog.Logger
}

// Name implements Consumer.
func (c *LogConsumer) Name() string { return "log" }

// ProcessAlert implements Consumer.
func (c *LogConsumer) ProcessAlert(event *AlertEvent) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	switch event.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}
	logger.Log(context.Background(), level, event.Title,
		"type", event.Type,
		"message", event.Message,
		"context", event.Context)
	return nil
}
