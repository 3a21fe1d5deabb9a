package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ferrow/reqscope/internal/metrics"
)

// Level is the severity of a progress event
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

// String returns the level name
func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one progress message produced by stage execution
type Event struct {
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Level     Level     `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// Emitter buffers progress events and flushes them on a short periodic
// tick, decoupling a slow consumer from the execution hot path. Error
// events bypass the buffer and flush immediately. Buffered events keep
// FIFO order: an immediate flush drains the buffer first, so an error can
// never overtake earlier events.
type Emitter struct {
	mu  sync.Mutex
	buf []Event
	out chan Event

	bufferSize int
	logger     *slog.Logger
	collector  *metrics.Collector

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEmitter creates an emitter and starts its flush ticker. Close stops
// the ticker, drains the buffer, and closes the event channel.
func NewEmitter(bufferSize int, flushTick time.Duration, collector *metrics.Collector, logger *slog.Logger) *Emitter {
	e := &Emitter{
		buf:        make([]Event, 0, bufferSize),
		out:        make(chan Event, bufferSize*4),
		bufferSize: bufferSize,
		logger:     logger,
		collector:  collector,
		stop:       make(chan struct{}),
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(flushTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.Flush()
			case <-e.stop:
				return
			}
		}
	}()

	return e
}

// Events returns the consumer channel. It is closed by Close.
func (e *Emitter) Events() <-chan Event {
	return e.out
}

// Emit queues an event. Error-level events flush immediately; others wait
// for the next tick unless the buffer is full.
func (e *Emitter) Emit(stage, message string, level Level) {
	ev := Event{Stage: stage, Message: message, Level: level, Timestamp: time.Now()}

	e.mu.Lock()
	e.buf = append(e.buf, ev)
	depth := len(e.buf)
	flushNow := level == LevelError || depth >= e.bufferSize
	if flushNow {
		e.flushLocked()
	}
	e.mu.Unlock()

	e.collector.SetEventBufferDepth(depth)
}

// Flush drains the buffer to the consumer channel
func (e *Emitter) Flush() {
	e.mu.Lock()
	e.flushLocked()
	e.mu.Unlock()
	e.collector.SetEventBufferDepth(0)
}

// flushLocked sends buffered events in FIFO order. Caller holds the lock.
// If the consumer channel is full the event is dropped rather than
// blocking stage execution.
func (e *Emitter) flushLocked() {
	for _, ev := range e.buf {
		select {
		case e.out <- ev:
		default:
			e.logger.Warn("Event channel full, dropping event",
				"stage", ev.Stage,
				"level", ev.Level.String())
		}
	}
	e.buf = e.buf[:0]
}

// Close stops the ticker, flushes remaining events, and closes the
// consumer channel.
func (e *Emitter) Close() {
	e.stopOnce.Do(func() {
		close(e.stop)
		e.wg.Wait()
		e.Flush()
		close(e.out)
	})
}
