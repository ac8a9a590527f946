package index

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultChunkEventInterval is the minimum spacing of chunk-embedded
	// events. Skipped events lose nothing because Chunks is cumulative.
	DefaultChunkEventInterval = 100 * time.Millisecond

	// DefaultTerminalTimeout bounds the wait for a consumer of an
	// unbuffered channel to take the terminal event.
	DefaultTerminalTimeout = time.Minute
)

// Emitter publishes events to a consumer channel without ever blocking
// the pipeline on non-terminal events. One buffer slot is kept free so
// the terminal event on a buffered channel is always delivered. The
// terminal event is sent exactly once.
type Emitter struct {
	out             chan<- Event
	chunkLimiter    *rate.Limiter
	terminalTimeout time.Duration

	mu       sync.Mutex // serializes sends so the reserved slot holds
	finished bool
	once     sync.Once
	dropped  atomic.Int64
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithChunkEventInterval sets the chunk-embedded coalescing interval.
// Zero disables coalescing.
func WithChunkEventInterval(d time.Duration) EmitterOption {
	return func(e *Emitter) {
		if d <= 0 {
			e.chunkLimiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		e.chunkLimiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithTerminalTimeout sets how long the terminal event may wait on an
// unbuffered channel.
func WithTerminalTimeout(d time.Duration) EmitterOption {
	return func(e *Emitter) {
		e.terminalTimeout = d
	}
}

// NewEmitter creates an Emitter for out. A nil out discards everything.
func NewEmitter(out chan<- Event, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		out:             out,
		chunkLimiter:    rate.NewLimiter(rate.Every(DefaultChunkEventInterval), 1),
		terminalTimeout: DefaultTerminalTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit offers a non-terminal event. It is dropped if the consumer has no
// room. Terminal kinds are ignored here; use Finish.
func (e *Emitter) Emit(ev Event) {
	if e.out == nil || ev.Kind.Terminal() {
		return
	}
	if ev.Kind == EventChunkEmbedded && !e.chunkLimiter.Allow() {
		e.dropped.Add(1)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return
	}
	if c := cap(e.out); c > 0 && len(e.out) >= c-1 {
		e.dropped.Add(1)
		return
	}
	select {
	case e.out <- ev:
	default:
		e.dropped.Add(1)
	}
}

// Finish sends the terminal event. Calls after the first are no-ops.
func (e *Emitter) Finish(ev Event) {
	e.once.Do(func() {
		e.mu.Lock()
		e.finished = true
		e.mu.Unlock()

		if e.dropped.Load() > 0 {
			slog.Debug("progress_events_dropped", slog.Int64("count", e.dropped.Load()))
		}
		if e.out == nil {
			return
		}

		select {
		case e.out <- ev:
			return
		default:
		}
		timer := time.NewTimer(e.terminalTimeout)
		defer timer.Stop()
		select {
		case e.out <- ev:
		case <-timer.C:
			slog.Warn("progress_terminal_undelivered",
				slog.String("kind", string(ev.Kind)),
				slog.Duration("waited", e.terminalTimeout))
		}
	})
}

// Dropped returns the number of events not delivered.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}
