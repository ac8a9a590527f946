package ui

import (
	"sync"
	"time"

	"github.com/Aman-CERP/nexus/internal/index"
)

// speedInterval is the minimum spacing between throughput samples.
const speedInterval = 500 * time.Millisecond

// Skip is a file left out of a run.
type Skip struct {
	Path   string
	Reason string
}

// Snapshot is the state of a run as seen through its events.
type Snapshot struct {
	Indexed     int
	Skipped     int
	Unchanged   int
	Chunks      int // Chunks of finished files plus those embedded so far
	CurrentFile string
	Page        int
	TotalPages  int
	Rate        float64 // Chunks per second, most recent sample
	Peak        float64
	Elapsed     time.Duration
	Skips       []Skip
	Finished    bool
	Failure     string               // Message of the error event
	Progress    *index.IndexProgress // Summary of the done event
}

// Tracker folds index events into a Snapshot. It is safe for concurrent
// use.
type Tracker struct {
	mu  sync.Mutex
	now func() time.Time

	start    time.Time
	snap     Snapshot
	done     int            // chunks of finished files
	inflight map[string]int // chunks embedded so far per unfinished file

	lastSample time.Time
	lastChunks int
	spark      *Sparkline
}

// NewTracker creates a tracker whose clock starts now.
func NewTracker() *Tracker {
	return newTracker(time.Now)
}

func newTracker(now func() time.Time) *Tracker {
	t := now()
	return &Tracker{
		now:        now,
		start:      t,
		lastSample: t,
		inflight:   make(map[string]int),
		spark:      NewSparkline(60),
	}
}

// Observe records one event.
func (t *Tracker) Observe(ev index.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Kind {
	case index.EventFileStarted:
		t.snap.CurrentFile = ev.Path
		t.snap.Page, t.snap.TotalPages = 0, 0
		t.inflight[ev.Path] = 0
	case index.EventChunkEmbedded:
		t.inflight[ev.Path] = ev.Chunks
	case index.EventPageProcessed:
		t.snap.Page, t.snap.TotalPages = ev.Page, ev.TotalPages
		t.inflight[ev.Path] = ev.Chunks
	case index.EventFileIndexed:
		t.snap.Indexed++
		t.done += ev.Chunks
		delete(t.inflight, ev.Path)
	case index.EventFileSkipped:
		t.snap.Skipped++
		t.snap.Skips = append(t.snap.Skips, Skip{Path: ev.Path, Reason: ev.Reason})
		delete(t.inflight, ev.Path)
	case index.EventFileUnchanged:
		t.snap.Unchanged++
	case index.EventDone:
		t.snap.Finished = true
		t.snap.Progress = ev.Progress
		t.snap.CurrentFile = ""
	case index.EventError:
		t.snap.Finished = true
		t.snap.Failure = ev.Message
	}

	chunks := t.done
	for _, n := range t.inflight {
		chunks += n
	}
	t.snap.Chunks = chunks
	t.sample()
}

// sample records throughput; caller holds mu.
func (t *Tracker) sample() {
	now := t.now()
	elapsed := now.Sub(t.lastSample)
	if elapsed < speedInterval {
		return
	}
	rate := float64(t.snap.Chunks-t.lastChunks) / elapsed.Seconds()
	t.snap.Rate = rate
	t.snap.Peak = max(t.snap.Peak, rate)
	t.spark.Add(rate)
	t.lastSample = now
	t.lastChunks = t.snap.Chunks
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.snap
	s.Skips = append([]Skip(nil), t.snap.Skips...)
	s.Elapsed = t.now().Sub(t.start)
	return s
}

// Sparkline renders recent throughput at width.
func (t *Tracker) Sparkline(width int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spark.Render(width)
}
