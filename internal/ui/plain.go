package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Aman-CERP/nexus/internal/index"
)

// PlainRenderer writes one line per event (for CI/pipes).
type PlainRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	quiet   bool
	tracker *Tracker
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{
		out:     cfg.Output,
		quiet:   cfg.Quiet,
		tracker: NewTracker(),
	}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error {
	return nil
}

// Handle implements Renderer.
func (r *PlainRenderer) Handle(ev index.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.Observe(ev)
	switch ev.Kind {
	case index.EventFileIndexed:
		if !r.quiet {
			_, _ = fmt.Fprintf(r.out, "[INDEX] %s (%d chunks)\n", ev.Path, ev.Chunks)
		}
	case index.EventFileSkipped:
		if !r.quiet {
			_, _ = fmt.Fprintf(r.out, "[SKIP] %s: %s\n", ev.Path, ev.Reason)
		}
	case index.EventPageProcessed:
		if !r.quiet {
			_, _ = fmt.Fprintf(r.out, "[PAGE] %s %d/%d\n", ev.Path, ev.Page, ev.TotalPages)
		}
	case index.EventDone:
		_, _ = fmt.Fprintln(r.out, Summary(ev.Progress))
		for _, fe := range errorsOf(ev.Progress) {
			_, _ = fmt.Fprintf(r.out, "  %s: %s: %s\n", fe.Kind, fe.Path, fe.Message)
		}
	case index.EventError:
		_, _ = fmt.Fprintf(r.out, "ERROR: %s\n", ev.Message)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

// Snapshot returns what the renderer has seen so far.
func (r *PlainRenderer) Snapshot() Snapshot {
	return r.tracker.Snapshot()
}

// Summary is the one-line description of a finished run.
func Summary(p *index.IndexProgress) string {
	if p == nil {
		return "Indexing finished"
	}
	s := fmt.Sprintf("Indexed %d files (%d chunks), %d unchanged, %d skipped",
		p.FilesIndexed, p.ChunksIndexed, p.FilesUnchanged, p.FilesSkipped)
	if p.FilesRemoved > 0 {
		s += fmt.Sprintf(", %d removed", p.FilesRemoved)
	}
	if n := len(p.Errors); n > 0 {
		s += fmt.Sprintf(", %d errors", n)
	}
	return s + " in " + formatDuration(p.Duration)
}

func errorsOf(p *index.IndexProgress) []index.FileError {
	if p == nil {
		return nil
	}
	return p.Errors
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(100 * time.Millisecond)
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	d = d.Round(time.Second)
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
