package ui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/nexus/internal/index"
)

func TestIndexingModel_ViewWhileRunning(t *testing.T) {
	// Given: a model over a tracker mid-way through a paged file
	tr := NewTracker()
	tr.Observe(index.Event{Kind: index.EventFileIndexed, Path: "/d/a.txt", Chunks: 3})
	tr.Observe(index.Event{Kind: index.EventFileStarted, Path: "/d/book.pdf"})
	tr.Observe(index.Event{Kind: index.EventPageProcessed, Path: "/d/book.pdf", Page: 2, TotalPages: 4, Chunks: 5})
	m := newIndexingModel(tr, "/d", NoColorStyles())

	// When: rendered
	view := m.View()

	// Then: counts, the current file and page progress are shown
	assert.Contains(t, view, "nexus index • /d")
	assert.Contains(t, view, "1 indexed")
	assert.Contains(t, view, "8")
	assert.Contains(t, view, "/d/book.pdf")
	assert.Contains(t, view, "page 2/4")
}

func TestIndexingModel_QuitsOnTerminalEvent(t *testing.T) {
	// Given: a running model
	tr := NewTracker()
	m := newIndexingModel(tr, "", NoColorStyles())
	progress := &index.IndexProgress{FilesIndexed: 2, ChunksIndexed: 4}

	// When: the done event arrives
	ev := index.Event{Kind: index.EventDone, Progress: progress}
	tr.Observe(ev)
	_, cmd := m.Update(eventMsg(ev))

	// Then: it quits and shows the summary
	assert.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Contains(t, m.View(), "Indexed 2 files (4 chunks)")
}

func TestIndexingModel_ShowsFailure(t *testing.T) {
	tr := NewTracker()
	tr.Observe(index.Event{Kind: index.EventError, Message: "store write failed"})
	m := newIndexingModel(tr, "", NoColorStyles())

	assert.Contains(t, m.View(), "✗ store write failed")
}

func TestIndexingModel_WindowResize(t *testing.T) {
	m := newIndexingModel(NewTracker(), "", NoColorStyles())

	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	assert.Equal(t, 120, m.width)
	assert.Equal(t, 90, m.pages.Width)
}

func TestTruncatePath(t *testing.T) {
	assert.Equal(t, "/a/b", truncatePath("/a/b", 10))
	assert.Equal(t, "...ng/file.txt", truncatePath("/very/long/file.txt", 14))
	assert.Equal(t, "...", truncatePath("/abc/def", 2))
}
