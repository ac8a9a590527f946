package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Aman-CERP/nexus/internal/index"
)

// TUIRenderer shows a live bubbletea view of the run.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	tracker *Tracker
	model   *indexingModel
	program *tea.Program
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails when the output is not
// a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, errors.New("output is not a TTY")
	}
	tracker := NewTracker()
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   newIndexingModel(tracker, cfg.Root, GetStyles(cfg.NoColor)),
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithInput(nil)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// Handle implements Renderer.
func (r *TUIRenderer) Handle(ev index.Event) {
	r.tracker.Observe(ev)
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(eventMsg(ev))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p == nil {
		return nil
	}
	p.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

type eventMsg index.Event
type tickMsg time.Time

// indexingModel is the bubbletea model for a run.
type indexingModel struct {
	tracker  *Tracker
	root     string
	styles   Styles
	spinner  spinner.Model
	pages    progress.Model
	width    int
	finished bool
}

func newIndexingModel(tracker *Tracker, root string, styles Styles) *indexingModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Header

	return &indexingModel{
		tracker: tracker,
		root:    root,
		styles:  styles,
		spinner: s,
		pages: progress.New(
			progress.WithSolidFill(ColorAccent),
			progress.WithWidth(40),
			progress.WithoutPercentage(),
		),
		width: 80,
	}
}

// Init implements tea.Model.
func (m *indexingModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *indexingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.pages.Width = max(msg.Width-30, 20)
	case eventMsg:
		if msg.Kind.Terminal() {
			m.finished = true
			return m, tea.Quit
		}
	case tickMsg:
		return m, tickCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *indexingModel) View() string {
	snap := m.tracker.Snapshot()
	if m.finished || snap.Finished {
		return m.renderFinished(snap)
	}

	width := max(m.width-4, 40)
	var lines []string

	title := "nexus index"
	if m.root != "" {
		title += " • " + m.root
	}
	lines = append(lines, m.styles.Header.Render(title))

	lines = append(lines, fmt.Sprintf("%s %s  %s  %s",
		m.spinner.View(),
		m.count("indexed", snap.Indexed),
		m.count("unchanged", snap.Unchanged),
		m.count("skipped", snap.Skipped)))

	lines = append(lines, fmt.Sprintf("%s %s",
		m.styles.Label.Render("chunks"),
		m.styles.Value.Render(fmt.Sprintf("%d", snap.Chunks))))

	speed := fmt.Sprintf("%.0f/s (peak %.0f)", snap.Rate, snap.Peak)
	lines = append(lines, m.styles.Success.Render(m.tracker.Sparkline(max(width-30, 10)))+" "+m.styles.Label.Render(speed))

	if snap.CurrentFile != "" {
		lines = append(lines, m.styles.Dim.Render(strings.Repeat("─", width)))
		lines = append(lines, m.styles.Path.Render(truncatePath(snap.CurrentFile, width)))
		if snap.TotalPages > 0 {
			frac := float64(snap.Page) / float64(snap.TotalPages)
			lines = append(lines, fmt.Sprintf("%s %s",
				m.pages.ViewAs(frac),
				m.styles.Label.Render(fmt.Sprintf("page %d/%d", snap.Page, snap.TotalPages))))
		}
	}

	lines = append(lines, m.styles.Dim.Render("elapsed "+formatDuration(snap.Elapsed)+"  •  ctrl+c to cancel"))
	return m.styles.Panel.Width(width).Render(strings.Join(lines, "\n")) + "\n"
}

func (m *indexingModel) count(label string, n int) string {
	return m.styles.Value.Render(fmt.Sprintf("%d", n)) + " " + m.styles.Label.Render(label)
}

func (m *indexingModel) renderFinished(snap Snapshot) string {
	if snap.Failure != "" {
		return m.styles.Error.Render("✗ "+snap.Failure) + "\n"
	}
	var b strings.Builder
	b.WriteString(m.styles.Success.Render("✓ " + Summary(snap.Progress)))
	b.WriteString("\n")
	if p := snap.Progress; p != nil {
		for _, fe := range p.Errors {
			b.WriteString(m.styles.Warning.Render(fmt.Sprintf("  %s: %s: %s", fe.Kind, fe.Path, fe.Message)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// truncatePath shortens path from the left to fit maxLen.
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	if maxLen <= 3 {
		return "..."
	}
	return "..." + path[len(path)-maxLen+3:]
}

var _ Renderer = (*TUIRenderer)(nil)
var _ tea.Model = (*indexingModel)(nil)
