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
	"github.com/charmbracelet/lipgloss"
)

// stopTimeout bounds how long Stop waits for the program to exit.
const stopTimeout = 2 * time.Second

// TUIRenderer draws build progress with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	tracker *ProgressTracker
	model   *buildModel
	program *tea.Program
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. The output must be a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, errors.New("output is not a terminal")
	}

	tracker := NewProgressTracker()
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   newBuildModel(tracker, cfg.Title, GetStyles(cfg.NoColor)),
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

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
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

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	if event.Stage != r.tracker.Stage() {
		r.tracker.SetStage(event.Stage, event.Total)
	}
	r.tracker.Update(event.Current, firstNonEmpty(event.Item, event.Message))
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.tracker.AddError(event)
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.tracker.SetStage(StageComplete, 0)

	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(completeMsg(stats))
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
	case <-time.After(stopTimeout):
	}
	return nil
}

type completeMsg CompletionStats
type tickMsg time.Time

// buildModel is the bubbletea model. All progress state lives in the
// tracker; the model only reads it on each frame.
type buildModel struct {
	tracker  *ProgressTracker
	title    string
	styles   Styles
	spinner  spinner.Model
	bar      progress.Model
	width    int
	done     bool
	quitting bool
	stats    CompletionStats
}

func newBuildModel(tracker *ProgressTracker, title string, styles Styles) *buildModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = styles.Active

	return &buildModel{
		tracker: tracker,
		title:   title,
		styles:  styles,
		spinner: s,
		bar: progress.New(
			progress.WithSolidFill(ColorAccent),
			progress.WithWidth(40),
			progress.WithoutPercentage(),
		),
		width: 80,
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model.
func (m *buildModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

// Update implements tea.Model.
func (m *buildModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(20, msg.Width-24)
	case completeMsg:
		m.done = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *buildModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.done {
		return m.viewComplete()
	}

	stats := m.tracker.Stats()
	width := max(40, m.width-4)

	header := "assistchat build"
	if m.title != "" {
		header += " · " + m.title
	}

	lines := []string{
		m.styles.Header.Render(header),
		m.viewStages(stats.Stage),
		m.styles.Border.Render(strings.Repeat("─", width)),
		m.viewBar(stats),
	}

	if stats.Rate > 0 {
		line := fmt.Sprintf("%.0f chunks/s (peak %.0f)", stats.Rate, stats.PeakRate)
		if stats.ETA > 0 {
			line += "  ·  ETA " + formatDuration(stats.ETA)
		}
		lines = append(lines,
			m.styles.Label.Render(line),
			m.styles.Active.Render(m.tracker.RenderSparkline(max(10, width-2))),
		)
	}
	if stats.Item != "" {
		lines = append(lines, m.styles.Dim.Render(truncateMiddle(stats.Item, width)))
	}
	if s := m.viewProblems(stats); s != "" {
		lines = append(lines, s)
	}

	return strings.Join(lines, "\n") + "\n"
}

func (m *buildModel) viewStages(current Stage) string {
	var parts []string
	for _, s := range []Stage{StageLoading, StageTokenizing, StageEmbedding, StageIndexing, StageSaving} {
		switch {
		case s < current:
			parts = append(parts, m.styles.Success.Render("● "+s.String()))
		case s == current:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+s.String()))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+s.String()))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *buildModel) viewBar(stats ProgressStats) string {
	if stats.Total <= 0 {
		return m.spinner.View() + " " + stats.Stage.String() + "..."
	}
	return fmt.Sprintf("%s %s  %s",
		m.bar.ViewAs(stats.Progress),
		m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100)),
		m.styles.Label.Render(fmt.Sprintf("%d/%d", stats.Current, stats.Total)),
	)
}

func (m *buildModel) viewProblems(stats ProgressStats) string {
	var parts []string
	if stats.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", stats.WarnCount)))
	}
	if stats.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", stats.ErrorCount)))
	}
	return strings.Join(parts, "  ")
}

func (m *buildModel) viewComplete() string {
	s := m.stats
	row := func(label, value string) string {
		return m.styles.Label.Render(fmt.Sprintf("%-10s", label)) + " " + m.styles.Value.Render(value)
	}

	lines := []string{
		m.styles.Success.Render("✓ Index built"),
		"",
		row("Chunks", fmt.Sprintf("%d", s.Chunks)),
		row("Documents", fmt.Sprintf("%d", s.Documents)),
		row("Duration", formatDuration(s.Duration)),
	}
	if s.IndexDir != "" {
		lines = append(lines, row("Snapshot", fmt.Sprintf("%s (%s + %s)", s.IndexDir, s.IndexType, s.LexicalBackend)))
	}
	if s.Embedder.Provider != "" {
		lines = append(lines, row("Embedder", fmt.Sprintf("%s %s (%d dims)", s.Embedder.Provider, s.Embedder.Model, s.Embedder.Dimensions)))
	}
	if s.Errors > 0 || s.Warnings > 0 {
		lines = append(lines, "", m.styles.Warning.Render(fmt.Sprintf("%d errors, %d warnings", s.Errors, s.Warnings)))
	}

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccentLo)).
		Padding(0, 2)
	return box.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration renders d as "42s", "3m 5s" or "1h 2m".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		m, s := int(d.Minutes()), int(d.Seconds())%60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// truncateMiddle shortens s to at most n runes by replacing its middle with "…".
func truncateMiddle(s string, n int) string {
	r := []rune(s)
	if len(r) <= n || n < 3 {
		return s
	}
	head := (n - 1) / 2
	tail := n - 1 - head
	return string(r[:head]) + "…" + string(r[len(r)-tail:])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ Renderer = (*TUIRenderer)(nil)
