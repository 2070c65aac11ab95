package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel() (*buildModel, *ProgressTracker) {
	tracker := NewProgressTracker()
	return newBuildModel(tracker, "data/indices", NoColorStyles()), tracker
}

func TestNewTUIRenderer_RejectsNonTTY(t *testing.T) {
	r, err := NewTUIRenderer(NewConfig(&bytes.Buffer{}))

	assert.Error(t, err)
	assert.Nil(t, r)
}

func TestBuildModel_ViewShowsStagesAndTitle(t *testing.T) {
	m, _ := newTestModel()

	view := m.View()

	assert.Contains(t, view, "assistchat build · data/indices")
	for _, name := range []string{"Loading", "Tokenizing", "Embedding", "Indexing", "Saving"} {
		assert.Contains(t, view, name)
	}
}

func TestBuildModel_CompletedStagesMarked(t *testing.T) {
	// Given: the tracker is in the indexing stage
	m, tracker := newTestModel()
	tracker.SetStage(StageIndexing, 10)

	// When: rendering
	view := m.View()

	// Then: earlier stages are filled, later ones hollow
	assert.Contains(t, view, "● Loading")
	assert.Contains(t, view, "● Embedding")
	assert.Contains(t, view, "○ Saving")
}

func TestBuildModel_ProgressBarCounts(t *testing.T) {
	m, tracker := newTestModel()
	tracker.SetStage(StageEmbedding, 200)
	tracker.Update(50, "DOC-007_chunk_1")

	view := m.View()

	assert.Contains(t, view, "25%")
	assert.Contains(t, view, "50/200")
	assert.Contains(t, view, "DOC-007_chunk_1")
}

func TestBuildModel_UnknownTotalShowsSpinnerLine(t *testing.T) {
	m, tracker := newTestModel()
	tracker.SetStage(StageSaving, 0)

	assert.Contains(t, m.View(), "Saving...")
}

func TestBuildModel_ShowsProblems(t *testing.T) {
	m, tracker := newTestModel()
	tracker.AddError(ErrorEvent{Err: assert.AnError})
	tracker.AddError(ErrorEvent{Err: assert.AnError, IsWarn: true})

	view := m.View()

	assert.Contains(t, view, "1 warnings")
	assert.Contains(t, view, "1 errors")
}

func TestBuildModel_CompleteMessageQuits(t *testing.T) {
	// Given: a running model
	m, _ := newTestModel()

	// When: the build completes
	next, cmd := m.Update(completeMsg(CompletionStats{
		Chunks:         12,
		Documents:      4,
		Duration:       65 * time.Second,
		IndexDir:       "data/indices",
		IndexType:      "HNSW",
		LexicalBackend: "bleve",
		Embedder:       EmbedderInfo{Provider: "static", Model: "static", Dimensions: 256},
	}))

	// Then: the summary is rendered and the program quits
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	view := next.View()
	assert.Contains(t, view, "Index built")
	assert.Contains(t, view, "1m 5s")
	assert.Contains(t, view, "data/indices (HNSW + bleve)")
	assert.Contains(t, view, "static static (256 dims)")
}

func TestBuildModel_CtrlCCancels(t *testing.T) {
	m, _ := newTestModel()

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})

	require.NotNil(t, cmd)
	assert.Equal(t, "Cancelled.\n", next.View())
}

func TestBuildModel_WindowResize(t *testing.T) {
	m, _ := newTestModel()

	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	assert.Equal(t, 96, m.bar.Width)

	m.Update(tea.WindowSizeMsg{Width: 30, Height: 10})
	assert.Equal(t, 20, m.bar.Width)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{1400 * time.Millisecond, "1s"},
		{59 * time.Second, "59s"},
		{2 * time.Minute, "2m"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{time.Hour + 2*time.Minute, "1h 2m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in), tt.in.String())
	}
}

func TestTruncateMiddle(t *testing.T) {
	assert.Equal(t, "short", truncateMiddle("short", 10))
	assert.Equal(t, "abc…xyz", truncateMiddle("abcdefghijklmnopqrstuvwxyz", 7))

	jp := strings.Repeat("油圧", 10)
	got := truncateMiddle(jp, 9)
	assert.Equal(t, 9, len([]rune(got)))
}
