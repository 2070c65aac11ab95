package ui

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Stage
// =============================================================================

func TestStage_StringAndIcon(t *testing.T) {
	tests := []struct {
		stage Stage
		name  string
		icon  string
	}{
		{StageLoading, "Loading", "LOAD"},
		{StageTokenizing, "Tokenizing", "TOKEN"},
		{StageEmbedding, "Embedding", "EMBED"},
		{StageIndexing, "Indexing", "INDEX"},
		{StageSaving, "Saving", "SAVE"},
		{StageComplete, "Complete", "DONE"},
		{Stage(42), "Unknown", "???"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.stage.String())
			assert.Equal(t, tt.icon, tt.stage.Icon())
		})
	}
}

func TestStage_PipelineOrder(t *testing.T) {
	// The TUI relies on stage order to mark earlier stages complete.
	assert.Less(t, StageLoading, StageTokenizing)
	assert.Less(t, StageTokenizing, StageEmbedding)
	assert.Less(t, StageEmbedding, StageIndexing)
	assert.Less(t, StageIndexing, StageSaving)
	assert.Less(t, StageSaving, StageComplete)
}

// =============================================================================
// Config and renderer selection
// =============================================================================

func TestNewConfig_AppliesOptions(t *testing.T) {
	buf := &bytes.Buffer{}

	cfg := NewConfig(buf, WithForcePlain(true), WithNoColor(true), WithTitle("data/indices"))

	assert.Same(t, buf, cfg.Output)
	assert.True(t, cfg.ForcePlain)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, "data/indices", cfg.Title)
}

func TestNewRenderer_PlainForNonTTY(t *testing.T) {
	// Given: output that is not a terminal
	cfg := NewConfig(&bytes.Buffer{})

	// When: selecting a renderer
	r := NewRenderer(cfg)

	// Then: the plain renderer is used
	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
}

func TestNewRenderer_ForcePlain(t *testing.T) {
	r := NewRenderer(NewConfig(os.Stdout, WithForcePlain(true)))

	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
}

func TestIsTTY(t *testing.T) {
	assert.False(t, IsTTY(nil))
	assert.False(t, IsTTY(&bytes.Buffer{}))

	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, IsTTY(f), "regular files are not terminals")
}

func TestDetectCI(t *testing.T) {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "BUILDKITE"} {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
	assert.False(t, DetectCI())

	t.Setenv("GITHUB_ACTIONS", "true")
	assert.True(t, DetectCI())
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	os.Unsetenv("NO_COLOR")
	assert.False(t, DetectNoColor())

	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}

func TestGetStyles_NoColorRendersPlainText(t *testing.T) {
	s := GetStyles(true)

	assert.Equal(t, "text", s.Header.Render("text"))
	assert.Equal(t, "text", s.Error.Render("text"))
}

func TestNopRenderer(t *testing.T) {
	var r Renderer = NopRenderer{}

	require.NoError(t, r.Start(context.Background()))
	r.UpdateProgress(ProgressEvent{Stage: StageEmbedding, Current: 1, Total: 2})
	r.AddError(ErrorEvent{Err: assert.AnError})
	r.Complete(CompletionStats{Chunks: 2})
	assert.NoError(t, r.Stop())
}
