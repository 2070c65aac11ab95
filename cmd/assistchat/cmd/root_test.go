package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
)

func TestRootCmd_ShowsHelp(t *testing.T) {
	// Given: a root command
	setupProject(t)

	// When: executing with --help
	out, err := runCLI(t, "--help")

	// Then: it should show usage information
	require.NoError(t, err)
	assert.Contains(t, out, "assistchat")
	assert.Contains(t, out, "Available Commands")
}

func TestRootCmd_RegistersCommands(t *testing.T) {
	cmd := NewRootCmd()

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"chunk", "build", "search", "serve", "mcp", "stats", "doctor", "eval", "config", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestRootCmd_InvalidConfigFails(t *testing.T) {
	// Given: a config file with an unknown provider
	dir := setupProject(t)
	path := writeFile(t, dir, "bad.yaml", "embeddings:\n  provider: word2vec\n")
	t.Setenv("ASSISTCHAT_EMBEDDER", "")

	// When
	_, err := runCLI(t, "--config", path, "stats")

	// Then
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embeddings.provider")
}

func TestRootCmd_VersionIgnoresInvalidConfig(t *testing.T) {
	dir := setupProject(t)
	path := writeFile(t, dir, "bad.yaml", "embeddings:\n  provider: word2vec\n")

	out, err := runCLI(t, "--config", path, "version", "--short")

	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestPrintError_AppErrorShowsHint(t *testing.T) {
	// Given: a wrapped application error with a suggestion
	err := fmt.Errorf("search: %w", apperrors.ErrIndexUnavailable("no snapshot", nil))
	buf := &bytes.Buffer{}

	// When
	printError(buf, err)

	// Then
	assert.Contains(t, buf.String(), "Error: no snapshot")
	assert.Contains(t, buf.String(), "Hint: Run 'assistchat build'")
}

func TestPrintError_PlainError(t *testing.T) {
	buf := &bytes.Buffer{}

	printError(buf, errors.New("no index found"))

	assert.Equal(t, "Error: no index found\n", buf.String())
}
