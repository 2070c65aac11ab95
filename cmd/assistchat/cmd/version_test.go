package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyugoHori/AssistChat-Portfolio/pkg/version"
)

func TestVersionCmd_Default(t *testing.T) {
	setupProject(t)

	out, err := runCLI(t, "version")

	require.NoError(t, err)
	assert.Contains(t, out, "assistchat")
	assert.Contains(t, out, version.Version)
}

func TestVersionCmd_JSON(t *testing.T) {
	setupProject(t)

	out, err := runCLI(t, "version", "--json")

	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info["version"])
}
