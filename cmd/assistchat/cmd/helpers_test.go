package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testLogsCSV = `doc_id,date,category,line,equipment1,title,text
DOC-001,2022-04-12,機械,A,プレス,油圧ユニット異音,油圧ポンプから異音が発生した。ストレーナの目詰まりを清掃して解消した。
DOC-002,2019-08-03,電気,B,コンベア,ブレーカートリップ,コンベアのモーターが停止し、ブレーカーがトリップしていた。絶縁抵抗を測定した。
DOC-003,2023-01-20,機械,B,搬送機,ベアリング交換,搬送機のローラーから振動が出ていたためベアリングを交換した。
`

// setupProject creates a project directory with a config that uses the
// static embedder, no reranker and logs inside the directory, then changes
// into it.
func setupProject(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("ASSISTCHAT_EMBEDDER", "static")

	cfg := `embeddings:
  provider: static
  dimensions: 32
reranker:
  enabled: false
paths:
  index_dir: data/indices
  chunks_file: data/chunks.jsonl
  telemetry_db: data/telemetry.db
logging:
  dir: logs
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assistchat.yaml"), []byte(cfg), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logs.csv"), []byte(testLogsCSV), 0o644))

	t.Chdir(dir)
	return dir
}

// runCLI executes the root command with args and returns its stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

// buildIndex runs chunk and build in the current project.
func buildIndex(t *testing.T) {
	t.Helper()

	_, err := runCLI(t, "chunk", "logs.csv")
	require.NoError(t, err)
	_, err = runCLI(t, "build", "--no-tui", "--no-color")
	require.NoError(t, err)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
