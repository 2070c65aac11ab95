package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/chunk"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/corpus"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/output"
)

func newChunkCmd() *cobra.Command {
	var (
		outPath   string
		chunkSize int
		overlap   int
	)

	cmd := &cobra.Command{
		Use:   "chunk <input.csv|input.jsonl>",
		Short: "Split raw maintenance logs into chunks",
		Long: `Split raw maintenance logs into sentence-aligned chunks.

The input is a CSV or JSONL file with a text column, an optional doc_id
column, and any number of metadata columns (category, line, location,
equipment1..3, date, ...). Records missing doc_id get a content hash.

The chunks are written as JSONL to paths.chunks_file, the input of
'assistchat build'.

Examples:
  assistchat chunk data/raw/logs.csv
  assistchat chunk data/raw/logs.jsonl --chunk-size 300 --overlap 30`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := currentConfig()
			if outPath == "" {
				outPath = cfg.Paths.ChunksFile
			}
			if !cmd.Flags().Changed("chunk-size") {
				chunkSize = cfg.Chunking.ChunkSize
			}
			if !cmd.Flags().Changed("overlap") {
				overlap = cfg.Chunking.Overlap
			}
			return runChunk(cmd, args[0], outPath, chunk.Options{ChunkSize: chunkSize, Overlap: overlap})
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output JSONL (default: paths.chunks_file)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", chunk.DefaultChunkSize, "Maximum characters per chunk")
	cmd.Flags().IntVar(&overlap, "overlap", chunk.DefaultOverlap, "Characters carried into the next chunk")

	return cmd
}

func runChunk(cmd *cobra.Command, input, outPath string, opts chunk.Options) error {
	docs, err := corpus.ReadDocuments(input)
	if err != nil {
		return err
	}

	records := chunk.NewSentenceChunker(opts).ChunkAll(docs)
	if len(records) == 0 {
		return fmt.Errorf("no chunks produced from %s: every document has empty text", input)
	}

	if err := corpus.WriteRecords(outPath, records); err != nil {
		return err
	}

	slog.Info("chunk_complete",
		slog.String("input", input),
		slog.String("output", outPath),
		slog.Int("documents", len(docs)),
		slog.Int("chunks", len(records)))

	out := output.New(cmd.OutOrStdout())
	out.Successf("Chunked %d documents into %d chunks: %s", len(docs), len(records), outPath)
	out.Hint("Next: assistchat build --chunks %s", outPath)
	return nil
}
