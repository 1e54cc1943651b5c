package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/localdocs/docengine/internal/metadata"
)

// newIndexDocCmd exposes a one-shot index_document call for local debugging.
// API consumers never need this; it mirrors the one-off indexing script the
// original project shipped alongside its server.
func newIndexDocCmd() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "index-doc <path>",
		Short: "Index a single document, reading its content from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			content, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}

			ctx := cmd.Context()
			eng, err := buildEngine(ctx, dataDir)
			if err != nil {
				return fmt.Errorf("build engine: %w", err)
			}

			hash := metadata.FingerprintFile(path)
			chunkCount, err := eng.indexer.IndexDocument(ctx, path, hash, string(content))
			if err != nil {
				return fmt.Errorf("index document: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"success":     true,
				"file_hash":   hash,
				"chunk_count": chunkCount,
			})
		},
	}

	cmd.Flags().StringVar(&dataDir, "dir", ".", "Project directory to load .docengine.yaml from")

	return cmd
}
