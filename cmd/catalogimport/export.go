package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/catalogimport/internal/importer"
)

var (
	exportOut      string
	exportEncoding string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every product and variant in the import format",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		enc := exportEncoding
		if enc == "" {
			enc = cfg.Import.Encoding
		}

		var w io.Writer = cmd.OutOrStdout()
		if exportOut != "" && exportOut != "-" {
			f, err := os.Create(exportOut)
			if err != nil {
				return fmt.Errorf("create %s: %w", exportOut, err)
			}
			defer f.Close()
			w = f
		}

		n, err := importer.ExportCatalog(ctx, store, w, enc)
		if err != nil {
			return err
		}
		logger.Info("products exported", "products", n, "encoding", enc, "out", exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
	exportCmd.Flags().StringVar(&exportEncoding, "encoding", "", "character encoding of the output (default IMPORT_ENCODING)")
	rootCmd.AddCommand(exportCmd)
}
