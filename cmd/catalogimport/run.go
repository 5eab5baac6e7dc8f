package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/notify"
)

var (
	runFile     string
	runUser     string
	runEncoding string
	runVariants bool
	runReport   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Import a catalog file",
	Long: `Import a CSV or XLSX catalog file block by block. Blocks that fail are
rolled back and written to the failure report; the rest are committed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		svc, err := core.NewService(store, store, cfg.Import,
			core.WithLogger(logger),
			core.WithNotifier(notify.LogNotifier{Logger: logger}),
		)
		if err != nil {
			return err
		}

		f, err := os.Open(runFile)
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}

		rec, err := svc.StartImport(ctx, core.ImportRequest{
			UserID:       runUser,
			FileName:     filepath.Base(runFile),
			Data:         f,
			Size:         info.Size(),
			Encoding:     runEncoding,
			VariantsOnly: runVariants,
		})
		if err != nil {
			return err
		}

		progress, err := svc.SubscribeProgress(ctx, rec.ID)
		if err != nil {
			return err
		}
		for p := range progress {
			if p.Block > 0 && !p.Done() {
				fmt.Fprintf(cmd.ErrOrStderr(), "block %d (line %d) %s: %d committed, %d failed\n",
					p.Block, p.Line, p.Product, p.Committed, p.Failed)
			}
		}
		if err := svc.Drain(ctx); err != nil {
			return err
		}

		rec, err = svc.GetImport(ctx, rec.ID)
		if err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), rec)

		if rec.HasReport() && runReport != "" {
			if err := copyReport(svc, cmd, rec.ID); err != nil {
				return err
			}
		}
		if rec.Status == catalog.ImportFailed {
			return fmt.Errorf("import %s failed", rec.ID)
		}
		return nil
	},
}

func printSummary(w io.Writer, rec *catalog.ImportRecord) {
	fmt.Fprintf(w, `
=== Catalog Import ===
Import:     %s
File:       %s
Status:     %s
Blocks:     %d
Committed:  %d
Failed:     %d
Warnings:   %d
`, rec.ID, rec.FileName, rec.Status, rec.Blocks, rec.Committed, rec.Failed, rec.Warnings)
	if rec.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", core.FormatUserError(fmt.Errorf("%s", rec.Error)))
	}
	if rec.StartedAt != nil && rec.FinishedAt != nil {
		fmt.Fprintf(w, "Duration:   %s\n", rec.FinishedAt.Sub(*rec.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintln(w, "======================")
}

func copyReport(svc *core.Service, cmd *cobra.Command, id string) error {
	report, _, err := svc.OpenReport(cmd.Context(), id)
	if err != nil {
		return err
	}
	defer report.Close()

	out, err := os.Create(runReport)
	if err != nil {
		return fmt.Errorf("create %s: %w", runReport, err)
	}
	if _, err := io.Copy(out, report); err != nil {
		out.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Failure report written to %s\n", runReport)
	return nil
}

func init() {
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "CSV or XLSX catalog file (required)")
	runCmd.MarkFlagRequired("file")
	runCmd.Flags().StringVar(&runUser, "user", "", "user recorded on the import")
	runCmd.Flags().StringVar(&runEncoding, "encoding", "", "character encoding of a CSV file (default IMPORT_ENCODING)")
	runCmd.Flags().BoolVar(&runVariants, "variants", false, "file holds variants of existing products, keyed by slug")
	runCmd.Flags().StringVar(&runReport, "report", "", "write the failure report to this file")
	rootCmd.AddCommand(runCmd)
}
