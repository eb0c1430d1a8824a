package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
)

func newOCRCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ocr",
		Short: "Run and inspect OCR jobs for registered documents",
	}
	cmd.AddCommand(
		newOCRRequestCmd(c),
		newOCRStatusCmd(c),
		newOCRCorrectCmd(c),
		newOCRBulkCmd(c),
		newOCRExportCmd(c),
	)
	return cmd
}

func newOCRRequestCmd(c *cli) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "request <document-id>...",
		Short: "Run OCR for documents and print the final statuses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			ids, err := parseDocumentIDs(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			cascade, err := c.cascade(ctx)
			if err != nil {
				return err
			}

			svc, queue := a.jobService(cascade)
			var errs []error
			for _, id := range ids {
				if _, err := svc.RequestOCR(ctx, id); err != nil {
					errs = append(errs, err)
				}
			}
			a.drain(queue)

			statuses := make([]*entity.OCRStatus, 0, len(ids))
			for _, id := range ids {
				st, err := svc.GetStatus(context.WithoutCancel(ctx), id)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				statuses = append(statuses, st)
			}
			if err := printValue(cmd.OutOrStdout(), format, statuses); err != nil {
				return err
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatJSON, "output format: json or yaml")
	return cmd
}

func newOCRStatusCmd(c *cli) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "status <document-id>",
		Short: "Print the OCR status of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			ids, err := parseDocumentIDs(args)
			if err != nil {
				return err
			}
			a, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			svc := a.queries()
			st, err := svc.GetStatus(cmd.Context(), ids[0])
			if err != nil {
				return err
			}
			return printValue(cmd.OutOrStdout(), format, st)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatJSON, "output format: json or yaml")
	return cmd
}

func newOCRCorrectCmd(c *cli) *cobra.Command {
	var (
		text     string
		textFile string
	)
	cmd := &cobra.Command{
		Use:   "correct <document-id>",
		Short: "Replace a document's OCR text with a manual correction",
		Long: `Correct stores the given text and marks the job corrected. The text comes
from --text, from --file, or from standard input when neither is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseDocumentIDs(args)
			if err != nil {
				return err
			}
			body, err := correctionText(cmd, text, textFile)
			if err != nil {
				return err
			}
			a, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			svc := a.queries()
			if err := svc.Correct(cmd.Context(), ids[0], body); err != nil {
				return err
			}
			st, err := svc.GetStatus(cmd.Context(), ids[0])
			if err != nil {
				return err
			}
			return printValue(cmd.OutOrStdout(), formatJSON, st)
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "corrected text")
	cmd.Flags().StringVar(&textFile, "file", "", "read the corrected text from a file")
	cmd.MarkFlagsMutuallyExclusive("text", "file")
	return cmd
}

func correctionText(cmd *cobra.Command, text, file string) (string, error) {
	switch {
	case cmd.Flags().Changed("text"):
		return text, nil
	case file != "":
		raw, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	default:
		raw, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(raw), "\n"), nil
	}
}

func newOCRBulkCmd(c *cli) *cobra.Command {
	var (
		format string
		wait   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "bulk <document-id>...",
		Short: "Run OCR for many documents as one batch and print the aggregate",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			ids, err := parseDocumentIDs(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			cascade, err := c.cascade(ctx)
			if err != nil {
				return err
			}

			svc, queue := a.jobService(cascade)
			defer a.drain(queue)
			ack, err := svc.BulkOCR(ctx, ids)
			if err != nil {
				return err
			}
			c.logger.Info("ocr batch accepted", "batch_id", ack.ID, "total", ack.TotalDocuments)

			wctx, cancel := context.WithTimeout(ctx, wait)
			defer cancel()
			batch, err := svc.WaitBatch(wctx, ack.ID)
			if err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if err := printValue(cmd.OutOrStdout(), format, batch); err != nil {
				return err
			}
			if batch.Status != constants.BatchStatusCompleted {
				return fmt.Errorf("batch %s still processing after %s", batch.ID, wait)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatJSON, "output format: json or yaml")
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Minute, "how long to wait for the batch to complete")
	return cmd
}

func newOCRExportCmd(c *cli) *cobra.Command {
	var (
		status string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write OCR job statuses to an xlsx workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			data, err := a.exporter().ExportJobsXLSX(cmd.Context(), constants.JobStatus(status))
			if err != nil {
				return err
			}
			if out == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			c.logger.Info("ocr jobs exported", "path", out, "status", status, "bytes", len(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only export jobs in this status")
	cmd.Flags().StringVarP(&out, "out", "o", "ocr-jobs.xlsx", "output file, or - for stdout")
	return cmd
}
