package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/tender-docs/internal/core"
	coreasync "github.com/joseph-ayodele/tender-docs/internal/core/async"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
	"github.com/joseph-ayodele/tender-docs/internal/ingest"
)

type ingestView struct {
	SourcePath   string            `json:"source_path"`
	DocumentID   string            `json:"document_id,omitempty"`
	Deduplicated bool              `json:"deduplicated"`
	ContentHash  string            `json:"content_hash,omitempty"`
	Error        string            `json:"error,omitempty"`
	OCR          *entity.OCRStatus `json:"ocr,omitempty"`
}

type ingestReport struct {
	Stats   *ingest.DirStats `json:"stats,omitempty"`
	Results []ingestView     `json:"results"`
}

func viewOf(r ingest.IngestionResult) ingestView {
	return ingestView{
		SourcePath:   r.SourcePath,
		DocumentID:   r.DocumentID,
		Deduplicated: r.Deduplicated,
		ContentHash:  r.HashHex,
		Error:        r.Err,
	}
}

func newIngestCmd(c *cli) *cobra.Command {
	var (
		requestOCR bool
		skipHidden bool
		format     string
	)
	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Register a file or every supported file under a directory",
		Long: `Ingest stores files in the document store, deduplicated by content hash.
With --ocr an OCR job is requested for each registered document and the
command waits for the jobs to finish.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			ing := a.ingestor()

			var report ingestReport
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			if info.IsDir() {
				results, stats, err := ing.IngestDirectory(ctx, args[0], skipHidden)
				if err != nil {
					return err
				}
				report.Stats = &stats
				for _, r := range results {
					report.Results = append(report.Results, viewOf(r))
				}
			} else {
				r, err := ing.IngestPath(ctx, args[0])
				if err != nil {
					return err
				}
				report.Results = []ingestView{viewOf(r)}
			}

			if requestOCR {
				if err := c.requestAndWait(ctx, a, report.Results); err != nil {
					return err
				}
			}
			return printValue(cmd.OutOrStdout(), format, report)
		},
	}
	cmd.Flags().BoolVar(&requestOCR, "ocr", false, "request OCR for every registered document and wait for the results")
	cmd.Flags().BoolVar(&skipHidden, "skip-hidden", true, "skip dot files and dot directories")
	cmd.Flags().StringVarP(&format, "format", "f", formatJSON, "output format: json or yaml")
	cmd.AddCommand(newIngestWatchCmd(c))
	return cmd
}

// requestAndWait runs OCR for every ingested document on a local worker pool
// and fills in the final status.
func (c *cli) requestAndWait(ctx context.Context, a *app, views []ingestView) error {
	cascade, err := c.cascade(ctx)
	if err != nil {
		return err
	}
	svc, queue := a.jobService(cascade)
	for i := range views {
		if views[i].DocumentID == "" {
			continue
		}
		if _, err := svc.RequestOCR(ctx, uuid.MustParse(views[i].DocumentID)); err != nil {
			views[i].Error = err.Error()
		}
	}
	a.drain(queue)

	for i := range views {
		if views[i].DocumentID == "" {
			continue
		}
		st, err := svc.GetStatus(context.WithoutCancel(ctx), uuid.MustParse(views[i].DocumentID))
		if err != nil {
			return err
		}
		views[i].OCR = st
	}
	return nil
}

func newIngestWatchCmd(c *cli) *cobra.Command {
	var (
		requestOCR  bool
		initialScan bool
		debounce    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>...",
		Short: "Watch directories and register files as they appear",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			var svc *core.Service
			if requestOCR {
				cascade, err := c.cascade(ctx)
				if err != nil {
					return err
				}
				var queue *coreasync.ProcessorQueue
				svc, queue = a.jobService(cascade)
				defer a.drain(queue)
				if err := svc.RecoverInterrupted(ctx); err != nil {
					return err
				}
			}

			onIngest := func(ctx context.Context, r ingest.IngestionResult) {
				c.logger.Info("document registered", "path", r.SourcePath, "document_id", r.DocumentID, "deduplicated", r.Deduplicated)
				if svc == nil {
					return
				}
				if _, err := svc.RequestOCR(ctx, uuid.MustParse(r.DocumentID)); err != nil {
					c.logger.Warn("ocr not requested", "document_id", r.DocumentID, "error", err)
				}
			}

			cfg := ingest.WatchConfig{Roots: args, InitialScan: initialScan, SkipHidden: true, Debounce: debounce}
			c.logger.Info("watching directories", "roots", args, "ocr", requestOCR)
			err = ingest.Watch(ctx, a.ingestor(), cfg, c.logger, onIngest)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&requestOCR, "ocr", false, "request OCR for every registered document")
	cmd.Flags().BoolVar(&initialScan, "initial-scan", true, "register files already present before watching")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "coalesce bursts of file events")
	return cmd
}
