package main

import (
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/tender-docs/internal/entity"
	"github.com/joseph-ayodele/tender-docs/internal/extract"
)

func newExtractCmd(c *cli) *cobra.Command {
	var (
		format string
		noOCR  bool
	)
	cmd := &cobra.Command{
		Use:   "extract <file>...",
		Short: "Extract one or more files and print the results",
		Long: `Extract runs the format detector and the matching extractor for every file.
PDFs and images go through the configured OCR engines unless --no-ocr is set.
One file prints one result; several files print a list.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			var runner extract.OCRRunner
			if !noOCR {
				cascade, err := c.cascade(cmd.Context())
				if err != nil {
					return err
				}
				runner = cascade
			}
			orch := extract.NewOrchestrator(runner, c.logger, extract.WithStrictSchema(c.cfg.OCR.StrictSchema))

			results := make([]*entity.ExtractionResult, 0, len(args))
			for _, path := range args {
				results = append(results, orch.ExtractFile(cmd.Context(), path))
			}
			if len(results) == 1 {
				return printValue(cmd.OutOrStdout(), format, results[0])
			}
			return printValue(cmd.OutOrStdout(), format, results)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatJSON, "output format: json or yaml")
	cmd.Flags().BoolVar(&noOCR, "no-ocr", false, "skip OCR engines; PDFs and images report an error result")
	return cmd
}
