package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/tender-docs/internal/common"
)

// cli carries state shared by every subcommand.
type cli struct {
	configFile string
	logLevel   string
	logFormat  string

	cfg    *common.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "tenderdocs",
		Short: "Extract text and structure from tender and vendor documents",
		Long: `tenderdocs turns spreadsheets, word documents, presentations, text files,
PDFs and images into one normalized extraction result, and runs OCR jobs for
registered documents.

Examples:
  tenderdocs extract bid.xlsx scope.docx --format yaml
  tenderdocs ingest ./inbox --ocr
  tenderdocs ocr status 7d1c8a1e-3f1b-4b8e-9a59-0f2a9c3b7e11
  tenderdocs serve`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&c.configFile, "config", "", "config file (default: ./tenderdocs.yaml or /etc/tenderdocs/tenderdocs.yaml)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", "", "log format: json or text (overrides LOG_FORMAT)")

	root.AddCommand(
		newExtractCmd(c),
		newIngestCmd(c),
		newOCRCmd(c),
		newServeCmd(c),
		newDBHealthCmd(c),
		newSchemaCmd(c),
	)
	return root
}

// init loads configuration and installs the process logger.
func (c *cli) init(logOut io.Writer) error {
	cfg, err := common.LoadConfig(c.configFile)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if c.logFormat != "" {
		cfg.Log.Format = c.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	logger, err := newLogger(logOut, cfg.Log)
	if err != nil {
		return err
	}
	c.logger = logger
	slog.SetDefault(logger)
	return nil
}

func newLogger(w io.Writer, cfg common.LogConfig) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown log level %q", cfg.Level), common.ErrInvalidInput)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown log format %q", cfg.Format), common.ErrInvalidInput)
	}
}
