package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/tender-docs/internal/common"
	"github.com/joseph-ayodele/tender-docs/internal/core"
	coreasync "github.com/joseph-ayodele/tender-docs/internal/core/async"
	"github.com/joseph-ayodele/tender-docs/internal/core/ocr"
	"github.com/joseph-ayodele/tender-docs/internal/export"
	"github.com/joseph-ayodele/tender-docs/internal/ingest"
	"github.com/joseph-ayodele/tender-docs/internal/repository"
)

// app is the wired set of stores for commands that touch the database.
type app struct {
	cfg    *common.Config
	logger *slog.Logger

	db      *repository.DB
	docs    repository.DocumentRepository
	jobs    repository.OCRJobRepository
	batches repository.BatchRepository
}

func (c *cli) openApp(ctx context.Context) (*app, error) {
	db, err := repository.Open(ctx, dbConfig(c.cfg.Database), c.logger)
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(ctx, db, c.logger); err != nil {
		repository.Close(db, c.logger)
		return nil, err
	}
	return &app{
		cfg:     c.cfg,
		logger:  c.logger,
		db:      db,
		docs:    repository.NewDocumentRepository(db, c.logger),
		jobs:    repository.NewOCRJobRepository(db, c.logger),
		batches: repository.NewBatchRepository(db, c.logger),
	}, nil
}

func (a *app) close() { repository.Close(a.db, a.logger) }

func (a *app) ingestor() *ingest.FSIngestor {
	return ingest.NewFSIngestor(a.docs, a.cfg.Storage.DocumentDir, a.logger)
}

func (a *app) exporter() *export.Service {
	return export.NewService(a.jobs, a.docs, a.logger)
}

// jobService starts the OCR worker pool. Callers must shut the queue down,
// which drains outstanding jobs.
func (a *app) jobService(cascade *ocr.Cascade) (*core.Service, *coreasync.ProcessorQueue) {
	svc := core.NewService(a.logger, a.docs, a.jobs, a.batches, cascade)
	queue := coreasync.NewProcessorQueue(svc, a.logger,
		coreasync.WithWorkers(a.cfg.Jobs.Workers),
		coreasync.WithQueueSize(a.cfg.Jobs.QueueSize),
		coreasync.WithProcessTimeout(a.cfg.Jobs.Timeout),
	)
	svc.AttachQueue(queue)
	return svc, queue
}

// queries returns a service without a worker pool, for reads and corrections.
func (a *app) queries() *core.Service {
	return core.NewService(a.logger, a.docs, a.jobs, a.batches, nil)
}

// drain waits for queued jobs, bounded by one job timeout past the last start.
func (a *app) drain(queue *coreasync.ProcessorQueue) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Jobs.Timeout+30*time.Second)
	defer cancel()
	queue.Shutdown(ctx)
}

func (c *cli) cascade(ctx context.Context) (*ocr.Cascade, error) {
	cascade, err := ocr.NewDefaultCascade(ctx, ocrConfig(c.cfg.OCR), c.cfg.OCR.Engines, c.logger)
	if err != nil {
		return nil, fmt.Errorf("build ocr engines: %w", err)
	}
	for name, reason := range cascade.Unavailable() {
		c.logger.Debug("ocr engine unavailable", "engine", name, "reason", reason)
	}
	return cascade, nil
}

func dbConfig(cfg common.DatabaseConfig) repository.Config {
	return repository.Config{
		Driver:           cfg.Driver,
		DSN:              cfg.DSN,
		MaxConns:         cfg.MaxConns,
		MinConns:         cfg.MinConns,
		MaxConnLifetime:  cfg.MaxConnLifetime,
		MaxConnIdleTime:  cfg.MaxConnIdleTime,
		DialTimeout:      cfg.DialTimeout,
		StatementTimeout: cfg.StatementTimeout,
	}
}

func ocrConfig(cfg common.OCRConfig) ocr.Config {
	return ocr.Config{
		Pdftoppm:              cfg.Pdftoppm,
		Tesseract:             cfg.Tesseract,
		TesseractLang:         cfg.TesseractLang,
		TessdataDir:           cfg.TessdataDir,
		DPI:                   cfg.DPI,
		MaxPages:              cfg.MaxPages,
		PageParallelism:       cfg.PageParallelism,
		ArtifactCacheDir:      cfg.ArtifactCacheDir,
		GoogleCredentialsJSON: cfg.GoogleCredentials,
		GoogleCredentialsFile: cfg.GoogleCredsFile,
		DocumentAIProject:     cfg.DocumentAIProject,
		DocumentAILocation:    cfg.DocumentAILocation,
		DocumentAIProcessor:   cfg.DocumentAIProc,
		EngineTimeout:         cfg.EngineTimeout,
	}
}

func parseDocumentIDs(args []string) ([]uuid.UUID, error) {
	if err := common.NewValidator().Field("document_id", args, common.Required, common.UUID).Err(); err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(args))
	for _, a := range args {
		ids = append(ids, uuid.MustParse(a))
	}
	return ids, nil
}
