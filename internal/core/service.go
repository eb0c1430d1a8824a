package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/async"
	"github.com/joseph-ayodele/tender-docs/internal/common"
	"github.com/joseph-ayodele/tender-docs/internal/core/ocr"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
	"github.com/joseph-ayodele/tender-docs/internal/extract"
	"github.com/joseph-ayodele/tender-docs/internal/metrics"
	"github.com/joseph-ayodele/tender-docs/internal/repository"
)

const batchPollInterval = 500 * time.Millisecond

// Service drives the per-document OCR job lifecycle:
// pending -> processing -> completed | failed, with corrected reachable from
// any state. Requests only claim and enqueue; workers call Process.
type Service struct {
	logger  *slog.Logger
	docs    repository.DocumentRepository
	jobs    repository.OCRJobRepository
	batches repository.BatchRepository
	cascade extract.OCRRunner
	queue   async.Queue
	tracker *BatchTracker
}

func NewService(
	logger *slog.Logger,
	docs repository.DocumentRepository,
	jobs repository.OCRJobRepository,
	batches repository.BatchRepository,
	cascade extract.OCRRunner,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:  logger,
		docs:    docs,
		jobs:    jobs,
		batches: batches,
		cascade: cascade,
		tracker: NewBatchTracker(),
	}
}

// AttachQueue sets the worker pool. The pool itself calls back into Process,
// so it is wired after construction.
func (s *Service) AttachQueue(q async.Queue) {
	s.queue = q
}

// Tracker exposes batch progress notifications.
func (s *Service) Tracker() *BatchTracker {
	return s.tracker
}

// RequestOCR claims the document's job and schedules it. A document that is
// already processing yields ErrJobConflict and is left untouched.
func (s *Service) RequestOCR(ctx context.Context, documentID uuid.UUID) (*entity.OCRJob, error) {
	job, err := s.claim(ctx, documentID, nil)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, documentID, nil); err != nil {
		return nil, err
	}
	s.logger.Info("ocr job requested", "document_id", documentID)
	return job, nil
}

func (s *Service) claim(ctx context.Context, documentID uuid.UUID, batchID *string) (*entity.OCRJob, error) {
	if _, err := s.docs.GetByID(ctx, documentID); err != nil {
		return nil, err
	}
	if err := s.jobs.EnsurePending(ctx, documentID); err != nil {
		return nil, err
	}
	job, err := s.jobs.Claim(ctx, documentID, batchID)
	if err != nil {
		if errors.Is(err, common.ErrJobConflict) {
			metrics.JobConflict()
		}
		return nil, err
	}
	metrics.JobTransition(string(constants.JobStatusProcessing))
	return job, nil
}

// enqueue hands a claimed job to the pool. A job that cannot be queued is
// failed so it does not stay processing forever.
func (s *Service) enqueue(ctx context.Context, documentID uuid.UUID, batchID *string) error {
	if s.queue == nil {
		err := fmt.Errorf("%w: no worker pool attached", common.ErrInternal)
		s.fail(context.WithoutCancel(ctx), documentID, batchID, err.Error())
		return err
	}
	job := async.Job{DocumentID: documentID, BatchID: batchID, SubmittedAt: time.Now()}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.fail(context.WithoutCancel(ctx), documentID, batchID, fmt.Sprintf("could not queue ocr job: %v", err))
		return fmt.Errorf("enqueue ocr job: %w", err)
	}
	return nil
}

// Process runs one claimed job to a terminal state. It is called by the
// worker pool with the per-job deadline in ctx.
func (s *Service) Process(ctx context.Context, job async.Job) error {
	// Terminal writes must land even after the job deadline has passed.
	store := context.WithoutCancel(ctx)

	doc, err := s.docs.GetByID(store, job.DocumentID)
	if err != nil {
		s.fail(store, job.DocumentID, job.BatchID, fmt.Sprintf("load document: %v", err))
		return err
	}

	type outcome struct {
		text       string
		confidence float64
		method     string
		err        error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("unexpected failure during ocr: %v", r)}
			}
		}()
		text, conf, method, err := s.recognize(ctx, doc)
		done <- outcome{text, conf, method, err}
	}()

	var out outcome
	select {
	case out = <-done:
		if out.err == nil && ctx.Err() != nil {
			out.err = context.Cause(ctx)
		}
	case <-ctx.Done():
		out.err = context.Cause(ctx)
	}

	if out.err != nil {
		msg := out.err.Error()
		if errors.Is(out.err, context.DeadlineExceeded) || errors.Is(out.err, common.ErrTimeout) {
			msg = timeoutMessage(ctx, out.err)
		}
		s.fail(store, job.DocumentID, job.BatchID, msg)
		return out.err
	}

	applied, err := s.jobs.FinishSuccess(store, job.DocumentID, out.text, out.confidence, out.method)
	if err != nil {
		return err
	}
	if applied {
		metrics.JobTransition(string(constants.JobStatusCompleted))
	}
	common.LoggerFromContext(ctx, s.logger).Debug("ocr job completed", "method", out.method, "applied", applied)
	s.settleBatchItem(store, job.DocumentID, job.BatchID)
	return nil
}

// recognize produces the text for a stored document. Office and text files are
// converted directly; PDFs and images go through the engine cascade.
func (s *Service) recognize(ctx context.Context, doc *entity.Document) (string, float64, string, error) {
	src := extract.Source{Path: doc.StoragePath, Filename: doc.Filename}
	ext := doc.FileExt
	if ext == "" {
		ext, _ = constants.DetectFileType(doc.Filename)
	}

	if extract.CanConvert(ext) {
		text, err := extract.ConvertToText(ctx, src)
		if err != nil {
			return "", 0, "", err
		}
		return text, 1.0, constants.MethodTextConversion, nil
	}

	_, ft := constants.DetectFileType("x." + ext)
	if !ft.IsOCRBearing() {
		return "", 0, "", fmt.Errorf("%w: .%s files cannot be processed", common.ErrInvalidInput, ext)
	}
	if s.cascade == nil {
		return "", 0, "", fmt.Errorf("%w: no OCR engine configured", common.ErrEngineUnavailable)
	}

	res := s.cascade.Extract(ctx, ocr.NewInput(doc.StoragePath, nil, doc.Filename))
	if res == nil {
		return "", 0, "", errors.New("ocr returned no result")
	}
	if res.Status == constants.StatusError || res.Status == constants.StatusUnsupported {
		msg := res.Error
		if msg == "" {
			msg = res.Message
		}
		return "", 0, "", errors.New(msg)
	}
	if strings.TrimSpace(res.FullText) == "" {
		msg := "ocr produced no text"
		if res.Message != "" {
			msg += ": " + res.Message
		}
		return "", 0, "", errors.New(msg)
	}
	conf := 0.0
	if res.Confidence != nil {
		conf = *res.Confidence
	}
	return res.FullText, conf, res.ExtractionMethod, nil
}

func timeoutMessage(ctx context.Context, err error) string {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.DeadlineExceeded) {
		if msg := cause.Error(); strings.HasPrefix(msg, "ocr timed out") {
			return msg
		}
	}
	return fmt.Sprintf("ocr timed out: %v", err)
}

func (s *Service) fail(ctx context.Context, documentID uuid.UUID, batchID *string, msg string) {
	logger := common.LoggerFromContext(ctx, s.logger)
	applied, err := s.jobs.FinishFailure(ctx, documentID, msg)
	if err != nil {
		logger.Error("ocr job failure not recorded", "document_id", documentID, "error", err)
	}
	if applied {
		metrics.JobTransition(string(constants.JobStatusFailed))
	}
	logger.Warn("ocr job failed", "document_id", documentID, "applied", applied, "error", msg)
	s.settleBatchItem(ctx, documentID, batchID)
}

// settleBatchItem copies the job's final status onto its batch item and closes
// the batch once every item is terminal.
func (s *Service) settleBatchItem(ctx context.Context, documentID uuid.UUID, batchID *string) {
	if batchID == nil || s.batches == nil {
		return
	}
	job, err := s.jobs.Get(ctx, documentID)
	if err != nil {
		s.logger.Error("batch item not updated", "batch_id", *batchID, "document_id", documentID, "error", err)
		return
	}
	msg := ""
	if job.Status == constants.JobStatusFailed && job.ErrorMessage != nil {
		msg = *job.ErrorMessage
	}
	if err := s.batches.UpdateItem(ctx, *batchID, documentID, job.Status, msg); err != nil {
		s.logger.Error("batch item not updated", "batch_id", *batchID, "document_id", documentID, "error", err)
		return
	}
	s.closeBatchIfDone(ctx, *batchID)
	s.tracker.Notify(*batchID)
}

func (s *Service) closeBatchIfDone(ctx context.Context, batchID string) {
	b, err := s.batches.Get(ctx, batchID)
	if err != nil {
		s.logger.Error("batch lookup failed", "batch_id", batchID, "error", err)
		return
	}
	if b.Status != constants.BatchStatusCompleted || b.FinishedAt != nil {
		return
	}
	if err := s.batches.MarkFinished(ctx, batchID, time.Now().UTC()); err != nil {
		s.logger.Error("batch not marked finished", "batch_id", batchID, "error", err)
		return
	}
	s.logger.Info("ocr batch finished", "batch_id", batchID, "succeeded", b.Succeeded, "failed", b.Failed)
}

// GetStatus reports the job status. Documents never submitted are pending.
func (s *Service) GetStatus(ctx context.Context, documentID uuid.UUID) (*entity.OCRStatus, error) {
	job, err := s.jobs.Get(ctx, documentID)
	if errors.Is(err, common.ErrNotFound) {
		if _, err := s.docs.GetByID(ctx, documentID); err != nil {
			return nil, err
		}
		return entity.PendingStatus(documentID), nil
	}
	if err != nil {
		return nil, err
	}
	return job.StatusView(), nil
}

// Correct stores manually corrected text from any state.
func (s *Service) Correct(ctx context.Context, documentID uuid.UUID, text string) error {
	if _, err := s.docs.GetByID(ctx, documentID); err != nil {
		return err
	}
	job, err := s.jobs.Correct(ctx, documentID, text)
	if err != nil {
		return err
	}
	metrics.JobTransition(string(constants.JobStatusCorrected))
	if job.BatchID != nil {
		s.settleBatchItem(ctx, documentID, job.BatchID)
	}
	return nil
}

// NewBatchID returns an id of the form batch_<unix seconds>_<8 hex>.
func NewBatchID(now time.Time) string {
	return fmt.Sprintf("batch_%d_%s", now.Unix(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// BulkOCR claims and schedules every document and returns the batch
// acknowledgement. Documents that cannot be claimed become failed items.
func (s *Service) BulkOCR(ctx context.Context, documentIDs []uuid.UUID) (*entity.Batch, error) {
	if len(documentIDs) == 0 {
		return nil, fmt.Errorf("%w: no document ids", common.ErrInvalidInput)
	}
	now := time.Now().UTC()
	batchID := NewBatchID(now)
	batch := &entity.Batch{
		ID:             batchID,
		TotalDocuments: len(documentIDs),
		CreatedAt:      now,
		Items:          make([]entity.BatchItem, 0, len(documentIDs)),
	}

	var claimed []uuid.UUID
	for _, id := range documentIDs {
		item := entity.BatchItem{DocumentID: id, Status: constants.JobStatusProcessing}
		if _, err := s.claim(ctx, id, &batchID); err != nil {
			if !errors.Is(err, common.ErrNotFound) && !errors.Is(err, common.ErrJobConflict) {
				return nil, err
			}
			item.Status = constants.JobStatusFailed
			item.Error = err.Error()
		} else {
			claimed = append(claimed, id)
		}
		batch.Items = append(batch.Items, item)
	}

	if err := s.batches.Create(ctx, batch); err != nil {
		for _, id := range claimed {
			s.fail(context.WithoutCancel(ctx), id, nil, fmt.Sprintf("batch not recorded: %v", err))
		}
		return nil, err
	}
	s.logger.Info("ocr batch created", "batch_id", batchID, "total", len(documentIDs), "claimed", len(claimed))

	for _, id := range claimed {
		if err := s.enqueue(ctx, id, &batchID); err != nil {
			s.logger.Error("batch item not queued", "batch_id", batchID, "document_id", id, "error", err)
		}
	}
	if len(claimed) == 0 {
		s.closeBatchIfDone(ctx, batchID)
	}

	// The acknowledgement reports nothing processed yet; immediate failures are
	// visible in Items and in the first poll.
	ack := *batch
	ack.Status = constants.BatchStatusProcessing
	return &ack, nil
}

// BatchStatus returns the current aggregate of a batch.
func (s *Service) BatchStatus(ctx context.Context, batchID string) (*entity.Batch, error) {
	return s.batches.Get(ctx, batchID)
}

// WaitBatch blocks until every item of the batch is terminal or ctx is done.
func (s *Service) WaitBatch(ctx context.Context, batchID string) (*entity.Batch, error) {
	ticker := time.NewTicker(batchPollInterval)
	defer ticker.Stop()
	for {
		changed := s.tracker.Changed(batchID)
		b, err := s.batches.Get(ctx, batchID)
		if err != nil {
			return nil, err
		}
		if b.Status == constants.BatchStatusCompleted {
			return b, nil
		}
		select {
		case <-ctx.Done():
			return b, ctx.Err()
		case <-changed:
		case <-ticker.C:
		}
	}
}

// RecoverInterrupted fails jobs a previous process left in processing.
func (s *Service) RecoverInterrupted(ctx context.Context) error {
	n, err := s.jobs.FailInterrupted(ctx, "ocr interrupted by service restart")
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Warn("recovered interrupted ocr jobs", "count", n)
	}
	return nil
}
