package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/common"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
)

// OCRJobRepository persists the per-document OCR status record. Every status
// change is a single conditional statement so concurrent requests for one
// document are serialized by the database.
type OCRJobRepository interface {
	Get(ctx context.Context, documentID uuid.UUID) (*entity.OCRJob, error)
	EnsurePending(ctx context.Context, documentID uuid.UUID) error
	Claim(ctx context.Context, documentID uuid.UUID, batchID *string) (*entity.OCRJob, error)
	FinishSuccess(ctx context.Context, documentID uuid.UUID, text string, confidence float64, method string) (bool, error)
	FinishFailure(ctx context.Context, documentID uuid.UUID, message string) (bool, error)
	Correct(ctx context.Context, documentID uuid.UUID, text string) (*entity.OCRJob, error)
	FailInterrupted(ctx context.Context, message string) (int64, error)
	List(ctx context.Context, status constants.JobStatus, limit int) ([]*entity.OCRJob, error)
}

var ocrJobColumns = []string{
	"document_id", "status", "ocr_text", "corrected_text", "confidence", "extraction_method",
	"error_message", "batch_id", "started_at", "processed_at", "created_at", "updated_at",
}

type ocrJobRepo struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

func NewOCRJobRepository(db *DB, logger *slog.Logger) OCRJobRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &ocrJobRepo{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (r *ocrJobRepo) Get(ctx context.Context, documentID uuid.UUID) (*entity.OCRJob, error) {
	b := r.db.builder()
	query, args := b.Select(ocrJobColumns...).
		From(b.Table(TableOCRJob)).
		Where(entsql.EQ("document_id", documentID.String())).
		Limit(1).
		Query()

	var job *entity.OCRJob
	err := r.db.query(ctx, query, args, func(rows *entsql.Rows) error {
		j, err := scanOCRJob(rows)
		job = j
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get ocr job: %v", common.ErrDatabase, err)
	}
	if job == nil {
		return nil, common.ErrNotFound
	}
	return job, nil
}

func (r *ocrJobRepo) EnsurePending(ctx context.Context, documentID uuid.UUID) error {
	now := r.now()
	query, args := r.db.builder().Insert(TableOCRJob).
		Columns("document_id", "status", "created_at", "updated_at").
		Values(documentID.String(), string(constants.JobStatusPending), now, now).
		OnConflict(entsql.ConflictColumns("document_id"), entsql.DoNothing()).
		Query()
	if _, err := r.db.exec(ctx, query, args); err != nil {
		r.logger.Error("ocr_job create failed", "document_id", documentID, "error", err)
		return fmt.Errorf("%w: create ocr job: %v", common.ErrDatabase, err)
	}
	return nil
}

// Claim moves the job to processing unless it is already there. The check and
// the transition are one UPDATE; zero affected rows means another caller holds
// the claim.
func (r *ocrJobRepo) Claim(ctx context.Context, documentID uuid.UUID, batchID *string) (*entity.OCRJob, error) {
	now := r.now()
	upd := r.db.builder().Update(TableOCRJob).
		Set("status", string(constants.JobStatusProcessing)).
		Set("started_at", now).
		Set("updated_at", now).
		SetNull("error_message").
		SetNull("processed_at")
	if batchID != nil {
		upd.Set("batch_id", *batchID)
	} else {
		upd.SetNull("batch_id")
	}
	query, args := upd.Where(entsql.And(
		entsql.EQ("document_id", documentID.String()),
		entsql.NEQ("status", string(constants.JobStatusProcessing)),
	)).Query()

	n, err := r.db.exec(ctx, query, args)
	if err != nil {
		r.logger.Error("ocr_job claim failed", "document_id", documentID, "error", err)
		return nil, fmt.Errorf("%w: claim ocr job: %v", common.ErrDatabase, err)
	}
	if n == 0 {
		if _, err := r.Get(ctx, documentID); err != nil {
			return nil, err
		}
		r.logger.Warn("ocr_job already processing", "document_id", documentID)
		return nil, common.ConflictError(documentID.String())
	}
	r.logger.Info("ocr_job claimed", "document_id", documentID)
	return r.Get(ctx, documentID)
}

// FinishSuccess records the result of a processing job. It reports false when
// the job left processing in the meantime, e.g. because it was corrected.
func (r *ocrJobRepo) FinishSuccess(ctx context.Context, documentID uuid.UUID, text string, confidence float64, method string) (bool, error) {
	now := r.now()
	query, args := r.db.builder().Update(TableOCRJob).
		Set("status", string(constants.JobStatusCompleted)).
		Set("ocr_text", text).
		Set("confidence", confidence).
		Set("extraction_method", method).
		SetNull("error_message").
		Set("processed_at", now).
		Set("updated_at", now).
		Where(r.processing(documentID)).
		Query()
	n, err := r.db.exec(ctx, query, args)
	if err != nil {
		r.logger.Error("ocr_job finish(completed) failed", "document_id", documentID, "error", err)
		return false, fmt.Errorf("%w: finish ocr job: %v", common.ErrDatabase, err)
	}
	r.logger.Info("ocr_job finished", "document_id", documentID, "status", constants.JobStatusCompleted, "method", method, "applied", n > 0)
	return n > 0, nil
}

func (r *ocrJobRepo) FinishFailure(ctx context.Context, documentID uuid.UUID, message string) (bool, error) {
	now := r.now()
	query, args := r.db.builder().Update(TableOCRJob).
		Set("status", string(constants.JobStatusFailed)).
		Set("error_message", message).
		Set("processed_at", now).
		Set("updated_at", now).
		Where(r.processing(documentID)).
		Query()
	n, err := r.db.exec(ctx, query, args)
	if err != nil {
		r.logger.Error("ocr_job finish(failed) failed", "document_id", documentID, "error", err)
		return false, fmt.Errorf("%w: finish ocr job: %v", common.ErrDatabase, err)
	}
	r.logger.Warn("ocr_job finished", "document_id", documentID, "status", constants.JobStatusFailed, "error", message, "applied", n > 0)
	return n > 0, nil
}

func (r *ocrJobRepo) processing(documentID uuid.UUID) *entsql.Predicate {
	return entsql.And(
		entsql.EQ("document_id", documentID.String()),
		entsql.EQ("status", string(constants.JobStatusProcessing)),
	)
}

// Correct stores a manual correction from any state, creating the record if needed.
func (r *ocrJobRepo) Correct(ctx context.Context, documentID uuid.UUID, text string) (*entity.OCRJob, error) {
	now := r.now()
	query, args := r.db.builder().Insert(TableOCRJob).
		Columns("document_id", "status", "corrected_text", "created_at", "updated_at").
		Values(documentID.String(), string(constants.JobStatusCorrected), text, now, now).
		OnConflict(
			entsql.ConflictColumns("document_id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("status")
				u.SetExcluded("corrected_text")
				u.SetExcluded("updated_at")
			}),
		).
		Query()
	if _, err := r.db.exec(ctx, query, args); err != nil {
		r.logger.Error("ocr_job correct failed", "document_id", documentID, "error", err)
		return nil, fmt.Errorf("%w: correct ocr job: %v", common.ErrDatabase, err)
	}
	r.logger.Info("ocr_job corrected", "document_id", documentID, "chars", len(text))
	return r.Get(ctx, documentID)
}

// FailInterrupted fails jobs left in processing by a previous process.
func (r *ocrJobRepo) FailInterrupted(ctx context.Context, message string) (int64, error) {
	now := r.now()
	query, args := r.db.builder().Update(TableOCRJob).
		Set("status", string(constants.JobStatusFailed)).
		Set("error_message", message).
		Set("processed_at", now).
		Set("updated_at", now).
		Where(entsql.EQ("status", string(constants.JobStatusProcessing))).
		Query()
	n, err := r.db.exec(ctx, query, args)
	if err != nil {
		return 0, fmt.Errorf("%w: fail interrupted jobs: %v", common.ErrDatabase, err)
	}
	if n > 0 {
		r.logger.Warn("failed interrupted ocr jobs", "count", n)
	}
	return n, nil
}

// List returns jobs, most recently updated first. An empty status matches all.
func (r *ocrJobRepo) List(ctx context.Context, status constants.JobStatus, limit int) ([]*entity.OCRJob, error) {
	b := r.db.builder()
	sel := b.Select(ocrJobColumns...).From(b.Table(TableOCRJob)).OrderBy(entsql.Desc("updated_at"))
	if status != "" {
		sel.Where(entsql.EQ("status", string(status)))
	}
	if limit > 0 {
		sel.Limit(limit)
	}
	query, args := sel.Query()

	var out []*entity.OCRJob
	err := r.db.query(ctx, query, args, func(rows *entsql.Rows) error {
		j, err := scanOCRJob(rows)
		if err == nil {
			out = append(out, j)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list ocr jobs: %v", common.ErrDatabase, err)
	}
	return out, nil
}

func scanOCRJob(rows *entsql.Rows) (*entity.OCRJob, error) {
	var (
		j                                  entity.OCRJob
		status                             string
		ocrText, corrected, method, errMsg sql.NullString
		batchID                            sql.NullString
		confidence                         sql.NullFloat64
		startedAt, processedAt             sql.NullTime
		createdAt, updatedAt               sql.NullTime
	)
	if err := rows.Scan(&j.DocumentID, &status, &ocrText, &corrected, &confidence, &method,
		&errMsg, &batchID, &startedAt, &processedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	j.Status = constants.JobStatus(status)
	j.OCRText = nullString(ocrText)
	j.CorrectedText = nullString(corrected)
	j.ExtractionMethod = nullString(method)
	j.ErrorMessage = nullString(errMsg)
	j.BatchID = nullString(batchID)
	if confidence.Valid {
		j.Confidence = &confidence.Float64
	}
	j.StartedAt = nullTime(startedAt)
	j.ProcessedAt = nullTime(processedAt)
	j.CreatedAt = createdAt.Time
	j.UpdatedAt = updatedAt.Time
	return &j, nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
