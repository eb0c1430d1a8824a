package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/common"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
)

// BatchRepository stores bulk OCR requests and the state of each member.
type BatchRepository interface {
	Create(ctx context.Context, batch *entity.Batch) error
	UpdateItem(ctx context.Context, batchID string, documentID uuid.UUID, status constants.JobStatus, errMsg string) error
	Get(ctx context.Context, batchID string) (*entity.Batch, error)
	MarkFinished(ctx context.Context, batchID string, at time.Time) error
}

type batchRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewBatchRepository(db *DB, logger *slog.Logger) BatchRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &batchRepo{db: db, logger: logger}
}

// Create inserts the batch row and its items in one transaction.
func (r *batchRepo) Create(ctx context.Context, batch *entity.Batch) (err error) {
	tx, err := r.db.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", common.ErrDatabase, err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	b := r.db.builder()
	query, args := b.Insert(TableBatches).
		Columns("id", "total_documents", "created_at").
		Values(batch.ID, batch.TotalDocuments, batch.CreatedAt).
		Query()
	if err = tx.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("%w: create batch: %v", common.ErrDatabase, err)
	}
	for i, it := range batch.Items {
		ins := b.Insert(TableBatchItem).
			Columns("batch_id", "position", "document_id", "status", "error_message")
		var msg any
		if it.Error != "" {
			msg = it.Error
		}
		query, args = ins.Values(batch.ID, i, it.DocumentID.String(), string(it.Status), msg).Query()
		if err = tx.Exec(ctx, query, args, nil); err != nil {
			return fmt.Errorf("%w: create batch item: %v", common.ErrDatabase, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit batch: %v", common.ErrDatabase, err)
	}
	r.logger.Info("batch created", "batch_id", batch.ID, "total", batch.TotalDocuments)
	return nil
}

// UpdateItem records the outcome of every non-terminal item of the batch that
// refers to documentID.
func (r *batchRepo) UpdateItem(ctx context.Context, batchID string, documentID uuid.UUID, status constants.JobStatus, errMsg string) error {
	upd := r.db.builder().Update(TableBatchItem).Set("status", string(status))
	if errMsg != "" {
		upd.Set("error_message", errMsg)
	} else {
		upd.SetNull("error_message")
	}
	query, args := upd.Where(entsql.And(
		entsql.EQ("batch_id", batchID),
		entsql.EQ("document_id", documentID.String()),
		entsql.EQ("status", string(constants.JobStatusProcessing)),
	)).Query()
	if _, err := r.db.exec(ctx, query, args); err != nil {
		r.logger.Error("batch item update failed", "batch_id", batchID, "document_id", documentID, "error", err)
		return fmt.Errorf("%w: update batch item: %v", common.ErrDatabase, err)
	}
	return nil
}

func (r *batchRepo) Get(ctx context.Context, batchID string) (*entity.Batch, error) {
	b := r.db.builder()
	query, args := b.Select("id", "total_documents", "created_at", "finished_at").
		From(b.Table(TableBatches)).
		Where(entsql.EQ("id", batchID)).
		Limit(1).
		Query()

	var batch *entity.Batch
	err := r.db.query(ctx, query, args, func(rows *entsql.Rows) error {
		var (
			out                   entity.Batch
			createdAt, finishedAt sql.NullTime
		)
		if err := rows.Scan(&out.ID, &out.TotalDocuments, &createdAt, &finishedAt); err != nil {
			return err
		}
		out.CreatedAt = createdAt.Time
		out.FinishedAt = nullTime(finishedAt)
		batch = &out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get batch: %v", common.ErrDatabase, err)
	}
	if batch == nil {
		return nil, common.ErrNotFound
	}

	query, args = b.Select("document_id", "status", "error_message").
		From(b.Table(TableBatchItem)).
		Where(entsql.EQ("batch_id", batchID)).
		OrderBy(entsql.Asc("position")).
		Query()
	err = r.db.query(ctx, query, args, func(rows *entsql.Rows) error {
		var (
			it     entity.BatchItem
			status string
			msg    sql.NullString
		)
		if err := rows.Scan(&it.DocumentID, &status, &msg); err != nil {
			return err
		}
		it.Status = constants.JobStatus(status)
		it.Error = msg.String
		batch.Items = append(batch.Items, it)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get batch items: %v", common.ErrDatabase, err)
	}
	batch.Tally()
	return batch, nil
}

func (r *batchRepo) MarkFinished(ctx context.Context, batchID string, at time.Time) error {
	query, args := r.db.builder().Update(TableBatches).
		Set("finished_at", at).
		Where(entsql.And(entsql.EQ("id", batchID), entsql.IsNull("finished_at"))).
		Query()
	if _, err := r.db.exec(ctx, query, args); err != nil {
		return fmt.Errorf("%w: finish batch: %v", common.ErrDatabase, err)
	}
	return nil
}
