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

	"github.com/joseph-ayodele/tender-docs/internal/common"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
)

type DocumentRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	GetByHash(ctx context.Context, hash []byte) (*entity.Document, error)
	Create(ctx context.Context, doc *entity.Document) (*entity.Document, error)
	UpsertByHash(ctx context.Context, doc *entity.Document) (*entity.Document, bool, error)
	List(ctx context.Context, limit int) ([]*entity.Document, error)
}

var documentColumns = []string{
	"id", "filename", "file_ext", "content_type", "content_hash",
	"file_size", "storage_path", "source_path", "uploaded_at",
}

type documentRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewDocumentRepository(db *DB, logger *slog.Logger) DocumentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &documentRepo{db: db, logger: logger}
}

func (r *documentRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	return r.getOne(ctx, entsql.EQ("id", id.String()))
}

func (r *documentRepo) GetByHash(ctx context.Context, hash []byte) (*entity.Document, error) {
	return r.getOne(ctx, entsql.EQ("content_hash", hash))
}

func (r *documentRepo) getOne(ctx context.Context, p *entsql.Predicate) (*entity.Document, error) {
	sel := r.db.builder().Select(documentColumns...).From(r.db.builder().Table(TableDocuments)).Where(p).Limit(1)
	query, args := sel.Query()

	var doc *entity.Document
	err := r.db.query(ctx, query, args, func(rows *entsql.Rows) error {
		d, err := scanDocument(rows)
		doc = d
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get document: %v", common.ErrDatabase, err)
	}
	if doc == nil {
		return nil, common.ErrNotFound
	}
	return doc, nil
}

func (r *documentRepo) Create(ctx context.Context, doc *entity.Document) (*entity.Document, error) {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	query, args := r.db.builder().Insert(TableDocuments).
		Columns(documentColumns...).
		Values(doc.ID.String(), doc.Filename, doc.FileExt, doc.ContentType, doc.ContentHash,
			doc.FileSize, doc.StoragePath, doc.SourcePath, doc.UploadedAt).
		Query()
	if _, err := r.db.exec(ctx, query, args); err != nil {
		r.logger.Error("failed to create document", "filename", doc.Filename, "error", err)
		return nil, fmt.Errorf("%w: create document: %v", common.ErrDatabase, err)
	}
	r.logger.Debug("document created", "document_id", doc.ID, "filename", doc.Filename)
	return doc, nil
}

// UpsertByHash returns the stored document with the same content hash, or
// creates doc. The boolean reports whether an existing row was returned.
func (r *documentRepo) UpsertByHash(ctx context.Context, doc *entity.Document) (*entity.Document, bool, error) {
	existing, err := r.GetByHash(ctx, doc.ContentHash)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, false, err
	}
	created, err := r.Create(ctx, doc)
	if err != nil {
		return nil, false, err
	}
	return created, false, nil
}

func (r *documentRepo) List(ctx context.Context, limit int) ([]*entity.Document, error) {
	b := r.db.builder()
	sel := b.Select(documentColumns...).From(b.Table(TableDocuments)).OrderBy(entsql.Desc("uploaded_at"))
	if limit > 0 {
		sel.Limit(limit)
	}
	query, args := sel.Query()
	var out []*entity.Document
	err := r.db.query(ctx, query, args, func(rows *entsql.Rows) error {
		d, err := scanDocument(rows)
		if err == nil {
			out = append(out, d)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", common.ErrDatabase, err)
	}
	return out, nil
}

func scanDocument(rows *entsql.Rows) (*entity.Document, error) {
	var (
		d          entity.Document
		uploadedAt sql.NullTime
	)
	if err := rows.Scan(&d.ID, &d.Filename, &d.FileExt, &d.ContentType, &d.ContentHash,
		&d.FileSize, &d.StoragePath, &d.SourcePath, &uploadedAt); err != nil {
		return nil, err
	}
	d.UploadedAt = uploadedAt.Time
	return &d, nil
}
