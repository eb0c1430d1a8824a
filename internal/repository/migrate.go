package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"entgo.io/ent/dialect"
)

// Table names.
const (
	TableDocuments = "documents"
	TableOCRJob    = "ocr_job"
	TableBatches   = "ocr_batch"
	TableBatchItem = "ocr_batch_item"
)

// columnTypes holds the per-dialect types used by the schema below.
type columnTypes struct {
	blob, float, ts string
}

var dialectTypes = map[string]columnTypes{
	dialect.SQLite:   {blob: "BLOB", float: "REAL", ts: "TIMESTAMP"},
	dialect.Postgres: {blob: "BYTEA", float: "DOUBLE PRECISION", ts: "TIMESTAMPTZ"},
}

func schemaStatements(t columnTypes) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			file_ext TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			content_hash ` + t.blob + ` NOT NULL,
			file_size BIGINT NOT NULL,
			storage_path TEXT NOT NULL,
			source_path TEXT NOT NULL DEFAULT '',
			uploaded_at ` + t.ts + ` NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS documents_content_hash ON documents (content_hash)`,
		`CREATE TABLE IF NOT EXISTS ocr_job (
			document_id TEXT PRIMARY KEY REFERENCES documents (id) ON DELETE CASCADE,
			status TEXT NOT NULL,
			ocr_text TEXT,
			corrected_text TEXT,
			confidence ` + t.float + `,
			extraction_method TEXT,
			error_message TEXT,
			batch_id TEXT,
			started_at ` + t.ts + `,
			processed_at ` + t.ts + `,
			created_at ` + t.ts + ` NOT NULL,
			updated_at ` + t.ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ocr_job_status ON ocr_job (status, updated_at)`,
		`CREATE TABLE IF NOT EXISTS ocr_batch (
			id TEXT PRIMARY KEY,
			total_documents INTEGER NOT NULL,
			created_at ` + t.ts + ` NOT NULL,
			finished_at ` + t.ts + `
		)`,
		`CREATE TABLE IF NOT EXISTS ocr_batch_item (
			batch_id TEXT NOT NULL REFERENCES ocr_batch (id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			document_id TEXT NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT,
			PRIMARY KEY (batch_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS ocr_batch_item_document ON ocr_batch_item (document_id, status)`,
	}
}

// Migrate creates the tables and indexes when they do not exist yet.
func Migrate(ctx context.Context, db *DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	types, ok := dialectTypes[db.Dialect()]
	if !ok {
		return fmt.Errorf("no schema for dialect %q", db.Dialect())
	}
	for _, stmt := range schemaStatements(types) {
		if err := db.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("migrate %q: %w", firstLine(stmt), err)
		}
	}
	logger.Info("database schema ready", "dialect", db.Dialect())
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i > 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
