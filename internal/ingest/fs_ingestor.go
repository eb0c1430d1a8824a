package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/common"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
	"github.com/joseph-ayodele/tender-docs/internal/repository"
)

// FSIngestor copies content into a hash-addressed directory and records it in
// the document repository. Identical content is stored once.
type FSIngestor struct {
	Docs     repository.DocumentRepository
	StoreDir string
	logger   *slog.Logger
}

var _ Ingestor = (*FSIngestor)(nil)

func NewFSIngestor(docs repository.DocumentRepository, storeDir string, logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSIngestor{Docs: docs, StoreDir: storeDir, logger: logger}
}

func (i *FSIngestor) IngestPath(ctx context.Context, path string) (IngestionResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return IngestionResult{}, fmt.Errorf("abs path: %w", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		i.logger.Error("read error", "path", abs, "error", err)
		return IngestionResult{}, err
	}
	return i.ingest(ctx, data, filepath.Base(abs), abs)
}

func (i *FSIngestor) IngestBytes(ctx context.Context, data []byte, filename string) (IngestionResult, error) {
	return i.ingest(ctx, data, filepath.Base(filename), "")
}

func (i *FSIngestor) ingest(ctx context.Context, data []byte, filename, sourcePath string) (IngestionResult, error) {
	ext := constants.NormalizeExt(filepath.Ext(filename))
	if ext == "" || !AllowedExt(ext) {
		i.logger.Warn("unsupported or missing extension", "filename", filename, "ext", ext)
		return IngestionResult{}, fmt.Errorf("%w: unsupported or missing extension %q", common.ErrInvalidInput, ext)
	}

	sum := sha256.Sum256(data)
	hashHex := hex.EncodeToString(sum[:])
	stored, err := i.store(data, hashHex+"."+ext)
	if err != nil {
		return IngestionResult{}, err
	}

	row, dedup, err := i.Docs.UpsertByHash(ctx, &entity.Document{
		Filename:    filename,
		FileExt:     ext,
		ContentType: constants.MimeType(ext),
		ContentHash: sum[:],
		FileSize:    int64(len(data)),
		StoragePath: stored,
		SourcePath:  sourcePath,
	})
	if err != nil {
		return IngestionResult{}, err
	}

	i.logger.Info("document ingested", "document_id", row.ID, "filename", filename, "deduplicated", dedup)
	return IngestionResult{
		SourcePath:   sourcePath,
		DocumentID:   row.ID.String(),
		Deduplicated: dedup,
		HashHex:      hashHex,
		FileExt:      row.FileExt,
		StoragePath:  row.StoragePath,
		UploadedAt:   row.UploadedAt,
	}, nil
}

// store writes data to StoreDir/name unless it is already there. The write
// goes through a temp file so readers never see partial content.
func (i *FSIngestor) store(data []byte, name string) (string, error) {
	if strings.TrimSpace(i.StoreDir) == "" {
		return "", errors.New("document store directory is not configured")
	}
	if err := os.MkdirAll(i.StoreDir, 0o755); err != nil {
		return "", fmt.Errorf("create store dir: %w", err)
	}
	dst, err := filepath.Abs(filepath.Join(i.StoreDir, name))
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}

	tmp, err := os.CreateTemp(i.StoreDir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("store document: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("store document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("store document: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("store document: %w", err)
	}
	return dst, nil
}
