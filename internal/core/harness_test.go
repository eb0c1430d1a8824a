package core

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/tender-docs/constants"
	coreasync "github.com/joseph-ayodele/tender-docs/internal/core/async"
	"github.com/joseph-ayodele/tender-docs/internal/core/ocr"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
	"github.com/joseph-ayodele/tender-docs/internal/repository"
)

type cascadeFunc func(ctx context.Context, in *ocr.Input) *entity.ExtractionResult

func (f cascadeFunc) Extract(ctx context.Context, in *ocr.Input) *entity.ExtractionResult {
	return f(ctx, in)
}

// ocrText is a cascade that recognizes text with the given confidence.
func ocrText(text string, confidence float64) cascadeFunc {
	return func(_ context.Context, in *ocr.Input) *entity.ExtractionResult {
		res := entity.NewResult(constants.FileTypeImage, in.Filename)
		res.FullText = text
		res.Confidence = &confidence
		return res.Succeed(constants.MethodVisionOCR)
	}
}

// gate blocks OCR calls until released, ignoring context cancellation.
type gate struct {
	entered chan struct{}
	release chan struct{}
	then    cascadeFunc
}

func newGate(then cascadeFunc) *gate {
	return &gate{entered: make(chan struct{}, 16), release: make(chan struct{}), then: then}
}

func (g *gate) Extract(ctx context.Context, in *ocr.Input) *entity.ExtractionResult {
	g.entered <- struct{}{}
	<-g.release
	return g.then(ctx, in)
}

type harness struct {
	t       *testing.T
	dir     string
	docs    repository.DocumentRepository
	jobs    repository.OCRJobRepository
	batches repository.BatchRepository
	svc     *Service
	queue   *coreasync.ProcessorQueue
}

func newHarness(t *testing.T, cascade interface {
	Extract(context.Context, *ocr.Input) *entity.ExtractionResult
}, timeout time.Duration) *harness {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	db, err := repository.Open(ctx, repository.Config{Driver: repository.DriverSQLite, DSN: "file:" + filepath.Join(dir, "jobs.db")}, nil)
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(ctx, db, nil))

	h := &harness{
		t:       t,
		dir:     dir,
		docs:    repository.NewDocumentRepository(db, nil),
		jobs:    repository.NewOCRJobRepository(db, nil),
		batches: repository.NewBatchRepository(db, nil),
	}
	h.svc = NewService(nil, h.docs, h.jobs, h.batches, cascade)
	h.queue = coreasync.NewProcessorQueue(h.svc, nil, coreasync.WithWorkers(2), coreasync.WithProcessTimeout(timeout))
	h.svc.AttachQueue(h.queue)
	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.queue.Shutdown(sctx)
		repository.Close(db, nil)
	})
	return h
}

// document stores content under name and registers it.
func (h *harness) document(name string, content []byte) *entity.Document {
	h.t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(h.t, os.WriteFile(path, content, 0o644))
	sum := sha256.Sum256(append([]byte(name), content...))
	ext, _ := constants.DetectFileType(name)
	doc, err := h.docs.Create(context.Background(), &entity.Document{
		Filename:    name,
		FileExt:     ext,
		ContentHash: sum[:],
		FileSize:    int64(len(content)),
		StoragePath: path,
	})
	require.NoError(h.t, err)
	return doc
}

// settled waits until the job leaves processing.
func (h *harness) settled(doc *entity.Document) *entity.OCRStatus {
	h.t.Helper()
	var st *entity.OCRStatus
	require.Eventually(h.t, func() bool {
		got, err := h.svc.GetStatus(context.Background(), doc.ID)
		if err != nil {
			return false
		}
		st = got
		return st.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return st
}
