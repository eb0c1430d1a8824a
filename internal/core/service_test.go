package core

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/common"
	"github.com/joseph-ayodele/tender-docs/internal/core/ocr"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
)

func TestRequestOCRConvertsTextDocuments(t *testing.T) {
	h := newHarness(t, ocrText("unused", 0.5), time.Minute)
	doc := h.document("notes.txt", []byte("Lot 1\r\nLot 2"))

	job, err := h.svc.RequestOCR(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusProcessing, job.Status)

	st := h.settled(doc)
	assert.Equal(t, constants.JobStatusCompleted, st.Status)
	assert.Equal(t, "Lot 1\nLot 2", st.Text)
	assert.InDelta(t, 1.0, st.Confidence, 1e-9)
	assert.Equal(t, constants.MethodTextConversion, st.Method)
	assert.NotNil(t, st.ProcessedAt)
}

func TestRequestOCRRunsCascadeForImages(t *testing.T) {
	h := newHarness(t, ocrText("INVOICE 7", 0.87), time.Minute)
	doc := h.document("scan.png", []byte("not really a png"))

	_, err := h.svc.RequestOCR(context.Background(), doc.ID)
	require.NoError(t, err)

	st := h.settled(doc)
	assert.Equal(t, constants.JobStatusCompleted, st.Status)
	assert.Equal(t, "INVOICE 7", st.Text)
	assert.InDelta(t, 0.87, st.Confidence, 1e-9)
	assert.Equal(t, constants.MethodVisionOCR, st.Method)
}

func TestRequestOCRConflictLeavesJobUntouched(t *testing.T) {
	g := newGate(ocrText("done", 0.9))
	h := newHarness(t, g, time.Minute)
	doc := h.document("bid.pdf", []byte("%PDF-1.4"))
	ctx := context.Background()

	_, err := h.svc.RequestOCR(ctx, doc.ID)
	require.NoError(t, err)
	<-g.entered

	before, err := h.jobs.Get(ctx, doc.ID)
	require.NoError(t, err)

	_, err = h.svc.RequestOCR(ctx, doc.ID)
	require.ErrorIs(t, err, common.ErrJobConflict)
	assert.Equal(t, 409, common.HTTPStatus(err))

	after, err := h.jobs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusProcessing, after.Status)
	assert.Equal(t, before.StartedAt, after.StartedAt)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)

	close(g.release)
	assert.Equal(t, constants.JobStatusCompleted, h.settled(doc).Status)

	// A finished job can be requested again.
	_, err = h.svc.RequestOCR(ctx, doc.ID)
	require.NoError(t, err)
}

func TestJobTimeoutFailsJob(t *testing.T) {
	g := newGate(ocrText("too late", 0.9))
	h := newHarness(t, g, 50*time.Millisecond)
	t.Cleanup(func() { close(g.release) })
	doc := h.document("slow.tiff", []byte("II*"))

	_, err := h.svc.RequestOCR(context.Background(), doc.ID)
	require.NoError(t, err)

	st := h.settled(doc)
	assert.Equal(t, constants.JobStatusFailed, st.Status)
	assert.Contains(t, st.Error, "ocr timed out after 50ms")
	assert.Empty(t, st.Text)
}

func TestCascadeFailureFailsJob(t *testing.T) {
	tests := []struct {
		name    string
		cascade cascadeFunc
		wantErr string
	}{
		{
			name: "engine error",
			cascade: func(_ context.Context, in *ocr.Input) *entity.ExtractionResult {
				return entity.ErrorResult(constants.FileTypeImage, in.Filename, "all OCR engines failed", nil)
			},
			wantErr: "all OCR engines failed",
		},
		{
			name: "empty text",
			cascade: func(_ context.Context, in *ocr.Input) *entity.ExtractionResult {
				res := entity.NewResult(constants.FileTypeImage, in.Filename)
				res.SetMeta("width", "10")
				return res.Partial(constants.MethodImageProbeOnly, "no OCR engine available")
			},
			wantErr: "ocr produced no text",
		},
		{
			name: "panic",
			cascade: func(context.Context, *ocr.Input) *entity.ExtractionResult {
				panic("decoder exploded")
			},
			wantErr: "decoder exploded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.cascade, time.Minute)
			doc := h.document("photo.jpg", []byte{0xff, 0xd8})
			_, err := h.svc.RequestOCR(context.Background(), doc.ID)
			require.NoError(t, err)

			st := h.settled(doc)
			assert.Equal(t, constants.JobStatusFailed, st.Status)
			assert.Contains(t, st.Error, tt.wantErr)
		})
	}
}

func TestUnprocessableDocumentFails(t *testing.T) {
	h := newHarness(t, ocrText("x", 1), time.Minute)
	doc := h.document("archive.zip", []byte("PK"))
	_, err := h.svc.RequestOCR(context.Background(), doc.ID)
	require.NoError(t, err)
	st := h.settled(doc)
	assert.Equal(t, constants.JobStatusFailed, st.Status)
	assert.Contains(t, st.Error, "cannot be processed")
}

func TestRequestOCRUnknownDocument(t *testing.T) {
	h := newHarness(t, ocrText("x", 1), time.Minute)
	_, err := h.svc.RequestOCR(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = h.svc.GetStatus(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetStatusDefaultsToPending(t *testing.T) {
	h := newHarness(t, ocrText("x", 1), time.Minute)
	doc := h.document("fresh.png", []byte("img"))

	st, err := h.svc.GetStatus(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusPending, st.Status)
	assert.Empty(t, st.Text)
	assert.Nil(t, st.ProcessedAt)
}

func TestCorrectWinsOverRunningJob(t *testing.T) {
	g := newGate(ocrText("raw ocr", 0.4))
	h := newHarness(t, g, time.Minute)
	doc := h.document("memo.png", []byte("img"))
	ctx := context.Background()

	_, err := h.svc.RequestOCR(ctx, doc.ID)
	require.NoError(t, err)
	<-g.entered

	require.NoError(t, h.svc.Correct(ctx, doc.ID, "clean text"))
	close(g.release)

	h.queue.Shutdown(ctx)
	st, err := h.svc.GetStatus(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCorrected, st.Status)
	assert.Equal(t, "clean text", st.Text)
}

func TestCorrectWithoutJob(t *testing.T) {
	h := newHarness(t, ocrText("x", 1), time.Minute)
	doc := h.document("never.png", []byte("img"))
	ctx := context.Background()

	require.NoError(t, h.svc.Correct(ctx, doc.ID, "typed"))
	st, err := h.svc.GetStatus(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCorrected, st.Status)
	assert.Equal(t, "typed", st.Text)

	assert.ErrorIs(t, h.svc.Correct(ctx, uuid.New(), "x"), common.ErrNotFound)
}

func TestBulkOCR(t *testing.T) {
	h := newHarness(t, ocrText("scanned", 0.8), time.Minute)
	a := h.document("a.txt", []byte("alpha"))
	b := h.document("b.png", []byte("img"))
	missing := uuid.New()
	ctx := context.Background()

	ack, err := h.svc.BulkOCR(ctx, []uuid.UUID{a.ID, b.ID, missing})
	require.NoError(t, err)
	assert.Regexp(t, `^batch_\d+_[0-9a-f]{8}$`, ack.ID)
	assert.Equal(t, 3, ack.TotalDocuments)
	assert.Equal(t, 0, ack.ProcessedDocuments)
	assert.Equal(t, constants.BatchStatusProcessing, ack.Status)
	require.Len(t, ack.Items, 3)
	assert.Equal(t, constants.JobStatusFailed, ack.Items[2].Status)

	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	done, err := h.svc.WaitBatch(wctx, ack.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.BatchStatusCompleted, done.Status)
	assert.Equal(t, 3, done.ProcessedDocuments)
	assert.Equal(t, 2, done.Succeeded)
	assert.Equal(t, 1, done.Failed)
	assert.Eventually(t, func() bool {
		b, err := h.svc.BatchStatus(ctx, ack.ID)
		return err == nil && b.FinishedAt != nil
	}, 5*time.Second, 10*time.Millisecond)

	st, err := h.svc.GetStatus(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "scanned", st.Text)

	polled, err := h.svc.BatchStatus(ctx, ack.ID)
	require.NoError(t, err)
	assert.Equal(t, done.Succeeded, polled.Succeeded)
}

func TestBulkOCRRecordsConflicts(t *testing.T) {
	g := newGate(ocrText("ok", 0.9))
	h := newHarness(t, g, time.Minute)
	busy := h.document("busy.png", []byte("img"))
	ctx := context.Background()

	_, err := h.svc.RequestOCR(ctx, busy.ID)
	require.NoError(t, err)
	<-g.entered

	ack, err := h.svc.BulkOCR(ctx, []uuid.UUID{busy.ID})
	require.NoError(t, err)
	require.Len(t, ack.Items, 1)
	assert.Equal(t, constants.JobStatusFailed, ack.Items[0].Status)
	assert.Contains(t, ack.Items[0].Error, "already processing")

	b, err := h.svc.BatchStatus(ctx, ack.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.BatchStatusCompleted, b.Status)
	close(g.release)
}

func TestBulkOCRRejectsEmptyRequest(t *testing.T) {
	h := newHarness(t, ocrText("x", 1), time.Minute)
	_, err := h.svc.BulkOCR(context.Background(), nil)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestWaitBatchHonoursContext(t *testing.T) {
	g := newGate(ocrText("ok", 0.9))
	h := newHarness(t, g, time.Minute)
	t.Cleanup(func() { close(g.release) })
	doc := h.document("held.png", []byte("img"))

	ack, err := h.svc.BulkOCR(context.Background(), []uuid.UUID{doc.ID})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	b, err := h.svc.WaitBatch(ctx, ack.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, b)
	assert.Equal(t, constants.BatchStatusProcessing, b.Status)
}

func TestRecoverInterrupted(t *testing.T) {
	h := newHarness(t, ocrText("x", 1), time.Minute)
	doc := h.document("left.png", []byte("img"))
	ctx := context.Background()
	require.NoError(t, h.jobs.EnsurePending(ctx, doc.ID))
	_, err := h.jobs.Claim(ctx, doc.ID, nil)
	require.NoError(t, err)

	require.NoError(t, h.svc.RecoverInterrupted(ctx))
	st, err := h.svc.GetStatus(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, st.Status)
}
