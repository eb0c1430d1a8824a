package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/core"
	coreasync "github.com/joseph-ayodele/tender-docs/internal/core/async"
	"github.com/joseph-ayodele/tender-docs/internal/core/ocr"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
	"github.com/joseph-ayodele/tender-docs/internal/export"
	"github.com/joseph-ayodele/tender-docs/internal/extract"
	"github.com/joseph-ayodele/tender-docs/internal/ingest"
	"github.com/joseph-ayodele/tender-docs/internal/repository"
)

// heldCascade blocks every OCR call until release is closed.
type heldCascade struct {
	release chan struct{}
}

func (c *heldCascade) Extract(_ context.Context, in *ocr.Input) *entity.ExtractionResult {
	<-c.release
	conf := 0.9
	res := entity.NewResult(constants.FileTypeImage, in.Filename)
	res.FullText = "SCANNED"
	res.Confidence = &conf
	return res.Succeed(constants.MethodTesseract)
}

type testAPI struct {
	srv     *httptest.Server
	cascade *heldCascade
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	db, err := repository.Open(ctx, repository.Config{Driver: repository.DriverSQLite, DSN: "file:" + filepath.Join(dir, "api.db")}, nil)
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(ctx, db, nil))

	docs := repository.NewDocumentRepository(db, nil)
	jobs := repository.NewOCRJobRepository(db, nil)
	batches := repository.NewBatchRepository(db, nil)
	cascade := &heldCascade{release: make(chan struct{})}

	svc := core.NewService(nil, docs, jobs, batches, cascade)
	queue := coreasync.NewProcessorQueue(svc, nil, coreasync.WithWorkers(2))
	svc.AttachQueue(queue)

	api := New(Deps{
		Extractor: extract.NewOrchestrator(nil, nil),
		Ingestor:  ingest.NewFSIngestor(docs, filepath.Join(dir, "store"), nil),
		Jobs:      svc,
		Export:    export.NewService(jobs, docs, nil),
		Ready:     func(ctx context.Context) error { return repository.HealthCheck(ctx, db, time.Second, nil) },
	}, nil)
	srv := httptest.NewServer(api.Router())

	ta := &testAPI{srv: srv, cascade: cascade}
	t.Cleanup(func() {
		ta.releaseOCR()
		srv.Close()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		queue.Shutdown(sctx)
		repository.Close(db, nil)
	})
	return ta
}

func (a *testAPI) releaseOCR() {
	select {
	case <-a.cascade.release:
	default:
		close(a.cascade.release)
	}
}

func (a *testAPI) upload(t *testing.T, path, filename string, content []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(a.srv.URL+path, mw.FormDataContentType(), &body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (a *testAPI) register(t *testing.T, filename string, content []byte) string {
	t.Helper()
	resp := a.upload(t, "/v1/documents", filename, content)
	require.Contains(t, []int{http.StatusCreated, http.StatusOK}, resp.StatusCode)
	return decode[documentResponse](t, resp).DocumentID
}

func (a *testAPI) awaitStatus(t *testing.T, id string, want constants.JobStatus) entity.OCRStatus {
	t.Helper()
	var st entity.OCRStatus
	require.Eventually(t, func() bool {
		resp, err := http.Get(a.srv.URL + "/v1/documents/" + id + "/ocr")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if json.NewDecoder(resp.Body).Decode(&st) != nil {
			return false
		}
		return st.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return st
}

func TestExtractUpload(t *testing.T) {
	api := newTestAPI(t)

	resp := api.upload(t, "/v1/extract", "notes.txt", []byte("line one\nline two"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[map[string]any](t, resp)
	assert.Equal(t, "text", res["file_type"])
	assert.Equal(t, "success", res["status"])
	assert.Equal(t, []any{"line one", "line two"}, res["lines"])

	resp = api.upload(t, "/v1/extract", "archive.zip", []byte("PK"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = decode[map[string]any](t, resp)
	assert.Equal(t, "unsupported", res["status"])
	assert.NotEmpty(t, res["message"])
}

func TestExtractRequiresFile(t *testing.T) {
	api := newTestAPI(t)
	resp := api.do(t, http.MethodPost, "/v1/extract", map[string]string{"x": "y"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegisterDocument(t *testing.T) {
	api := newTestAPI(t)

	resp := api.upload(t, "/v1/documents", "bid.txt", []byte("bid"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := decode[documentResponse](t, resp)
	assert.False(t, first.Deduplicated)

	resp = api.upload(t, "/v1/documents?ocr=true", "bid-copy.txt", []byte("bid"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	again := decode[documentResponse](t, resp)
	assert.True(t, again.Deduplicated)
	assert.Equal(t, first.DocumentID, again.DocumentID)
	assert.True(t, again.OCRRequested)

	resp = api.upload(t, "/v1/documents", "tool.exe", []byte("MZ"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOCRLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	id := api.register(t, "scan.png", []byte("png bytes"))

	resp := api.do(t, http.MethodGet, "/v1/documents/"+id+"/ocr", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, constants.JobStatusPending, decode[entity.OCRStatus](t, resp).Status)

	resp = api.do(t, http.MethodPost, "/v1/documents/"+id+"/ocr", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, constants.JobStatusProcessing, decode[entity.OCRStatus](t, resp).Status)

	resp = api.do(t, http.MethodPost, "/v1/documents/"+id+"/ocr", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[errorBody](t, resp)
	assert.Equal(t, "FailedPrecondition", body.Code)
	assert.Contains(t, body.Error, "already processing")

	api.releaseOCR()
	st := api.awaitStatus(t, id, constants.JobStatusCompleted)
	assert.Equal(t, "SCANNED", st.Text)
	assert.Equal(t, constants.MethodTesseract, st.Method)

	resp = api.do(t, http.MethodPut, "/v1/documents/"+id+"/ocr", map[string]string{"text": "Scanned (fixed)"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st = decode[entity.OCRStatus](t, resp)
	assert.Equal(t, constants.JobStatusCorrected, st.Status)
	assert.Equal(t, "Scanned (fixed)", st.Text)

	resp = api.do(t, http.MethodPut, "/v1/documents/"+id+"/ocr", map[string]int{"text": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDocumentErrors(t *testing.T) {
	api := newTestAPI(t)
	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodPost, "/v1/documents/not-a-uuid/ocr", http.StatusBadRequest},
		{http.MethodGet, "/v1/documents/not-a-uuid/ocr", http.StatusBadRequest},
		{http.MethodPost, "/v1/documents/" + "7d1c8a1e-3f1b-4b8e-9a59-0f2a9c3b7e11" + "/ocr", http.StatusNotFound},
		{http.MethodGet, "/v1/documents/" + "7d1c8a1e-3f1b-4b8e-9a59-0f2a9c3b7e11" + "/ocr", http.StatusNotFound},
		{http.MethodGet, "/v1/ocr/batches/batch_1_deadbeef", http.StatusNotFound},
		{http.MethodGet, "/v1/ocr/export?status=weird", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := api.do(t, tt.method, tt.path, nil)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestBulkOCROverHTTP(t *testing.T) {
	api := newTestAPI(t)
	a := api.register(t, "a.txt", []byte("alpha"))
	b := api.register(t, "b.csv", []byte("x,y\n1,2"))

	resp := api.do(t, http.MethodPost, "/v1/ocr/bulk", map[string][]string{
		"document_ids": {a, b, "7d1c8a1e-3f1b-4b8e-9a59-0f2a9c3b7e11"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	ack := decode[entity.Batch](t, resp)
	assert.Equal(t, 3, ack.TotalDocuments)
	assert.Equal(t, 0, ack.ProcessedDocuments)
	assert.Equal(t, constants.BatchStatusProcessing, ack.Status)

	resp = api.do(t, http.MethodGet, "/v1/ocr/batches/"+ack.ID+"?wait=5s", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	done := decode[entity.Batch](t, resp)
	assert.Equal(t, constants.BatchStatusCompleted, done.Status)
	assert.Equal(t, 2, done.Succeeded)
	assert.Equal(t, 1, done.Failed)

	resp = api.do(t, http.MethodPost, "/v1/ocr/bulk", map[string][]string{"document_ids": {"nope"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = api.do(t, http.MethodPost, "/v1/ocr/bulk", map[string][]string{"document_ids": {}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBatchStream(t *testing.T) {
	api := newTestAPI(t)
	id := api.register(t, "held.png", []byte("png"))

	resp := api.do(t, http.MethodPost, "/v1/ocr/bulk", map[string][]string{"document_ids": {id}})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	ack := decode[entity.Batch](t, resp)

	url := "ws" + strings.TrimPrefix(api.srv.URL, "http") + "/v1/ocr/batches/" + ack.ID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first batchEvent
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "progress", first.Type)

	api.releaseOCR()
	for {
		var ev struct {
			Type    string       `json:"type"`
			Payload entity.Batch `json:"payload"`
		}
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == "completed" {
			assert.Equal(t, 1, ev.Payload.Succeeded)
			break
		}
		assert.Equal(t, "progress", ev.Type)
	}
}

func TestExportOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	id := api.register(t, "a.txt", []byte("alpha"))
	resp := api.do(t, http.MethodPost, "/v1/documents/"+id+"/ocr", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	api.awaitStatus(t, id, constants.JobStatusCompleted)

	resp = api.do(t, http.MethodGet, "/v1/ocr/export?status=completed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, constants.MimeType("xlsx"), resp.Header.Get("Content-Type"))
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)
	resp := api.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])

	resp = api.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "tenderdocs_http_requests_total")
}

func TestGRPCHealth(t *testing.T) {
	gs, _ := NewGRPCServer(nil)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func ExampleNew() {
	api := New(Deps{Extractor: extract.NewOrchestrator(nil, nil)}, nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	fmt.Println(rec.Code)
	// Output: 200
}
