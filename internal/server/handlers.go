package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/common"
	"github.com/joseph-ayodele/tender-docs/internal/extract"
)

const (
	maxBatchWait       = 5 * time.Minute
	maxBulkDocuments   = 1000
	maxCorrectionRunes = 1 << 20
)

// readUpload returns the "file" part of a multipart request.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, "", invalid(fmt.Sprintf("multipart form required: %v", err))
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return nil, "", invalid("form field \"file\" is required")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", invalid(fmt.Sprintf("read upload: %v", err))
	}
	return data, hdr.Filename, nil
}

func documentID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		return uuid.Nil, invalid("document id must be a UUID")
	}
	return id, nil
}

func (s *Server) extractUpload(w http.ResponseWriter, r *http.Request) {
	data, name, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res := s.deps.Extractor.Extract(r.Context(), extract.Source{Data: data, Filename: name})
	writeJSON(w, http.StatusOK, res)
}

type documentResponse struct {
	DocumentID   string `json:"document_id"`
	Filename     string `json:"filename"`
	FileExt      string `json:"file_ext"`
	HashHex      string `json:"content_hash"`
	Deduplicated bool   `json:"deduplicated"`
	OCRRequested bool   `json:"ocr_requested,omitempty"`
	OCRError     string `json:"ocr_error,omitempty"`
}

// registerDocument stores an upload. With ?ocr=true the OCR job is requested
// right away; a conflict there does not fail the registration.
func (s *Server) registerDocument(w http.ResponseWriter, r *http.Request) {
	data, name, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Ingestor.IngestBytes(r.Context(), data, name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := documentResponse{
		DocumentID:   res.DocumentID,
		Filename:     name,
		FileExt:      res.FileExt,
		HashHex:      res.HashHex,
		Deduplicated: res.Deduplicated,
	}
	if r.URL.Query().Get("ocr") == "true" {
		id := uuid.MustParse(res.DocumentID)
		if _, err := s.deps.Jobs.RequestOCR(r.Context(), id); err != nil {
			out.OCRError = err.Error()
		} else {
			out.OCRRequested = true
		}
	}
	status := http.StatusCreated
	if res.Deduplicated {
		status = http.StatusOK
	}
	writeJSON(w, status, out)
}

func (s *Server) requestOCR(w http.ResponseWriter, r *http.Request) {
	id, err := documentID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.deps.Jobs.RequestOCR(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job.StatusView())
}

func (s *Server) ocrStatus(w http.ResponseWriter, r *http.Request) {
	id, err := documentID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.deps.Jobs.GetStatus(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type correctionRequest struct {
	Text *string `json:"text"`
}

func (s *Server) correctOCR(w http.ResponseWriter, r *http.Request) {
	id, err := documentID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req correctionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, s.maxUpload)).Decode(&req); err != nil || req.Text == nil {
		s.writeError(w, r, invalid("body must be {\"text\": \"...\"}"))
		return
	}
	if err := common.NewValidator().Field("text", *req.Text, common.MaxLength(maxCorrectionRunes)).Err(); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Jobs.Correct(r.Context(), id, *req.Text); err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.deps.Jobs.GetStatus(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type bulkRequest struct {
	DocumentIDs []string `json:"document_ids"`
}

func (s *Server) bulkOCR(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, s.maxUpload)).Decode(&req); err != nil {
		s.writeError(w, r, invalid("body must be {\"document_ids\": [...]}"))
		return
	}
	err := common.NewValidator().
		Field("document_ids", req.DocumentIDs, common.Required, common.MaxItems(maxBulkDocuments), common.UUID).
		Err()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ids := make([]uuid.UUID, 0, len(req.DocumentIDs))
	for _, raw := range req.DocumentIDs {
		ids = append(ids, uuid.MustParse(raw))
	}
	batch, err := s.deps.Jobs.BulkOCR(r.Context(), ids)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, batch)
}

// batchStatus returns the aggregate. ?wait=<duration> blocks until the batch
// completes or the wait elapses.
func (s *Server) batchStatus(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")
	wait := r.URL.Query().Get("wait")
	if wait == "" {
		b, err := s.deps.Jobs.BatchStatus(r.Context(), batchID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
		return
	}

	d, err := time.ParseDuration(wait)
	if err != nil || d <= 0 {
		s.writeError(w, r, invalid("wait must be a positive duration such as 30s"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), min(d, maxBatchWait))
	defer cancel()
	b, err := s.deps.Jobs.WaitBatch(ctx, batchID)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) exportJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Export == nil {
		s.writeError(w, r, fmt.Errorf("%w: export is not configured", common.ErrNotFound))
		return
	}
	status := r.URL.Query().Get("status")
	if status != "" {
		err := common.NewValidator().Field("status", status, common.OneOf(
			string(constants.JobStatusPending), string(constants.JobStatusProcessing), string(constants.JobStatusCompleted),
			string(constants.JobStatusFailed), string(constants.JobStatusCorrected),
		)).Err()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	data, err := s.deps.Export.ExportJobsXLSX(r.Context(), constants.JobStatus(status))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", constants.MimeType("xlsx"))
	w.Header().Set("Content-Disposition", `attachment; filename="ocr-jobs.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
