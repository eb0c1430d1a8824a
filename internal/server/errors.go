package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joseph-ayodele/tender-docs/internal/common"
)

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

// writeError maps err onto an HTTP status. Internal failures are logged and
// reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := common.HTTPStatus(err)
	msg := err.Error()
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		common.LoggerFromContext(r.Context(), s.logger).Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	writeJSON(w, status, errorBody{
		Error:     msg,
		Code:      common.GRPCCode(err).String(),
		RequestID: common.RequestIDFromContext(r.Context()),
	})
}

func invalid(msg string) error {
	return common.NewAppError("INVALID_INPUT", msg, common.ErrInvalidInput)
}
