package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
)

// Source is a file handed over by the storage collaborator. Data wins over Path
// when both are set; Filename is the declared original name.
type Source struct {
	Path     string
	Data     []byte
	Filename string
}

// Name returns the declared filename, or the base of Path.
func (s Source) Name() string {
	if s.Filename != "" {
		return s.Filename
	}
	return filepath.Base(s.Path)
}

// Bytes returns the content, reading Path when Data is nil.
func (s Source) Bytes() ([]byte, error) {
	if s.Data != nil {
		return s.Data, nil
	}
	if s.Path == "" {
		return nil, fmt.Errorf("source %q has neither path nor data", s.Name())
	}
	return os.ReadFile(s.Path)
}

// Extractor converts one format into the result envelope. Extract never
// returns nil and never panics.
type Extractor interface {
	Extract(ctx context.Context, src Source) *entity.ExtractionResult
}

// guard runs fn and converts a panic or a nil result into an error envelope.
func guard(logger *slog.Logger, ft constants.FileType, filename string, fn func() *entity.ExtractionResult) (res *entity.ExtractionResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("extractor panicked", "file_type", ft, "file", filename, "panic", r, "stack", string(debug.Stack()))
			res = entity.ErrorResult(ft, filename, fmt.Sprintf("unexpected failure while parsing %s: %v", filename, r), nil)
		}
	}()
	res = fn()
	if res == nil {
		res = entity.ErrorResult(ft, filename, "extractor returned no result", nil)
	}
	return res
}
