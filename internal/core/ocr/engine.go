// Package ocr turns PDF and image bytes into text and confidence through an
// ordered cascade of OCR engines.
package ocr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/common"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
)

// Engine is one OCR backend. Extract either returns what the engine recovered
// or an error; errors wrapping common.ErrEngineUnavailable mean the engine
// could not run at all.
type Engine interface {
	Name() string
	Supports(ft constants.FileType) bool
	Available(ctx context.Context) error
	Extract(ctx context.Context, in *Input) (*Output, error)
	InstallHint() string
}

// Output is what one engine recovered from a document.
type Output struct {
	Text       string
	Pages      []entity.Page
	PageCount  int
	Confidence *float64
	// Partial marks structural recovery without text.
	Partial  bool
	Message  string
	Warnings []string
}

// Input is a PDF or image handed to the cascade, either by path or by bytes.
type Input struct {
	Path     string
	Data     []byte
	Filename string
	Ext      string
	FileType constants.FileType

	once    sync.Once
	readErr error
	hash    string
}

// NewInput builds an input and resolves its extension and file type from
// filename (or path when filename is empty).
func NewInput(path string, data []byte, filename string) *Input {
	if filename == "" {
		filename = filepath.Base(path)
	}
	ext, ft := constants.DetectFileType(filename)
	return &Input{Path: path, Data: data, Filename: filename, Ext: ext, FileType: ft}
}

// Bytes returns the document content, reading Path once when needed.
func (in *Input) Bytes() ([]byte, error) {
	in.once.Do(func() {
		if in.Data != nil || in.Path == "" {
			return
		}
		in.Data, in.readErr = os.ReadFile(in.Path)
	})
	if in.readErr != nil {
		return nil, fmt.Errorf("read %s: %w", in.Filename, in.readErr)
	}
	if in.Data == nil {
		return nil, fmt.Errorf("input %q has neither path nor data", in.Filename)
	}
	return in.Data, nil
}

// ContentHash is the hex sha256 of the content.
func (in *Input) ContentHash() (string, error) {
	if in.hash != "" {
		return in.hash, nil
	}
	data, err := in.Bytes()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	in.hash = hex.EncodeToString(sum[:])
	return in.hash, nil
}

// LocalPath returns a filesystem path for the content. In-memory inputs are
// written to a temp file that cleanup removes.
func (in *Input) LocalPath() (path string, cleanup func(), err error) {
	if in.Path != "" {
		if _, statErr := os.Stat(in.Path); statErr == nil {
			return in.Path, func() {}, nil
		}
	}
	data, err := in.Bytes()
	if err != nil {
		return "", nil, err
	}
	f, err := os.CreateTemp("", "tenderdocs-in-*."+in.Ext)
	if err != nil {
		return "", nil, err
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", nil, err
	}
	return name, func() { _ = os.Remove(name) }, nil
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrEngineUnavailable, fmt.Sprintf(format, args...))
}

// Handle is an owned resource that is initialised at most once successfully.
// A failed initialisation is retried on the next Get. After initialisation the
// value is shared read-only.
type Handle[T any] struct {
	init  func(ctx context.Context) (T, error)
	mu    sync.Mutex
	ready atomic.Bool
	val   T
}

// NewHandle wraps init in a lazily initialised handle.
func NewHandle[T any](init func(ctx context.Context) (T, error)) *Handle[T] {
	return &Handle[T]{init: init}
}

// Get returns the value, initialising it under the lock on first use.
func (h *Handle[T]) Get(ctx context.Context) (T, error) {
	if h.ready.Load() {
		return h.val, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ready.Load() {
		return h.val, nil
	}
	v, err := h.init(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	h.val = v
	h.ready.Store(true)
	return v, nil
}

// Loaded reports whether the value has been initialised.
func (h *Handle[T]) Loaded() bool { return h.ready.Load() }
