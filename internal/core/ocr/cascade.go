package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/joseph-ayodele/tender-docs/internal/common"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
	"github.com/joseph-ayodele/tender-docs/internal/metrics"
)

// Cascade runs engines strictly in order until one of them recovers text (or,
// for the last tiers, structure). The set of available engines is resolved by
// Probe, which NewCascade calls once.
type Cascade struct {
	engines []Engine
	timeout time.Duration
	logger  *slog.Logger

	mu          sync.RWMutex
	available   []Engine
	unavailable map[string]string
}

// NewCascade probes engines in the given order and keeps the available ones.
func NewCascade(ctx context.Context, logger *slog.Logger, timeout time.Duration, engines ...Engine) *Cascade {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cascade{engines: engines, timeout: timeout, logger: logger}
	c.Probe(ctx)
	return c
}

// Probe re-resolves which engines are available.
func (c *Cascade) Probe(ctx context.Context) {
	var avail []Engine
	missing := make(map[string]string)
	for _, e := range c.engines {
		if err := e.Available(ctx); err != nil {
			missing[e.Name()] = err.Error()
			metrics.SetEngineAvailable(e.Name(), false)
			c.logger.Info("ocr engine unavailable", "engine", e.Name(), "reason", err.Error())
			continue
		}
		metrics.SetEngineAvailable(e.Name(), true)
		avail = append(avail, e)
	}
	c.mu.Lock()
	c.available = avail
	c.unavailable = missing
	c.mu.Unlock()
	c.logger.Info("ocr cascade resolved", "engines", names(avail))
}

// Engines returns the names of the available engines in cascade order.
func (c *Cascade) Engines() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return names(c.available)
}

// Unavailable returns engine name -> probe failure.
func (c *Cascade) Unavailable() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.unavailable))
	for k, v := range c.unavailable {
		out[k] = v
	}
	return out
}

// Extract runs the cascade over a PDF or image and builds the envelope. Engine
// failures never escape: they are logged, recorded in metadata as
// "<engine>_error", and the next engine is tried.
func (c *Cascade) Extract(ctx context.Context, in *Input) *entity.ExtractionResult {
	start := time.Now()
	res := entity.NewResult(in.FileType, in.Filename)
	defer func() { res.Duration = time.Since(start) }()

	if !in.FileType.IsOCRBearing() {
		return entity.ErrorResult(in.FileType, in.Filename, fmt.Sprintf("%s files are not handled by OCR", in.FileType), nil)
	}

	c.mu.RLock()
	engines := c.available
	c.mu.RUnlock()

	var failures []string
	ocrAttempted := false
	for _, eng := range engines {
		if !eng.Supports(in.FileType) {
			continue
		}
		if err := ctx.Err(); err != nil {
			res = entity.ErrorResult(in.FileType, in.Filename, "extraction cancelled", err)
			return res
		}
		out, err := c.run(ctx, eng, in)
		if err != nil {
			outcome := "failed"
			if errors.Is(err, common.ErrEngineUnavailable) {
				outcome = "unavailable"
			} else {
				ocrAttempted = true
			}
			metrics.EngineAttempt(eng.Name(), outcome)
			c.logger.Warn("ocr engine failed, trying next", "engine", eng.Name(), "file", in.Filename, "error", err)
			res.SetMeta(eng.Name()+"_error", err.Error())
			failures = append(failures, fmt.Sprintf("%s: %v", eng.Name(), err))
			continue
		}

		res.FullText = out.Text
		res.Pages = out.Pages
		res.PageCount = out.PageCount
		res.Confidence = out.Confidence
		if len(out.Warnings) > 0 {
			res.SetMeta("warnings", strings.Join(out.Warnings, "; "))
		}
		if out.Partial {
			metrics.EngineAttempt(eng.Name(), "partial")
			msg := out.Message
			if ocrAttempted {
				msg = "no OCR engine succeeded; recovered page structure only"
			}
			res.Partial(eng.Name(), msg)
		} else {
			metrics.EngineAttempt(eng.Name(), "success")
			res.Succeed(eng.Name())
		}
		c.logger.Info("ocr engine succeeded",
			"engine", eng.Name(),
			"file", in.Filename,
			"status", res.Status,
			"pages", out.PageCount,
			"chars", len(out.Text),
		)
		return res
	}

	if len(failures) == 0 {
		return c.noEngineResult(in)
	}
	errRes := entity.ErrorResult(in.FileType, in.Filename,
		"all OCR engines failed: "+strings.Join(failures, "; "), nil)
	errRes.Metadata = res.Metadata
	return errRes
}

// run executes one engine under the per-engine timeout and converts panics
// into errors.
func (c *Cascade) run(ctx context.Context, eng Engine, in *Input) (out *Output, err error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("ocr engine panicked", "engine", eng.Name(), "panic", r, "stack", string(debug.Stack()))
			out, err = nil, fmt.Errorf("engine panicked: %v", r)
		}
	}()
	out, err = eng.Extract(ctx, in)
	if err == nil && out == nil {
		err = errors.New("engine returned no output")
	}
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %v", common.ErrTimeout, c.timeout, err)
	}
	return out, err
}

func (c *Cascade) noEngineResult(in *Input) *entity.ExtractionResult {
	var hints []string
	seen := map[string]bool{}
	for _, e := range c.engines {
		if h := e.InstallHint(); h != "" && e.Supports(in.FileType) && !seen[h] {
			seen[h] = true
			hints = append(hints, h)
		}
	}
	msg := fmt.Sprintf("no OCR engine available for %s files", in.FileType)
	if len(hints) > 0 {
		msg += "; " + strings.Join(hints, "; or ")
	}
	res := entity.ErrorResult(in.FileType, in.Filename, msg, common.ErrEngineUnavailable)
	for name, reason := range c.Unavailable() {
		res.SetMeta(name+"_unavailable", reason)
	}
	return res
}

func names(engines []Engine) []string {
	out := make([]string, 0, len(engines))
	for _, e := range engines {
		out = append(out, e.Name())
	}
	return out
}
