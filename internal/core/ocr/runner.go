package ocr

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"time"
)

// maxStderrLog bounds how much of a failing tool's stderr reaches the log.
const maxStderrLog = 4 << 10

// Runner starts the external OCR tools (tesseract, pdftoppm). Tests swap in a
// stub so engines can be exercised without the binaries installed.
type Runner interface {
	Run(ctx context.Context, name string, logger *slog.Logger, args ...string) (stdout, stderr []byte, err error)
	LookPath(name string) (string, error)
}

type execRunner struct{}

func ExecRunner() Runner { return execRunner{} }

func (execRunner) LookPath(name string) (string, error) { return exec.LookPath(name) }

func (execRunner) Run(ctx context.Context, name string, logger *slog.Logger, args ...string) ([]byte, []byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	began := time.Now()
	err := cmd.Run()
	attrs := []any{"tool", name, "args", len(args), "elapsed", time.Since(began)}
	if err != nil {
		logger.Warn("ocr tool failed", append(attrs, "error", err, "stderr", stderrTail(stderr.Bytes(), maxStderrLog))...)
	} else {
		logger.Debug("ocr tool finished", append(attrs, "stdout_bytes", stdout.Len())...)
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

// stderrTail keeps the last n bytes; tools print the actual failure last.
func stderrTail(b []byte, n int) string {
	b = bytes.TrimSpace(b)
	if len(b) <= n {
		return string(b)
	}
	return "..." + string(b[len(b)-n:])
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
