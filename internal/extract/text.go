package extract

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
)

// TextExtractor reads plain text files.
type TextExtractor struct {
	logger *slog.Logger
}

func NewTextExtractor(logger *slog.Logger) *TextExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &TextExtractor{logger: logger}
}

func (e *TextExtractor) Extract(_ context.Context, src Source) *entity.ExtractionResult {
	name := src.Name()
	return guard(e.logger, constants.FileTypeText, name, func() *entity.ExtractionResult {
		data, err := src.Bytes()
		if err != nil {
			e.logger.Error("failed to read text file", "file", name, "error", err)
			return entity.ErrorResult(constants.FileTypeText, name, "failed to read text file", err)
		}
		text, err := DecodeText(data)
		if err != nil {
			return entity.ErrorResult(constants.FileTypeText, name, "failed to decode text file", err)
		}
		res := entity.NewResult(constants.FileTypeText, name)
		res.Content = text
		res.FullText = text
		res.Lines = strings.Split(text, "\n")
		return res.Succeed(constants.MethodText)
	})
}

// DecodeText decodes data as UTF-8. This is deliberately lossy: invalid byte
// sequences become U+FFFD instead of failing the extraction. A leading byte
// order mark is dropped and CRLF/CR line endings become LF.
func DecodeText(data []byte) (string, error) {
	out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	if err != nil {
		return "", err
	}
	s := strings.ReplaceAll(string(out), "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n"), nil
}
