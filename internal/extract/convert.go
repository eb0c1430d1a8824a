package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/tender-docs/constants"
)

// ErrNoText is returned when a document converts to an empty string.
var ErrNoText = errors.New("document contains no text")

// CanConvert reports whether ext is read as text rather than OCR'd.
func CanConvert(ext string) bool {
	_, ok := constants.TextConvertibleExtensions[constants.NormalizeExt(ext)]
	return ok
}

// ConvertToText renders office and text documents as plain text for the OCR
// job pipeline. Spreadsheets get one "=== Sheet: name ===" section per sheet,
// presentations one "--- Slide N ---" section per slide.
func ConvertToText(ctx context.Context, src Source) (string, error) {
	ext := constants.NormalizeExt(filepath.Ext(src.Name()))
	data, err := src.Bytes()
	if err != nil {
		return "", err
	}

	var text string
	switch ext {
	case "txt", "csv":
		text, err = DecodeText(data)
	case "docx":
		var c docxContent
		c, err = readDocx(data)
		text = c.plain()
	case "pptx":
		slides, perr := readPptx(ctx, data)
		err = perr
		text = slidesText(slides, true)
	case "xlsx", "xls":
		var errs []error
		for _, r := range []sheetReader{streamReader{}, typedReader{}} {
			sheets, rerr := r.read(ctx, data)
			if rerr == nil {
				text, errs = sheetsText(sheets), nil
				break
			}
			errs = append(errs, rerr)
		}
		if len(errs) > 0 {
			err = fmt.Errorf("%w; %s", errors.Join(errs...), spreadsheetGuidance)
		}
	case "doc", "ppt":
		return "", fmt.Errorf("legacy binary .%s files are not supported; save as .%sx", ext, ext)
	default:
		return "", fmt.Errorf("extension .%s is not text-convertible", ext)
	}
	if err != nil {
		return "", fmt.Errorf("convert %s: %w", src.Name(), err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}
