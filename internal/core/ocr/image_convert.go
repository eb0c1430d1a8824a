package ocr

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// tesseractNative lists formats tesseract reads well without conversion.
var tesseractNative = map[string]bool{"png": true, "jpg": true, "jpeg": true, "tiff": true}

// prepareImage returns a path tesseract can read. Native formats that are wide
// enough are used as-is. Anything else is converted to a grayscale PNG,
// upscaled to minWidth when narrower, and persisted at
//
//	{cacheDir}/{sha256}.png
//
// so repeated OCR of the same content skips the conversion. cleanup is a no-op
// for cached artifacts.
func prepareImage(logger *slog.Logger, in *Input, cacheDir string, minWidth int) (string, func(), error) {
	data, err := in.Bytes()
	if err != nil {
		return "", nil, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", nil, fmt.Errorf("decode image header: %w", err)
	}
	if tesseractNative[in.Ext] && cfg.Width >= minWidth {
		return in.LocalPath()
	}

	hashHex, err := in.ContentHash()
	if err != nil {
		return "", nil, err
	}
	noop := func() {}
	cached := filepath.Join(cacheDir, hashHex+".png")
	if st, err := os.Stat(cached); err == nil && !st.IsDir() {
		logger.Debug("using cached normalized image", "cache", cached)
		return cached, noop, nil
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", nil, fmt.Errorf("decode image: %w", err)
	}
	img = imaging.Grayscale(img)
	if img.Bounds().Dx() < minWidth {
		img = imaging.Resize(img, minWidth, 0, imaging.Lanczos)
	}

	tmp, err := os.CreateTemp(cacheDir, hashHex+"-*.png")
	if err != nil {
		return "", nil, err
	}
	tmpName := tmp.Name()
	_ = tmp.Close()
	if err := imaging.Save(img, tmpName); err != nil {
		_ = os.Remove(tmpName)
		return "", nil, fmt.Errorf("save normalized image: %w", err)
	}
	if err := os.Rename(tmpName, cached); err != nil {
		// another worker may have produced it first
		if st, statErr := os.Stat(cached); statErr == nil && !st.IsDir() {
			_ = os.Remove(tmpName)
			return cached, noop, nil
		}
		_ = os.Remove(tmpName)
		return "", nil, err
	}
	logger.Debug("cached normalized image", "cache", cached, "width", img.Bounds().Dx())
	return cached, noop, nil
}
