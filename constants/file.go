package constants

import (
	"path/filepath"
	"strings"
)

// FileType is the handling strategy tag carried in every extraction result.
type FileType string

const (
	FileTypePDF         FileType = "pdf"
	FileTypeExcel       FileType = "excel"
	FileTypeDocx        FileType = "docx"
	FileTypePptx        FileType = "pptx"
	FileTypeText        FileType = "text"
	FileTypeImage       FileType = "image"
	FileTypeUnsupported FileType = "unsupported"
)

// FileTypes lists every known strategy in a stable order.
var FileTypes = []FileType{
	FileTypePDF,
	FileTypeExcel,
	FileTypeDocx,
	FileTypePptx,
	FileTypeText,
	FileTypeImage,
	FileTypeUnsupported,
}

var extToFileType = map[string]FileType{
	"pdf":  FileTypePDF,
	"xlsx": FileTypeExcel,
	"xls":  FileTypeExcel,
	"docx": FileTypeDocx,
	"pptx": FileTypePptx,
	"txt":  FileTypeText,
	"png":  FileTypeImage,
	"jpg":  FileTypeImage,
	"jpeg": FileTypeImage,
	"tiff": FileTypeImage,
	"bmp":  FileTypeImage,
	"gif":  FileTypeImage,
}

// TextConvertibleExtensions are read as text by the OCR job pipeline instead of
// going through OCR.
var TextConvertibleExtensions = map[string]struct{}{
	"doc":  {},
	"docx": {},
	"ppt":  {},
	"pptx": {},
	"xls":  {},
	"xlsx": {},
	"txt":  {},
	"csv":  {},
}

// AllowedExtensions holds the extensions picked up by directory ingestion.
var AllowedExtensions = func() map[string]struct{} {
	out := make(map[string]struct{}, len(extToFileType)+1)
	for ext := range extToFileType {
		out[ext] = struct{}{}
	}
	out["csv"] = struct{}{}
	return out
}()

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// DetectFileType returns the normalized extension of filename and the strategy
// that handles it. Unknown or missing extensions map to FileTypeUnsupported.
func DetectFileType(filename string) (string, FileType) {
	ext := NormalizeExt(filepath.Ext(filename))
	if ft, ok := extToFileType[ext]; ok {
		return ext, ft
	}
	return ext, FileTypeUnsupported
}

// IsOCRBearing reports whether the strategy needs the OCR adapter.
func (t FileType) IsOCRBearing() bool {
	return t == FileTypePDF || t == FileTypeImage
}

// MimeType returns a best-effort content type for an extension.
func MimeType(ext string) string {
	switch NormalizeExt(ext) {
	case "pdf":
		return "application/pdf"
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "bmp":
		return "image/bmp"
	case "tiff":
		return "image/tiff"
	case "xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "xls":
		return "application/vnd.ms-excel"
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case "pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case "txt":
		return "text/plain"
	case "csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
