package constants

// Extraction method tags. Each names the concrete engine that produced a result.
const (
	MethodVisionOCR      = "vision_ocr"
	MethodDocumentAIOCR  = "documentai_ocr"
	MethodTesseract      = "tesseract_fallback"
	MethodPDFTextLayer   = "pdf_text_layer"
	MethodPDFRasterOnly  = "pdftoppm_only"
	MethodImageProbeOnly = "image_probe_only"

	MethodExcelize       = "excelize"
	MethodExcelizeStream = "excelize_stream"
	MethodDocx           = "docx"
	MethodPptx           = "pptx_ooxml"
	MethodText           = "text"

	MethodTextConversion = "text_conversion"
	MethodNone           = "none"
)
