package ocr

import "time"

// Config configures every built-in engine. Zero values fall back to defaults.
type Config struct {
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "eng"
	TessdataDir   string
	PSM           int // e.g., 6 is good for uniform block of text
	OEM           int // 1 = LSTM; leave 0 to use default

	DPI             int // rasterization DPI for OCR, default 300
	ProbeDPI        int // rasterization DPI for the raster-only probe, default 72
	MaxPages        int // 0 = no limit
	PageParallelism int // concurrent tesseract pages, default 2
	MinImageWidth   int // narrower images are upscaled before tesseract, default 1000

	ArtifactCacheDir string

	GoogleCredentialsJSON string
	GoogleCredentialsFile string
	VisionPagesPerCall    int // default 5, the synchronous file API limit

	DocumentAIProject   string
	DocumentAILocation  string
	DocumentAIProcessor string

	EngineTimeout time.Duration // per engine attempt, default 2m
}

func (c Config) withDefaults() Config {
	if c.Pdftoppm == "" {
		c.Pdftoppm = "pdftoppm"
	}
	if c.Tesseract == "" {
		c.Tesseract = "tesseract"
	}
	if c.TesseractLang == "" {
		c.TesseractLang = "eng"
	}
	if c.DPI <= 0 {
		c.DPI = 300
	}
	if c.ProbeDPI <= 0 {
		c.ProbeDPI = 72
	}
	if c.PageParallelism <= 0 {
		c.PageParallelism = 2
	}
	if c.MinImageWidth <= 0 {
		c.MinImageWidth = 1000
	}
	if c.ArtifactCacheDir == "" {
		c.ArtifactCacheDir = "./tmp"
	}
	if c.VisionPagesPerCall <= 0 || c.VisionPagesPerCall > 5 {
		c.VisionPagesPerCall = 5
	}
	if c.DocumentAILocation == "" {
		c.DocumentAILocation = "us"
	}
	if c.EngineTimeout <= 0 {
		c.EngineTimeout = 2 * time.Minute
	}
	return c
}
