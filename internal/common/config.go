package common

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ConfigFileName is the base name of the optional config file (without extension).
const ConfigFileName = "tenderdocs"

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	OCR      OCRConfig      `mapstructure:"ocr"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string        `mapstructure:"driver"` // postgres | sqlite
	DSN              string        `mapstructure:"dsn"`
	MaxConns         int32         `mapstructure:"max_conns"`
	MinConns         int32         `mapstructure:"min_conns"`
	MaxConnLifetime  time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `mapstructure:"max_conn_idle_time"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr     string        `mapstructure:"http_addr"`
	GRPCAddr     string        `mapstructure:"grpc_addr"`
	MaxUploadMB  int64         `mapstructure:"max_upload_mb"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// OCRConfig holds OCR engine configuration
type OCRConfig struct {
	Engines            []string      `mapstructure:"engines"`
	EngineTimeout      time.Duration `mapstructure:"engine_timeout"`
	Pdftoppm           string        `mapstructure:"pdftoppm"`
	Tesseract          string        `mapstructure:"tesseract"`
	TesseractLang      string        `mapstructure:"tesseract_lang"`
	TessdataDir        string        `mapstructure:"tessdata_dir"`
	DPI                int           `mapstructure:"dpi"`
	MaxPages           int           `mapstructure:"max_pages"`
	PageParallelism    int           `mapstructure:"page_parallelism"`
	ArtifactCacheDir   string        `mapstructure:"artifact_cache_dir"`
	GoogleCredentials  string        `mapstructure:"google_credentials"`
	GoogleCredsFile    string        `mapstructure:"google_credentials_file"`
	DocumentAIProject  string        `mapstructure:"documentai_project"`
	DocumentAILocation string        `mapstructure:"documentai_location"`
	DocumentAIProc     string        `mapstructure:"documentai_processor"`
	StrictSchema       bool          `mapstructure:"strict_schema"`
}

// JobsConfig holds the async OCR worker pool configuration
type JobsConfig struct {
	Workers   int           `mapstructure:"workers"`
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// StorageConfig holds the document store configuration
type StorageConfig struct {
	DocumentDir string `mapstructure:"document_dir"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var envBindings = map[string]string{
	"database.driver":             "DB_DRIVER",
	"database.dsn":                "DB_URL",
	"database.max_conns":          "DB_MAX_CONNS",
	"database.min_conns":          "DB_MIN_CONNS",
	"database.max_conn_lifetime":  "DB_MAX_CONN_LIFETIME",
	"database.max_conn_idle_time": "DB_MAX_CONN_IDLE_TIME",
	"database.dial_timeout":       "DB_DIAL_TIMEOUT",
	"database.statement_timeout":  "DB_STATEMENT_TIMEOUT",
	"server.http_addr":            "HTTP_ADDR",
	"server.grpc_addr":            "GRPC_ADDR",
	"server.max_upload_mb":        "MAX_UPLOAD_MB",
	"ocr.engines":                 "OCR_ENGINES",
	"ocr.engine_timeout":          "OCR_ENGINE_TIMEOUT",
	"ocr.pdftoppm":                "PDFTOPPM_BIN",
	"ocr.tesseract":               "TESSERACT_BIN",
	"ocr.tesseract_lang":          "TESSERACT_LANG",
	"ocr.tessdata_dir":            "TESSDATA_PREFIX",
	"ocr.dpi":                     "OCR_DPI",
	"ocr.max_pages":               "OCR_MAX_PAGES",
	"ocr.page_parallelism":        "OCR_PAGE_PARALLELISM",
	"ocr.artifact_cache_dir":      "ARTIFACT_CACHE_DIR",
	"ocr.google_credentials":      "GOOGLE_CREDENTIALS",
	"ocr.google_credentials_file": "GOOGLE_APPLICATION_CREDENTIALS",
	"ocr.documentai_project":      "DOCUMENTAI_PROJECT",
	"ocr.documentai_location":     "DOCUMENTAI_LOCATION",
	"ocr.documentai_processor":    "DOCUMENTAI_PROCESSOR",
	"ocr.strict_schema":           "OCR_STRICT_SCHEMA",
	"jobs.workers":                "OCR_WORKERS",
	"jobs.queue_size":             "OCR_QUEUE_SIZE",
	"jobs.timeout":                "OCR_JOB_TIMEOUT",
	"storage.document_dir":        "DOCUMENT_STORE_DIR",
	"log.level":                   "LOG_LEVEL",
	"log.format":                  "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:tenderdocs.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("database.max_conn_idle_time", 5*time.Minute)
	v.SetDefault("database.dial_timeout", 3*time.Second)
	v.SetDefault("database.statement_timeout", time.Duration(0))

	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.max_upload_mb", 50)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)

	v.SetDefault("ocr.engines", []string{"vision", "documentai", "tesseract", "textlayer", "raster"})
	v.SetDefault("ocr.engine_timeout", 2*time.Minute)
	v.SetDefault("ocr.pdftoppm", "pdftoppm")
	v.SetDefault("ocr.tesseract", "tesseract")
	v.SetDefault("ocr.tesseract_lang", "eng")
	v.SetDefault("ocr.dpi", 300)
	v.SetDefault("ocr.max_pages", 0)
	v.SetDefault("ocr.page_parallelism", 2)
	v.SetDefault("ocr.artifact_cache_dir", "./tmp")
	v.SetDefault("ocr.documentai_location", "us")

	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.queue_size", 256)
	v.SetDefault("jobs.timeout", 5*time.Minute)

	v.SetDefault("storage.document_dir", "./data/documents")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig loads configuration from defaults, an optional tenderdocs.yaml (or
// the explicit configFile), a .env file and environment variables, in that
// order of increasing precedence.
func LoadConfig(configFile string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(ConfigFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tenderdocs")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.OCR.Engines = normalizeEngineList(cfg.OCR.Engines)
	return &cfg, nil
}

// normalizeEngineList accepts both list values and a single comma separated
// string coming from the environment.
func normalizeEngineList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, name := range strings.Split(item, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("DB_DRIVER %q is not supported", c.Database.Driver), ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Jobs.Workers <= 0 {
		return NewAppError("CONFIG_ERROR", "OCR_WORKERS must be positive", ErrInvalidInput)
	}
	if c.Jobs.Timeout <= 0 {
		return NewAppError("CONFIG_ERROR", "OCR_JOB_TIMEOUT must be positive", ErrInvalidInput)
	}
	if c.OCR.DPI < 72 || c.OCR.DPI > 1200 {
		return NewAppError("CONFIG_ERROR", "OCR_DPI must be between 72 and 1200", ErrInvalidInput)
	}
	if len(c.OCR.Engines) == 0 {
		return NewAppError("CONFIG_ERROR", "OCR_ENGINES must name at least one engine", ErrInvalidInput)
	}
	if c.Storage.DocumentDir == "" {
		return NewAppError("CONFIG_ERROR", "DOCUMENT_STORE_DIR is required", ErrInvalidInput)
	}
	return nil
}
