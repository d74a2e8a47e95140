package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalid marks configuration errors. They are raised before any network
// activity and are never retried.
var ErrInvalid = errors.New("invalid configuration")

// Invalidf returns an error wrapping ErrInvalid.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Supported LLM providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

type Config struct {
	Port string

	// Auth
	CopyeditAPIKey string

	// LLM
	Provider        string
	Model           string
	BaseURL         string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string
	MaxOutputTokens int

	// Chunking and retries
	ContextWindow     int
	MaxImagesPerChunk int
	MaxAttempts       int
	ImageDetail       string
	RequestTimeout    time.Duration
	MaxConcurrent     int
	RequestsPerMinute int

	// Extraction
	RenderDPI            int
	PDFFallbackPdftotext bool

	// Style guide; empty selects the built-in guide.
	StyleGuidePath string

	// History
	DBPath string

	// Job service
	WorkerCount    int
	MaxQueueSize   int
	MaxUploadBytes int64
	JobTTL         time.Duration
}

// Load reads configuration from the environment, after merging an optional
// .env file from the working directory.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port: envOr("PORT", "8090"),

		CopyeditAPIKey: os.Getenv("COPYEDIT_API_KEY"),

		Provider:        strings.ToLower(envOr("LLM_PROVIDER", "openai")),
		Model:           envOr("LLM_MODEL", "gpt-4o"),
		BaseURL:         os.Getenv("LLM_BASE_URL"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		MaxOutputTokens: envInt("MAX_OUTPUT_TOKENS", 4096),

		ContextWindow:     envInt("CONTEXT_WINDOW", 128000),
		MaxImagesPerChunk: envInt("MAX_IMAGES_PER_CHUNK", 20),
		MaxAttempts:       envInt("MAX_ATTEMPTS", 3),
		ImageDetail:       strings.ToLower(envOr("IMAGE_DETAIL", "high")),
		RequestTimeout:    envDuration("REQUEST_TIMEOUT", 120*time.Second),
		MaxConcurrent:     envInt("MAX_CONCURRENT_CHUNKS", 1),
		RequestsPerMinute: envInt("REQUESTS_PER_MINUTE", 0),

		RenderDPI:            envInt("RENDER_DPI", 110),
		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),

		StyleGuidePath: os.Getenv("STYLE_GUIDE_PATH"),

		DBPath: envOr("DB_PATH", "copyedit.db"),

		WorkerCount:    envInt("WORKER_COUNT", 2),
		MaxQueueSize:   envInt("MAX_QUEUE_SIZE", 50),
		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB
		JobTTL:         envDuration("JOB_TTL", 1*time.Hour),
	}

	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 4096
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.RenderDPI <= 0 {
		cfg.RenderDPI = 110
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 50
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}

	return cfg
}

// APIKey returns the key for the configured provider.
func (c Config) APIKey() string {
	switch c.Provider {
	case ProviderAnthropic:
		return c.AnthropicAPIKey
	case ProviderGemini:
		return c.GeminiAPIKey
	default:
		return c.OpenAIAPIKey
	}
}

// Validate checks the settings needed by every entry point. Pipeline
// budgets are re-checked by the pipeline itself.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini:
	default:
		return Invalidf("LLM_PROVIDER %q is not one of openai, anthropic, gemini", c.Provider)
	}
	if c.APIKey() == "" {
		return Invalidf("an API key is required for provider %s", c.Provider)
	}
	if c.Model == "" {
		return Invalidf("LLM_MODEL is required")
	}
	if c.ContextWindow <= 0 {
		return Invalidf("CONTEXT_WINDOW must be positive, got %d", c.ContextWindow)
	}
	if c.MaxAttempts < 1 {
		return Invalidf("MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	if c.ImageDetail != "high" && c.ImageDetail != "low" {
		return Invalidf("IMAGE_DETAIL must be high or low, got %q", c.ImageDetail)
	}
	if c.RequestTimeout <= 0 {
		return Invalidf("REQUEST_TIMEOUT must be positive")
	}
	return nil
}

// ValidateServer adds the checks needed only by the HTTP server.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.CopyeditAPIKey == "" {
		return Invalidf("COPYEDIT_API_KEY is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Bare integers are seconds.
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
