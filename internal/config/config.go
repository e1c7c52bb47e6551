package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string         `yaml:"log_level"`
	LLM      LLMConfig      `yaml:"llm"`
	RAG      RAGConfig      `yaml:"rag"`
	OCR      OCRConfig      `yaml:"ocr"`
	Books    []BookConfig   `yaml:"books"`
	Auth     AuthConfig     `yaml:"auth"`
	Quota    QuotaConfig    `yaml:"quota"`
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Database DatabaseConfig `yaml:"database"`
}

// LLMConfig holds the single shared credential used for both the
// embedding endpoint and the chat endpoint.
type LLMConfig struct {
	Provider       string  `yaml:"provider"`
	BaseURL        string  `yaml:"base_url"`
	Key            string  `yaml:"key"`
	Model          string  `yaml:"model"`
	EmbeddingModel string  `yaml:"embedding_model"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSecs    int     `yaml:"timeout_secs"`
	Retries        int     `yaml:"retries"`
}

type RAGConfig struct {
	ChunkSize       int    `yaml:"chunk_size"`
	ChunkOverlap    int    `yaml:"chunk_overlap"`
	TagPages        bool   `yaml:"tag_pages"`
	BatchSize       int    `yaml:"batch_size"`
	TopK            int    `yaml:"top_k"`
	QueryVariants   int    `yaml:"query_variants"`
	IncludeOriginal bool   `yaml:"include_original"`
	RelatedK        int    `yaml:"related_k"`
	Store           string `yaml:"store"`
	IndexDir        string `yaml:"index_dir"`
	ImagesDir       string `yaml:"images_dir"`
	QuestionsIndex  string `yaml:"questions_index"`
	QuestionsFile   string `yaml:"questions_file"`
	QuestionsSheet  string `yaml:"questions_sheet"`
	EncryptionKey   string `yaml:"encryption_key"`
}

// OCRConfig bounds the rasterise+recognise strategy. Pages outside
// [FirstPage, LastPage] are skipped; zero means unbounded.
type OCRConfig struct {
	Enabled       bool   `yaml:"enabled"`
	FirstPage     int    `yaml:"first_page"`
	LastPage      int    `yaml:"last_page"`
	DPI           int    `yaml:"dpi"`
	Language      string `yaml:"language"`
	PdftoppmPath  string `yaml:"pdftoppm_path"`
	TesseractPath string `yaml:"tesseract_path"`
}

type BookConfig struct {
	Key              string   `yaml:"key"`
	Title            string   `yaml:"title"`
	File             string   `yaml:"file"`
	Index            string   `yaml:"index"`
	Link             string   `yaml:"link"`
	PageMap          string   `yaml:"page_map"`
	OCR              bool     `yaml:"ocr"`
	PopularQuestions []string `yaml:"popular_questions"`
}

// Name is the book identifier carried by every chunk: the file stem.
func (b BookConfig) Name() string {
	if b.File == "" {
		return b.Title
	}
	base := filepath.Base(b.File)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

type AuthConfig struct {
	AllowList         string `yaml:"allow_list"`
	JWTSecret         string `yaml:"jwt_secret"`
	CookieName        string `yaml:"cookie_name"`
	SessionTTLMinutes int    `yaml:"session_ttl_minutes"`
}

type QuotaConfig struct {
	Limit         int  `yaml:"limit"`
	CountFailures bool `yaml:"count_failures"`
}

type ServerConfig struct {
	Addr  string `yaml:"addr"`
	Title string `yaml:"title"`
}

type SessionConfig struct {
	Store         string `yaml:"store"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

const (
	defaultChunkSize     = 10000
	defaultChunkOverlap  = 20
	defaultBatchSize     = 100
	defaultTopK          = 2
	defaultQueryVariants = 3
	defaultRelatedK      = 4
	defaultQueryLimit    = 100
	defaultTimeoutSecs   = 60
	defaultSessionTTL    = 12 * 60

	redactedValue = "xxxxx"
)

// LoadConfig reads the yaml file at path over the defaults, loads a .env
// file when present and lets environment variables override the secrets.
// A key set to zero in the file stays zero.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	applyEnv(cfg)
	fillBooks(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		LLM: LLMConfig{
			Provider:    "openai",
			Temperature: 0.5,
			TimeoutSecs: defaultTimeoutSecs,
			Retries:     1,
		},
		RAG: RAGConfig{
			ChunkSize:       defaultChunkSize,
			ChunkOverlap:    defaultChunkOverlap,
			BatchSize:       defaultBatchSize,
			TopK:            defaultTopK,
			QueryVariants:   defaultQueryVariants,
			IncludeOriginal: true,
			RelatedK:        defaultRelatedK,
			Store:           "chromem",
			IndexDir:        "./indexes",
			ImagesDir:       "./converted_images",
			QuestionsIndex:  "questions",
		},
		OCR: OCRConfig{
			DPI:           300,
			Language:      "eng",
			PdftoppmPath:  "pdftoppm",
			TesseractPath: "tesseract",
		},
		Auth: AuthConfig{
			CookieName:        "bookchat_session",
			SessionTTLMinutes: defaultSessionTTL,
		},
		Quota:   QuotaConfig{Limit: defaultQueryLimit},
		Server:  ServerConfig{Addr: ":8501", Title: "Book Chat"},
		Session: SessionConfig{Store: "memory"},
	}
}

func applyEnv(cfg *Config) {
	for _, k := range []string{"BOOKCHAT_LLM_KEY", "GOOGLE_API_KEY", "OPENAI_API_KEY"} {
		if v := os.Getenv(k); v != "" && cfg.LLM.Key == "" {
			cfg.LLM.Key = v
		}
	}
	if v := os.Getenv("BOOKCHAT_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("BOOKCHAT_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("BOOKCHAT_REDIS_PASSWORD"); v != "" {
		cfg.Session.RedisPassword = v
	}
}

func fillBooks(cfg *Config) {
	for i := range cfg.Books {
		if cfg.Books[i].Index == "" {
			cfg.Books[i].Index = cfg.Books[i].Key
		}
		if cfg.Books[i].Title == "" {
			cfg.Books[i].Title = cfg.Books[i].Name()
		}
	}
}

// Redacted returns a copy safe to log: credentials are masked and the
// database dsn loses its password.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return redactedValue
	}
	c.LLM.Key = mask(c.LLM.Key)
	c.Auth.JWTSecret = mask(c.Auth.JWTSecret)
	c.Database.Password = mask(c.Database.Password)
	c.Session.RedisPassword = mask(c.Session.RedisPassword)
	c.RAG.EncryptionKey = mask(c.RAG.EncryptionKey)
	if u, err := url.Parse(c.Database.DSN); err == nil && u.User != nil {
		c.Database.DSN = u.Redacted()
	}
	return c
}

// Validate checks the parts of the config every command relies on.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Books))
	for _, b := range c.Books {
		if b.Key == "" {
			return errors.New("book key is required")
		}
		if seen[b.Key] {
			return fmt.Errorf("duplicate book key %q", b.Key)
		}
		seen[b.Key] = true
	}
	if c.RAG.ChunkSize <= 0 || c.RAG.ChunkOverlap < 0 {
		return fmt.Errorf("chunk_size must be positive and chunk_overlap not negative")
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("top_k must be positive")
	}
	if c.Auth.SessionTTLMinutes <= 0 {
		return fmt.Errorf("session_ttl_minutes must be positive")
	}
	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", c.RAG.ChunkOverlap, c.RAG.ChunkSize)
	}
	switch c.RAG.Store {
	case "chromem", "pgvector":
	default:
		return fmt.Errorf("unknown store %q", c.RAG.Store)
	}
	switch c.Session.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown session store %q", c.Session.Store)
	}
	return nil
}

// Book returns the book registered under key.
func (c *Config) Book(key string) (BookConfig, bool) {
	for _, b := range c.Books {
		if b.Key == key {
			return b, true
		}
	}
	return BookConfig{}, false
}
