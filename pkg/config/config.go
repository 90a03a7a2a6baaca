package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Upstream limits that configuration may not exceed.
const (
	MaxDiscoveryPageSize = 500
	MaxDetailPageSize    = 50
)

// Config holds the application configuration.
type Config struct {
	Request     RequestConfig     `yaml:"request"`
	Log         LogConfig         `yaml:"log"`
	DB          DBConfig          `yaml:"db"`
	Wikidata    WikidataConfig    `yaml:"wikidata"`
	Translation TranslationConfig `yaml:"translation"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
}

// RequestConfig holds HTTP request settings.
type RequestConfig struct {
	Retries int           `yaml:"retries"`
	Timeout Duration      `yaml:"timeout"`
	RateGap Duration      `yaml:"rate_gap"` // Pause after every request to the same provider
	Contact string        `yaml:"contact"`  // Appended to the User-Agent, required by Wikimedia policy
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path     string   `yaml:"path"`
	CacheTTL Duration `yaml:"cache_ttl"`
}

// WikidataConfig holds Wikidata-specific settings.
type WikidataConfig struct {
	SPARQLEndpoint    string   `yaml:"sparql_endpoint"`
	APIEndpoint       string   `yaml:"api_endpoint"`
	EntityClass       string   `yaml:"entity_class"` // Q11424 = film
	DiscoveryPageSize int      `yaml:"discovery_page_size"`
	DetailPageSize    int      `yaml:"detail_page_size"`
	PageInterval      Duration `yaml:"page_interval"`
	Workers           int      `yaml:"workers"`
}

// TranslationConfig holds settings for the title translation stage.
type TranslationConfig struct {
	Backend        string            `yaml:"backend"` // "opus-mt", "gemini", "openai"
	MaxBatchSize   int               `yaml:"max_batch_size"`
	Limit          int               `yaml:"limit"`   // Pending titles per run
	Workers        int               `yaml:"workers"` // Languages translated concurrently
	TargetLanguage string            `yaml:"target_language"`
	Languages      map[string]string `yaml:"languages"` // Source language -> backend model id
	OpusMT         OpusMTConfig      `yaml:"opus_mt"`
	Gemini         GeminiConfig      `yaml:"gemini"`
	OpenAI         OpenAIConfig      `yaml:"openai"`
}

// OpusMTConfig holds settings for Helsinki-NLP models served over the Hugging Face API.
type OpusMTConfig struct {
	InferenceURL string `yaml:"inference_url"`
	HubURL       string `yaml:"hub_url"`
	Key          string `yaml:"key"`
}

// GeminiConfig holds settings for the Gemini translation backend.
type GeminiConfig struct {
	Key   string `yaml:"key"`
	Model string `yaml:"model"`
}

// OpenAIConfig holds settings for any OpenAI-compatible translation backend.
type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	Key     string `yaml:"key"`
	Model   string `yaml:"model"`
}

// PipelineConfig holds settings for full pipeline runs.
type PipelineConfig struct {
	DiscoverCount int    `yaml:"discover_count"`
	LockFile      string `yaml:"lock_file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Request: RequestConfig{
			Retries: 3,
			Timeout: Duration(60 * time.Second),
			RateGap: Duration(100 * time.Millisecond),
			Backoff: BackoffConfig{
				BaseDelay: Duration(500 * time.Millisecond),
				MaxDelay:  Duration(30 * time.Second),
			},
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/moviequiz.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path:     "./data/moviequiz.db",
			CacheTTL: Duration(7 * Day),
		},
		Wikidata: WikidataConfig{
			SPARQLEndpoint:    "https://query.wikidata.org/sparql",
			APIEndpoint:       "https://www.wikidata.org/w/api.php",
			EntityClass:       "Q11424",
			DiscoveryPageSize: MaxDiscoveryPageSize,
			DetailPageSize:    MaxDetailPageSize,
			PageInterval:      Duration(1 * time.Second),
			Workers:           1,
		},
		Translation: TranslationConfig{
			Backend:        "opus-mt",
			MaxBatchSize:   25,
			Limit:          1000,
			Workers:        1,
			TargetLanguage: "en",
			Languages:      DefaultLanguages(),
			OpusMT: OpusMTConfig{
				InferenceURL: "https://api-inference.huggingface.co",
				HubURL:       "https://huggingface.co",
			},
			Gemini: GeminiConfig{
				Model: "gemini-2.5-flash-lite",
			},
			OpenAI: OpenAIConfig{
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
			},
		},
		Pipeline: PipelineConfig{
			DiscoverCount: 5000,
			LockFile:      "./data/moviequiz.lock",
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it merges defaults with existing values but does NOT save back to disk.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// A file-level languages table replaces the defaults instead of merging into them.
		cfg.Translation.Languages = nil
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if cfg.Translation.Languages == nil {
			cfg.Translation.Languages = DefaultLanguages()
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv fills empty secrets from the environment (never saved back to disk).
func applyEnv(cfg *Config) {
	if cfg.Translation.Gemini.Key == "" {
		cfg.Translation.Gemini.Key = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Translation.OpusMT.Key == "" {
		cfg.Translation.OpusMT.Key = os.Getenv("HF_TOKEN")
	}
	if cfg.Translation.OpenAI.Key == "" {
		cfg.Translation.OpenAI.Key = os.Getenv("OPENAI_API_KEY")
	}
}

var entityClassRe = regexp.MustCompile(`^Q[0-9]+$`)

// Validate checks bounds that the upstream APIs impose.
func (c *Config) Validate() error {
	w := c.Wikidata
	if w.DiscoveryPageSize < 1 || w.DiscoveryPageSize > MaxDiscoveryPageSize {
		return fmt.Errorf("wikidata.discovery_page_size must be in [1, %d], got %d", MaxDiscoveryPageSize, w.DiscoveryPageSize)
	}
	if w.DetailPageSize < 1 || w.DetailPageSize > MaxDetailPageSize {
		return fmt.Errorf("wikidata.detail_page_size must be in [1, %d], got %d", MaxDetailPageSize, w.DetailPageSize)
	}
	if w.Workers < 1 {
		return fmt.Errorf("wikidata.workers must be at least 1, got %d", w.Workers)
	}
	if !entityClassRe.MatchString(w.EntityClass) {
		return fmt.Errorf("wikidata.entity_class %q is not a Wikidata item id", w.EntityClass)
	}

	t := c.Translation
	if t.MaxBatchSize < 1 {
		return fmt.Errorf("translation.max_batch_size must be at least 1, got %d", t.MaxBatchSize)
	}
	if t.Workers < 1 {
		return fmt.Errorf("translation.workers must be at least 1, got %d", t.Workers)
	}
	switch t.Backend {
	case "opus-mt", "gemini", "openai":
	default:
		return fmt.Errorf("unknown translation.backend %q", t.Backend)
	}
	for code, model := range t.Languages {
		if err := validateLanguageCode(code); err != nil {
			return fmt.Errorf("translation.languages: %w", err)
		}
		if strings.TrimSpace(model) == "" {
			return fmt.Errorf("translation.languages: empty backend id for %q", code)
		}
	}
	return nil
}

// validateLanguageCode accepts bare base languages only ("de", "nb"), never region variants.
func validateLanguageCode(code string) error {
	if strings.Contains(code, "-") {
		return fmt.Errorf("language code %q carries a region qualifier", code)
	}
	if _, err := language.ParseBase(code); err != nil {
		return fmt.Errorf("invalid language code %q: %w", code, err)
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# MovieQuiz Configuration
# ---------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)

`)
	data = append(header, data...)

	reBackend := regexp.MustCompile(`(?m)^(\s+)backend:`)
	data = reBackend.ReplaceAll(data, []byte("${1}# Options: opus-mt, gemini, openai\n${1}backend:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
