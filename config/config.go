package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ProjectDir   string `json:"project_dir"`
	DataDir      string `json:"data_dir"`
	DataCacheDir string `json:"data_cache_dir"`
	ArchivePath  string `json:"archive_path"`

	// LLMProvider is deepseek, openai or offline (no model calls).
	LLMProvider    string `json:"llm_provider"`
	Model          string `json:"model"`
	BackendURL     string `json:"backend_url"`
	MaxTokens      int    `json:"max_tokens"`
	DeepSeekAPIKey string `json:"deepseek_api_key"`

	MaxDebateRounds      int    `json:"max_debate_rounds"`
	MaxRiskDiscussRounds int    `json:"max_risk_rounds"`
	DynamicRiskRounds    bool   `json:"dynamic_risk_rounds"`
	FinalStage           string `json:"final_stage"`
	MaxRecurLimit        int    `json:"max_recursion_limit"`
	StageTimeoutSeconds  int    `json:"stage_timeout_seconds"`
	ResearchDepth        int    `json:"research_depth"`
	ProviderSpeed        string `json:"provider_speed"`

	// Market data
	MarketStatsURL    string   `json:"market_stats_url"`
	MarketStatsAPIKey string   `json:"market_stats_api_key"`
	FetchRetries      int      `json:"fetch_retries"`
	YahooIndices      []string `json:"yahoo_indices"`
	LongportIndices   []string `json:"longport_indices"`
	CacheEnabled      bool     `json:"cache_enabled"`
	CacheTTLMinutes   int      `json:"cache_ttl_minutes"`

	// Longport API Configuration
	LongportAppKey      string `json:"longport_app_key"`
	LongportAppSecret   string `json:"longport_app_secret"`
	LongportAccessToken string `json:"longport_access_token"`

	// Progress sharing and retention
	NATSURL            string `json:"nats_url"`
	ProgressBucket     string `json:"progress_bucket"`
	ProgressTTLMinutes int    `json:"progress_ttl_minutes"`
	RetentionMinutes   int    `json:"retention_minutes"`
	SweepSchedule      string `json:"sweep_schedule"`

	MetricsAddr string `json:"metrics_addr"`
	LogLevel    string `json:"log_level"`
	Debug       bool   `json:"debug"`
	// EinoDebug starts the eino devops server so compiled graphs can be inspected.
	EinoDebug bool `json:"eino_debug"`
}

func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()
	cfg := DefaultConfigWithRoot(currentDir)

	// Load environment variables from .env file
	_ = godotenv.Load()

	// Override with environment variables if they exist
	cfg.loadFromEnv()

	return cfg
}

// DefaultConfigWithRoot returns the built-in defaults with every path under root.
func DefaultConfigWithRoot(root string) *Config {
	return &Config{
		ProjectDir:   root,
		DataDir:      filepath.Join(root, "data"),
		DataCacheDir: filepath.Join(root, "data", "cache"),
		ArchivePath:  filepath.Join(root, "data", "jobs.db"),

		LLMProvider: "deepseek",
		Model:       "deepseek-chat",
		MaxTokens:   4096,

		MaxDebateRounds:      1,
		MaxRiskDiscussRounds: 1,
		DynamicRiskRounds:    true,
		FinalStage:           "risk_judge",
		MaxRecurLimit:        128,
		StageTimeoutSeconds:  300,
		ResearchDepth:        3,
		ProviderSpeed:        "normal",

		FetchRetries:    3,
		YahooIndices:    []string{"^GSPC", "^IXIC", "^DJI", "^RUT"},
		LongportIndices: []string{".HSI.HK", "000001.SH", "399001.SZ", "399006.SZ"},
		CacheEnabled:    true,
		CacheTTLMinutes: 720,

		ProgressBucket:     "cortexflow-progress",
		ProgressTTLMinutes: 60,
		RetentionMinutes:   60,
		SweepSchedule:      "@every 1m",

		LogLevel: "info",
	}
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("PROJECT_DIR"); val != "" {
		c.ProjectDir = val
	}
	if val := os.Getenv("DATA_DIR"); val != "" {
		c.DataDir = val
	}
	if val := os.Getenv("DATA_CACHE_DIR"); val != "" {
		c.DataCacheDir = val
	}
	if val := os.Getenv("ARCHIVE_PATH"); val != "" {
		c.ArchivePath = val
	}

	if val := os.Getenv("LLM_PROVIDER"); val != "" {
		c.LLMProvider = val
	}
	if val := os.Getenv("LLM_MODEL"); val != "" {
		c.Model = val
	}
	if val := os.Getenv("BACKEND_URL"); val != "" {
		c.BackendURL = val
	}
	if val := os.Getenv("DEEPSEEK_API_KEY"); val != "" {
		c.DeepSeekAPIKey = val
	}

	envInt("MAX_DEBATE_ROUNDS", &c.MaxDebateRounds)
	envInt("MAX_RISK_ROUNDS", &c.MaxRiskDiscussRounds)
	envBool("DYNAMIC_RISK_ROUNDS", &c.DynamicRiskRounds)
	if val := os.Getenv("FINAL_STAGE"); val != "" {
		c.FinalStage = val
	}
	envInt("MAX_RECURSION_LIMIT", &c.MaxRecurLimit)
	envInt("STAGE_TIMEOUT_SECONDS", &c.StageTimeoutSeconds)
	envInt("RESEARCH_DEPTH", &c.ResearchDepth)
	if val := os.Getenv("PROVIDER_SPEED"); val != "" {
		c.ProviderSpeed = val
	}

	if val := os.Getenv("MARKET_STATS_URL"); val != "" {
		c.MarketStatsURL = val
	}
	if val := os.Getenv("MARKET_STATS_API_KEY"); val != "" {
		c.MarketStatsAPIKey = val
	}
	envInt("FETCH_RETRIES", &c.FetchRetries)
	if val := os.Getenv("YAHOO_INDICES"); val != "" {
		c.YahooIndices = splitList(val)
	}
	if val := os.Getenv("LONGPORT_INDICES"); val != "" {
		c.LongportIndices = splitList(val)
	}
	envBool("CACHE_ENABLED", &c.CacheEnabled)
	envInt("CACHE_TTL_MINUTES", &c.CacheTTLMinutes)

	if val := os.Getenv("LONGPORT_APP_KEY"); val != "" {
		c.LongportAppKey = val
	}
	if val := os.Getenv("LONGPORT_APP_SECRET"); val != "" {
		c.LongportAppSecret = val
	}
	if val := os.Getenv("LONGPORT_ACCESS_TOKEN"); val != "" {
		c.LongportAccessToken = val
	}

	if val := os.Getenv("NATS_URL"); val != "" {
		c.NATSURL = val
	}
	if val := os.Getenv("PROGRESS_BUCKET"); val != "" {
		c.ProgressBucket = val
	}
	envInt("PROGRESS_TTL_MINUTES", &c.ProgressTTLMinutes)
	envInt("RETENTION_MINUTES", &c.RetentionMinutes)
	if val := os.Getenv("SWEEP_SCHEDULE"); val != "" {
		c.SweepSchedule = val
	}

	if val := os.Getenv("METRICS_ADDR"); val != "" {
		c.MetricsAddr = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	envBool("CORTEXFLOW_DEBUG", &c.Debug)
	envBool("EINO_DEBUG_ENABLED", &c.EinoDebug)
}

func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			*dst = v
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if v, err := strconv.ParseBool(val); err == nil {
			*dst = v
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects configurations the engine cannot be built from.
func (c *Config) Validate() error {
	var errs []error
	switch c.LLMProvider {
	case "deepseek", "openai", "offline":
	default:
		errs = append(errs, fmt.Errorf("llm_provider %q must be deepseek, openai or offline", c.LLMProvider))
	}
	if c.MaxDebateRounds < 1 {
		errs = append(errs, fmt.Errorf("max_debate_rounds must be at least 1, got %d", c.MaxDebateRounds))
	}
	if c.MaxRiskDiscussRounds < 1 {
		errs = append(errs, fmt.Errorf("max_risk_rounds must be at least 1, got %d", c.MaxRiskDiscussRounds))
	}
	switch c.FinalStage {
	case "", "research_manager", "trader", "risk_judge":
	default:
		errs = append(errs, fmt.Errorf("final_stage %q must be research_manager, trader or risk_judge", c.FinalStage))
	}
	if c.StageTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("stage_timeout_seconds must not be negative"))
	}
	if c.ResearchDepth < 0 || c.ResearchDepth > 5 {
		errs = append(errs, fmt.Errorf("research_depth must be within 1-5, got %d", c.ResearchDepth))
	}
	switch c.ProviderSpeed {
	case "", "fast", "normal", "slow":
	default:
		errs = append(errs, fmt.Errorf("provider_speed %q must be fast, normal or slow", c.ProviderSpeed))
	}
	if c.FetchRetries < 0 {
		errs = append(errs, fmt.Errorf("fetch_retries must not be negative"))
	}
	if c.NATSURL != "" && strings.TrimSpace(c.ProgressBucket) == "" {
		errs = append(errs, fmt.Errorf("progress_bucket is required when nats_url is set"))
	}
	return errors.Join(errs...)
}

func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

func (c *Config) ProgressTTL() time.Duration {
	return time.Duration(c.ProgressTTLMinutes) * time.Minute
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionMinutes) * time.Minute
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.ProjectDir, c.DataDir, c.DataCacheDir}
	if c.ArchivePath != "" {
		dirs = append(dirs, filepath.Dir(c.ArchivePath))
	}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}
