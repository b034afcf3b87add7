package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lucaresi/stima/pkg/llm"
)

type Config struct {
	Addr          string          `yaml:"addr"`
	JWTSecret     string          `yaml:"jwt_secret"`
	APITimeout    time.Duration   `yaml:"timeout"`
	DatabasePath  string          `yaml:"database_path"`
	TokenDuration time.Duration   `yaml:"token_duration"`
	LLM           llm.Config      `yaml:"llm"`
	Estimator     EstimatorConfig `yaml:"estimator"`
	GitHub        GitHubConfig    `yaml:"github"`
}

// EstimatorConfig tunes the estimation job orchestrator.
type EstimatorConfig struct {
	// MandayRate is the default cost of one manday when a request omits it.
	MandayRate float64 `yaml:"manday_rate"`
	// Currency is the default currency code.
	Currency string `yaml:"currency"`
	// Workers is the number of concurrent estimation runs.
	Workers int `yaml:"workers"`
	// QueueSize bounds the run queue.
	QueueSize int `yaml:"queue_size"`
	// JobTTL is how long terminal jobs stay in the registry before eviction.
	JobTTL time.Duration `yaml:"job_ttl"`
}

type GitHubConfig struct {
	// Token is the fallback credential for repository enrichment.
	Token string `yaml:"token"`
	// Timeout is the per-request timeout for tree and file fetches.
	Timeout time.Duration `yaml:"timeout"`
}

func LoadConfig(path string) (*Config, error) {
	// optional .env file, real environment wins
	_ = godotenv.Load()

	llmCfg := llm.DefaultConfig()
	if getEnv("STIMA_LLM_PROVIDER", "") == llm.ProviderOllama {
		llmCfg = llm.DefaultOllamaConfig()
	}
	llmCfg.APIKey = getEnv("STIMA_LLM_API_KEY", "")
	llmCfg.BaseURL = getEnv("STIMA_LLM_BASE_URL", llmCfg.BaseURL)
	llmCfg.Model = getEnv("STIMA_LLM_MODEL", llmCfg.Model)

	cfg := &Config{
		Addr:          getEnv("STIMA_ADDR", ":8080"),
		JWTSecret:     getEnv("STIMA_JWT_SECRET", "supersecretkey"),
		APITimeout:    120 * time.Second,
		DatabasePath:  getEnv("STIMA_DATABASE_PATH", "stima.db"),
		TokenDuration: 1 * time.Hour,
		LLM:           llmCfg,
		Estimator: EstimatorConfig{
			MandayRate: getEnvFloat("STIMA_MANDAY_RATE", 500),
			Currency:   getEnv("STIMA_CURRENCY", "EUR"),
			Workers:    4,
			QueueSize:  32,
			JobTTL:     24 * time.Hour,
		},
		GitHub: GitHubConfig{
			Token:   getEnv("STIMA_GITHUB_TOKEN", ""),
			Timeout: 30 * time.Second,
		},
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate rejects configurations that cannot run and backfills
// zero-valued tunables with their defaults.
func (c *Config) Validate() error {
	if c.JWTSecret == "" || (c.JWTSecret == "supersecretkey" && getEnv("STIMA_ENV", "") != "development") {
		return fmt.Errorf("jwt_secret must be set to a non-default value outside development")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model must be set")
	}
	if c.LLM.Provider == llm.ProviderAnthropic && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key must be set for the anthropic provider")
	}
	if c.Estimator.MandayRate <= 0 {
		return fmt.Errorf("estimator.manday_rate must be positive, got %v", c.Estimator.MandayRate)
	}
	if c.Estimator.Currency == "" {
		c.Estimator.Currency = "EUR"
	}
	if c.Estimator.Workers <= 0 {
		c.Estimator.Workers = 4
	}
	if c.Estimator.QueueSize <= 0 {
		c.Estimator.QueueSize = 32
	}
	if c.Estimator.JobTTL <= 0 {
		c.Estimator.JobTTL = 24 * time.Hour
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = 120 * time.Second
	}
	if c.GitHub.Timeout <= 0 {
		c.GitHub.Timeout = 30 * time.Second
	}

	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}

	return def
}
