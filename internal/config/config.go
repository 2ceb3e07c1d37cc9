package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the atenea service configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Worker     WorkerConfig     `yaml:"worker"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Context    ContextConfig    `yaml:"context"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds authentication settings. DispatchSecret protects the
// dispatcher trigger and stats endpoints.
type AuthConfig struct {
	DispatchSecret string `yaml:"dispatch_secret"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// WorkerConfig holds embedding worker subprocess settings.
type WorkerConfig struct {
	PythonBin  string            `yaml:"python_bin"`
	ScriptPath string            `yaml:"script_path"`
	TempDir    string            `yaml:"temp_dir"` // empty = os.TempDir()
	TimeoutSec int               `yaml:"timeout_sec"`
	Env        map[string]string `yaml:"env"`
}

// DispatchConfig holds dispatcher settings.
type DispatchConfig struct {
	// StuckAfterSec is the age past which a processing task is presumed
	// abandoned. 0 = 2x worker timeout.
	StuckAfterSec int `yaml:"stuck_after_sec"`
	MaxErrorLen   int `yaml:"max_error_len"`
}

// EmbeddingConfig holds query-side embedding provider settings.
type EmbeddingConfig struct {
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url"`
	Model            string `yaml:"model"`
	Dimensions       int    `yaml:"dimensions"`
	QueryInstruction string `yaml:"query_instruction"`
	CacheSize        int    `yaml:"cache_size"`
}

// GenerationConfig holds answer generation provider settings.
type GenerationConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
}

// ClassifierConfig holds query classification settings. The phrase sets
// are configuration so they can be tuned without a code change.
type ClassifierConfig struct {
	MaxChars        int      `yaml:"max_chars"`
	MaxTokens       int      `yaml:"max_tokens"`
	HybridCount     int      `yaml:"hybrid_count"`
	SpecificCount   int      `yaml:"specific_count"`
	BroadCount      int      `yaml:"broad_count"`
	DefaultCount    int      `yaml:"default_count"`
	SpecificPhrases []string `yaml:"specific_phrases"`
	BroadPhrases    []string `yaml:"broad_phrases"`
}

// RetrievalConfig holds retrieval engine settings.
type RetrievalConfig struct {
	SimilarityThreshold float64          `yaml:"similarity_threshold"`
	HybridThreshold     float64          `yaml:"hybrid_threshold"`
	EnhancedThreshold   float64          `yaml:"enhanced_threshold"`
	KeywordWeight       float64          `yaml:"keyword_weight"`
	SectionCap          int              `yaml:"section_cap"`
	FallbackCount       int              `yaml:"fallback_count"`
	Classifier          ClassifierConfig `yaml:"classifier"`
}

// ContextConfig holds context assembly settings.
type ContextConfig struct {
	HighRelevanceBar float64 `yaml:"high_relevance_bar"`
	HighTier         float64 `yaml:"high_tier"`
	MediumTier       float64 `yaml:"medium_tier"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// Default classifier phrase sets. The original deployment serves Spanish
// speaking students, so both languages are covered.
var (
	defaultSpecificPhrases = []string{
		"qué dice sobre", "what does it say about",
		"define", "definición", "definition",
		"paso a paso", "step by step",
		"según el documento", "according to the document",
	}
	defaultBroadPhrases = []string{
		"compara", "compare",
		"diferencia", "differences",
		"resumen", "overview",
		"relación entre", "relationship between",
	}
)

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// Answer streaming and the dispatcher invocation both outlive a
		// typical request write window.
		c.HTTP.WriteTimeoutSec = 300
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Worker.PythonBin == "" {
		c.Worker.PythonBin = "python3"
	}
	if c.Worker.TimeoutSec <= 0 {
		c.Worker.TimeoutSec = 240
	}
	if c.Dispatch.StuckAfterSec <= 0 {
		c.Dispatch.StuckAfterSec = 2 * c.Worker.TimeoutSec
	}
	if c.Dispatch.MaxErrorLen <= 0 {
		c.Dispatch.MaxErrorLen = 500
	}
	if c.Embedding.CacheSize <= 0 {
		c.Embedding.CacheSize = 512
	}
	if c.Generation.MaxTokens <= 0 {
		c.Generation.MaxTokens = 400
	}
	if c.Generation.Temperature <= 0 {
		c.Generation.Temperature = 0.7
	}
	if c.Retrieval.SimilarityThreshold <= 0 {
		c.Retrieval.SimilarityThreshold = 0.4
	}
	if c.Retrieval.HybridThreshold <= 0 {
		c.Retrieval.HybridThreshold = 0.25
	}
	if c.Retrieval.EnhancedThreshold <= 0 {
		c.Retrieval.EnhancedThreshold = 0.3
	}
	if c.Retrieval.KeywordWeight <= 0 {
		c.Retrieval.KeywordWeight = 0.3
	}
	if c.Retrieval.SectionCap <= 0 {
		c.Retrieval.SectionCap = 3
	}
	if c.Retrieval.FallbackCount <= 0 {
		c.Retrieval.FallbackCount = 4
	}
	cl := &c.Retrieval.Classifier
	if cl.MaxChars <= 0 {
		cl.MaxChars = 100
	}
	if cl.MaxTokens <= 0 {
		cl.MaxTokens = 15
	}
	if cl.HybridCount <= 0 {
		cl.HybridCount = 10
	}
	if cl.SpecificCount <= 0 {
		cl.SpecificCount = 6
	}
	if cl.BroadCount <= 0 {
		cl.BroadCount = 12
	}
	if cl.DefaultCount <= 0 {
		cl.DefaultCount = 8
	}
	if len(cl.SpecificPhrases) == 0 {
		cl.SpecificPhrases = defaultSpecificPhrases
	}
	if len(cl.BroadPhrases) == 0 {
		cl.BroadPhrases = defaultBroadPhrases
	}
	if c.Context.HighRelevanceBar <= 0 {
		c.Context.HighRelevanceBar = 0.5
	}
	if c.Context.HighTier <= 0 {
		c.Context.HighTier = 0.65
	}
	if c.Context.MediumTier <= 0 {
		c.Context.MediumTier = 0.45
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if c.Auth.DispatchSecret == "" {
		return fmt.Errorf("auth.dispatch_secret is required")
	}
	if c.Worker.ScriptPath == "" {
		return fmt.Errorf("worker.script_path is required")
	}
	if c.Retrieval.KeywordWeight > 1 {
		return fmt.Errorf("retrieval.keyword_weight must be <= 1, got %g", c.Retrieval.KeywordWeight)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
