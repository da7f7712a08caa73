package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        App        `mapstructure:"app"`
	Logging    Logging    `mapstructure:"logging"`
	Server     Server     `mapstructure:"server"`
	Database   Database   `mapstructure:"database"`
	Mongo      Mongo      `mapstructure:"mongo"`
	AI         AI         `mapstructure:"ai"`
	Collector  Collector  `mapstructure:"collector"`
	Clustering Clustering `mapstructure:"clustering"`
	Insight    Insight    `mapstructure:"insight"`
	Persona    Persona    `mapstructure:"persona"`
	Worker     Worker     `mapstructure:"worker"`
}

// App holds general application configuration
type App struct {
	Name       string `mapstructure:"name"`
	Debug      bool   `mapstructure:"debug"`
	ConfigFile string `mapstructure:"config_file"`
}

// Logging holds logging configuration
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Server holds HTTP API configuration
type Server struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORS          `mapstructure:"cors"`
	RateLimit       RateLimit     `mapstructure:"rate_limit"`
}

// CORS holds cross-origin settings for the API
type CORS struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimit holds per-IP request limits for the API
type RateLimit struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// Database holds relational store configuration
type Database struct {
	Driver           string `mapstructure:"driver"` // postgres, sqlite3 or memory
	ConnectionString string `mapstructure:"connection_string"`
	MaxOpenConns     int    `mapstructure:"max_open_conns"`
}

// Mongo holds document store configuration. An empty URI selects the in-memory store.
type Mongo struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
	Timeout  string `mapstructure:"timeout"`
}

// AI holds AI/LLM configuration
type AI struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey              string  `mapstructure:"api_key"`
	Model               string  `mapstructure:"model"`
	Timeout             string  `mapstructure:"timeout"`
	MaxTokens           int32   `mapstructure:"max_tokens"`
	Temperature         float32 `mapstructure:"temperature"`
	EmbeddingModel      string  `mapstructure:"embedding_model"`
	EmbeddingDimensions int32   `mapstructure:"embedding_dimensions"`
}

// Collector holds crawl configuration
type Collector struct {
	Sources         []string `mapstructure:"sources"`
	MaxReviews      int      `mapstructure:"max_reviews"`
	MaxLoadAttempts int      `mapstructure:"max_load_attempts"`
	StagnationLimit int      `mapstructure:"stagnation_limit"`
	MaxRetries      int      `mapstructure:"max_retries"`
	RetryBaseDelay  string   `mapstructure:"retry_base_delay"`
	CallTimeout     string   `mapstructure:"call_timeout"`
	LoadWait        string   `mapstructure:"load_wait"`
	RatePerSecond   float64  `mapstructure:"rate_per_second"`
	DedupKey        string   `mapstructure:"dedup_key"` // text or text_date
	Headless        bool     `mapstructure:"headless"`
	ChromePath      string   `mapstructure:"chrome_path"`
	UserAgent       string   `mapstructure:"user_agent"`
}

// Clustering holds topic clustering configuration
type Clustering struct {
	Embedder       string `mapstructure:"embedder"` // gemini or local
	MinTexts       int    `mapstructure:"min_texts"`
	MinClusterSize int    `mapstructure:"min_cluster_size"`
	TargetK        int    `mapstructure:"target_k"`
	KeywordsPerTop int    `mapstructure:"keywords_per_topic"`
	ReduceDims     int    `mapstructure:"reduce_dims"`
	Seed           int64  `mapstructure:"seed"`
}

// Insight holds strategy selection configuration
type Insight struct {
	MinReviews int `mapstructure:"min_reviews"`
}

// Persona holds persona generation configuration
type Persona struct {
	MinClusterMembers int `mapstructure:"min_cluster_members"`
	MaxPersonas       int `mapstructure:"max_personas"`
	Concurrency       int `mapstructure:"concurrency"`
	SampleReviews     int `mapstructure:"sample_reviews"`
	SampleChars       int `mapstructure:"sample_chars"`
}

// Worker holds task execution pool configuration
type Worker struct {
	Concurrency   int    `mapstructure:"concurrency"`
	QueueSize     int    `mapstructure:"queue_size"`
	TaskTimeout   string `mapstructure:"task_timeout"`
	SweepInterval string `mapstructure:"sweep_interval"` // How often PENDING tasks left out of a full queue are picked up
	ResumeOnBoot  bool   `mapstructure:"resume_on_boot"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".pulse")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.App.ConfigFile = viper.ConfigFileUsed()

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app.name", "PULSE")
	viper.SetDefault("app.debug", false)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.request_timeout", "30s")
	viper.SetDefault("server.shutdown_timeout", "15s")
	viper.SetDefault("server.cors.enabled", true)
	viper.SetDefault("server.cors.allowed_origins", []string{"*"})
	viper.SetDefault("server.rate_limit.enabled", true)
	viper.SetDefault("server.rate_limit.requests", 60)
	viper.SetDefault("server.rate_limit.window", "1m")

	viper.SetDefault("database.driver", "sqlite3")
	viper.SetDefault("database.connection_string", "pulse.db")
	viper.SetDefault("database.max_open_conns", 10)

	viper.SetDefault("mongo.uri", "")
	viper.SetDefault("mongo.database", "pulse_db")
	viper.SetDefault("mongo.timeout", "10s")

	viper.SetDefault("ai.gemini.model", "gemini-flash-lite-latest")
	viper.SetDefault("ai.gemini.timeout", "60s")
	viper.SetDefault("ai.gemini.max_tokens", 4096)
	viper.SetDefault("ai.gemini.temperature", 0.7)
	viper.SetDefault("ai.gemini.embedding_model", "gemini-embedding-001")
	viper.SetDefault("ai.gemini.embedding_dimensions", 768)

	viper.SetDefault("collector.sources", []string{"naver", "kakao"})
	viper.SetDefault("collector.max_reviews", 100)
	viper.SetDefault("collector.max_load_attempts", 20)
	viper.SetDefault("collector.stagnation_limit", 2)
	viper.SetDefault("collector.max_retries", 3)
	viper.SetDefault("collector.retry_base_delay", "500ms")
	viper.SetDefault("collector.call_timeout", "20s")
	viper.SetDefault("collector.load_wait", "1500ms")
	viper.SetDefault("collector.rate_per_second", 2.0)
	viper.SetDefault("collector.dedup_key", "text")
	viper.SetDefault("collector.headless", true)
	viper.SetDefault("collector.user_agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1")

	viper.SetDefault("clustering.embedder", "gemini")
	viper.SetDefault("clustering.min_texts", 10)
	viper.SetDefault("clustering.min_cluster_size", 3)
	viper.SetDefault("clustering.target_k", 0)
	viper.SetDefault("clustering.keywords_per_topic", 5)
	viper.SetDefault("clustering.reduce_dims", 10)
	viper.SetDefault("clustering.seed", 42)

	viper.SetDefault("insight.min_reviews", 10)

	viper.SetDefault("persona.min_cluster_members", 3)
	viper.SetDefault("persona.max_personas", 3)
	viper.SetDefault("persona.concurrency", 3)
	viper.SetDefault("persona.sample_reviews", 20)
	viper.SetDefault("persona.sample_chars", 200)

	viper.SetDefault("worker.concurrency", 2)
	viper.SetDefault("worker.queue_size", 64)
	viper.SetDefault("worker.task_timeout", "15m")
	viper.SetDefault("worker.sweep_interval", "5s")
	viper.SetDefault("worker.resume_on_boot", true)
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})

	bindEnvKeys("database.connection_string", []string{
		"DATABASE_URL",
	})

	bindEnvKeys("mongo.uri", []string{
		"MONGO_URI",
		"MONGODB_URI",
	})

	bindEnvKeys("mongo.database", []string{
		"MONGO_DB_NAME",
	})

	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"PULSE_DEBUG",
	})

	bindEnvKeys("logging.level", []string{
		"LOG_LEVEL",
	})

	bindEnvKeys("collector.chrome_path", []string{
		"CHROME_PATH",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) error {
	for i, s := range config.Collector.Sources {
		config.Collector.Sources[i] = strings.ToLower(strings.TrimSpace(s))
	}
	config.Database.Driver = strings.ToLower(config.Database.Driver)

	durations := map[string]string{
		"ai.gemini.timeout":          config.AI.Gemini.Timeout,
		"mongo.timeout":              config.Mongo.Timeout,
		"collector.retry_base_delay": config.Collector.RetryBaseDelay,
		"collector.call_timeout":     config.Collector.CallTimeout,
		"collector.load_wait":        config.Collector.LoadWait,
		"worker.task_timeout":        config.Worker.TaskTimeout,
		"worker.sweep_interval":      config.Worker.SweepInterval,
	}

	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("invalid duration for %s: %s", key, duration)
			}
		}
	}

	return nil
}

// validateConfig ensures required configuration is present
func validateConfig(config *Config) error {
	var errors []string

	switch config.Database.Driver {
	case "postgres", "sqlite3":
		if config.Database.ConnectionString == "" {
			errors = append(errors, "database.connection_string is required for the "+config.Database.Driver+" driver. Set DATABASE_URL or database.connection_string")
		}
	case "memory":
	default:
		errors = append(errors, fmt.Sprintf("Unknown database driver: %s. Supported: postgres, sqlite3, memory", config.Database.Driver))
	}

	switch config.Collector.DedupKey {
	case "text", "text_date":
	default:
		errors = append(errors, fmt.Sprintf("Unknown collector.dedup_key: %s. Supported: text, text_date", config.Collector.DedupKey))
	}

	switch config.Clustering.Embedder {
	case "gemini", "local":
	default:
		errors = append(errors, fmt.Sprintf("Unknown clustering.embedder: %s. Supported: gemini, local", config.Clustering.Embedder))
	}

	if config.Collector.MaxLoadAttempts <= 0 {
		errors = append(errors, "collector.max_load_attempts must be positive")
	}
	if config.Collector.MaxReviews <= 0 {
		errors = append(errors, "collector.max_reviews must be positive")
	}
	if config.Insight.MinReviews < 0 {
		errors = append(errors, "insight.min_reviews must not be negative")
	}
	if config.Worker.Concurrency <= 0 {
		errors = append(errors, "worker.concurrency must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Duration parses a duration string that postProcessConfig already validated,
// returning fallback for empty values.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// GetServer returns the server section of the loaded configuration
func GetServer() Server { return Get().Server }

// IsValidAPIKey reports whether an API key is set and is not a placeholder
func IsValidAPIKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}

	placeholders := []string{
		"your-api-key", "your-gemini-key", "YOUR_API_KEY", "PLACEHOLDER", "TODO", "CHANGE_ME",
	}

	for _, placeholder := range placeholders {
		if apiKey == placeholder {
			return false
		}
	}

	return true
}

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
