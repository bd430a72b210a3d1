package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Database   DatabaseConfig
	SQLite     SQLiteConfig
	Detector   DetectorConfig
	Redis      RedisConfig
	Server     ServerConfig
	Log        LogConfig
	PolicyFile string // optional YAML file overriding the embedded policy
	// AdaptiveLearning overrides policy.adaptive.enabled when ADAPTIVE_LEARNING is set
	AdaptiveLearning *bool
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWIndexPath string // Path to persist the centroid HNSW index (optional, if empty index is rebuilt on startup)
}

type SQLiteConfig struct {
	Path string // used when DATABASE_URL is empty (default face-enroll.db)
}

type DetectorConfig struct {
	Backend       string        // insightface or auto
	URL           string        // defaults to http://localhost:8000
	Model         string        // reported model name, part of the adapter tag
	EmbeddingDim  int           // defaults to 512
	Workers       int           // concurrent detector calls (default 2)
	Timeout       time.Duration // per-request timeout (default 30s)
	LivenessCheck bool          // compute the advisory liveness score
}

type RedisConfig struct {
	Addr     string // empty keeps streaks in process memory
	Password string
	DB       int
}

type ServerConfig struct {
	Port            int
	Host            string
	AllowedOrigins  []string
	RecognizeRPS    float64 // per-client recognition rate limit, 0 disables
	RecognizeBurst  int
	MaxUploadSizeMB int
}

type LogConfig struct {
	Level string
	File  string // optional rotating log file
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a non-negative float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envBoolPtr returns nil when the variable is unset or unparsable.
func envBoolPtr(key string) *bool {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil
	}
	return &b
}

func envList(key string) []string {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func Load() *Config {
	liveness := envBoolPtr("DETECTOR_LIVENESS")
	return &Config{
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		SQLite: SQLiteConfig{
			Path: envString("SQLITE_PATH", "face-enroll.db"),
		},
		Detector: DetectorConfig{
			Backend:       envString("DETECTOR_BACKEND", "auto"),
			URL:           envString("DETECTOR_URL", "http://localhost:8000"),
			Model:         envString("DETECTOR_MODEL", "buffalo_l"),
			EmbeddingDim:  envInt("DETECTOR_EMBEDDING_DIM", 512),
			Workers:       envInt("DETECTOR_WORKERS", 2),
			Timeout:       envDuration("DETECTOR_TIMEOUT", 30*time.Second),
			LivenessCheck: liveness != nil && *liveness,
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:            envInt("PORT", 8085),
			Host:            envString("HOST", "0.0.0.0"),
			AllowedOrigins:  envList("CORS_ALLOWED_ORIGINS"),
			RecognizeRPS:    envFloat("RECOGNIZE_RPS", 5),
			RecognizeBurst:  envInt("RECOGNIZE_BURST", 10),
			MaxUploadSizeMB: envInt("MAX_UPLOAD_SIZE_MB", 20),
		},
		Log: LogConfig{
			Level: envString("LOG_LEVEL", "info"),
			File:  os.Getenv("LOG_FILE"),
		},
		PolicyFile:       os.Getenv("POLICY_FILE"),
		AdaptiveLearning: envBoolPtr("ADAPTIVE_LEARNING"),
	}
}

// LoadPolicy loads the decision policy and applies environment overrides.
func (c *Config) LoadPolicy() (*Policy, error) {
	p, err := LoadPolicy(c.PolicyFile)
	if err != nil {
		return nil, err
	}
	if c.AdaptiveLearning != nil {
		p.Adaptive.Enabled = *c.AdaptiveLearning
	}
	return p, nil
}
