// Package config loads itemshelf settings from an optional TOML file and the
// environment. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// ConfigFileEnv names the environment variable holding the config file path.
const ConfigFileEnv = "ITEMSHELF_CONFIG"

type Config struct {
	ListenAddr     string `toml:"listen_addr"`
	DBPath         string `toml:"db_path"`
	ImageDir       string `toml:"image_dir"`
	DefaultImage   string `toml:"default_image"`
	FrontURL       string `toml:"front_url"`
	CategoryMatch  string `toml:"category_match"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`
	LogLevel       string `toml:"log_level"`
	LogFormat      string `toml:"log_format"`
	LogFile        string `toml:"log_file"`
}

func defaults() *Config {
	return &Config{
		ListenAddr:     ":9000",
		DBPath:         "db/mercari.sqlite3",
		ImageDir:       "images",
		DefaultImage:   "default.jpg",
		FrontURL:       "http://localhost:3000",
		CategoryMatch:  "exact",
		MaxUploadBytes: 32 << 20,
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

// Load builds the configuration. path may be empty, in which case the file
// named by ITEMSHELF_CONFIG is used if that is set.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.ListenAddr = getEnv("LISTEN_ADDR", cfg.ListenAddr)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.ImageDir = getEnv("IMAGE_DIR", cfg.ImageDir)
	cfg.DefaultImage = getEnv("DEFAULT_IMAGE", cfg.DefaultImage)
	cfg.FrontURL = getEnv("FRONT_URL", cfg.FrontURL)
	cfg.CategoryMatch = getEnv("CATEGORY_MATCH", cfg.CategoryMatch)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	if v, ok := os.LookupEnv("MAX_UPLOAD_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid MAX_UPLOAD_BYTES %q", v)
		}
		cfg.MaxUploadBytes = n
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}
