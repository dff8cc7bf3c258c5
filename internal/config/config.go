package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logger"
	"gopkg.in/yaml.v3"

	"github.com/xxxsen/capa/internal/schedule"
)

const (
	DefaultModelKey        = "model.onnx"
	DefaultMetadataKey     = "model_metadata.json"
	DefaultBedrockModelID  = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	defaultRetentionDays   = 365
	defaultCleanupCron     = "0 3 * * *"
	defaultReferenceCache  = 64
	defaultReferenceTTLSec = 600
	defaultAITimeoutSec    = 60
)

type Config struct {
	Port          int              `json:"port"`
	LogConfig     logger.LogConfig `json:"log_config"`
	Database      DatabaseConfig   `json:"database"`
	ModelStore    StoreConfig      `json:"model_store"`
	ReportStore   StoreConfig      `json:"report_store"`
	Inference     InferenceConfig  `json:"inference"`
	AI            AIConfig         `json:"ai"`
	Reports       ReportsConfig    `json:"reports"`
	CORSAllowlist []string         `json:"cors_allowlist"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

// StoreConfig selects an object store implementation; Data is decoded by the
// factory registered under Type.
type StoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type InferenceConfig struct {
	ModelKey        string `json:"model_key"`
	MetadataKey     string `json:"metadata_key"`
	TempDir         string `json:"temp_dir"`
	OnnxLibraryPath string `json:"onnx_library_path"`
}

type AIProviderConfig struct {
	Name     string      `json:"name"`
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type AIConfig struct {
	Providers []AIProviderConfig `json:"providers"`
	Timeout   int                `json:"timeout"`
}

type ReportsConfig struct {
	RetentionDays        int    `json:"retention_days"`
	CleanupCron          string `json:"cleanup_cron"`
	ReferenceCacheSize   int    `json:"reference_cache_size"`
	ReferenceCacheTTL    int    `json:"reference_cache_ttl"`
	GenerateRateLimitSec int    `json:"generate_rate_limit_sec"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		raw, err = yamlToJSON(raw)
		if err != nil {
			return nil, err
		}
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) normalize() error {
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.Database.DSN == "" && cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if err := normalizeStore("model_store", &cfg.ModelStore); err != nil {
		return err
	}
	if err := normalizeStore("report_store", &cfg.ReportStore); err != nil {
		return err
	}
	if cfg.Inference.ModelKey == "" {
		cfg.Inference.ModelKey = DefaultModelKey
	}
	if cfg.Inference.MetadataKey == "" {
		cfg.Inference.MetadataKey = DefaultMetadataKey
	}
	if cfg.Inference.TempDir == "" {
		cfg.Inference.TempDir = os.TempDir()
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = defaultAITimeoutSec
	}
	for i := range cfg.AI.Providers {
		p := &cfg.AI.Providers[i]
		if p.Provider == "" {
			return fmt.Errorf("ai.providers[%d].provider is required", i)
		}
		if p.Name == "" {
			p.Name = p.Provider
		}
		if p.Model == "" && strings.EqualFold(p.Provider, "bedrock") {
			p.Model = DefaultBedrockModelID
		}
		if p.Model == "" {
			return fmt.Errorf("ai.providers[%d].model is required", i)
		}
	}
	if cfg.Reports.RetentionDays == 0 {
		cfg.Reports.RetentionDays = defaultRetentionDays
	}
	if cfg.Reports.CleanupCron == "" {
		cfg.Reports.CleanupCron = defaultCleanupCron
	}
	if err := schedule.ValidateSpec(cfg.Reports.CleanupCron); err != nil {
		return fmt.Errorf("reports.cleanup_cron: %w", err)
	}
	if cfg.Reports.ReferenceCacheSize == 0 {
		cfg.Reports.ReferenceCacheSize = defaultReferenceCache
	}
	if cfg.Reports.ReferenceCacheTTL == 0 {
		cfg.Reports.ReferenceCacheTTL = defaultReferenceTTLSec
	}
	return nil
}

func normalizeStore(name string, sc *StoreConfig) error {
	sc.Type = strings.ToLower(strings.TrimSpace(sc.Type))
	if sc.Type == "" {
		sc.Type = "local"
	}
	switch sc.Type {
	case "local", "s3":
	default:
		return fmt.Errorf("%s.type must be local or s3", name)
	}
	if sc.Data == nil {
		return fmt.Errorf("%s.data is required", name)
	}
	return nil
}

func yamlToJSON(raw []byte) ([]byte, error) {
	var values map[string]interface{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode yaml config: %w", err)
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("convert yaml config: %w", err)
	}
	return data, nil
}
