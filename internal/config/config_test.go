package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadJSONDefaults(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"port": 8080,
		"database": {"host": "127.0.0.1", "user": "capa", "dbname": "capa"},
		"model_store": {"data": {"dir": "/var/lib/capa/models"}},
		"report_store": {"type": "S3", "data": {"bucket": "reports"}},
		"ai": {"providers": [{"provider": "bedrock"}]}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5432, cfg.Database.Port)
	require.Equal(t, "info", cfg.LogConfig.Level)
	require.Equal(t, "local", cfg.ModelStore.Type)
	require.Equal(t, "s3", cfg.ReportStore.Type)
	require.Equal(t, DefaultModelKey, cfg.Inference.ModelKey)
	require.Equal(t, DefaultMetadataKey, cfg.Inference.MetadataKey)
	require.NotEmpty(t, cfg.Inference.TempDir)
	require.Equal(t, defaultAITimeoutSec, cfg.AI.Timeout)
	require.Equal(t, "bedrock", cfg.AI.Providers[0].Name)
	require.Equal(t, DefaultBedrockModelID, cfg.AI.Providers[0].Model)
	require.Equal(t, 365, cfg.Reports.RetentionDays)
	require.Equal(t, "0 3 * * *", cfg.Reports.CleanupCron)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
port: 9000
database:
  dsn: postgres://capa@localhost/capa?sslmode=disable
model_store:
  type: s3
  data:
    bucket: models
    region: eu-west-1
report_store:
  data:
    dir: ./reports
reports:
  retention_days: 30
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, 0, cfg.Database.Port)
	require.Equal(t, 30, cfg.Reports.RetentionDays)
	data, ok := cfg.ModelStore.Data.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "models", data["bucket"])
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"missing port":     `{"database": {"host": "db"}, "model_store": {"data": {}}, "report_store": {"data": {}}}`,
		"missing database": `{"port": 1, "model_store": {"data": {}}, "report_store": {"data": {}}}`,
		"bad store type":   `{"port": 1, "database": {"host": "db"}, "model_store": {"type": "gcs", "data": {}}, "report_store": {"data": {}}}`,
		"missing data":     `{"port": 1, "database": {"host": "db"}, "model_store": {"data": {}}}`,
		"bad cron":         `{"port": 1, "database": {"host": "db"}, "model_store": {"data": {}}, "report_store": {"data": {}}, "reports": {"cleanup_cron": "every night"}}`,
		"provider model":   `{"port": 1, "database": {"host": "db"}, "model_store": {"data": {}}, "report_store": {"data": {}}, "ai": {"providers": [{"provider": "openai"}]}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.json", body))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
