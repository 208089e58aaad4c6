package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/corpus-cli/internal/predicate"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	// Change to temp dir so no config.yaml or .env is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.Equal(t, "jsonl", cfg.Source.Kind)
	assert.Equal(t, "https://datasets-server.huggingface.co", cfg.Source.HF.BaseURL)
	assert.Equal(t, "gabrielaltay/pmcoa", cfg.Source.HF.Dataset)
	assert.Equal(t, 100, cfg.Source.HF.PageSize)
	assert.InDelta(t, 5.0, cfg.Source.HF.RequestsPerSecond, 0.001)
	assert.Equal(t, 1000, cfg.Filter.BatchSize)
	assert.Equal(t, 25000, cfg.Filter.MaxTextChars)
	assert.Equal(t, predicate.DefaultKeywords, cfg.Filter.Keywords)
	assert.Equal(t, "data/candidates/pmcoa_candidates.jsonl", cfg.Filter.CandidatesPath)
	assert.Equal(t, "file", cfg.Checkpoint.Driver)
	assert.Equal(t, "data/candidates/state.json", cfg.Checkpoint.Path)
	assert.Equal(t, 15, cfg.Annotate.Concurrency)
	assert.Equal(t, 120, cfg.Annotate.TimeoutSecs)
	assert.False(t, cfg.Annotate.RetryTransient)
	assert.Equal(t, "gold.jsonl", cfg.Annotate.SuccessFile)
	assert.Equal(t, "bad.jsonl", cfg.Annotate.FailureFile)
	assert.Equal(t, 10, cfg.Progress.IntervalSecs)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 1e-9)
	assert.Equal(t, int64(5), cfg.Monitoring.MinFinished)
	assert.Empty(t, cfg.Anthropic.Key)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
  format: console
filter:
  batch_size: 250
  keywords:
    - '\bprestin\b'
checkpoint:
  driver: sqlite
  path: state.db
annotate:
  concurrency: 4
metrics:
  addr: ":9100"
  allowed_origins: ["https://dash.example.com"]
monitoring:
  webhook_url: "https://hooks.example.com/corpus"
  cost_threshold_usd: 12.5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 250, cfg.Filter.BatchSize)
	assert.Equal(t, []string{`\bprestin\b`}, cfg.Filter.Keywords)
	assert.Equal(t, "sqlite", cfg.Checkpoint.Driver)
	assert.Equal(t, 4, cfg.Annotate.Concurrency)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Equal(t, []string{"https://dash.example.com"}, cfg.Metrics.AllowedOrigins)
	assert.Equal(t, "https://hooks.example.com/corpus", cfg.Monitoring.WebhookURL)
	assert.InDelta(t, 12.5, cfg.Monitoring.CostThresholdUSD, 1e-9)
	// Defaults still apply for unset values
	assert.Equal(t, 120, cfg.Annotate.TimeoutSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
annotate:
  concurrency: 4
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("CORPUS_ANNOTATE_CONCURRENCY", "30")
	t.Setenv("CORPUS_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, 30, cfg.Annotate.Concurrency)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadAnthropicKeyFromStandardEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-standard")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-standard", cfg.Anthropic.Key)
}

func TestLoadPrefixedKeyWins(t *testing.T) {
	chdirTemp(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-standard")
	t.Setenv("CORPUS_ANTHROPIC_KEY", "sk-ant-prefixed")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-prefixed", cfg.Anthropic.Key)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CORPUS_FILTER_BATCH_SIZE=77\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("CORPUS_FILTER_BATCH_SIZE") }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 77, cfg.Filter.BatchSize)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
