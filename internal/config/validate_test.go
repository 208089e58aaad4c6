package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validDefaults returns a Config whose file paths all exist.
func validDefaults(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	touch := func(name string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("{}"), 0o644))
		return p
	}

	cfg := &Config{}
	cfg.Log.Format = "json"
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Anthropic.Model = "claude-haiku-4-5-20251001"
	cfg.Anthropic.MaxTokens = 4096
	cfg.Source.Kind = "jsonl"
	cfg.Source.Path = touch("corpus.jsonl")
	cfg.Filter.BatchSize = 1000
	cfg.Filter.Keywords = []string{`\bprestin\b`}
	cfg.Filter.CandidatesPath = touch("candidates.jsonl")
	cfg.Checkpoint.Driver = "file"
	cfg.Checkpoint.Path = filepath.Join(dir, "state.json")
	cfg.Annotate.Concurrency = 15
	cfg.Annotate.TimeoutSecs = 120
	cfg.Annotate.SchemaPath = touch("schema.json")
	cfg.Annotate.SystemPromptPath = touch("system.txt")
	cfg.Annotate.UserPromptPath = touch("user.txt")
	cfg.Annotate.OutputDir = filepath.Join(dir, "labeled")
	cfg.Annotate.SuccessFile = "gold.jsonl"
	cfg.Annotate.FailureFile = "bad.jsonl"
	return cfg
}

func TestValidate_AllModesPass(t *testing.T) {
	cfg := validDefaults(t)
	for _, mode := range []string{"filter", "annotate", "reconcile"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateFilter_MissingSource(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Source.Path = filepath.Join(t.TempDir(), "missing.jsonl")

	err := cfg.Validate("filter")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.path")
}

func TestValidateFilter_HF(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Source.Kind = "hf"
	cfg.Source.Path = ""
	cfg.Source.HF.Dataset = "gabrielaltay/pmcoa"
	cfg.Source.HF.PageSize = 100
	assert.NoError(t, cfg.Validate("filter"))

	cfg.Source.HF.PageSize = 500
	err := cfg.Validate("filter")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page_size must be between 1 and 100")
}

func TestValidateFilter_CollectsAllErrors(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Filter.BatchSize = 0
	cfg.Filter.Keywords = nil
	cfg.Checkpoint.Driver = "redis"

	err := cfg.Validate("filter")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "filter.batch_size must be >= 1")
	assert.Contains(t, err.Error(), "filter.keywords or filter.keywords_file is required")
	assert.Contains(t, err.Error(), "checkpoint.driver must be file, sqlite or postgres")
}

func TestValidateFilter_PostgresNeedsURL(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Checkpoint.Driver = "postgres"

	err := cfg.Validate("filter")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint.database_url")

	cfg.Checkpoint.DatabaseURL = "postgres://localhost/corpus"
	assert.NoError(t, cfg.Validate("filter"))
}

func TestValidateAnnotate_MissingFields(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Anthropic.Key = ""
	cfg.Annotate.SchemaPath = ""
	cfg.Annotate.Concurrency = 0

	err := cfg.Validate("annotate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.Contains(t, err.Error(), "annotate.schema_path is required")
	assert.Contains(t, err.Error(), "annotate.concurrency must be between 1 and 200")
}

func TestValidateAnnotate_PromptIsDirectory(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Annotate.UserPromptPath = t.TempDir()

	err := cfg.Validate("annotate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")
}

func TestValidateReconcile_SameOutputFiles(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Annotate.FailureFile = cfg.Annotate.SuccessFile

	err := cfg.Validate("reconcile")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
}

func TestValidate_LogFormat(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Log.Format = "xml"

	err := cfg.Validate("reconcile")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.format")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults(t)
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
