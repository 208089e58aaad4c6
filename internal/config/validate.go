package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the preconditions of one command. Every problem is
// reported at once so a bad config is fixed in a single pass.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(msg string) { errs = append(errs, msg) }

	switch c.Log.Format {
	case "", "json", "console":
	default:
		add("log.format must be json or console")
	}

	switch mode {
	case "filter":
		c.validateSource(add)
		if c.Filter.BatchSize < 1 {
			add("filter.batch_size must be >= 1")
		}
		if c.Filter.Workers < 0 {
			add("filter.workers must be >= 0")
		}
		if c.Filter.MaxTextChars < 0 {
			add("filter.max_text_chars must be >= 0")
		}
		if len(c.Filter.Keywords) == 0 && c.Filter.KeywordsFile == "" {
			add("filter.keywords or filter.keywords_file is required")
		}
		if c.Filter.KeywordsFile != "" {
			requireFile(add, "filter.keywords_file", c.Filter.KeywordsFile)
		}
		if c.Filter.CandidatesPath == "" {
			add("filter.candidates_path is required")
		}
		c.validateCheckpoint(add)
	case "annotate":
		if c.Anthropic.Key == "" {
			add("anthropic.key is required (or ANTHROPIC_API_KEY)")
		}
		if c.Anthropic.Model == "" {
			add("anthropic.model is required")
		}
		if c.Anthropic.MaxTokens < 1 {
			add("anthropic.max_tokens must be >= 1")
		}
		if c.Annotate.Concurrency < 1 || c.Annotate.Concurrency > 200 {
			add("annotate.concurrency must be between 1 and 200")
		}
		if c.Annotate.TimeoutSecs < 0 {
			add("annotate.timeout_secs must be >= 0")
		}
		if c.Annotate.RequestsPerMinute < 0 {
			add("annotate.requests_per_minute must be >= 0")
		}
		if c.Annotate.MaxCostUSD < 0 {
			add("annotate.max_cost_usd must be >= 0")
		}
		if c.Annotate.HaltAfterFailures < 0 {
			add("annotate.halt_after_failures must be >= 0")
		}
		requireFile(add, "annotate.schema_path", c.Annotate.SchemaPath)
		requireFile(add, "annotate.system_prompt_path", c.Annotate.SystemPromptPath)
		requireFile(add, "annotate.user_prompt_path", c.Annotate.UserPromptPath)
		requireFile(add, "filter.candidates_path", c.Filter.CandidatesPath)
		c.validateOutputs(add)
	case "reconcile":
		if c.Filter.CandidatesPath == "" {
			add("filter.candidates_path is required")
		}
		c.validateOutputs(add)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateSource(add func(string)) {
	switch c.Source.Kind {
	case "", "jsonl":
		requireFile(add, "source.path", c.Source.Path)
	case "hf":
		if c.Source.HF.Dataset == "" {
			add("source.hf.dataset is required")
		}
		if c.Source.HF.PageSize < 1 || c.Source.HF.PageSize > 100 {
			add("source.hf.page_size must be between 1 and 100")
		}
	default:
		add("source.kind must be jsonl or hf")
	}
}

func (c *Config) validateCheckpoint(add func(string)) {
	switch c.Checkpoint.Driver {
	case "", "file", "sqlite":
		if c.Checkpoint.Path == "" {
			add("checkpoint.path is required")
		}
	case "postgres":
		if c.Checkpoint.DatabaseURL == "" {
			add("checkpoint.database_url is required for the postgres driver")
		}
	default:
		add("checkpoint.driver must be file, sqlite or postgres")
	}
}

func (c *Config) validateOutputs(add func(string)) {
	if c.Annotate.OutputDir == "" {
		add("annotate.output_dir is required")
	}
	if c.Annotate.SuccessFile == "" || c.Annotate.FailureFile == "" {
		add("annotate.success_file and annotate.failure_file are required")
	}
	if c.Annotate.SuccessFile != "" && c.Annotate.SuccessFile == c.Annotate.FailureFile {
		add("annotate.success_file and annotate.failure_file must differ")
	}
}

func requireFile(add func(string), key, path string) {
	if path == "" {
		add(key + " is required")
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		add(key + " " + path + " is not readable")
		return
	}
	if info.IsDir() {
		add(key + " " + path + " is a directory")
	}
}
