// Package annotator turns one candidate into one structured annotation
// through a single remote call.
package annotator

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/corpus-cli/internal/cost"
	"github.com/sells-group/corpus-cli/internal/model"
	"github.com/sells-group/corpus-cli/internal/resilience"
	"github.com/sells-group/corpus-cli/internal/schema"
	"github.com/sells-group/corpus-cli/pkg/anthropic"
)

// Error text prefixes for the two failure kinds.
const (
	transportPrefix  = "remote call failed: "
	validationPrefix = "invalid output: "
)

// DefaultToolName is the tool the model is forced to call.
const DefaultToolName = "record_annotation"

// Annotator performs exactly one remote attempt per candidate. It never
// panics or returns an error; every outcome is a Result.
type Annotator interface {
	Annotate(ctx context.Context, c model.Candidate) model.Result
}

// Config configures a Remote annotator.
type Config struct {
	Model        string
	MaxTokens    int64
	SystemPrompt string
	UserTemplate string
	// Schema is the raw output schema; it is normalized once in New.
	Schema   schema.Schema
	ToolName string
	RunID    string
	// Usage, when set, accumulates token usage of every completed call.
	Usage *cost.Tracker
}

// Remote annotates candidates with an Anthropic model.
type Remote struct {
	client anthropic.Client
	cfg    Config
	schema schema.Schema
	system []anthropic.SystemBlock
	now    func() time.Time
}

// New returns a Remote annotator.
func New(client anthropic.Client, cfg Config) (*Remote, error) {
	if client == nil {
		return nil, eris.New("annotator: client is required")
	}
	if cfg.Model == "" {
		return nil, eris.New("annotator: model is required")
	}
	if strings.TrimSpace(cfg.UserTemplate) == "" {
		return nil, eris.New("annotator: user prompt template is empty")
	}
	if len(cfg.Schema) == 0 {
		return nil, eris.New("annotator: output schema is empty")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.ToolName == "" {
		cfg.ToolName = DefaultToolName
	}

	a := &Remote{
		client: client,
		cfg:    cfg,
		schema: schema.Normalize(cfg.Schema),
		now:    func() time.Time { return time.Now().UTC() },
	}
	if s := strings.TrimSpace(cfg.SystemPrompt); s != "" {
		a.system = anthropic.BuildCachedSystemBlocks(s)
	}
	return a, nil
}

// Schema returns the normalized schema sent to the service.
func (a *Remote) Schema() schema.Schema { return a.schema }

// RenderPrompt fills the user template. Missing fields render empty.
func RenderPrompt(tmpl string, c model.Candidate) string {
	return strings.NewReplacer(
		"{{EXCERPT}}", c.Text,
		"{{TITLE}}", c.Title,
		"{{URL}}", c.URL,
		"{{YEAR}}", c.Year.String(),
		"{{DOI}}", c.DOI.String(),
		"{{PMCID}}", c.PMCID.String(),
	).Replace(tmpl)
}

// Annotate makes one call for c.
func (a *Remote) Annotate(ctx context.Context, c model.Candidate) model.Result {
	req := anthropic.MessageRequest{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		System:    a.system,
		Messages:  []anthropic.Message{{Role: "user", Content: RenderPrompt(a.cfg.UserTemplate, c)}},
		Tool: &anthropic.Tool{
			Name:        a.cfg.ToolName,
			Description: "Record the structured annotation extracted from the article.",
			InputSchema: a.schema,
		},
	}

	resp, err := a.client.CreateMessage(ctx, req)
	if err != nil {
		return a.TransportFailure(c, err)
	}
	resp.Usage.LogCost(a.cfg.Model, "annotate")
	if a.cfg.Usage != nil {
		u := resp.Usage
		a.cfg.Usage.Add(a.cfg.Model, u.InputTokens, u.OutputTokens, u.CacheCreationInputTokens, u.CacheReadInputTokens)
	}

	out, err := a.extract(resp)
	if err != nil {
		return a.failure(c, model.FailureValidation, validationPrefix+err.Error(), false)
	}

	return model.Result{Success: &model.Success{
		Input:       &c,
		Output:      out,
		Model:       a.cfg.Model,
		RunID:       a.cfg.RunID,
		AnnotatedAt: a.now(),
	}}
}

// extract pulls the structured object out of resp and validates it.
func (a *Remote) extract(resp *anthropic.MessageResponse) (json.RawMessage, error) {
	raw, ok := resp.ToolInput(a.cfg.ToolName)
	if !ok {
		text := cleanJSON(resp.Text())
		if text == "" {
			return nil, eris.Errorf("no structured output (stop_reason %s)", resp.StopReason)
		}
		raw = json.RawMessage(text)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' || !json.Valid(raw) {
		return nil, eris.New("output is not a JSON object")
	}
	if err := schema.Validate(a.schema, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// TransportFailure builds the result for a call that did not complete,
// including timeouts enforced outside the adapter.
func (a *Remote) TransportFailure(c model.Candidate, err error) model.Result {
	transient := classify(err)
	zap.L().Debug("annotator: remote call failed",
		zap.String("identity", string(c.Identity())),
		zap.Bool("transient", transient),
		zap.Error(err),
	)
	return a.failure(c, model.FailureTransport, transportPrefix+err.Error(), transient)
}

func (a *Remote) failure(c model.Candidate, kind model.FailureKind, msg string, transient bool) model.Result {
	return model.Result{Failure: &model.Failure{
		Error:     msg,
		Kind:      kind,
		Transient: transient,
		Ex:        &c,
		RunID:     a.cfg.RunID,
		FailedAt:  a.now(),
	}}
}

// classify reports whether a transport error may succeed on a later run.
func classify(err error) bool {
	if code, ok := anthropic.StatusCode(err); ok {
		return resilience.IsTransientHTTPStatus(code)
	}
	return resilience.IsTransient(err)
}

// cleanJSON strips markdown code fences and surrounding prose from a model
// response, leaving the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
