package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/steveyegge/greenlight/internal/telemetry"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second

	// DefaultModel is used when no model is configured.
	DefaultModel = "claude-sonnet-4-20250514"
)

// errAPIKeyRequired is returned when an API key is needed but not provided.
var errAPIKeyRequired = errors.New("API key required")

// AnthropicConfig configures the anthropic-backed runner. All behavior is
// injected here; the runner itself reads no environment.
type AnthropicConfig struct {
	APIKey string
	Model  string
}

// ConfigFromEnv builds an AnthropicConfig from the process environment.
// ANTHROPIC_API_KEY takes precedence over GL_ANTHROPIC_API_KEY.
func ConfigFromEnv() AnthropicConfig {
	key := os.Getenv("ANTHROPIC_API_KEY")
	if key == "" {
		key = os.Getenv("GL_ANTHROPIC_API_KEY")
	}
	model := os.Getenv("GL_AGENT_MODEL")
	if model == "" {
		model = DefaultModel
	}
	return AnthropicConfig{APIKey: key, Model: model}
}

// AnthropicRunner executes stories via the Anthropic Messages API.
type AnthropicRunner struct {
	client         anthropic.Client
	model          anthropic.Model
	arena          *Arena
	promptTemplate *template.Template
	maxRetries     int
	initialBackoff time.Duration
}

var _ Runner = (*AnthropicRunner)(nil)

// NewAnthropicRunner creates a runner. arena may be nil, in which case
// sessions are not recorded.
func NewAnthropicRunner(cfg AnthropicConfig, arena *Arena) (*AnthropicRunner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or configure agent.api_key", errAPIKeyRequired)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	tmpl, err := template.New("executor").Parse(executorPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse executor template: %w", err)
	}

	aiMetricsOnce.Do(initAIMetrics)

	return &AnthropicRunner{
		client:         anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:          anthropic.Model(cfg.Model),
		arena:          arena,
		promptTemplate: tmpl,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}, nil
}

// RunAgent renders the story into a prompt, calls the API with retry, and
// strictly parses the final output. The session record is written whether
// the run succeeds or fails.
func (r *AnthropicRunner) RunAgent(ctx context.Context, req Request) (*Result, error) {
	if req.Story == nil {
		return nil, nil
	}
	role := req.Role
	if role == "" {
		role = RoleExecutor
	}

	var sess *Session
	if r.arena != nil {
		sess = r.arena.Begin(req.Story.ID, req.ParentSessionID, role)
	}

	prompt, err := r.renderPrompt(req)
	if err != nil {
		sess.Finish(ctx, 0, 0, err)
		return nil, fmt.Errorf("failed to render prompt: %w", err)
	}

	raw, inTok, outTok, callErr := r.callWithRetry(ctx, prompt, req.MaxTokens)
	sess.Finish(ctx, inTok, outTok, callErr)
	if callErr != nil {
		return nil, callErr
	}

	report, parseErr := ParseReport(raw)
	res := &Result{
		Report:       report,
		InputTokens:  inTok,
		OutputTokens: outTok,
		RawOutput:    raw,
	}
	if sess != nil {
		res.SessionID = sess.ID()
	}
	if parseErr != nil {
		return res, fmt.Errorf("agent produced unusable output: %w", parseErr)
	}
	return res, nil
}

// aiMetrics holds lazily-initialized OTel instruments for Anthropic API calls.
var aiMetrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

var aiMetricsOnce sync.Once

func initAIMetrics() {
	m := telemetry.Meter("github.com/steveyegge/greenlight/ai")
	aiMetrics.inputTokens, _ = m.Int64Counter("gl.ai.input_tokens",
		metric.WithDescription("Anthropic API input tokens consumed"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.outputTokens, _ = m.Int64Counter("gl.ai.output_tokens",
		metric.WithDescription("Anthropic API output tokens generated"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.duration, _ = m.Float64Histogram("gl.ai.request.duration",
		metric.WithDescription("Anthropic API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}

func (r *AnthropicRunner) callWithRetry(ctx context.Context, prompt string, maxTokens int64) (string, int64, int64, error) {
	tracer := telemetry.Tracer("github.com/steveyegge/greenlight/ai")
	ctx, span := tracer.Start(ctx, "anthropic.messages.new")
	defer span.End()
	span.SetAttributes(
		attribute.String("gl.ai.model", string(r.model)),
		attribute.String("gl.ai.operation", "execute"),
	)

	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     r.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	var totalIn, totalOut int64

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", totalIn, totalOut, ctx.Err()
			}
		}

		t0 := time.Now()
		message, err := r.client.Messages.New(ctx, params)
		ms := float64(time.Since(t0).Milliseconds())

		if err == nil {
			totalIn += message.Usage.InputTokens
			totalOut += message.Usage.OutputTokens

			modelAttr := attribute.String("gl.ai.model", string(r.model))
			if aiMetrics.inputTokens != nil {
				aiMetrics.inputTokens.Add(ctx, message.Usage.InputTokens, metric.WithAttributes(modelAttr))
				aiMetrics.outputTokens.Add(ctx, message.Usage.OutputTokens, metric.WithAttributes(modelAttr))
				aiMetrics.duration.Record(ctx, ms, metric.WithAttributes(modelAttr))
			}
			span.SetAttributes(
				attribute.Int64("gl.ai.input_tokens", message.Usage.InputTokens),
				attribute.Int64("gl.ai.output_tokens", message.Usage.OutputTokens),
				attribute.Int("gl.ai.attempts", attempt+1),
			)

			if len(message.Content) > 0 {
				content := message.Content[0]
				if content.Type == "text" {
					return content.Text, totalIn, totalOut, nil
				}
				return "", totalIn, totalOut, fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type)
			}
			return "", totalIn, totalOut, fmt.Errorf("unexpected response format: no content blocks")
		}

		lastErr = err

		if ctx.Err() != nil {
			return "", totalIn, totalOut, ctx.Err()
		}

		if !isRetryable(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", totalIn, totalOut, fmt.Errorf("non-retryable error: %w", err)
		}
	}

	if lastErr != nil {
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, lastErr.Error())
	}
	return "", totalIn, totalOut, fmt.Errorf("failed after %d retries: %w", r.maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		statusCode := apiErr.StatusCode
		if statusCode == 429 || statusCode >= 500 {
			return true
		}
		return false
	}

	return false
}

type promptData struct {
	Title     string
	Rationale string
	ProjectID string
	WorkDir   string
}

func (r *AnthropicRunner) renderPrompt(req Request) (string, error) {
	var sb strings.Builder
	data := promptData{
		Title:     req.Story.Title,
		Rationale: req.Story.Rationale,
		ProjectID: req.Story.ProjectID,
		WorkDir:   req.WorkDir,
	}
	if err := r.promptTemplate.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

const executorPromptTemplate = `You are an autonomous engineering agent executing an approved work item in project {{.ProjectID}}. A working copy of the repository is checked out at {{.WorkDir}} on a fresh branch.

**Task:** {{.Title}}

{{if .Rationale}}**Context:**
{{.Rationale}}
{{end}}

Make the smallest change that fully addresses the task. Do not refactor unrelated code.

When finished, respond with ONLY a JSON object in exactly this schema (no surrounding prose):

{
  "completed": true,
  "summary": "what changed and why, 1-3 sentences",
  "commit_message": "conventional one-line commit subject",
  "files_changed": ["relative/path.go"],
  "followups": []
}

Set "completed" to false and explain in "summary" if the task cannot be done safely. Each followup, if any, must be an object with "agent", "project_id", "issue", and optionally "action", "severity", "effort", "impact", "confidence".`
