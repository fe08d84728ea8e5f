package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/lendflow/internal/domain"
	"github.com/ashureev/lendflow/internal/shared"
	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
)

// historyTurns is how many prior turns are given to the model as context.
const historyTurns = 3

var jsonObject = regexp.MustCompile(`\{[^{}]*\}`)

// OllamaConfig configures the LLM-backed interpreter.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	Breaker shared.BreakerConfig
}

// Ollama classifies intents with a local Ollama model and falls back to the
// rule-based interpreter whenever the model is unavailable or its answer
// cannot be used. Entity extraction is always rule-based.
type Ollama struct {
	client   *resty.Client
	model    string
	breaker  *gobreaker.CircuitBreaker
	fallback *Rules
	logger   *slog.Logger
}

// NewOllama creates an Ollama interpreter.
func NewOllama(cfg OllamaConfig, logger *slog.Logger) *Ollama {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	client.SetTimeout(timeout)
	client.SetHeader("Content-Type", "application/json")

	return &Ollama{
		client:   client,
		model:    cfg.Model,
		breaker:  shared.NewBreaker("nlu-ollama", cfg.Breaker, logger),
		fallback: NewRules(),
		logger:   logger,
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type modelIntent struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// DetectIntent asks the model for an intent. Stages with no customer intents
// never reach the model.
func (o *Ollama) DetectIntent(ctx context.Context, text string, stage domain.Stage, history []domain.Turn) (Intent, error) {
	candidates := StageIntents(stage)
	if len(candidates) == 0 {
		return newIntent(IntentNone, 1), nil
	}

	raw, err := o.breaker.Execute(func() (interface{}, error) {
		return o.generate(ctx, buildPrompt(text, stage, candidates, history))
	})
	if err != nil {
		o.logger.Warn("Llm intent detection failed, using rules",
			"stage", stage,
			"error", err,
		)
		return o.fallback.DetectIntent(ctx, text, stage, history)
	}

	intent, err := parseModelIntent(raw.(string), candidates)
	if err != nil {
		o.logger.Warn("Unusable llm intent, using rules",
			"stage", stage,
			"error", err,
		)
		return o.fallback.DetectIntent(ctx, text, stage, history)
	}
	return intent, nil
}

// ExtractEntities delegates to the rule-based extractor.
func (o *Ollama) ExtractEntities(ctx context.Context, text string, intent string) (Entities, error) {
	return o.fallback.ExtractEntities(ctx, text, intent)
}

func (o *Ollama) generate(ctx context.Context, prompt string) (string, error) {
	var out generateResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(generateRequest{
			Model:   o.model,
			Prompt:  prompt,
			Stream:  false,
			Options: generateOptions{Temperature: 0.1, NumPredict: 100},
		}).
		SetResult(&out).
		Post("/api/generate")
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("ollama status %d: %s", resp.StatusCode(), resp.String())
	}
	return out.Response, nil
}

func buildPrompt(text string, stage domain.Stage, candidates []string, history []domain.Turn) string {
	var b strings.Builder
	b.WriteString("You classify customer messages in a personal loan conversation.\n")
	fmt.Fprintf(&b, "Current stage: %s\n", stage)
	fmt.Fprintf(&b, "Valid intents: %s\n", strings.Join(candidates, ", "))

	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, t := range history {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
		}
	}

	fmt.Fprintf(&b, "Customer message: %q\n", text)
	b.WriteString(`Reply with JSON only: {"intent": "<one valid intent>", "confidence": <0.0-1.0>}`)
	return b.String()
}

// parseModelIntent extracts the first JSON object from the model output and
// checks the intent against the stage catalogue.
func parseModelIntent(output string, candidates []string) (Intent, error) {
	obj := jsonObject.FindString(output)
	if obj == "" {
		return Intent{}, fmt.Errorf("no json object in model output")
	}

	var mi modelIntent
	if err := json.Unmarshal([]byte(obj), &mi); err != nil {
		return Intent{}, fmt.Errorf("decode model output: %w", err)
	}

	name := strings.ToLower(strings.TrimSpace(mi.Intent))
	if !slices.Contains(candidates, name) {
		return Intent{}, fmt.Errorf("intent %q not valid at this stage", mi.Intent)
	}
	if mi.Confidence < 0 || mi.Confidence > 1 {
		return Intent{}, fmt.Errorf("confidence %v out of range", mi.Confidence)
	}
	return newIntent(name, mi.Confidence), nil
}
