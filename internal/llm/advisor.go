// Package llm is the optional advisory layer. It turns a concentration
// result into narrative and risk-assessment documents via an
// OpenAI-compatible chat endpoint. Failures never propagate to callers; every
// path yields a document, degraded to a structured placeholder when the
// provider is disabled, over budget, or erroring.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/concentra-hq/concentra/internal/concentration"
)

// Advisory functions; artifact filenames derive from these.
const (
	FunctionNarrative = "narrative"
	FunctionRisk      = "risk_assessment"
)

// Placeholder reasons recorded in documents and lineage.
const (
	ReasonDisabled        = "disabled"
	ReasonUsageLimit      = "usage_limit"
	ReasonValidationError = "validation_error"
	ReasonAPIError        = "api_error"
	ReasonTimeout         = "timeout"
)

// Document is the advisory artifact shape, for real output and placeholders
// alike. Payload carries the provider's structured JSON when it returned any;
// Content keeps the raw text.
type Document struct {
	Function    string          `json:"function"`
	Status      string          `json:"status"` // "ok" | "placeholder"
	Reason      string          `json:"reason,omitempty"`
	Model       string          `json:"model,omitempty"`
	Content     string          `json:"content,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	LLMStatus   LLMStatus       `json:"llm_status"`
	GeneratedAt string          `json:"generated_at"`
}

// LLMStatus records whether the provider was actually used for a document.
type LLMStatus struct {
	Used      bool   `json:"used"`
	Reason    string `json:"reason,omitempty"`
	Model     string `json:"model,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Config selects the provider and bounds its use.
type Config struct {
	Enabled            bool
	Provider           string // openai | anthropic | gemini
	Model              string
	APIKey             string
	Timeout            time.Duration
	MaxCallsPerDataset int
	Temperature        float32
	MaxTokens          int
}

// Advisor issues advisory calls with a per-dataset budget and a circuit
// breaker around the provider.
type Advisor struct {
	cfg     Config
	client  *openai.Client
	breaker *gobreaker.CircuitBreaker

	mu    sync.Mutex
	calls map[string]int // dataset id -> calls made
}

// New builds an advisor. A nil client is fine when disabled.
func New(cfg Config) *Advisor {
	a := &Advisor{
		cfg:   cfg,
		calls: make(map[string]int),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "llm-provider",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		}),
	}
	if cfg.Enabled && cfg.APIKey != "" {
		cc := openai.DefaultConfig(cfg.APIKey)
		switch strings.ToLower(cfg.Provider) {
		case "anthropic":
			cc.BaseURL = "https://api.anthropic.com/v1"
		case "gemini":
			cc.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
		}
		a.client = openai.NewClientWithConfig(cc)
	}
	return a
}

// Placeholder builds a degraded document for the given reason.
func Placeholder(function, reason string) *Document {
	return &Document{
		Function:    function,
		Status:      "placeholder",
		Reason:      reason,
		LLMStatus:   LLMStatus{Used: false, Reason: reason},
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// Narrative summarizes the concentration result as a structured document.
func (a *Advisor) Narrative(ctx context.Context, datasetID string, res *concentration.Result) *Document {
	return a.generate(ctx, datasetID, FunctionNarrative,
		"You are a financial analyst. Summarize the concentration analysis below. "+
			"Respond with a JSON object with keys: executive_summary (string), key_findings (string array), "+
			"risk_indicators (string array), opportunities (string array), recommendations (string array), "+
			"confidence_notes (string).", res)
}

// RiskAssessment rates concentration risk and suggests follow-ups.
func (a *Advisor) RiskAssessment(ctx context.Context, datasetID string, res *concentration.Result) *Document {
	return a.generate(ctx, datasetID, FunctionRisk,
		"You are a risk officer. Assess the concentration risk in the analysis below. "+
			"Respond with a JSON object with keys: level (one of low, medium, high) and reasons (string array).", res)
}

func (a *Advisor) generate(ctx context.Context, datasetID, function, system string, res *concentration.Result) *Document {
	if !a.cfg.Enabled || a.client == nil {
		return Placeholder(function, ReasonDisabled)
	}
	if res == nil || (res.Totals.Error != "" && len(res.ByPeriod) == 0) {
		return Placeholder(function, ReasonValidationError)
	}
	if !a.takeBudget(datasetID) {
		log.Warn().Str("dataset_id", datasetID).Str("function", function).Msg("advisory call budget exhausted")
		return Placeholder(function, ReasonUsageLimit)
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return Placeholder(function, ReasonValidationError)
	}

	timeout := a.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	out, err := a.breaker.Execute(func() (any, error) {
		return a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       a.cfg.Model,
			Temperature: a.cfg.Temperature,
			MaxTokens:   a.cfg.MaxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: string(payload)},
			},
		})
	})
	if err != nil {
		reason := ReasonAPIError
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		log.Warn().Err(err).Str("function", function).Str("reason", reason).Msg("advisory call failed")
		return Placeholder(function, reason)
	}

	resp := out.(openai.ChatCompletionResponse)
	if len(resp.Choices) == 0 {
		return Placeholder(function, ReasonAPIError)
	}

	content := resp.Choices[0].Message.Content
	doc := &Document{
		Function: function,
		Status:   "ok",
		Model:    a.cfg.Model,
		Content:  content,
		LLMStatus: LLMStatus{
			Used:      true,
			Model:     a.cfg.Model,
			LatencyMS: time.Since(started).Milliseconds(),
		},
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if trimmed := strings.TrimSpace(content); json.Valid([]byte(trimmed)) {
		doc.Payload = json.RawMessage(trimmed)
	}
	return doc
}

// takeBudget consumes one call from the dataset's allowance.
func (a *Advisor) takeBudget(datasetID string) bool {
	limit := a.cfg.MaxCallsPerDataset
	if limit <= 0 {
		limit = 10
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.calls[datasetID] >= limit {
		return false
	}
	a.calls[datasetID]++
	return true
}

// CallsMade reports the advisory calls consumed for a dataset.
func (a *Advisor) CallsMade(datasetID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[datasetID]
}

// Functions lists the advisory functions the insights surface exposes.
func Functions() []string {
	return []string{FunctionNarrative, FunctionRisk}
}
