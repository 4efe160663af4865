package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "request_duration_seconds",
		Help:      "Duration of AI gateway requests",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
	}, []string{"operation", "model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "request_failures_total",
		Help:      "Number of failed AI gateway requests",
	}, []string{"operation", "model"})
)

// OpenAIConfig defines configuration options for the OpenAI gateway.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
	Logger      zerolog.Logger
}

// OpenAIGateway implements Gateway against the OpenAI chat completion API.
type OpenAIGateway struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIGateway builds a new gateway using the provided configuration.
func NewOpenAIGateway(cfg OpenAIConfig) (*OpenAIGateway, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIGateway{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-assess-api/pkg/ai/openai"),
		logger: cfg.Logger.With().Str("component", "openai_gateway").Logger(),
	}, nil
}

// Generate asks the model for an assessment covering the given syllabi.
func (g *OpenAIGateway) Generate(parent context.Context, syllabi []SyllabusInput) (json.RawMessage, error) {
	input, err := json.Marshal(syllabi)
	if err != nil {
		return nil, fmt.Errorf("encode syllabi: %w", err)
	}

	content, err := g.complete(parent, "generate", generatorSystemPrompt(), "Input syllabi: "+string(input))
	if err != nil {
		return nil, err
	}

	raw := json.RawMessage(content)
	if err := ValidateAssessment(raw); err != nil {
		aiFailures.WithLabelValues("generate", g.cfg.Model).Inc()
		return nil, err
	}
	return raw, nil
}

// Evaluate asks the model to grade a completed submission.
func (g *OpenAIGateway) Evaluate(parent context.Context, input EvaluationInput) (EvaluationResult, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("encode evaluation input: %w", err)
	}

	content, err := g.complete(parent, "evaluate", evaluatorSystemPrompt(), string(payload))
	if err != nil {
		return EvaluationResult{}, err
	}

	result, err := parseEvaluationResponse(content)
	if err != nil {
		aiFailures.WithLabelValues("evaluate", g.cfg.Model).Inc()
		return EvaluationResult{}, err
	}
	return result, nil
}

func (g *OpenAIGateway) complete(parent context.Context, operation, system, user string) (string, error) {
	ctx, span := g.tracer.Start(parent, "openai."+operation, trace.WithAttributes(
		attribute.String("model", g.cfg.Model),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := g.client.CreateChatCompletion(ctx, request)
	aiDuration.WithLabelValues(operation, g.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		aiFailures.WithLabelValues(operation, g.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("openai %s: %w", operation, err)
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices returned from openai")
		aiFailures.WithLabelValues(operation, g.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	g.logger.Debug().
		Str("operation", operation).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("openai completion received")

	return stripCodeFence(resp.Choices[0].Message.Content), nil
}

func generatorSystemPrompt() string {
	return strings.Join([]string{
		"Generate a structured assessment JSON.",
		"Rules: return valid JSON only, no markdown.",
		"Format: { subjects: [{ name, sections:[{ title, max_score, questions:[{id,question,max_score,difficulty}] }]}] }",
		"Each subject needs sections and each section must have 3-5 questions.",
	}, "\n")
}

func evaluatorSystemPrompt() string {
	return strings.Join([]string{
		"Evaluate this completed assessment submission.",
		"Return valid JSON only: { score:number, feedback:string, section_breakdown:array }",
	}, "\n")
}

func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

func parseEvaluationResponse(content string) (EvaluationResult, error) {
	type payload struct {
		Score            *float64                 `json:"score"`
		Feedback         string                   `json:"feedback"`
		SectionBreakdown []map[string]interface{} `json:"section_breakdown"`
	}

	var data payload
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return EvaluationResult{}, fmt.Errorf("parse evaluation json: %w", err)
	}
	if data.Score == nil {
		return EvaluationResult{}, fmt.Errorf("evaluation response missing score")
	}

	score := *data.Score
	if score < 0 {
		score = 0
	}

	return EvaluationResult{
		Score:            score,
		Feedback:         data.Feedback,
		SectionBreakdown: data.SectionBreakdown,
	}, nil
}
