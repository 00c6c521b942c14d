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
		Namespace: "assess",
		Subsystem: "ai",
		Name:      "suggestion_duration_seconds",
		Help:      "Duration of essay feedback suggestion requests",
	}, []string{"model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assess",
		Subsystem: "ai",
		Name:      "suggestion_failures_total",
		Help:      "Number of essay feedback suggestion failures",
	}, []string{"model"})
)

// OpenAIConfig defines configuration options for the OpenAI assistant.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIAssistant implements Assistant against the OpenAI chat completion API.
type OpenAIAssistant struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIAssistant builds a new assistant using the provided configuration.
func NewOpenAIAssistant(cfg OpenAIConfig) (*OpenAIAssistant, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	client := openai.NewClientWithConfig(config)

	return &OpenAIAssistant{
		client: client,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/evalhub/assess-go-api/pkg/ai"),
		logger: logger,
	}, nil
}

// SuggestFeedback sends the essay to OpenAI and parses the draft feedback.
func (a *OpenAIAssistant) SuggestFeedback(parent context.Context, input EssayInput) (EssaySuggestion, error) {
	ctx, span := a.tracer.Start(parent, "openai.suggest_feedback", trace.WithAttributes(
		attribute.String("model", a.cfg.Model),
	))
	defer span.End()

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       a.cfg.Model,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: assistantSystemPrompt(),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildEssayPrompt(input),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := a.client.CreateChatCompletion(ctx, request)
	duration := time.Since(start)
	aiDuration.WithLabelValues(a.cfg.Model).Observe(duration.Seconds())
	if err != nil {
		aiFailures.WithLabelValues(a.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return EssaySuggestion{}, fmt.Errorf("openai suggest feedback: %w", err)
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices returned from openai")
		aiFailures.WithLabelValues(a.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return EssaySuggestion{}, err
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	suggestion, err := parseSuggestionResponse(content, input.MaxPoints)
	if err != nil {
		aiFailures.WithLabelValues(a.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return EssaySuggestion{}, err
	}

	return suggestion, nil
}

func assistantSystemPrompt() string {
	return "You are a grading assistant drafting feedback for an instructor. Respond with a JSON object containing " +
		"suggested_points (number), comment (string addressed to the student), confidence (0-1), and an optional " +
		"details object. Never exceed the stated maximum points. The instructor makes the final decision."
}

func buildEssayPrompt(input EssayInput) string {
	builder := strings.Builder{}
	builder.WriteString("# Question\n")
	builder.WriteString(input.QuestionPrompt)
	builder.WriteString(fmt.Sprintf("\n\n## Maximum Points\n%g", input.MaxPoints))
	if input.RubricNotes != "" {
		builder.WriteString("\n\n## Grading Notes\n")
		builder.WriteString(input.RubricNotes)
	}
	builder.WriteString("\n\n## Student Answer\n")
	builder.WriteString(input.StudentAnswer)
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}

func parseSuggestionResponse(content string, maxPoints float64) (EssaySuggestion, error) {
	var suggestion EssaySuggestion
	if err := json.Unmarshal([]byte(content), &suggestion); err != nil {
		return EssaySuggestion{}, fmt.Errorf("parse suggestion json: %w", err)
	}

	if suggestion.SuggestedPoints < 0 {
		suggestion.SuggestedPoints = 0
	}
	if maxPoints > 0 && suggestion.SuggestedPoints > maxPoints {
		suggestion.SuggestedPoints = maxPoints
	}
	if suggestion.Confidence < 0 {
		suggestion.Confidence = 0
	}
	if suggestion.Confidence > 1 {
		suggestion.Confidence = 1
	}

	return suggestion, nil
}
