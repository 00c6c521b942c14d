package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PistonConfig configures the remote execution API client.
type PistonConfig struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
	Logger  zerolog.Logger
}

// PistonRunner implements Runner against a Piston-compatible execution API.
type PistonRunner struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	tracer  trace.Tracer
	logger  zerolog.Logger
}

// NewPistonRunner builds a client for a remote code execution service.
func NewPistonRunner(cfg PistonConfig) (*PistonRunner, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("piston base url is required")
	}

	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &PistonRunner{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		client:  httpClient,
		tracer:  otel.Tracer("github.com/evalhub/assess-go-api/pkg/sandbox"),
		logger:  logger,
	}, nil
}

type pistonFile struct {
	Content string `json:"content"`
}

type pistonRequest struct {
	Language   string       `json:"language"`
	Version    string       `json:"version"`
	Files      []pistonFile `json:"files"`
	Stdin      string       `json:"stdin"`
	RunTimeout int64        `json:"run_timeout,omitempty"`
}

type pistonResponse struct {
	Run struct {
		Stdout string `json:"stdout"`
		Stderr string `json:"stderr"`
		Output string `json:"output"`
		Code   int    `json:"code"`
		Signal string `json:"signal"`
	} `json:"run"`
	Message string `json:"message"`
}

// Execute sends the code to the remote execution API and waits for output.
func (r *PistonRunner) Execute(parent context.Context, req ExecRequest) (ExecResult, error) {
	ctx, span := r.tracer.Start(parent, "sandbox.piston.execute", trace.WithAttributes(
		attribute.String("sandbox.language", req.Language),
	))
	defer span.End()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	version := req.Version
	if version == "" {
		version = "*"
	}

	payload := pistonRequest{
		Language: req.Language,
		Version:  version,
		Files:    []pistonFile{{Content: req.Code}},
		Stdin:    req.Stdin,
	}
	if timeout > 0 {
		payload.RunTimeout = timeout.Milliseconds()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return ExecResult{}, fmt.Errorf("marshal execute request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/v2/execute", bytes.NewReader(body))
	if err != nil {
		return ExecResult{}, fmt.Errorf("build execute request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(httpReq)
	duration := time.Since(start)
	execDuration.WithLabelValues(req.Language).Observe(duration.Seconds())
	if err != nil {
		result := ExecResult{Duration: duration}
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			result.TimedOut = true
			execTimeouts.WithLabelValues(req.Language).Inc()
		} else {
			execFailures.WithLabelValues(req.Language).Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("execute code: %w", err)
	}
	defer resp.Body.Close()

	var parsed pistonResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		execFailures.WithLabelValues(req.Language).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode_failed")
		return ExecResult{Duration: duration}, fmt.Errorf("decode execute response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		execFailures.WithLabelValues(req.Language).Inc()
		err := fmt.Errorf("execute code: status %d: %s", resp.StatusCode, parsed.Message)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ExecResult{Duration: duration}, err
	}

	stdout := parsed.Run.Stdout
	if stdout == "" {
		stdout = parsed.Run.Output
	}

	return ExecResult{
		Stdout:   stdout,
		Stderr:   parsed.Run.Stderr,
		ExitCode: parsed.Run.Code,
		Duration: duration,
	}, nil
}
