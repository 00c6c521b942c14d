package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	execDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "assess",
		Subsystem: "sandbox",
		Name:      "execution_duration_seconds",
		Help:      "Duration of sandbox executions",
		Buckets:   prometheus.DefBuckets,
	}, []string{"language"})

	execTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assess",
		Subsystem: "sandbox",
		Name:      "execution_timeouts_total",
		Help:      "Number of executions that hit the timeout",
	}, []string{"language"})

	execFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assess",
		Subsystem: "sandbox",
		Name:      "execution_failures_total",
		Help:      "Number of executions that resulted in an error",
	}, []string{"language"})
)

// ErrLanguageNotSupported indicates the requested language has no
// registered container image.
var ErrLanguageNotSupported = errors.New("language not supported")

type languageImage struct {
	Image    string
	FileName string
	RunCmd   string
}

// defaultLanguages maps supported languages onto container images. The
// run command reads the test case input from stdin.txt so the program
// sees it on standard input.
var defaultLanguages = map[string]languageImage{
	"python": {
		Image:    "python:3.11-alpine",
		FileName: "main.py",
		RunCmd:   "python main.py < stdin.txt",
	},
	"javascript": {
		Image:    "node:20-alpine",
		FileName: "main.js",
		RunCmd:   "node main.js < stdin.txt",
	},
	"go": {
		Image:    "golang:1.22-alpine",
		FileName: "main.go",
		RunCmd:   "go run main.go < stdin.txt",
	},
	"java": {
		Image:    "eclipse-temurin:21-alpine",
		FileName: "Main.java",
		RunCmd:   "java Main.java < stdin.txt",
	},
}

// DockerConfig groups Docker executor configuration values.
type DockerConfig struct {
	Host          string
	Timeout       time.Duration
	MemoryLimitMB int64
	CPUShares     int64
	WorkspaceRoot string
	Logger        zerolog.Logger
}

// DockerRunner implements Runner using throwaway Docker containers with
// networking disabled.
type DockerRunner struct {
	client    *client.Client
	cfg       DockerConfig
	languages map[string]languageImage
	tracer    trace.Tracer
	logger    zerolog.Logger
}

// NewDockerRunner constructs a Docker backed sandbox runner.
func NewDockerRunner(cfg DockerConfig) (*DockerRunner, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = os.TempDir()
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &DockerRunner{
		client:    cli,
		cfg:       cfg,
		languages: defaultLanguages,
		tracer:    otel.Tracer("github.com/evalhub/assess-go-api/pkg/sandbox"),
		logger:    logger,
	}, nil
}

// Execute runs the code inside a one-shot container and captures stdout.
func (r *DockerRunner) Execute(parent context.Context, req ExecRequest) (ExecResult, error) {
	lang, ok := r.languages[req.Language]
	if !ok {
		return ExecResult{}, fmt.Errorf("%w: %s", ErrLanguageNotSupported, req.Language)
	}

	ctx, span := r.tracer.Start(parent, "sandbox.docker.execute", trace.WithAttributes(
		attribute.String("sandbox.language", req.Language),
	))
	defer span.End()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	workspace, err := os.MkdirTemp(r.cfg.WorkspaceRoot, "sandbox-")
	if err != nil {
		return ExecResult{}, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(workspace)

	if err := os.WriteFile(filepath.Join(workspace, lang.FileName), []byte(req.Code), 0600); err != nil {
		return ExecResult{}, fmt.Errorf("write source: %w", err)
	}
	if err := os.WriteFile(filepath.Join(workspace, "stdin.txt"), []byte(req.Stdin), 0600); err != nil {
		return ExecResult{}, fmt.Errorf("write stdin: %w", err)
	}

	hostCfg := &container.HostConfig{
		AutoRemove: false,
		Resources: container.Resources{
			Memory:    r.cfg.MemoryLimitMB * 1024 * 1024,
			CPUShares: r.cfg.CPUShares,
		},
		NetworkMode: "none",
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: workspace,
			Target: "/workspace",
		}},
	}

	containerCfg := &container.Config{
		Image:        lang.Image,
		Cmd:          []string{"sh", "-c", lang.RunCmd},
		WorkingDir:   "/workspace",
		AttachStdout: true,
		AttachStderr: true,
	}

	start := time.Now()
	result := ExecResult{}

	resp, err := r.client.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		execFailures.WithLabelValues(req.Language).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("container create: %w", err)
	}

	containerID := resp.ID
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
			r.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to remove container")
		}
	}()

	if err := r.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		execFailures.WithLabelValues(req.Language).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("container start: %w", err)
	}

	statusCh, errCh := r.client.ContainerWait(ctx, containerID, container.WaitConditionNextExit)

	var waitErr error
	select {
	case err := <-errCh:
		waitErr = err
	case status := <-statusCh:
		result.ExitCode = int(status.StatusCode)
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	result.Duration = time.Since(start)
	execDuration.WithLabelValues(req.Language).Observe(result.Duration.Seconds())

	if waitErr != nil {
		if errors.Is(waitErr, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			result.TimedOut = true
			execTimeouts.WithLabelValues(req.Language).Inc()
			killCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := r.client.ContainerKill(killCtx, containerID, "KILL"); err != nil {
				r.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to kill timed out container")
			}
			span.RecordError(waitErr)
			span.SetStatus(codes.Error, "execution timed out")
			return result, fmt.Errorf("execution timed out after %s", timeout)
		}
		if !errors.Is(waitErr, context.Canceled) {
			execFailures.WithLabelValues(req.Language).Inc()
			span.RecordError(waitErr)
			span.SetStatus(codes.Error, waitErr.Error())
			return result, fmt.Errorf("container wait: %w", waitErr)
		}
	}

	logReader, err := r.client.ContainerLogs(parent, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		r.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to fetch container logs")
		return result, nil
	}
	defer logReader.Close()

	stdout, stderr, err := splitDockerLogs(logReader)
	if err != nil {
		r.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to read container logs")
		return result, nil
	}

	result.Stdout = stdout
	result.Stderr = stderr
	return result, nil
}

func splitDockerLogs(reader io.Reader) (string, string, error) {
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return "", "", err
	}
	return stdout.String(), stderr.String(), nil
}
