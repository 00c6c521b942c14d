package grading

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/evalhub/assess-go-api/internal/models"
	"github.com/evalhub/assess-go-api/pkg/sandbox"
)

// CodeOutcome is the aggregated verdict over all test cases of one coding
// answer.
type CodeOutcome struct {
	Points          float64
	IsCorrect       bool
	PassedTestCases int
	TotalTestCases  int
}

// CodeRunnerConfig tunes the per-answer execution behaviour.
type CodeRunnerConfig struct {
	// Workers bounds how many test cases run against the sandbox at
	// once. Zero or one means sequential execution.
	Workers int
	// CaseTimeout is the wall-clock budget for a single test case.
	CaseTimeout time.Duration
}

// CodeRunner scores a coding answer by executing the submitted code
// against each of the question's test cases.
type CodeRunner struct {
	runner  sandbox.Runner
	workers int
	timeout time.Duration
	logger  zerolog.Logger
}

// NewCodeRunner builds a runner on top of the given sandbox.
func NewCodeRunner(runner sandbox.Runner, cfg CodeRunnerConfig, logger zerolog.Logger) *CodeRunner {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	timeout := cfg.CaseTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &CodeRunner{
		runner:  runner,
		workers: workers,
		timeout: timeout,
		logger:  logger.With().Str("component", "code_runner").Logger(),
	}
}

// Run executes every test case and aggregates the pass count. The final
// counts are order-independent; a sandbox error or timeout on one case is
// logged and counted as a failure without aborting the remaining cases.
func (c *CodeRunner) Run(ctx context.Context, question Question, code, language string) CodeOutcome {
	total := len(question.TestCases)
	outcome := CodeOutcome{TotalTestCases: total}
	if total == 0 {
		return outcome
	}

	workers := c.workers
	if workers > total {
		workers = total
	}

	var (
		mu     sync.Mutex
		passed int
		wg     sync.WaitGroup
	)
	sem := make(chan struct{}, workers)

	for i, testCase := range question.TestCases {
		wg.Add(1)
		sem <- struct{}{}
		go func(index int, tc models.TestCase) {
			defer wg.Done()
			defer func() { <-sem }()

			if c.runCase(ctx, question, code, language, index, tc.Input, tc.ExpectedOutput) {
				mu.Lock()
				passed++
				mu.Unlock()
			}
		}(i, testCase)
	}

	wg.Wait()

	outcome.PassedTestCases = passed
	outcome.IsCorrect = passed == total
	outcome.Points = math.Round(question.Points * float64(passed) / float64(total))
	return outcome
}

func (c *CodeRunner) runCase(ctx context.Context, question Question, code, language string, index int, input, expected string) bool {
	exe := sandbox.BuildExecutable(sandbox.BuildInput{
		Language: language,
		UserCode: code,
		RawInput: input,
	})

	result, err := c.runner.Execute(ctx, sandbox.ExecRequest{
		Language: language,
		Version:  "*",
		Code:     exe.Code,
		Stdin:    exe.Stdin,
		Timeout:  c.timeout,
	})
	if err != nil {
		// One broken test environment must never block the remaining
		// cases; the case simply counts as failed.
		c.logger.Warn().Err(err).
			Uint("question_id", question.ID).
			Int("test_case", index).
			Bool("timed_out", result.TimedOut).
			Msg("test case execution failed")
		return false
	}

	return strings.TrimSpace(result.Output()) == strings.TrimSpace(expected)
}
