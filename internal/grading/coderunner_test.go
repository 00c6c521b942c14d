package grading

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/evalhub/assess-go-api/internal/models"
	"github.com/evalhub/assess-go-api/pkg/sandbox"
)

// stubSandbox returns canned outputs keyed by trimmed stdin, failing any
// input listed in failures.
type stubSandbox struct {
	mu       sync.Mutex
	outputs  map[string]string
	failures map[string]error
	timeouts map[string]bool
	calls    int
}

func newStubSandbox(outputs map[string]string) *stubSandbox {
	if outputs == nil {
		outputs = map[string]string{}
	}
	return &stubSandbox{
		outputs:  outputs,
		failures: map[string]error{},
		timeouts: map[string]bool{},
	}
}

func (s *stubSandbox) Execute(ctx context.Context, req sandbox.ExecRequest) (sandbox.ExecResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	key := strings.TrimSpace(req.Stdin)
	if err, ok := s.failures[key]; ok {
		return sandbox.ExecResult{}, err
	}
	if s.timeouts[key] {
		return sandbox.ExecResult{TimedOut: true}, errors.New("execution timed out after 10s")
	}
	return sandbox.ExecResult{Stdout: s.outputs[key]}, nil
}

func codingQuestion(points float64, cases ...models.TestCase) Question {
	return Question{
		ID:        7,
		Type:      models.QuestionTypeCoding,
		Points:    points,
		TestCases: cases,
	}
}

func TestCodeRunnerAllPass(t *testing.T) {
	stub := newStubSandbox(map[string]string{"1": "2\n", "2": "4\n", "3": "6\n"})
	runner := NewCodeRunner(stub, CodeRunnerConfig{Workers: 3}, zerolog.Nop())

	question := codingQuestion(9,
		models.TestCase{Input: "1", ExpectedOutput: "2"},
		models.TestCase{Input: "2", ExpectedOutput: "4"},
		models.TestCase{Input: "3", ExpectedOutput: "6"},
	)

	outcome := runner.Run(context.Background(), question, "code", "python")
	require.Equal(t, 3, outcome.PassedTestCases)
	require.Equal(t, 3, outcome.TotalTestCases)
	require.True(t, outcome.IsCorrect)
	require.Equal(t, 9.0, outcome.Points)
}

func TestCodeRunnerPartialCredit(t *testing.T) {
	// 2 of 3 cases pass with points=9: round(9 * 2/3) = 6.
	stub := newStubSandbox(map[string]string{"1": "2\n", "2": "4\n", "3": "wrong"})
	runner := NewCodeRunner(stub, CodeRunnerConfig{}, zerolog.Nop())

	question := codingQuestion(9,
		models.TestCase{Input: "1", ExpectedOutput: "2"},
		models.TestCase{Input: "2", ExpectedOutput: "4"},
		models.TestCase{Input: "3", ExpectedOutput: "6"},
	)

	outcome := runner.Run(context.Background(), question, "code", "python")
	require.Equal(t, 2, outcome.PassedTestCases)
	require.False(t, outcome.IsCorrect)
	require.Equal(t, 6.0, outcome.Points)
}

func TestCodeRunnerScoreLaw(t *testing.T) {
	// round(total * K / N) for every K, and IsCorrect only at K == N.
	const n = 5
	for k := 0; k <= n; k++ {
		outputs := map[string]string{}
		cases := make([]models.TestCase, 0, n)
		for i := 0; i < n; i++ {
			in := string(rune('a' + i))
			cases = append(cases, models.TestCase{Input: in, ExpectedOutput: "ok"})
			if i < k {
				outputs[in] = "ok"
			} else {
				outputs[in] = "nope"
			}
		}

		stub := newStubSandbox(outputs)
		runner := NewCodeRunner(stub, CodeRunnerConfig{Workers: 4}, zerolog.Nop())
		outcome := runner.Run(context.Background(), codingQuestion(7, cases...), "code", "go")

		require.Equal(t, k, outcome.PassedTestCases, "k=%d", k)
		require.Equal(t, k == n, outcome.IsCorrect, "k=%d", k)
		expected := float64(int(float64(7*k)/float64(n) + 0.5))
		require.Equal(t, expected, outcome.Points, "k=%d", k)
	}
}

func TestCodeRunnerSandboxErrorCountsAsFailure(t *testing.T) {
	stub := newStubSandbox(map[string]string{"1": "2\n", "3": "6\n"})
	stub.failures["2"] = errors.New("sandbox unavailable")
	runner := NewCodeRunner(stub, CodeRunnerConfig{Workers: 2}, zerolog.Nop())

	question := codingQuestion(9,
		models.TestCase{Input: "1", ExpectedOutput: "2"},
		models.TestCase{Input: "2", ExpectedOutput: "4"},
		models.TestCase{Input: "3", ExpectedOutput: "6"},
	)

	outcome := runner.Run(context.Background(), question, "code", "python")
	require.Equal(t, 2, outcome.PassedTestCases)
	require.Equal(t, 3, outcome.TotalTestCases)
	require.Equal(t, 6.0, outcome.Points)
	require.Equal(t, 3, stub.calls, "an error must not abort remaining cases")
}

func TestCodeRunnerTimeoutCountsAsFailure(t *testing.T) {
	stub := newStubSandbox(map[string]string{"1": "2\n"})
	stub.timeouts["2"] = true
	runner := NewCodeRunner(stub, CodeRunnerConfig{}, zerolog.Nop())

	question := codingQuestion(10,
		models.TestCase{Input: "1", ExpectedOutput: "2"},
		models.TestCase{Input: "2", ExpectedOutput: "4"},
	)

	outcome := runner.Run(context.Background(), question, "code", "python")
	require.Equal(t, 1, outcome.PassedTestCases)
	require.Equal(t, 5.0, outcome.Points)
}

func TestCodeRunnerComparesTrimmedOutput(t *testing.T) {
	stub := newStubSandbox(map[string]string{"in": "  42 \n\n"})
	runner := NewCodeRunner(stub, CodeRunnerConfig{}, zerolog.Nop())

	question := codingQuestion(4, models.TestCase{Input: "in", ExpectedOutput: "42\n"})
	outcome := runner.Run(context.Background(), question, "code", "go")
	require.True(t, outcome.IsCorrect)
	require.Equal(t, 4.0, outcome.Points)
}
