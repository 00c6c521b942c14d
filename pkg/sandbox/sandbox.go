// Package sandbox runs untrusted student code in an isolated environment.
// Two backends are provided: a Docker-based executor and a client for a
// Piston-style remote execution API. The grading engine only depends on
// the Runner interface.
package sandbox

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Runner executes one piece of code against the sandbox and returns its
// output. Implementations must honour the request timeout; a timed out
// execution is reported via ExecResult.TimedOut together with an error.
type Runner interface {
	Execute(ctx context.Context, req ExecRequest) (ExecResult, error)
}

// ExecRequest describes a single execution.
type ExecRequest struct {
	Language string
	Version  string
	Code     string
	Stdin    string
	Timeout  time.Duration
}

// ExecResult summarises one execution.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Output returns the program output that should be compared against an
// expected value.
func (r ExecResult) Output() string {
	return r.Stdout
}

// ErrSandboxDisabled indicates no execution backend is configured.
var ErrSandboxDisabled = errors.New("sandbox is disabled")

// Disabled is a Runner for deployments without an execution backend.
// Every execution fails, so coding answers score zero.
type Disabled struct{}

// Execute implements Runner.
func (Disabled) Execute(context.Context, ExecRequest) (ExecResult, error) {
	return ExecResult{}, ErrSandboxDisabled
}

// BuildInput carries everything needed to assemble one runnable program
// for a single test case.
type BuildInput struct {
	Language string
	UserCode string
	RawInput string
}

// Executable is a ready-to-run program plus its stdin.
type Executable struct {
	Code  string
	Stdin string
}

// BuildExecutable assembles the program and stdin for one test case. The
// submitted code is used as-is; test case input is fed through stdin with
// a guaranteed trailing newline so line-based readers terminate.
func BuildExecutable(in BuildInput) Executable {
	stdin := in.RawInput
	if stdin != "" && !strings.HasSuffix(stdin, "\n") {
		stdin += "\n"
	}

	return Executable{
		Code:  in.UserCode,
		Stdin: stdin,
	}
}
