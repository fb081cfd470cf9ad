// Package executor drives a single Submission through the engine's state
// machine: workspace preparation, optional compile stage, one or more run
// stages, and the terminal classification the transport layer reports.
package executor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sandboxrun/engine/internal/registry"
	"github.com/sandboxrun/engine/internal/sandbox"
	"github.com/sandboxrun/engine/internal/types"
)

// Executor runs submissions against a Registry and a sandbox.Backend.
type Executor struct {
	Registry      *registry.Registry
	Backend       sandbox.Backend
	WorkspaceRoot string
	Logger        *logrus.Logger
}

// New builds an Executor. logger may be nil, in which case a default
// logrus instance is used.
func New(reg *registry.Registry, backend sandbox.Backend, workspaceRoot string, logger *logrus.Logger) *Executor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Executor{Registry: reg, Backend: backend, WorkspaceRoot: workspaceRoot, Logger: logger}
}

// Execute runs sub to completion, mutating it in place with the final
// status and output fields, and forwarding StreamEvents on events if
// non-nil. Execute itself never returns an error for submission-caused
// failures (compilation errors, runtime errors, limit breaches) — those
// are reported through sub.Status. It returns an error only for engine
// faults (unknown language, workspace preparation failure, an error from
// the backend), which callers should map to StatusInternalError. A
// process that fails to spawn comes back from the backend as a
// TerminationSpawnFailed outcome: Execute sets StatusInternalError for it
// and returns nil.
func (e *Executor) Execute(ctx context.Context, sub *types.Submission, events chan<- types.StreamEvent) error {
	emit := func(ev types.StreamEvent) {
		if events != nil {
			ev.SubmissionID = sub.ID
			events <- ev
		}
	}

	lang, err := e.Registry.Lookup(sub.LanguageKey)
	if err != nil {
		sub.Status = types.StatusInternalError
		sub.Message = err.Error()
		return err
	}

	sub.Status = types.StatusRunning
	emit(types.StreamEvent{Type: "status", Status: types.StatusRunning})

	ws, compilerArgs, runArgs, className, err := e.Registry.PrepareWorkspace(sub, lang, e.WorkspaceRoot)
	if err != nil {
		sub.Status = types.StatusInternalError
		sub.Message = err.Error()
		return err
	}
	defer os.RemoveAll(ws.Path)

	artifact := "a.out"
	if lang.Key == "java" {
		artifact = className
	}

	if lang.Compiled() {
		emit(types.StreamEvent{Type: "stage_start", Stage: "compile"})
		argv := append(sandbox.ExpandArgv(lang.CompileStep, ws.PrimaryFileName, artifact, className), compilerArgs...)
		compileLimits := registry.CompileProfile
		if runMem := sub.Limits.Merge(lang.DefaultLimits).MemoryLimit; runMem > compileLimits.MemoryLimit {
			compileLimits.MemoryLimit = runMem
		}
		outcome, err := e.Backend.Run(ctx, sandbox.Request{
			Workspace:     *ws,
			Argv:          argv,
			Env:           baseEnv(ws.Path),
			Limits:        compileLimits,
			EnableNetwork: lang.RequiresNetworkForBuild,
		})
		emit(types.StreamEvent{Type: "stage_end", Stage: "compile"})
		if err != nil {
			sub.Status = types.StatusInternalError
			sub.Message = err.Error()
			return err
		}
		sub.CompileOutput = outcome.Stdout + outcome.Stderr
		if ctx.Err() == context.Canceled {
			sub.Status = types.StatusCancelled
			sub.Message = "Execution cancelled"
			emit(types.StreamEvent{Type: "status", Status: sub.Status})
			return nil
		}
		if !compileSucceeded(outcome) {
			sub.Status = types.StatusCompilationError
			sub.Message = "compilation failed"
			emit(types.StreamEvent{Type: "status", Status: sub.Status})
			return nil
		}
	}

	runs := sub.NumberOfRuns
	if runs <= 0 {
		runs = 1
	}

	var last types.RunOutcome
	var maxCPU, maxWall time.Duration
	for i := 0; i < runs; i++ {
		emit(types.StreamEvent{Type: "stage_start", Stage: "run"})
		argv := append(sandbox.ExpandArgv(lang.RunStep, ws.PrimaryFileName, artifact, className), runArgs...)
		limits := sub.Limits.Merge(lang.DefaultLimits)
		outcome, err := e.Backend.Run(ctx, sandbox.Request{
			Workspace:     *ws,
			Argv:          argv,
			Env:           baseEnv(ws.Path),
			Stdin:         sub.Stdin,
			Limits:        limits,
			EnableNetwork: sub.EnableNetwork,
		})
		emit(types.StreamEvent{Type: "stage_end", Stage: "run"})
		if err != nil {
			sub.Status = types.StatusInternalError
			sub.Message = err.Error()
			return err
		}
		last = outcome
		if outcome.CPUTime > maxCPU {
			maxCPU = outcome.CPUTime
		}
		if outcome.WallTime > maxWall {
			maxWall = outcome.WallTime
		}
		if outcome.Termination != types.TerminationExited {
			break // no point repeating runs once one has already failed
		}
	}

	if ctx.Err() == context.Canceled {
		sub.Status = types.StatusCancelled
		sub.Message = "Execution cancelled"
		emit(types.StreamEvent{Type: "status", Status: sub.Status})
		return nil
	}

	applyOutcome(sub, last, maxCPU, maxWall)
	emit(types.StreamEvent{Type: "status", Status: sub.Status})
	return nil
}

// compileSucceeded treats a clean exit as success; any abnormal
// termination (signal, limit breach, non-zero exit) fails the compile.
func compileSucceeded(o types.RunOutcome) bool {
	return o.Termination == types.TerminationExited && o.ExitCode == 0
}

// applyOutcome maps the final run's RunOutcome onto the submission's
// terminal status, applying the wrong_answer comparison (§4.3.1) and the
// memory > cpu > wall > output > signal > exit-code precedence.
func applyOutcome(sub *types.Submission, o types.RunOutcome, maxCPU, maxWall time.Duration) {
	sub.Stdout = o.Stdout
	if sub.RedirectStderrToStdout {
		sub.Stdout += o.Stderr
	} else {
		sub.Stderr = o.Stderr
	}
	sub.ExitCode = &o.ExitCode
	sub.ExitSignal = o.Signal
	sub.Time = maxCPU.Seconds()
	sub.WallTime = maxWall.Seconds()
	sub.Memory = o.MaxRSS

	switch o.Termination {
	case types.TerminationMemoryLimitExceeded:
		sub.Status = types.StatusMemoryLimitExceeded
		sub.Message = "memory limit exceeded"
		return
	case types.TerminationCPULimitExceeded:
		sub.Status = types.StatusTimeLimitExceeded
		sub.Message = "CPU time limit exceeded"
		return
	case types.TerminationWallLimitExceeded:
		sub.Status = types.StatusTimeLimitExceeded
		sub.Message = "Wall time limit exceeded"
		return
	case types.TerminationOutputLimitExceeded:
		sub.Status = types.StatusRuntimeError
		sub.Message = "output limit exceeded"
		return
	case types.TerminationSignalled:
		sub.Status = types.StatusRuntimeError
		sub.Message = fmt.Sprintf("terminated by signal %d", *o.Signal)
		return
	case types.TerminationSpawnFailed:
		sub.Status = types.StatusInternalError
		sub.Message = o.SpawnError
		return
	}

	if o.ExitCode != 0 {
		sub.Status = types.StatusRuntimeError
		sub.Message = fmt.Sprintf("exited with code %d", o.ExitCode)
		return
	}

	if sub.ExpectedOutput != nil {
		if compareOutputs(o.Stdout, *sub.ExpectedOutput) {
			sub.Status = types.StatusAccepted
		} else {
			sub.Status = types.StatusWrongAnswer
		}
		return
	}

	sub.Status = types.StatusAccepted
}

// compareOutputs matches actual against expected ignoring trailing
// whitespace, so a submission isn't marked wrong_answer over a missing
// final newline.
func compareOutputs(actual, expected string) bool {
	return trimTrailing(actual) == trimTrailing(expected)
}

func trimTrailing(s string) string {
	i := len(s)
	for i > 0 && (s[i-1] == '\n' || s[i-1] == '\r' || s[i-1] == ' ' || s[i-1] == '\t') {
		i--
	}
	return s[:i]
}

func baseEnv(workspacePath string) []string {
	return []string{
		"HOME=" + workspacePath,
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"LANG=C.UTF-8",
	}
}
