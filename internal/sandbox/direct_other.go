//go:build !linux

package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sandboxrun/engine/internal/types"
)

// DirectBackend on non-Linux hosts cannot install rlimits or namespace
// isolation; it runs the child under context cancellation only and is
// intended for local development, never for multi-tenant deployments.
// Permissive must be explicitly set so this gap is never silent.
type DirectBackend struct {
	AllowNetwork bool
	Permissive   bool

	warnOnce bool
}

func NewDirectBackend(allowNetwork bool) *DirectBackend {
	return &DirectBackend{AllowNetwork: allowNetwork}
}

func (b *DirectBackend) Run(ctx context.Context, req Request) (types.RunOutcome, error) {
	if !b.Permissive {
		return types.RunOutcome{}, fmt.Errorf("sandbox: DirectBackend requires Linux for resource enforcement; set Permissive to run unenforced on this platform")
	}
	if !b.warnOnce {
		logrus.Warn("sandbox: running submissions without OS-level resource enforcement (non-Linux host)")
		b.warnOnce = true
	}

	runCtx, cancel := context.WithTimeout(ctx, runTimeout(req.Limits))
	defer cancel()

	if len(req.Argv) == 0 {
		return types.RunOutcome{}, fmt.Errorf("sandbox: empty argv")
	}
	cmd := exec.CommandContext(runCtx, req.Argv[0], req.Argv[1:]...)
	cmd.Dir = req.Workspace.Path
	cmd.Env = req.Env

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return spawnFailure(err)
	}
	stdoutBuf := newBudgetedWriter(outputBudget(req) / 2)
	stderrBuf := newBudgetedWriter(outputBudget(req) / 2)
	cmd.Stdout = stdoutBuf
	cmd.Stderr = stderrBuf

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return spawnFailure(err)
	}
	go copyStdin(stdinPipe, req.Stdin)

	waitErr := cmd.Wait()
	wall := time.Since(start)

	outcome := types.RunOutcome{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		WallTime: wall,
	}
	if cmd.ProcessState != nil {
		outcome.CPUTime = cmd.ProcessState.SystemTime() + cmd.ProcessState.UserTime()
	}

	wallExceeded := runCtx.Err() == context.DeadlineExceeded
	outputExceeded := stdoutBuf.Overflowed() || stderrBuf.Overflowed()
	if waitErr != nil && !wallExceeded {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			outcome.ExitCode = exitErr.ExitCode()
		}
	}
	outcome.Termination = classify(false, false, wallExceeded, outputExceeded, nil)
	return outcome, nil
}

func spawnFailure(err error) (types.RunOutcome, error) {
	return types.RunOutcome{Termination: types.TerminationSpawnFailed, SpawnError: err.Error()}, nil
}
