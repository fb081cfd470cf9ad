package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sandboxrun/engine/internal/types"
)

// ContainerBackend isolates each run inside a disposable container,
// trading the Direct backend's rlimit/namespace bookkeeping for a
// runtime-provided sandbox. It shells out to the `docker` CLI the same
// way a process-supervised backend shells out to any external tool:
// build the argv, wait on the child, classify how it stopped.
type ContainerBackend struct {
	Image      string
	DockerPath string
}

// NewContainerBackend returns a Backend that runs each submission inside
// a fresh container from image, removed on exit.
func NewContainerBackend(image string) *ContainerBackend {
	path := "docker"
	return &ContainerBackend{Image: image, DockerPath: path}
}

func (b *ContainerBackend) Run(ctx context.Context, req Request) (types.RunOutcome, error) {
	if len(req.Argv) == 0 {
		return types.RunOutcome{}, fmt.Errorf("sandbox: empty argv")
	}

	runCtx, cancel := context.WithTimeout(ctx, runTimeout(req.Limits))
	defer cancel()

	name := "sbx-" + uuid.NewString()
	args := []string{
		"run", "--rm", "--name", name,
		"-v", req.Workspace.Path + ":/workspace:rw",
		"-w", "/workspace",
	}
	if !req.EnableNetwork {
		args = append(args, "--network", "none")
	}
	if req.Limits.MemoryLimit > 0 {
		args = append(args, "--memory", strconv.FormatInt(req.Limits.MemoryLimit, 10)+"k")
	}
	if req.Limits.MaxProcessesAndOrThreads > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(req.Limits.MaxProcessesAndOrThreads))
	}
	for _, e := range req.Env {
		args = append(args, "-e", e)
	}
	args = append(args, "-i", b.Image)
	args = append(args, req.Argv...)

	cmd := exec.CommandContext(runCtx, b.DockerPath, args...)

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

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-waitDone:
	case <-runCtx.Done():
		_ = exec.Command(b.DockerPath, "kill", name).Run()
		waitErr = <-waitDone
	}
	wall := time.Since(start)

	outputExceeded := stdoutBuf.Overflowed() || stderrBuf.Overflowed()
	if outputExceeded {
		_ = exec.Command(b.DockerPath, "kill", name).Run()
	}

	outcome := types.RunOutcome{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		WallTime: wall,
	}

	wallExceeded := runCtx.Err() == context.DeadlineExceeded
	if waitErr != nil && !wallExceeded {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			outcome.ExitCode = exitErr.ExitCode()
		}
	}
	outcome.Termination = classify(false, false, wallExceeded, outputExceeded, nil)
	return outcome, nil
}
