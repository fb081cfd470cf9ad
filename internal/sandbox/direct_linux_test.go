//go:build linux

package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/engine/internal/types"
)

func TestDirectBackendExitsCleanly(t *testing.T) {
	b := NewDirectBackend(false)
	ws := types.Workspace{Path: t.TempDir()}

	outcome, err := b.Run(context.Background(), Request{
		Workspace: ws,
		Argv:      []string{"/bin/sh", "-c", "echo hello"},
		Limits:    types.ResourceLimits{WallTimeLimit: 2 * time.Second, MemoryLimit: 65536},
	})
	require.NoError(t, err)
	assert.Equal(t, types.TerminationExited, outcome.Termination)
	assert.Equal(t, "hello\n", outcome.Stdout)
	assert.Equal(t, 0, outcome.ExitCode)
}

func TestDirectBackendNonZeroExit(t *testing.T) {
	b := NewDirectBackend(false)
	ws := types.Workspace{Path: t.TempDir()}

	outcome, err := b.Run(context.Background(), Request{
		Workspace: ws,
		Argv:      []string{"/bin/sh", "-c", "exit 7"},
		Limits:    types.ResourceLimits{WallTimeLimit: 2 * time.Second, MemoryLimit: 65536},
	})
	require.NoError(t, err)
	assert.Equal(t, types.TerminationExited, outcome.Termination)
	assert.Equal(t, 7, outcome.ExitCode)
}

func TestDirectBackendWallTimeExceeded(t *testing.T) {
	b := NewDirectBackend(false)
	ws := types.Workspace{Path: t.TempDir()}

	outcome, err := b.Run(context.Background(), Request{
		Workspace: ws,
		Argv:      []string{"/bin/sh", "-c", "sleep 5"},
		Limits:    types.ResourceLimits{WallTimeLimit: 200 * time.Millisecond, MemoryLimit: 65536},
	})
	require.NoError(t, err)
	assert.Equal(t, types.TerminationWallLimitExceeded, outcome.Termination)
}

func TestDirectBackendCPUTimeExceeded(t *testing.T) {
	b := NewDirectBackend(false)
	ws := types.Workspace{Path: t.TempDir()}

	outcome, err := b.Run(context.Background(), Request{
		Workspace: ws,
		Argv:      []string{"/bin/sh", "-c", "while true; do :; done"},
		Limits: types.ResourceLimits{
			CPUTimeLimit:  300 * time.Millisecond,
			CPUExtraTime:  5 * time.Second,
			WallTimeLimit: 5 * time.Second,
			MemoryLimit:   65536,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, types.TerminationCPULimitExceeded, outcome.Termination)
	assert.Less(t, outcome.WallTime, 2*time.Second, "the sampler should catch CPU overrun well before RLIMIT_CPU or wall time")
}

func TestDirectBackendOutputLimitExceeded(t *testing.T) {
	b := NewDirectBackend(false)
	ws := types.Workspace{Path: t.TempDir()}

	outcome, err := b.Run(context.Background(), Request{
		Workspace:    ws,
		Argv:         []string{"/bin/sh", "-c", "yes | head -c 1000000"},
		Limits:       types.ResourceLimits{WallTimeLimit: 5 * time.Second, MemoryLimit: 65536},
		OutputBudget: 1024,
	})
	require.NoError(t, err)
	assert.Equal(t, types.TerminationOutputLimitExceeded, outcome.Termination)
	assert.LessOrEqual(t, len(outcome.Stdout), 1024)
}

func TestDirectBackendStdin(t *testing.T) {
	b := NewDirectBackend(false)
	ws := types.Workspace{Path: t.TempDir()}

	outcome, err := b.Run(context.Background(), Request{
		Workspace: ws,
		Argv:      []string{"/bin/sh", "-c", "cat"},
		Stdin:     "ping\n",
		Limits:    types.ResourceLimits{WallTimeLimit: 2 * time.Second, MemoryLimit: 65536},
	})
	require.NoError(t, err)
	assert.Equal(t, "ping\n", outcome.Stdout)
}

func TestDirectBackendSpawnFailure(t *testing.T) {
	b := NewDirectBackend(false)
	ws := types.Workspace{Path: t.TempDir()}

	outcome, err := b.Run(context.Background(), Request{
		Workspace: ws,
		Argv:      []string{"/no/such/binary"},
		Limits:    types.ResourceLimits{WallTimeLimit: 2 * time.Second},
	})
	require.NoError(t, err)
	assert.Equal(t, types.TerminationSpawnFailed, outcome.Termination)
	assert.NotEmpty(t, outcome.SpawnError)
}
