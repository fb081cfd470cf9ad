//go:build linux

package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sandboxrun/engine/internal/types"
)

// DirectBackend runs the child process itself on the host, enforcing
// limits with rlimits, Linux namespaces, and an active sampler for the
// dimensions the kernel does not stop on its own (wall time, RSS).
type DirectBackend struct {
	// AllowNetwork, when false, puts every run in a fresh network
	// namespace (CLONE_NEWNET) regardless of the per-request flag — an
	// operator-level kill switch independent of what submissions ask for.
	AllowNetwork bool

	// sampleInterval is how often the sampler polls /proc for the
	// running child; the engine requires detection within 100ms.
	sampleInterval time.Duration
}

// NewDirectBackend returns a Backend that spawns and supervises
// processes directly on this host.
func NewDirectBackend(allowNetwork bool) *DirectBackend {
	return &DirectBackend{AllowNetwork: allowNetwork, sampleInterval: 50 * time.Millisecond}
}

func (b *DirectBackend) Run(ctx context.Context, req Request) (types.RunOutcome, error) {
	if len(req.Argv) == 0 {
		return types.RunOutcome{}, fmt.Errorf("sandbox: empty argv")
	}

	runCtx, cancel := context.WithTimeout(ctx, runTimeout(req.Limits))
	defer cancel()

	cmd := exec.CommandContext(runCtx, req.Argv[0], req.Argv[1:]...)
	cmd.Dir = req.Workspace.Path
	cmd.Env = req.Env

	cloneFlags := uintptr(unix.CLONE_NEWNS | unix.CLONE_NEWPID | unix.CLONE_NEWIPC)
	allowNet := b.AllowNetwork && req.EnableNetwork
	if !allowNet {
		cloneFlags |= unix.CLONE_NEWNET
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: cloneFlags,
		Setpgid:    true,
	}

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

	if req.Limits.MemoryLimit > 0 || req.Limits.CPUTimeLimit > 0 || req.Limits.MaxFileSize > 0 || req.Limits.MaxProcessesAndOrThreads > 0 {
		applyRlimits(cmd.Process.Pid, req.Limits)
	}

	var (
		memExceeded  atomic.Bool
		cpuExceeded  atomic.Bool
		wallExceeded atomic.Bool
		maxRSS       atomic.Int64
		killOnce     sync.Once
	)
	kill := func() {
		killOnce.Do(func() {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		})
	}

	sampleCtx, stopSampling := context.WithCancel(context.Background())
	defer stopSampling()
	go b.sample(sampleCtx, cmd.Process.Pid, start, req.Limits, &memExceeded, &cpuExceeded, &wallExceeded, &maxRSS, kill)

	waitErr := cmd.Wait()
	stopSampling()
	wall := time.Since(start)

	if stdoutBuf.Overflowed() || stderrBuf.Overflowed() {
		kill()
	}

	outcome := types.RunOutcome{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		WallTime: wall,
		MaxRSS:   maxRSS.Load(),
	}
	if cmd.ProcessState != nil {
		outcome.CPUTime = cmd.ProcessState.SystemTime() + cmd.ProcessState.UserTime()
	}

	var signal *int
	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				s := int(status.Signal())
				signal = &s
			} else {
				exitCode = exitErr.ExitCode()
			}
		} else if runCtx.Err() == context.DeadlineExceeded {
			wallExceeded.Store(true)
		}
	}

	outcome.ExitCode = exitCode
	outcome.Signal = signal
	outcome.Termination = classify(memExceeded.Load(), cpuExceeded.Load(), wallExceeded.Load(),
		stdoutBuf.Overflowed() || stderrBuf.Overflowed(), signal)
	return outcome, nil
}

func spawnFailure(err error) (types.RunOutcome, error) {
	return types.RunOutcome{Termination: types.TerminationSpawnFailed, SpawnError: err.Error()}, nil
}

// applyRlimits installs post-spawn rlimits on the child via
// unix.Prlimit, the same mechanism used for every resource dimension the
// kernel can enforce directly rather than through polling.
func applyRlimits(pid int, limits types.ResourceLimits) {
	if limits.CPUTimeLimit > 0 {
		secs := uint64(limits.CPUTimeLimit.Seconds()) + uint64(limits.CPUExtraTime.Seconds()) + 1
		lim := unix.Rlimit{Cur: secs, Max: secs}
		_ = unix.Prlimit(pid, unix.RLIMIT_CPU, &lim, nil)
	}
	if limits.MemoryLimit > 0 {
		bytes := uint64(limits.MemoryLimit) * 1024
		lim := unix.Rlimit{Cur: bytes, Max: bytes}
		_ = unix.Prlimit(pid, unix.RLIMIT_AS, &lim, nil)
	}
	if limits.StackLimit > 0 {
		bytes := uint64(limits.StackLimit) * 1024
		lim := unix.Rlimit{Cur: bytes, Max: bytes}
		_ = unix.Prlimit(pid, unix.RLIMIT_STACK, &lim, nil)
	}
	if limits.MaxFileSize > 0 {
		bytes := uint64(limits.MaxFileSize) * 1024
		lim := unix.Rlimit{Cur: bytes, Max: bytes}
		_ = unix.Prlimit(pid, unix.RLIMIT_FSIZE, &lim, nil)
	}
	if limits.MaxProcessesAndOrThreads > 0 {
		n := uint64(limits.MaxProcessesAndOrThreads)
		lim := unix.Rlimit{Cur: n, Max: n}
		_ = unix.Prlimit(pid, unix.RLIMIT_NPROC, &lim, nil)
	}
}

// sample polls /proc/<pid>/status for RSS and /proc/<pid>/stat for CPU
// time at sampleInterval, and checks wall time against the limit, killing
// the process group as soon as any dimension is breached. This is the
// engine's own enforcement of CPU and memory limits, independent of
// whatever rlimits the kernel is also asked to apply, so a limit is still
// caught even on a kernel that delivers SIGXCPU/OOM late.
func (b *DirectBackend) sample(ctx context.Context, pid int, start time.Time, limits types.ResourceLimits,
	memExceeded, cpuExceeded, wallExceeded *atomic.Bool, maxRSS *atomic.Int64, kill func()) {

	ticker := time.NewTicker(b.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rss, _ := readRSSKiB(pid)
			if rss > maxRSS.Load() {
				maxRSS.Store(rss)
			}
			if limits.MemoryLimit > 0 && rss > limits.MemoryLimit {
				memExceeded.Store(true)
				kill()
				return
			}
			if limits.CPUTimeLimit > 0 {
				if cpu, err := readCPUTime(pid); err == nil && cpu > limits.CPUTimeLimit {
					cpuExceeded.Store(true)
					kill()
					return
				}
			}
			if limits.WallTimeLimit > 0 && time.Since(start) > limits.WallTimeLimit {
				wallExceeded.Store(true)
				kill()
				return
			}
		}
	}
}

// readRSSKiB reads VmRSS from /proc/<pid>/status.
func readRSSKiB(pid int) (int64, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "VmRSS:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				v, err := strconv.ParseInt(fields[1], 10, 64)
				if err != nil {
					return 0, err
				}
				return v, nil
			}
		}
	}
	return 0, nil
}

// clockTicksPerSec is USER_HZ, the unit /proc/<pid>/stat's utime/stime
// fields are expressed in on every Linux platform Go supports.
const clockTicksPerSec = 100

// readCPUTime reads utime+stime from /proc/<pid>/stat and returns the
// total CPU time consumed by the process so far. The comm field (2nd,
// parenthesized) may itself contain spaces or parentheses, so fields are
// located relative to the last ')' rather than by a fixed split index.
func readCPUTime(pid int) (time.Duration, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, err
	}
	line := string(data)
	close := strings.LastIndexByte(line, ')')
	if close < 0 {
		return 0, fmt.Errorf("sandbox: malformed /proc/%d/stat", pid)
	}
	fields := strings.Fields(line[close+1:])
	// fields[0] is state (field 3); utime is field 14, stime field 15,
	// i.e. fields[11] and fields[12] in this post-comm slice.
	if len(fields) < 13 {
		return 0, fmt.Errorf("sandbox: short /proc/%d/stat", pid)
	}
	utime, err := strconv.ParseInt(fields[11], 10, 64)
	if err != nil {
		return 0, err
	}
	stime, err := strconv.ParseInt(fields[12], 10, 64)
	if err != nil {
		return 0, err
	}
	ticks := utime + stime
	return time.Duration(ticks) * time.Second / clockTicksPerSec, nil
}
