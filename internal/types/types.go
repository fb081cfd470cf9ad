// Package types holds the data model shared by every component of the
// execution engine: submissions, language descriptors, resource limits,
// and the sandbox runner's outcome shape.
package types

import "time"

// Status is the lifecycle state of a Submission.
type Status string

const (
	StatusQueued              Status = "queued"
	StatusRunning              Status = "running"
	StatusAccepted            Status = "accepted"
	StatusWrongAnswer         Status = "wrong_answer"
	StatusCompilationError    Status = "compilation_error"
	StatusRuntimeError        Status = "runtime_error"
	StatusTimeLimitExceeded   Status = "time_limit_exceeded"
	StatusMemoryLimitExceeded Status = "memory_limit_exceeded"
	StatusInternalError       Status = "internal_error"
	StatusCancelled           Status = "cancelled"
)

// IsTerminal reports whether no further transitions occur from this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusQueued, StatusRunning:
		return false
	default:
		return true
	}
}

// ResourceLimits are the optional per-submission overrides of the
// registry's per-language defaults. A zero value for any field means
// "use the registry default".
type ResourceLimits struct {
	CPUTimeLimit                       time.Duration `json:"cpu_time_limit,omitempty"`
	CPUExtraTime                       time.Duration `json:"cpu_extra_time,omitempty"`
	WallTimeLimit                      time.Duration `json:"wall_time_limit,omitempty"`
	MemoryLimit                        int64         `json:"memory_limit,omitempty"` // KiB
	StackLimit                         int64         `json:"stack_limit,omitempty"`  // KiB
	MaxProcessesAndOrThreads           int           `json:"max_processes_and_or_threads,omitempty"`
	MaxFileSize                        int64         `json:"max_file_size,omitempty"` // KiB
	EnablePerProcessAndThreadTimeLimit bool          `json:"enable_per_process_and_thread_time_limit,omitempty"`
	EnablePerProcessAndThreadMemLimit  bool          `json:"enable_per_process_and_thread_memory_limit,omitempty"`
}

// Merge returns a copy of r with zero fields filled from defaults.
// Submission-level values always win over the registry's.
func (r ResourceLimits) Merge(defaults ResourceLimits) ResourceLimits {
	out := r
	if out.CPUTimeLimit == 0 {
		out.CPUTimeLimit = defaults.CPUTimeLimit
	}
	if out.CPUExtraTime == 0 {
		out.CPUExtraTime = defaults.CPUExtraTime
	}
	if out.WallTimeLimit == 0 {
		out.WallTimeLimit = defaults.WallTimeLimit
	}
	if out.MemoryLimit == 0 {
		out.MemoryLimit = defaults.MemoryLimit
	}
	if out.StackLimit == 0 {
		out.StackLimit = defaults.StackLimit
	}
	if out.MaxProcessesAndOrThreads == 0 {
		out.MaxProcessesAndOrThreads = defaults.MaxProcessesAndOrThreads
	}
	if out.MaxFileSize == 0 {
		out.MaxFileSize = defaults.MaxFileSize
	}
	return out
}

// File is a single source or auxiliary file as submitted by a client.
type File struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"` // "utf8" (default), "base64", "hex"
}

// Submission is the unit of work the engine accepts, runs, and reports on.
type Submission struct {
	ID    string `json:"id" gorm:"primaryKey"`
	Token string `json:"token" gorm:"uniqueIndex"`

	LanguageKey          string  `json:"language_key"`
	LanguageVersion      string  `json:"language_version,omitempty"` // semver constraint, default "*"
	SourceCode           string  `json:"source_code"`
	Stdin                string  `json:"stdin,omitempty"`
	CompilerOptions      string  `json:"compiler_options,omitempty"`
	CommandLineArguments string  `json:"command_line_arguments,omitempty"`
	AdditionalFiles      string  `json:"additional_files,omitempty"` // base64 tar.gz
	ExpectedOutput       *string `json:"expected_output,omitempty"`

	Limits       ResourceLimits `json:"limits"`
	NumberOfRuns int            `json:"number_of_runs,omitempty"`

	RedirectStderrToStdout bool `json:"redirect_stderr_to_stdout,omitempty"`
	EnableNetwork           bool `json:"enable_network,omitempty"`

	CallbackURL string `json:"callback_url,omitempty"`
	Priority    int    `json:"priority,omitempty"`

	Status        Status  `json:"status"`
	Stdout        string  `json:"stdout,omitempty"`
	Stderr        string  `json:"stderr,omitempty"`
	CompileOutput string  `json:"compile_output,omitempty"`
	ExitCode      *int    `json:"exit_code,omitempty"`
	ExitSignal    *int    `json:"exit_signal,omitempty"`
	Time          float64 `json:"time,omitempty"`      // CPU seconds
	WallTime      float64 `json:"wall_time,omitempty"` // seconds
	Memory        int64   `json:"memory,omitempty"`    // KiB
	Message       string  `json:"message,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Cancellable reports whether the submission may still be cancelled.
func (s *Submission) Cancellable() bool {
	return s.Status == StatusQueued || s.Status == StatusRunning
}

// Language is the static, process-wide descriptor of one runnable language.
type Language struct {
	Key        string
	Aliases    []string
	Version    string // semver the compiled-in toolchain reports, e.g. "3.11.4"
	SourceFile string // e.g. "main.cpp"; empty means "derive from submission"

	CompileStep []string // argv template, e.g. {"g++","-std=c++17","-O2","{file}","-o","{output}"}
	RunStep     []string // argv template, e.g. {"./{output}"}

	DefaultLimits           ResourceLimits
	RequiresNetworkForBuild bool
	ArtifactNames           []string // outputs to carry over from compile to run
}

// Compiled reports whether the language has a compile step.
func (l Language) Compiled() bool {
	return len(l.CompileStep) > 0
}

// Workspace is the ephemeral per-submission directory the Sandbox Runner
// executes argv templates inside of.
type Workspace struct {
	Path            string
	PrimaryFileName string
	ExtraNames      []string
}

// Termination classifies how a sandboxed run stopped.
type Termination int

const (
	TerminationExited Termination = iota
	TerminationSignalled
	TerminationCPULimitExceeded
	TerminationWallLimitExceeded
	TerminationMemoryLimitExceeded
	TerminationOutputLimitExceeded
	TerminationKilled
	TerminationSpawnFailed
)

func (t Termination) String() string {
	switch t {
	case TerminationExited:
		return "exited"
	case TerminationSignalled:
		return "signalled"
	case TerminationCPULimitExceeded:
		return "cpu_limit_exceeded"
	case TerminationWallLimitExceeded:
		return "wall_limit_exceeded"
	case TerminationMemoryLimitExceeded:
		return "memory_limit_exceeded"
	case TerminationOutputLimitExceeded:
		return "output_limit_exceeded"
	case TerminationKilled:
		return "killed"
	case TerminationSpawnFailed:
		return "spawn_failed"
	default:
		return "unknown"
	}
}

// RunOutcome is the Sandbox Runner's structured result for one argv
// invocation in one workspace under one set of limits.
type RunOutcome struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Signal   *int

	CPUTime  time.Duration
	WallTime time.Duration
	MaxRSS   int64 // KiB

	Termination Termination
	SpawnError  string // populated iff Termination == TerminationSpawnFailed
}

// StreamEvent is a streaming execution event emitted by an Executor while
// a submission runs, sent on the events channel passed to Execute when
// that channel is non-nil.
type StreamEvent struct {
	SubmissionID string
	Type         string // "status", "stage_start", "stage_end", "data", "error"
	Stage        string // "compile" | "run"
	Stream       string // "stdout" | "stderr"
	Data         string
	Status       Status
	Err          error
}
