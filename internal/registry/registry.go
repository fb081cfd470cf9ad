// Package registry is the Language Registry: the static, process-wide
// catalog of runnable languages and the workspace preparation logic that
// turns a Submission into a directory the Sandbox Runner can execute.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/sandboxrun/engine/internal/types"
)

// NotSupportedError is returned by Lookup when no Language matches the
// requested key or alias.
type NotSupportedError struct {
	Key string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("registry: language %q is not supported", e.Key)
}

// WorkspacePreparationError wraps a failure to materialize a submission's
// workspace (writing the source file, expanding additional_files, ...).
type WorkspacePreparationError struct {
	Submission string
	Reason     string
	Err        error
}

func (e *WorkspacePreparationError) Error() string {
	return fmt.Sprintf("registry: preparing workspace for %s: %s: %v", e.Submission, e.Reason, e.Err)
}

func (e *WorkspacePreparationError) Unwrap() error { return e.Err }

// CompileProfile is the fixed, conservative resource profile applied to
// the compile stage. Its CPU, wall and memory values are overridable by
// config for operators who need looser compiler sandboxes; the Executor
// raises the memory ceiling to the submission's run-stage memory limit
// when that is higher.
var CompileProfile = types.ResourceLimits{
	CPUTimeLimit:             30 * time.Second,
	WallTimeLimit:            60 * time.Second,
	MemoryLimit:              512 * 1024, // 512 MiB in KiB
	MaxProcessesAndOrThreads: 64,
	MaxFileSize:              64 * 1024,
}

// Registry is the in-memory language catalog. It is safe for concurrent
// read access; it is built once at process start and never mutated.
type Registry struct {
	byKey map[string]types.Language
}

// New builds a Registry containing the mandatory catalog plus any extra
// languages supplied by the caller (e.g. loaded from config).
func New(extra ...types.Language) *Registry {
	r := &Registry{byKey: make(map[string]types.Language)}
	for _, l := range defaultCatalog() {
		r.add(l)
	}
	for _, l := range extra {
		r.add(l)
	}
	return r
}

func (r *Registry) add(l types.Language) {
	r.byKey[l.Key] = l
	for _, alias := range l.Aliases {
		r.byKey[alias] = l
	}
}

// Lookup resolves a language key or alias to its descriptor.
func (r *Registry) Lookup(key string) (types.Language, error) {
	l, ok := r.byKey[strings.ToLower(key)]
	if !ok {
		return types.Language{}, &NotSupportedError{Key: key}
	}
	return l, nil
}

// LookupVersion resolves a language key the same way Lookup does, then
// verifies the registry's compiled-in toolchain version satisfies the
// requested semver constraint (e.g. "^3.10" or "*"). An empty constraint
// is treated as "*".
func (r *Registry) LookupVersion(key, versionConstraint string) (types.Language, error) {
	l, err := r.Lookup(key)
	if err != nil {
		return types.Language{}, err
	}
	if strings.TrimSpace(versionConstraint) == "" {
		versionConstraint = "*"
	}
	c, err := semver.NewConstraint(versionConstraint)
	if err != nil {
		return types.Language{}, fmt.Errorf("registry: invalid version constraint %q: %w", versionConstraint, err)
	}
	v, err := semver.NewVersion(l.Version)
	if err != nil {
		return types.Language{}, fmt.Errorf("registry: language %q has an unparseable compiled-in version %q: %w", key, l.Version, err)
	}
	if !c.Check(v) {
		return types.Language{}, fmt.Errorf("registry: language %q toolchain %s does not satisfy constraint %q", key, l.Version, versionConstraint)
	}
	return l, nil
}

// Defaults returns every language in the catalog, one entry per key
// (aliases are not listed separately), sorted by key for stable output.
func (r *Registry) Defaults() []types.Language {
	seen := make(map[string]bool)
	out := make([]types.Language, 0, len(r.byKey))
	for _, l := range r.byKey {
		if seen[l.Key] {
			continue
		}
		seen[l.Key] = true
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// defaultCatalog is the mandatory set of languages an engine deployment
// must support out of the box.
func defaultCatalog() []types.Language {
	genericLimits := types.ResourceLimits{
		CPUTimeLimit:             10 * time.Second,
		CPUExtraTime:             1 * time.Second,
		WallTimeLimit:            20 * time.Second,
		MemoryLimit:              256 * 1024,
		StackLimit:               64 * 1024,
		MaxProcessesAndOrThreads: 32,
		MaxFileSize:              10 * 1024,
	}

	return []types.Language{
		{
			Key:          "python",
			Aliases:      []string{"python3", "py"},
			Version:      "3.11.4",
			SourceFile:   "main.py",
			RunStep:      []string{"python3", "{file}"},
			DefaultLimits: genericLimits,
		},
		{
			Key:        "javascript",
			Aliases:    []string{"node", "js"},
			Version:    "20.11.0",
			SourceFile: "main.js",
			RunStep:    []string{"node", "{file}"},
			DefaultLimits: genericLimits,
		},
		{
			Key:         "c",
			Version:     "13.2.0",
			SourceFile:  "main.c",
			CompileStep: []string{"gcc", "-O2", "-std=gnu11", "{file}", "-o", "{output}", "-lm"},
			RunStep:     []string{"./{output}"},
			ArtifactNames: []string{"{output}"},
			DefaultLimits: genericLimits,
		},
		{
			Key:         "cpp",
			Aliases:     []string{"c++"},
			Version:     "13.2.0",
			SourceFile:  "main.cpp",
			CompileStep: []string{"g++", "-O2", "-std=gnu++17", "{file}", "-o", "{output}"},
			RunStep:     []string{"./{output}"},
			ArtifactNames: []string{"{output}"},
			DefaultLimits: genericLimits,
		},
		{
			Key:         "go",
			Aliases:     []string{"golang"},
			Version:     "1.23.0",
			SourceFile:  "main.go",
			CompileStep: []string{"go", "build", "-o", "{output}", "{file}"},
			RunStep:     []string{"./{output}"},
			ArtifactNames: []string{"{output}"},
			DefaultLimits: types.ResourceLimits{
				CPUTimeLimit:             10 * time.Second,
				CPUExtraTime:             1 * time.Second,
				WallTimeLimit:            20 * time.Second,
				MemoryLimit:              512 * 1024,
				StackLimit:               64 * 1024,
				MaxProcessesAndOrThreads: 32,
				MaxFileSize:              10 * 1024,
			},
		},
		{
			Key:         "rust",
			Aliases:     []string{"rs"},
			Version:     "1.76.0",
			SourceFile:  "main.rs",
			CompileStep: []string{"rustc", "-O", "{file}", "-o", "{output}"},
			RunStep:     []string{"./{output}"},
			ArtifactNames: []string{"{output}"},
			DefaultLimits: types.ResourceLimits{
				CPUTimeLimit:             10 * time.Second,
				CPUExtraTime:             1 * time.Second,
				WallTimeLimit:            20 * time.Second,
				MemoryLimit:              512 * 1024,
				StackLimit:               64 * 1024,
				MaxProcessesAndOrThreads: 32,
				MaxFileSize:              10 * 1024,
			},
		},
		{
			Key:         "java",
			Version:     "21.0.1",
			SourceFile:  "", // derived from the public class name
			CompileStep: []string{"javac", "-d", ".", "{file}"},
			RunStep:     []string{"java", "-cp", ".", "{classname}"},
			DefaultLimits: types.ResourceLimits{
				CPUTimeLimit:             15 * time.Second,
				CPUExtraTime:             2 * time.Second,
				WallTimeLimit:            30 * time.Second,
				MemoryLimit:              512 * 1024,
				StackLimit:               64 * 1024,
				MaxProcessesAndOrThreads: 64,
				MaxFileSize:              10 * 1024,
			},
			RequiresNetworkForBuild: false,
		},
	}
}
