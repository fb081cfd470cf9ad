package registry

import (
	"archive/tar"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/shlex"
	"github.com/klauspost/compress/gzip"

	"github.com/sandboxrun/engine/internal/types"
)

var javaPublicClassRE = regexp.MustCompile(`(?m)^\s*public\s+(?:final\s+|abstract\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`)

// PrepareWorkspace materializes a submission's source file, any
// additional_files archive, and argv-split option lists under a directory
// named after sub.ID beneath root, so a restart can tell whether a
// submission's workspace is still on disk without consulting anything
// else. The caller owns cleanup of the returned Workspace.Path.
func (r *Registry) PrepareWorkspace(sub *types.Submission, lang types.Language, root string) (*types.Workspace, []string, []string, string, error) {
	dir := filepath.Join(root, sub.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, nil, "", &WorkspacePreparationError{Submission: sub.ID, Reason: "mkdir", Err: err}
	}

	fileName := lang.SourceFile
	className := ""
	if lang.Key == "java" {
		className = detectJavaClassName(sub.SourceCode)
		if className == "" {
			className = "Main"
		}
		fileName = className + ".java"
	}
	if fileName == "" {
		fileName = "main"
	}

	if err := os.WriteFile(filepath.Join(dir, fileName), []byte(sub.SourceCode), 0o644); err != nil {
		return nil, nil, nil, "", &WorkspacePreparationError{Submission: sub.ID, Reason: "write source", Err: err}
	}

	extra, err := expandAdditionalFiles(dir, sub.AdditionalFiles)
	if err != nil {
		return nil, nil, nil, "", &WorkspacePreparationError{Submission: sub.ID, Reason: "expand additional_files", Err: err}
	}

	compilerArgs, err := shlex.Split(sub.CompilerOptions)
	if err != nil {
		return nil, nil, nil, "", &WorkspacePreparationError{Submission: sub.ID, Reason: "parse compiler_options", Err: err}
	}
	runArgs, err := shlex.Split(sub.CommandLineArguments)
	if err != nil {
		return nil, nil, nil, "", &WorkspacePreparationError{Submission: sub.ID, Reason: "parse command_line_arguments", Err: err}
	}

	ws := &types.Workspace{
		Path:            dir,
		PrimaryFileName: fileName,
		ExtraNames:      extra,
	}
	return ws, compilerArgs, runArgs, className, nil
}

// detectJavaClassName finds the name of the first public class in Java
// source, matching javac's own requirement that it name the file.
func detectJavaClassName(source string) string {
	m := javaPublicClassRE.FindStringSubmatch(source)
	if len(m) != 2 {
		return ""
	}
	return m[1]
}

// expandAdditionalFiles decodes a base64 tar.gz archive of auxiliary
// files into dir, rejecting any entry that would escape it, and returns
// the extracted file names.
func expandAdditionalFiles(dir, encoded string) ([]string, error) {
	if strings.TrimSpace(encoded) == "" {
		return nil, nil
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		if h, hexErr := hex.DecodeString(encoded); hexErr == nil {
			raw = h
		} else {
			return nil, fmt.Errorf("additional_files is not valid base64 or hex: %w", err)
		}
	}

	gz, err := gzip.NewReader(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("additional_files is not a gzip archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		target := filepath.Join(dir, hdr.Name)
		rel, err := filepath.Rel(dir, target)
		if err != nil || strings.HasPrefix(rel, "..") {
			return nil, fmt.Errorf("additional_files entry %q escapes workspace", hdr.Name)
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, err
		}
		if _, err := io.CopyN(f, tr, hdr.Size); err != nil && err != io.EOF {
			f.Close()
			return nil, err
		}
		f.Close()
		names = append(names, hdr.Name)
	}
	return names, nil
}
