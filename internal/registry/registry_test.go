package registry

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/engine/internal/types"
)

func TestLookupAliases(t *testing.T) {
	r := New()

	l, err := r.Lookup("py")
	require.NoError(t, err)
	assert.Equal(t, "python", l.Key)

	l, err = r.Lookup("c++")
	require.NoError(t, err)
	assert.Equal(t, "cpp", l.Key)

	_, err = r.Lookup("cobol")
	require.Error(t, err)
	var nse *NotSupportedError
	assert.ErrorAs(t, err, &nse)
}

func TestLookupVersionConstraint(t *testing.T) {
	r := New()

	l, err := r.LookupVersion("python", "^3.10")
	require.NoError(t, err)
	assert.Equal(t, "python", l.Key)

	_, err = r.LookupVersion("python", "^2.0")
	assert.Error(t, err)

	l, err = r.LookupVersion("go", "")
	require.NoError(t, err)
	assert.Equal(t, "go", l.Key)
}

func TestDefaultsCoversMandatoryCatalog(t *testing.T) {
	r := New()
	keys := make(map[string]bool)
	for _, l := range r.Defaults() {
		keys[l.Key] = true
	}
	for _, want := range []string{"python", "javascript", "c", "cpp", "go", "rust", "java"} {
		assert.True(t, keys[want], "missing mandatory language %s", want)
	}
}

func TestPrepareWorkspaceWritesSourceFile(t *testing.T) {
	r := New()
	root := t.TempDir()

	lang, err := r.Lookup("python")
	require.NoError(t, err)

	sub := &types.Submission{ID: "s1", SourceCode: "print('hi')\n"}
	ws, _, _, _, err := r.PrepareWorkspace(sub, lang, root)
	require.NoError(t, err)

	content, err := os.ReadFile(ws.Path + "/" + ws.PrimaryFileName)
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", string(content))
}

func TestPrepareWorkspaceDetectsJavaClassName(t *testing.T) {
	r := New()
	root := t.TempDir()

	lang, err := r.Lookup("java")
	require.NoError(t, err)

	sub := &types.Submission{ID: "s2", SourceCode: "public class Solution {\n  public static void main(String[] a){}\n}\n"}
	ws, _, _, className, err := r.PrepareWorkspace(sub, lang, root)
	require.NoError(t, err)

	assert.Equal(t, "Solution", className)
	assert.Equal(t, "Solution.java", ws.PrimaryFileName)
}

func TestPrepareWorkspaceSplitsArgs(t *testing.T) {
	r := New()
	root := t.TempDir()

	lang, err := r.Lookup("cpp")
	require.NoError(t, err)

	sub := &types.Submission{
		ID:                   "s3",
		SourceCode:           "int main(){return 0;}",
		CompilerOptions:      "-Wall -Wextra",
		CommandLineArguments: "foo \"bar baz\"",
	}
	_, compilerArgs, runArgs, _, err := r.PrepareWorkspace(sub, lang, root)
	require.NoError(t, err)

	assert.Equal(t, []string{"-Wall", "-Wextra"}, compilerArgs)
	assert.Equal(t, []string{"foo", "bar baz"}, runArgs)
}
