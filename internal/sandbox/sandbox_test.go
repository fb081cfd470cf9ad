package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sandboxrun/engine/internal/types"
)

func TestClassifyPrecedence(t *testing.T) {
	sig := 9
	assert.Equal(t, types.TerminationMemoryLimitExceeded, classify(true, true, true, true, &sig))
	assert.Equal(t, types.TerminationCPULimitExceeded, classify(false, true, true, true, &sig))
	assert.Equal(t, types.TerminationWallLimitExceeded, classify(false, false, true, true, &sig))
	assert.Equal(t, types.TerminationOutputLimitExceeded, classify(false, false, false, true, &sig))
	assert.Equal(t, types.TerminationSignalled, classify(false, false, false, false, &sig))
	assert.Equal(t, types.TerminationExited, classify(false, false, false, false, nil))
}

func TestExpandArgv(t *testing.T) {
	got := ExpandArgv([]string{"g++", "{file}", "-o", "{output}"}, "main.cpp", "a.out", "")
	assert.Equal(t, []string{"g++", "main.cpp", "-o", "a.out"}, got)

	got = ExpandArgv([]string{"java", "-cp", ".", "{classname}"}, "", "", "Solution")
	assert.Equal(t, []string{"java", "-cp", ".", "Solution"}, got)
}

func TestBudgetedWriterTruncates(t *testing.T) {
	w := newBudgetedWriter(5)
	n, err := w.Write([]byte("hello world"))
	assert.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "hello", w.String())
	assert.True(t, w.Overflowed())
}
