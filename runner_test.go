package main

import (
	"bytes"
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunner_Run(t *testing.T) {
	r := &execRunner{commandContext: helperCommand}

	t.Run("captures stdout", func(t *testing.T) {
		out, err := r.Run(t.Context(), Command{Name: "rsync", Args: []string{"stdout", "a\nb\n"}})
		require.NoError(t, err)
		assert.Equal(t, "a\nb\n", out.Stdout)
		assert.Empty(t, out.Stderr)
		assert.Equal(t, 0, out.ExitCode)
	})

	t.Run("streams stdout without buffering", func(t *testing.T) {
		var stream bytes.Buffer
		out, err := r.Run(t.Context(), Command{Name: "rsync", Args: []string{"stdout", "a\nb\n"}, Stdout: &stream})
		require.NoError(t, err)
		assert.Equal(t, "a\nb\n", stream.String())
		assert.Empty(t, out.Stdout)
		assert.Equal(t, 0, out.ExitCode)
	})

	t.Run("captures stderr on success", func(t *testing.T) {
		out, err := r.Run(t.Context(), Command{Name: "rsync", Args: []string{"stderr", "warning"}})
		require.NoError(t, err)
		assert.Equal(t, "warning", out.Stderr)
	})

	t.Run("non-zero exit", func(t *testing.T) {
		out, err := r.Run(t.Context(), Command{Name: "ssh", Args: []string{"exit", "255"}})
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 255, exitErr.ExitCode)
		assert.Equal(t, "boom", exitErr.Stderr)
		assert.Contains(t, exitErr.Command, "ssh exit 255")
		assert.Equal(t, 255, out.ExitCode)
	})

	t.Run("command cannot start", func(t *testing.T) {
		r := &execRunner{commandContext: func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
			return exec.CommandContext(ctx, "/nonexistent/linktrack-test-binary")
		}}
		_, err := r.Run(t.Context(), Command{Name: "rsync"})
		require.Error(t, err)
		var exitErr *ExitError
		assert.NotErrorAs(t, err, &exitErr)
	})
}

func TestLineCounter(t *testing.T) {
	bar := newSyncProgressBar("test", true)
	w := lineCounter{bar: bar}

	n, err := w.Write([]byte("one\ntwo\nthr"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	_, _ = w.Write([]byte("ee\n"))
	assert.EqualValues(t, 3, bar.State().CurrentNum)
}
