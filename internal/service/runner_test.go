package service_test

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tracksync/tracksync/internal/service"
)

func lookSh(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func TestRunner(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	runner := service.NewRunner()
	t.Run("not yet started", func(t *testing.T) {
		res := runner.LastResult()
		require.ErrorIs(t, res.Err, service.ErrNotStarted)
	})

	cmd := service.Command{
		Path: sh,
		Args: []string{"-c", `echo one; echo two 1>&2; printf 'three\rfour\n\n'; sleep 0.5; exit 3`},
	}

	var mx sync.Mutex
	var lines []string
	done, err := runner.Start(t.Context(), cmd, func(_ context.Context, line string) {
		mx.Lock()
		defer mx.Unlock()
		lines = append(lines, line)
	})
	require.NoError(t, err)

	t.Run("in progress", func(t *testing.T) {
		_, err := runner.Start(t.Context(), cmd, nil)
		require.ErrorIs(t, err, service.ErrRunInProgress)
		require.ErrorIs(t, runner.LastResult().Err, service.ErrRunInProgress)
	})

	res := <-done
	require.Equal(t, sh, res.Path)
	require.Equal(t, 3, res.ExitCode)
	require.False(t, res.TimedOut)
	var exitErr *exec.ExitError
	require.ErrorAs(t, res.Err, &exitErr)
	require.NotZero(t, res.Started)
	require.GreaterOrEqual(t, res.Stopped.Sub(res.Started), 500*time.Millisecond)

	mx.Lock()
	require.Equal(t, []string{"one", "two", "three", "four"}, lines)
	mx.Unlock()
	require.Equal(t, 3, runner.LastResult().ExitCode)

	t.Run("exec error", func(t *testing.T) {
		_, err := runner.Start(t.Context(), service.Command{Path: "does not exist"}, nil)
		var execErr *exec.Error
		require.ErrorAs(t, err, &execErr)
		require.Equal(t, "does not exist", execErr.Name)
	})
}

func TestRunner_Cancel(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	var testCases = []struct {
		scenario string
		script   string
	}{
		{"interrupt", `echo ready; exec sleep 10`},
		{"kill after grace", `trap '' INT; echo ready; exec sleep 10`},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			ready := make(chan struct{})
			runner := service.NewRunner()
			start := time.Now()
			done, err := runner.Start(ctx, service.Command{
				Path:      sh,
				Args:      []string{"-c", tt.script},
				KillGrace: 200 * time.Millisecond,
			}, func(_ context.Context, line string) {
				if line == "ready" {
					close(ready)
				}
			})
			require.NoError(t, err)
			<-ready
			cancel()

			res := <-done
			require.Error(t, res.Err)
			require.Equal(t, -1, res.ExitCode)
			require.Less(t, time.Since(start), 5*time.Second)
		})
	}
}

// The tool spawns helpers which inherit its output, cancelling must not
// wait for them to finish on their own.
func TestRunner_CancelChildren(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	var testCases = []struct {
		scenario string
		script   string
	}{
		{"interrupt", `echo ready; sleep 10; echo done`},
		{"kill after grace", `trap '' INT; echo ready; sleep 10; echo done`},
		{"background child", `sleep 10 & echo ready; wait`},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			ready := make(chan struct{})
			var lines []string
			runner := service.NewRunner()
			done, err := runner.Start(ctx, service.Command{
				Path:      sh,
				Args:      []string{"-c", tt.script},
				KillGrace: 300 * time.Millisecond,
			}, func(_ context.Context, line string) {
				lines = append(lines, line)
				if line == "ready" {
					close(ready)
				}
			})
			require.NoError(t, err)
			<-ready
			cancelled := time.Now()
			cancel()

			res := <-done
			require.Error(t, res.Err)
			require.Less(t, time.Since(cancelled), 3*time.Second)
			require.Equal(t, []string{"ready"}, lines)
		})
	}
}

func TestRunner_Timeout(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	runner := service.NewRunner()
	done, err := runner.Start(t.Context(), service.Command{
		Path:      sh,
		Args:      []string{"-c", "exec sleep 10"},
		Timeout:   100 * time.Millisecond,
		KillGrace: 100 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	res := <-done
	require.True(t, res.TimedOut)
	require.Error(t, res.Err)
}
