//go:build !windows

package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessExecutor_Success(t *testing.T) {
	res, err := ProcessExecutor{}.Run(context.Background(), "/bin/sh", []string{"-c", "echo copied"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "copied\n", res.Stdout)
}

func TestProcessExecutor_NonZeroExitIsNotError(t *testing.T) {
	res, err := ProcessExecutor{}.Run(context.Background(), "/bin/sh", []string{"-c", "echo denied >&2; exit 3"})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "denied\n", res.Stderr)
}

func TestProcessExecutor_StartFailure(t *testing.T) {
	_, err := ProcessExecutor{}.Run(context.Background(), filepath.Join(t.TempDir(), "missing"), nil)
	assert.ErrorIs(t, err, ErrExecutorStart)
}

func TestProcessExecutor_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ProcessExecutor{}.Run(ctx, "/bin/sh", []string{"-c", "echo never"})
	assert.ErrorIs(t, err, ErrExecutorStart)
}

func TestProcessExecutor_KilledOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := ProcessExecutor{}.Run(ctx, "/bin/sh", []string{"-c", "sleep 30"})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Less(t, time.Since(start), 10*time.Second)
}
