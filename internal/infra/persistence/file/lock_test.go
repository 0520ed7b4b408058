package file_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/YoshitsuguKoike/deerun/internal/infra/persistence/file"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLock_Exclusive(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx := context.Background()

	release, err := file.AcquireLock(ctx, fs, ".state/a.lock", file.LockOptions{})
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = file.AcquireLock(short, fs, ".state/a.lock", file.LockOptions{Interval: 5 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	require.NoError(t, release())

	release2, err := file.AcquireLock(ctx, fs, ".state/a.lock", file.LockOptions{})
	require.NoError(t, err)
	require.NoError(t, release2())
}

func TestAcquireLock_WaitsForRelease(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx := context.Background()

	release, err := file.AcquireLock(ctx, fs, "l.lock", file.LockOptions{})
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	release2, err := file.AcquireLock(waitCtx, fs, "l.lock", file.LockOptions{Interval: 5 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, release2())
}

func TestAcquireLock_StaleTakeover(t *testing.T) {
	fs := afero.NewMemMapFs()
	old := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339Nano)
	require.NoError(t, afero.WriteFile(fs, "s.lock", []byte(fmt.Sprintf("999 %s\n", old)), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	release, err := file.AcquireLock(ctx, fs, "s.lock", file.LockOptions{TTL: time.Minute})
	require.NoError(t, err)
	require.NoError(t, release())
}

func TestAcquireLock_FreshLockNotTakenOver(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	require.NoError(t, afero.WriteFile(fs, "f.lock", []byte(fmt.Sprintf("999 %s\n", now)), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := file.AcquireLock(ctx, fs, "f.lock", file.LockOptions{TTL: time.Hour, Interval: 5 * time.Millisecond})
	assert.Error(t, err)
}
