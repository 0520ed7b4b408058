package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/deerun/internal/app"
	"github.com/spf13/afero"
)

// LockOptions controls AcquireLock
type LockOptions struct {
	TTL      time.Duration // a lock older than this is taken over; 0 disables takeover
	Interval time.Duration // retry interval while the lock is held
	Now      func() time.Time
}

// AcquireLock creates lockPath exclusively, retrying until ctx is done.
// The returned release removes the lock file.
func AcquireLock(ctx context.Context, fs afero.Fs, lockPath string, opts LockOptions) (release func() error, err error) {
	if opts.Interval <= 0 {
		opts.Interval = 50 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := fs.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	for {
		ok, err := tryLock(fs, lockPath, opts.Now())
		if err != nil {
			return nil, err
		}
		if ok {
			return func() error { return fs.Remove(lockPath) }, nil
		}

		if opts.TTL > 0 && isStale(fs, lockPath, opts.TTL, opts.Now()) {
			app.GetLogger().Warn("taking over stale lock %s", lockPath)
			if err := fs.Remove(lockPath); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to remove stale lock %s: %w", lockPath, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("another process holds %s: %w", lockPath, ctx.Err())
		case <-time.After(opts.Interval):
		}
	}
}

func tryLock(fs afero.Fs, lockPath string, now time.Time) (bool, error) {
	f, err := fs.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create lock %s: %w", lockPath, err)
	}
	defer f.Close()
	if _, err := f.WriteString(fmt.Sprintf("%d %s\n", os.Getpid(), now.UTC().Format(time.RFC3339Nano))); err != nil {
		return false, fmt.Errorf("failed to write lock %s: %w", lockPath, err)
	}
	return true, nil
}

// isStale reads the acquisition time recorded in the lock
func isStale(fs afero.Fs, lockPath string, ttl time.Duration, now time.Time) bool {
	data, err := afero.ReadFile(fs, lockPath)
	if err != nil {
		return false
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return false
	}
	acquired, err := time.Parse(time.RFC3339Nano, fields[1])
	if err != nil {
		return false
	}
	return now.Sub(acquired) > ttl
}
