package flatindex

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
)

const lockRetryInterval = 100 * time.Millisecond

// acquireWriteLock serializes builders of one index directory across
// processes. It gives up with ErrIndexBusy after timeout.
func acquireWriteLock(ctx context.Context, dir string, timeout time.Duration) (func(), error) {
	path := filepath.Join(dir, lockFile)
	l := flock.New(path)
	deadline := time.Now().Add(timeout)
	for {
		locked, err := l.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire index lock: %w", err)
		}
		if locked {
			return func() { _ = l.Unlock() }, nil
		}
		if time.Now().After(deadline) {
			return nil, domain.WrapError(domain.ErrIndexBusy, "acquire index lock", fmt.Errorf("lock held: %s", path))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}
