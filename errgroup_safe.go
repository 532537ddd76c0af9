package tvboxagent

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	safeInitialBackoff = 200 * time.Millisecond
	safeMaxBackoff     = 30 * time.Second
)

// GroupGoSafe runs fn in the group and restarts it after a panic, backing off up
// to 30s between attempts. A returned error ends the goroutine as in errgroup.
// Panics go to stderr since the logger may be the cause.
func GroupGoSafe(ctx context.Context, group *errgroup.Group, name string, fn func(context.Context) error) {
	if group == nil || fn == nil {
		return
	}
	group.Go(func() error {
		backoff := safeInitialBackoff
		for {
			if ctx.Err() != nil {
				return nil
			}
			err, recovered := callRecover(ctx, fn)
			if recovered == nil {
				return err
			}
			_, _ = fmt.Fprintf(os.Stderr, "WARN: %s panicked: %v\n%s\n", name, recovered, debug.Stack())

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
			backoff = min(backoff*2, safeMaxBackoff)
		}
	})
}

func callRecover(ctx context.Context, fn func(context.Context) error) (err error, recovered any) {
	defer func() {
		if r := recover(); r != nil {
			recovered = r
		}
	}()
	return fn(ctx), nil
}
