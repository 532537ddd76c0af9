package adb

import (
	"context"
	"time"

	"github.com/httprunner/TVBoxAgent/internal/adbkey"
)

// Transport is the remote-shell primitive the manager drives. Implementations
// may block; the manager bounds every call with its own timeout.
type Transport interface {
	Connect(ctx context.Context, keys *adbkey.KeyPair, timeout time.Duration) error
	Shell(ctx context.Context, command string) (string, error)
	Pull(ctx context.Context, remotePath string) ([]byte, error)
	Close() error
}

// runBlocking runs fn in its own goroutine so a transport call that ignores
// ctx still returns control to the caller when ctx ends.
func runBlocking[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type outcome struct {
		val T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := fn()
		ch <- outcome{val: v, err: err}
	}()
	select {
	case out := <-ch:
		return out.val, out.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
