package tvboxagent

import (
	"context"

	"github.com/httprunner/TVBoxAgent/internal/eventlog"
	"github.com/httprunner/TVBoxAgent/internal/state"
)

// Listener receives a copy of the snapshot after every refresh and action.
type Listener interface {
	OnSnapshot(ctx context.Context, snap state.Snapshot) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, snap state.Snapshot) error

func (f ListenerFunc) OnSnapshot(ctx context.Context, snap state.Snapshot) error {
	return f(ctx, snap)
}

// EventRecorder stores operator-facing history.
type EventRecorder interface {
	Record(ctx context.Context, e eventlog.Event) error
}

type noopRecorder struct{}

func (noopRecorder) Record(ctx context.Context, e eventlog.Event) error { return nil }
