package eventlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRecordAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.sqlite")
	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, Event{DeviceID: "10.0.0.2:5555", Kind: KindConnection, Name: "connect", Success: true, At: base}))
	require.NoError(t, store.Record(ctx, Event{DeviceID: "10.0.0.2:5555", Kind: KindRestart, Name: "auto", Success: true, Message: "not_running", At: base.Add(time.Minute)}))
	require.NoError(t, store.Record(ctx, Event{DeviceID: "other:5555", Kind: KindAction, Name: "power_on"}))

	events, err := store.Recent(ctx, "10.0.0.2:5555", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, KindRestart, events[0].Kind)
	assert.Equal(t, "not_running", events[0].Message)
	assert.True(t, events[0].Success)
	assert.Equal(t, base.Add(time.Minute), events[0].At)
	assert.NotEmpty(t, events[0].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestRecordAfterClose(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "events.sqlite"))
	require.NoError(t, err)
	require.NoError(t, store.Close())
	assert.Error(t, store.Record(context.Background(), Event{DeviceID: "d", Kind: KindAction}))
	assert.NoError(t, store.Close())
}
