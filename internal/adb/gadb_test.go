package adb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/httprunner/TVBoxAgent/internal/adbkey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGadbConnectStartsServerWithVendorKeys(t *testing.T) {
	before, hadBefore := os.LookupEnv(envVendorKeys)
	dir := t.TempDir()
	keys := &adbkey.KeyPair{PrivatePath: filepath.Join(dir, "adbkey")}

	var envs [][]string
	tr := NewGadbTransport("192.168.1.20", DefaultPort)
	tr.startServer = func(ctx context.Context, env []string) error {
		envs = append(envs, env)
		return errors.New("adb missing")
	}

	err := tr.Connect(context.Background(), keys, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vendor keys")
	require.Len(t, envs, 1)
	assert.Contains(t, envs[0], envVendorKeys+"="+dir)

	after, hadAfter := os.LookupEnv(envVendorKeys)
	assert.Equal(t, hadBefore, hadAfter, "process env is not modified")
	assert.Equal(t, before, after)
}

func TestGadbServerRestartedOncePerKeyDir(t *testing.T) {
	calls := 0
	tr := NewGadbTransport("192.168.1.20", DefaultPort)
	tr.startServer = func(ctx context.Context, env []string) error {
		calls++
		return nil
	}
	ctx := context.Background()
	keys := &adbkey.KeyPair{PrivatePath: filepath.Join(t.TempDir(), "adbkey")}

	require.NoError(t, tr.ensureServerKeys(ctx, nil))
	assert.Zero(t, calls, "keyless connect leaves the server alone")

	require.NoError(t, tr.ensureServerKeys(ctx, keys))
	require.NoError(t, tr.ensureServerKeys(ctx, keys))
	assert.Equal(t, 1, calls)

	other := &adbkey.KeyPair{PrivatePath: filepath.Join(t.TempDir(), "adbkey")}
	require.NoError(t, tr.ensureServerKeys(ctx, other))
	assert.Equal(t, 2, calls)
}

func TestGadbConnectRejectsEmptyHost(t *testing.T) {
	tr := NewGadbTransport("  ", DefaultPort)
	tr.startServer = func(context.Context, []string) error {
		t.Fatal("server must not be touched")
		return nil
	}
	assert.Error(t, tr.Connect(context.Background(), &adbkey.KeyPair{PrivatePath: "/k/adbkey"}, time.Second))
}
