package adb

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/httprunner/TVBoxAgent/internal/adbkey"
	"github.com/httprunner/httprunner/v5/pkg/gadb"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// envVendorKeys is read by the adb server only when it starts, so setting it
// in this process does not reach a server that is already running.
const envVendorKeys = "ADB_VENDOR_KEYS"

// ServerStarter (re)starts the local adb server with env as its environment.
type ServerStarter func(ctx context.Context, env []string) error

// GadbTransport talks to a network device through the local adb server.
type GadbTransport struct {
	host string
	port int

	startServer ServerStarter

	mu         sync.Mutex
	client     *gadb.Client
	device     *gadb.Device
	serverKeys string
}

// NewGadbTransport targets host:port (adb over TCP).
func NewGadbTransport(host string, port int) *GadbTransport {
	return &GadbTransport{
		host:        strings.TrimSpace(host),
		port:        port,
		startServer: RestartADBServer,
	}
}

// RestartADBServer runs `adb kill-server` and `adb start-server`, giving the
// new server env. The kill fails harmlessly when no server is running.
func RestartADBServer(ctx context.Context, env []string) error {
	bin, err := exec.LookPath("adb")
	if err != nil {
		return errors.Wrap(err, "locate adb binary")
	}
	if out, err := exec.CommandContext(ctx, bin, "kill-server").CombinedOutput(); err != nil {
		log.Debug().Err(err).Str("output", strings.TrimSpace(string(out))).Msg("adb kill-server")
	}
	cmd := exec.CommandContext(ctx, bin, "start-server")
	cmd.Env = env
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "adb start-server: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// ensureServerKeys restarts the adb server once per key directory so it
// loads keys at startup. The process environment is left untouched.
func (t *GadbTransport) ensureServerKeys(ctx context.Context, keys *adbkey.KeyPair) error {
	if keys == nil || t.startServer == nil {
		return nil
	}
	dir := filepath.Dir(keys.PrivatePath)
	t.mu.Lock()
	done := t.serverKeys == dir
	t.mu.Unlock()
	if done {
		return nil
	}
	env := append(os.Environ(), envVendorKeys+"="+dir)
	if err := t.startServer(ctx, env); err != nil {
		return errors.Wrap(err, "start adb server with vendor keys")
	}
	t.mu.Lock()
	t.serverKeys = dir
	t.mu.Unlock()
	log.Info().Str("keys_dir", dir).Msg("adb server restarted with vendor keys")
	return nil
}

func (t *GadbTransport) serial() string {
	return fmt.Sprintf("%s:%d", t.host, t.port)
}

// Connect asks the adb server to connect to the device and resolves its handle.
func (t *GadbTransport) Connect(ctx context.Context, keys *adbkey.KeyPair, timeout time.Duration) error {
	if t.host == "" {
		return errors.New("gadb transport: empty host")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := t.ensureServerKeys(ctx, keys); err != nil {
		return err
	}
	dev, err := runBlocking(ctx, func() (*gadb.Device, error) {
		client, err := gadb.NewClient()
		if err != nil {
			return nil, errors.Wrap(err, "init adb client")
		}
		if err := client.Connect(t.host, t.port); err != nil {
			return nil, errors.Wrapf(err, "adb connect %s", t.serial())
		}
		devs, err := client.DeviceList()
		if err != nil {
			return nil, errors.Wrap(err, "list adb devices")
		}
		for _, d := range devs {
			if d == nil || strings.TrimSpace(d.Serial()) != t.serial() {
				continue
			}
			state, err := d.State()
			if err != nil {
				return nil, errors.Wrapf(err, "query state of %s", t.serial())
			}
			if state != gadb.StateOnline {
				return nil, errors.Errorf("device %s is %s", t.serial(), state)
			}
			t.mu.Lock()
			t.client = &client
			t.mu.Unlock()
			return d, nil
		}
		return nil, errors.Errorf("device %s not found after connect", t.serial())
	})
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.device = dev
	t.mu.Unlock()
	return nil
}

func (t *GadbTransport) currentDevice() (*gadb.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.device == nil {
		return nil, errors.New("gadb transport: not connected")
	}
	return t.device, nil
}

// Shell runs command through `adb shell`; pipes and && are interpreted on the device.
func (t *GadbTransport) Shell(ctx context.Context, command string) (string, error) {
	dev, err := t.currentDevice()
	if err != nil {
		return "", err
	}
	return runBlocking(ctx, func() (string, error) {
		return dev.RunShellCommand(command)
	})
}

// Pull copies remotePath from the device into memory.
func (t *GadbTransport) Pull(ctx context.Context, remotePath string) ([]byte, error) {
	dev, err := t.currentDevice()
	if err != nil {
		return nil, err
	}
	return runBlocking(ctx, func() ([]byte, error) {
		var buf bytes.Buffer
		if err := dev.Pull(remotePath, &buf); err != nil {
			return nil, errors.Wrapf(err, "pull %s", remotePath)
		}
		return buf.Bytes(), nil
	})
}

// Close disconnects the TCP device from the adb server. Safe to call repeatedly.
func (t *GadbTransport) Close() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.device = nil
	t.mu.Unlock()
	if client == nil {
		return nil
	}
	if err := client.Disconnect(t.host, t.port); err != nil {
		return errors.Wrapf(err, "adb disconnect %s", t.serial())
	}
	return nil
}
