package adb

import (
	"bytes"
	"context"

	"github.com/httprunner/TVBoxAgent/internal/catalog"
	"github.com/rs/zerolog/log"
)

// ScreenshotBytes captures the screen to the fixed device path and pulls it.
// Concurrent calls are serialized. It returns nil when any step fails; the
// reason is logged.
func (m *Manager) ScreenshotBytes(ctx context.Context) []byte {
	m.screenshotMu.Lock()
	defer m.screenshotMu.Unlock()

	logger := log.With().Str("device", m.deviceID).Str("path", catalog.ScreenshotPath).Logger()

	if res := m.Shell(ctx, catalog.CmdScreenshotMkdir); !res.Success {
		logger.Warn().Str("error", string(res.Error)).Str("stderr", res.Stderr).Msg("screenshot: ensure directory failed")
		return nil
	}
	if res := m.Shell(ctx, catalog.CmdScreenshotCapture); !res.Success {
		logger.Warn().Str("error", string(res.Error)).Str("stderr", res.Stderr).Msg("screenshot: trigger capture failed")
		return nil
	}
	if err := m.sleep(ctx, m.cfg.ScreenshotSettle); err != nil {
		return nil
	}

	ready := false
	for attempt := 1; attempt <= m.cfg.ScreenshotRetries; attempt++ {
		res := m.Shell(ctx, catalog.CmdScreenshotStat)
		if size := catalog.ParseFileSize(res.Stdout); res.Success && size > 0 {
			ready = true
			break
		}
		logger.Debug().Int("attempt", attempt).Str("stat", res.Output()).Msg("screenshot: file not ready")
		if attempt < m.cfg.ScreenshotRetries {
			if err := m.sleep(ctx, m.cfg.ScreenshotRetryInterval); err != nil {
				return nil
			}
		}
	}
	if !ready {
		logger.Warn().Int("attempts", m.cfg.ScreenshotRetries).Msg("screenshot: file missing or empty, skip pull")
		return nil
	}

	if m.State() != StateConnected {
		logger.Warn().Msg("screenshot: session lost before pull")
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, m.cfg.CommandTimeout)
	defer cancel()
	data, err := runBlocking(pctx, func() ([]byte, error) {
		return m.transport.Pull(pctx, catalog.ScreenshotPath)
	})
	if err != nil {
		logger.Warn().Err(err).Msg("screenshot: pull failed")
		return nil
	}
	if !bytes.HasPrefix(data, pngMagic) {
		logger.Warn().Int("bytes", len(data)).Msg("screenshot: pulled file is not a PNG")
		return nil
	}
	logger.Debug().Int("bytes", len(data)).Msg("screenshot captured")
	return data
}
