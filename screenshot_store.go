package tvboxagent

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const screenshotPrefix = "screenshot_"

// ScreenshotStore keeps the newest PNG captures of one device in a directory.
type ScreenshotStore struct {
	dir string
	mu  sync.Mutex
}

// NewScreenshotStore creates dir when it does not exist.
func NewScreenshotStore(dir string) (*ScreenshotStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("screenshot dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create screenshot dir")
	}
	return &ScreenshotStore{dir: dir}, nil
}

// Dir is the directory captures are written to.
func (s *ScreenshotStore) Dir() string {
	return s.dir
}

// Save writes data and removes the oldest files beyond keep.
func (s *ScreenshotStore) Save(data []byte, at time.Time, keep int) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty screenshot")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	name := fmt.Sprintf("%s%s.png", screenshotPrefix, at.UTC().Format("20060102T150405.000"))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "write screenshot %s", path)
	}
	if keep > 0 {
		s.prune(keep)
	}
	return path, nil
}

// List returns the stored captures, oldest first.
func (s *ScreenshotStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "read screenshot dir")
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), screenshotPrefix) || !strings.HasSuffix(e.Name(), ".png") {
			continue
		}
		files = append(files, filepath.Join(s.dir, e.Name()))
	}
	// timestamps in the names sort lexically
	slices.Sort(files)
	return files, nil
}

func (s *ScreenshotStore) prune(keep int) {
	files, err := s.List()
	if err != nil {
		log.Warn().Err(err).Str("dir", s.dir).Msg("list screenshots failed")
		return
	}
	for len(files) > keep {
		if err := os.Remove(files[0]); err != nil {
			log.Warn().Err(err).Str("file", files[0]).Msg("remove old screenshot failed")
		}
		files = files[1:]
	}
}
