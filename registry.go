package tvboxagent

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Registry 维护注册的电视盒子及其轮询协调器。
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry

	// group 与 groupCtx 仅在 Run 运行期间非空。
	group    *errgroup.Group
	groupCtx context.Context
}

type registryEntry struct {
	coord  *Coordinator
	cancel context.CancelFunc
}

// NewRegistry 创建空的注册表。
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// Add 注册设备；同一 id 重复注册返回错误。Run 运行期间注册的设备会立即开始轮询。
func (r *Registry) Add(id string, coord *Coordinator) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("registry: id is empty")
	}
	if coord == nil {
		return errors.New("registry: coordinator is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return errors.Errorf("registry: %s already registered", id)
	}
	entry := &registryEntry{coord: coord}
	r.entries[id] = entry
	log.Info().Str("id", id).Str("device", coord.DeviceID()).Msg("device registered")
	if r.group != nil {
		r.startLocked(id, entry)
	}
	return nil
}

// startLocked must be called with r.mu held while Run is active.
func (r *Registry) startLocked(id string, entry *registryEntry) {
	devCtx, cancel := context.WithCancel(r.groupCtx)
	entry.cancel = cancel
	GroupGoSafe(devCtx, r.group, "coordinator "+id, entry.coord.Start)
}

// Remove 注销设备，并停止其正在运行的轮询。
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	entry, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	if entry.cancel != nil {
		entry.cancel()
	}
	log.Info().Str("id", id).Msg("device unregistered")
	return true
}

// Get 返回 id 对应的协调器。
func (r *Registry) Get(id string) (*Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return entry.coord, true
}

// IDs 返回排序后的注册 id。
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Run 为每个已注册设备启动轮询，并持续接纳之后 Add 的设备，直到 ctx 结束。
// 同一时刻只能有一个 Run。
func (r *Registry) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	r.mu.Lock()
	if r.group != nil {
		r.mu.Unlock()
		return errors.New("registry: already running")
	}
	r.group, r.groupCtx = group, groupCtx
	for id, entry := range r.entries {
		r.startLocked(id, entry)
	}
	// keeps the group open for late additions until ctx ends
	group.Go(func() error {
		<-groupCtx.Done()
		r.mu.Lock()
		r.group, r.groupCtx = nil, nil
		r.mu.Unlock()
		return nil
	})
	r.mu.Unlock()
	return group.Wait()
}
