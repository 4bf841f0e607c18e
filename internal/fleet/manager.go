// Package fleet 实现车队编排：站点注册表、分组/组网索引、
// 批量操作与健康汇总。注册表读多写少，站内操作由站点自身串行化。
package fleet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/CaiserSz/simisimiocpp-sub002/internal/events"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/metrics"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/simerr"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/station"
)

// Deps 车队管理器依赖
type Deps struct {
	Logger  *zap.Logger
	Bus     *events.Bus
	Metrics *metrics.AppMetrics
	// Station 新建站点的依赖模板
	Station station.Deps
	// BatchOpTimeout 批量操作中单站超时；超时按失败记录，批次继续
	BatchOpTimeout time.Duration
}

// BatchFailure 批量操作中单站失败记录
type BatchFailure struct {
	StationID string `json:"stationId"`
	Error     string `json:"error"`
}

// BatchResult 批量操作结果；单站失败不影响同批其他站点
type BatchResult struct {
	Success []string       `json:"success"`
	Failed  []BatchFailure `json:"failed"`
}

// HealthSummary 全车队健康汇总
type HealthSummary struct {
	Total    int              `json:"total"`
	Healthy  int              `json:"healthy"`
	Warning  int              `json:"warning"`
	Critical int              `json:"critical"`
	Stations []station.Health `json:"stations"`
}

// Statistics 车队运行统计
type Statistics struct {
	Total              int `json:"total"`
	Running            int `json:"running"`
	Connectors         int `json:"connectors"`
	ActiveTransactions int `json:"activeTransactions"`
	Groups             int `json:"groups"`
	Networks           int `json:"networks"`
}

// Manager 车队管理器。独占持有 stationId → 模拟器注册表
// 与分组/组网弱引用索引；移除站点时同步清理索引。
type Manager struct {
	log          *zap.Logger
	bus          *events.Bus
	met          *metrics.AppMetrics
	stationDeps  station.Deps
	batchTimeout time.Duration

	mu       sync.RWMutex
	stations map[string]*station.Simulator
	groups   map[string]map[string]struct{}
	networks map[string]map[string]struct{}
}

// New 创建车队管理器
func New(deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus()
	}
	if deps.BatchOpTimeout <= 0 {
		deps.BatchOpTimeout = 10 * time.Second
	}
	sd := deps.Station
	if sd.Logger == nil {
		sd.Logger = deps.Logger
	}
	if sd.Bus == nil {
		sd.Bus = deps.Bus
	}
	if sd.Metrics == nil {
		sd.Metrics = deps.Metrics
	}
	return &Manager{
		log:          deps.Logger,
		bus:          deps.Bus,
		met:          deps.Metrics,
		stationDeps:  sd,
		batchTimeout: deps.BatchOpTimeout,
		stations:     make(map[string]*station.Simulator),
		groups:       make(map[string]map[string]struct{}),
		networks:     make(map[string]map[string]struct{}),
	}
}

// CreateStation 创建并注册站点。stationId 缺省时自动生成；不自动启动。
func (m *Manager) CreateStation(cfg station.Config) (*station.Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.stations[cfg.StationID]; exists {
		m.mu.Unlock()
		return nil, simerr.Conflictf("station %s already exists", cfg.StationID)
	}
	// 占位防并发重复创建
	m.stations[cfg.StationID] = nil
	m.mu.Unlock()

	sim, err := station.New(cfg, m.stationDeps)
	if err != nil {
		m.mu.Lock()
		delete(m.stations, cfg.StationID)
		m.mu.Unlock()
		return nil, err
	}

	m.mu.Lock()
	m.stations[cfg.StationID] = sim
	m.indexLocked(cfg.StationID, cfg.GroupID, cfg.NetworkID)
	m.mu.Unlock()

	if m.met != nil {
		m.met.StationsTotal.Inc()
	}
	m.bus.Publish(events.Event{Type: events.StationCreated, StationID: cfg.StationID, Data: sim.Snapshot().Config})
	m.log.Info("station created",
		zap.String("stationId", cfg.StationID),
		zap.String("version", string(cfg.ProtocolVersion)))
	return sim, nil
}

// Get 按标识查找站点
func (m *Manager) Get(id string) (*station.Simulator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sim, ok := m.stations[id]
	if !ok || sim == nil {
		return nil, simerr.NotFoundf("station %s not found", id)
	}
	return sim, nil
}

// List 全部站点，按标识排序
func (m *Manager) List() []*station.Simulator {
	m.mu.RLock()
	ids := make([]string, 0, len(m.stations))
	for id, sim := range m.stations {
		if sim != nil {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	out := make([]*station.Simulator, 0, len(ids))
	for _, id := range ids {
		if sim, err := m.Get(id); err == nil {
			out = append(out, sim)
		}
	}
	return out
}

// RemoveStation 停止（尽力而为）并注销站点
func (m *Manager) RemoveStation(id string) error {
	sim, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := sim.Stop(); err != nil {
		m.log.Warn("stop before remove failed", zap.String("stationId", id), zap.Error(err))
	}

	m.mu.Lock()
	delete(m.stations, id)
	m.unindexLocked(id)
	m.mu.Unlock()

	if m.met != nil {
		m.met.StationsTotal.Dec()
	}
	return nil
}

// RemoveAllStations 停止并注销全部站点
func (m *Manager) RemoveAllStations() {
	for _, sim := range m.List() {
		if err := m.RemoveStation(sim.ID()); err != nil {
			m.log.Warn("remove station failed", zap.String("stationId", sim.ID()), zap.Error(err))
		}
	}
}

// CloneStation 克隆站点配置（不复制运行时状态，克隆体保持离线）。
// newID 缺省时生成包含源标识的派生标识。
func (m *Manager) CloneStation(sourceID, newID string, overrides *station.Update) (*station.Simulator, error) {
	src, err := m.Get(sourceID)
	if err != nil {
		return nil, err
	}

	cfg := src.Config()
	if newID == "" {
		newID = m.deriveCloneID(sourceID)
	}
	cfg.StationID = newID
	if overrides != nil {
		applyUpdate(&cfg, *overrides)
	}
	return m.CreateStation(cfg)
}

func (m *Manager) deriveCloneID(sourceID string) string {
	for {
		buf := make([]byte, 2)
		_, _ = rand.Read(buf)
		id := fmt.Sprintf("%s-clone-%s", sourceID, hex.EncodeToString(buf))
		m.mu.RLock()
		_, exists := m.stations[id]
		m.mu.RUnlock()
		if !exists {
			return id
		}
	}
}

// UpdateStation 单站配置更新；成功后刷新分组/组网索引
func (m *Manager) UpdateStation(id string, u station.Update) error {
	sim, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := sim.UpdateConfiguration(u); err != nil {
		return err
	}
	m.reindex(id)
	return nil
}

// BatchStartStations 批量启动；逐站独立，失败互不影响
func (m *Manager) BatchStartStations(ctx context.Context, ids []string) BatchResult {
	return m.batch(ctx, ids, func(ctx context.Context, sim *station.Simulator) error {
		return sim.Start(ctx)
	})
}

// BatchStopStations 批量停止
func (m *Manager) BatchStopStations(ctx context.Context, ids []string) BatchResult {
	return m.batch(ctx, ids, func(ctx context.Context, sim *station.Simulator) error {
		return sim.Stop()
	})
}

// BatchUpdateStations 批量配置更新；成功后刷新分组/组网索引
func (m *Manager) BatchUpdateStations(ctx context.Context, ids []string, u station.Update) BatchResult {
	res := m.batch(ctx, ids, func(ctx context.Context, sim *station.Simulator) error {
		return sim.UpdateConfiguration(u)
	})
	for _, id := range res.Success {
		m.reindex(id)
	}
	return res
}

// batch 批量操作骨架：逐站并发执行并收集结果。
// 单站超时按失败记录，不阻塞其余站点。
func (m *Manager) batch(ctx context.Context, ids []string, op func(context.Context, *station.Simulator) error) BatchResult {
	res := BatchResult{Success: []string{}, Failed: []BatchFailure{}}
	if len(ids) == 0 {
		return res
	}

	type outcome struct {
		id  string
		err error
	}
	results := make(chan outcome, len(ids))
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			sim, err := m.Get(id)
			if err != nil {
				results <- outcome{id: id, err: err}
				return
			}

			opCtx, cancel := context.WithTimeout(ctx, m.batchTimeout)
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- op(opCtx, sim) }()
			select {
			case err := <-done:
				results <- outcome{id: id, err: err}
			case <-opCtx.Done():
				results <- outcome{id: id, err: fmt.Errorf("operation timed out after %s", m.batchTimeout)}
			}
		}(id)
	}
	wg.Wait()
	close(results)

	for out := range results {
		if out.err != nil {
			res.Failed = append(res.Failed, BatchFailure{StationID: out.id, Error: out.err.Error()})
			continue
		}
		res.Success = append(res.Success, out.id)
	}
	sort.Strings(res.Success)
	sort.Slice(res.Failed, func(i, j int) bool { return res.Failed[i].StationID < res.Failed[j].StationID })
	return res
}

// GetHealthSummary 汇总全车队健康；空车队返回全零
func (m *Manager) GetHealthSummary() HealthSummary {
	sum := HealthSummary{Stations: []station.Health{}}
	for _, sim := range m.List() {
		h := sim.Health()
		sum.Total++
		switch h.Status {
		case station.HealthHealthy:
			sum.Healthy++
		case station.HealthWarning:
			sum.Warning++
		case station.HealthCritical:
			sum.Critical++
		}
		sum.Stations = append(sum.Stations, h)
	}
	return sum
}

// GetStationsByHealthStatus 按健康分级筛选站点
func (m *Manager) GetStationsByHealthStatus(status station.HealthStatus) []*station.Simulator {
	var out []*station.Simulator
	for _, sim := range m.List() {
		if sim.Health().Status == status {
			out = append(out, sim)
		}
	}
	return out
}

// GetStationsByGroup 分组内全部站点
func (m *Manager) GetStationsByGroup(groupID string) []*station.Simulator {
	return m.byIndex(m.groups, groupID)
}

// GetStationsByNetwork 组网内全部站点
func (m *Manager) GetStationsByNetwork(networkID string) []*station.Simulator {
	return m.byIndex(m.networks, networkID)
}

// GetGroups 全部分组标识
func (m *Manager) GetGroups() []string {
	return m.indexKeys(m.groups)
}

// GetNetworks 全部组网标识
func (m *Manager) GetNetworks() []string {
	return m.indexKeys(m.networks)
}

// Stats 车队运行统计
func (m *Manager) Stats() Statistics {
	st := Statistics{}
	for _, sim := range m.List() {
		snap := sim.Snapshot()
		st.Total++
		if snap.Running {
			st.Running++
		}
		st.Connectors += len(snap.Connectors)
		st.ActiveTransactions += snap.ActiveTx
	}
	m.mu.RLock()
	st.Groups = len(m.groups)
	st.Networks = len(m.networks)
	m.mu.RUnlock()
	return st
}

// Shutdown 停止全部站点（保留注册表，适合进程退出路径）
func (m *Manager) Shutdown() {
	for _, sim := range m.List() {
		if err := sim.Stop(); err != nil {
			m.log.Warn("shutdown stop failed", zap.String("stationId", sim.ID()), zap.Error(err))
		}
	}
}

func (m *Manager) byIndex(index map[string]map[string]struct{}, key string) []*station.Simulator {
	m.mu.RLock()
	ids := make([]string, 0)
	for id := range index[key] {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	out := make([]*station.Simulator, 0, len(ids))
	for _, id := range ids {
		if sim, err := m.Get(id); err == nil {
			out = append(out, sim)
		}
	}
	return out
}

func (m *Manager) indexKeys(index map[string]map[string]struct{}) []string {
	m.mu.RLock()
	keys := make([]string, 0, len(index))
	for k := range index {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func (m *Manager) indexLocked(id, groupID, networkID string) {
	if groupID != "" {
		if m.groups[groupID] == nil {
			m.groups[groupID] = make(map[string]struct{})
		}
		m.groups[groupID][id] = struct{}{}
	}
	if networkID != "" {
		if m.networks[networkID] == nil {
			m.networks[networkID] = make(map[string]struct{})
		}
		m.networks[networkID][id] = struct{}{}
	}
}

func (m *Manager) unindexLocked(id string) {
	for key, members := range m.groups {
		delete(members, id)
		if len(members) == 0 {
			delete(m.groups, key)
		}
	}
	for key, members := range m.networks {
		delete(members, id)
		if len(members) == 0 {
			delete(m.networks, key)
		}
	}
}

// reindex 配置更新后刷新某站点的索引归属
func (m *Manager) reindex(id string) {
	sim, err := m.Get(id)
	if err != nil {
		return
	}
	cfg := sim.Config()
	m.mu.Lock()
	m.unindexLocked(id)
	m.indexLocked(id, cfg.GroupID, cfg.NetworkID)
	m.mu.Unlock()
}

// applyUpdate 把部分更新落到配置副本上（克隆覆盖使用）
func applyUpdate(cfg *station.Config, u station.Update) {
	if u.Vendor != nil {
		cfg.Vendor = *u.Vendor
	}
	if u.Model != nil {
		cfg.Model = *u.Model
	}
	if u.FirmwareVersion != nil {
		cfg.FirmwareVersion = *u.FirmwareVersion
	}
	if u.ConnectorCount != nil {
		cfg.ConnectorCount = *u.ConnectorCount
	}
	if u.MaxPowerW != nil {
		cfg.MaxPowerW = *u.MaxPowerW
	}
	if u.CSMSEndpoint != nil {
		cfg.CSMSEndpoint = *u.CSMSEndpoint
	}
	if u.HeartbeatIntervalSeconds != nil {
		cfg.HeartbeatIntervalSeconds = *u.HeartbeatIntervalSeconds
	}
	if u.GroupID != nil {
		cfg.GroupID = *u.GroupID
	}
	if u.NetworkID != nil {
		cfg.NetworkID = *u.NetworkID
	}
}
