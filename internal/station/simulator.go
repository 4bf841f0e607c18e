package station

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/CaiserSz/simisimiocpp-sub002/internal/breaker"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/config"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/events"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/metrics"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/ocpp"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/ocpp/v16"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/ocpp/v201"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/simerr"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/transport"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/vehicle"
)

// Deps 站点模拟器依赖注入。零值字段使用缺省行为。
type Deps struct {
	Logger  *zap.Logger
	Bus     *events.Bus
	Metrics *metrics.AppMetrics
	Policy  HealthPolicy
	CSMS    config.CSMSConfig
	Breaker config.BreakerConfig
	// HeartbeatInterval 心跳缺省间隔（启动握手未下发间隔时使用）
	HeartbeatInterval time.Duration
	// VehicleTick 车辆充电推进周期
	VehicleTick     time.Duration
	HistoryCapacity int
	// NewTransport 传输工厂，测试注入进程内管道
	NewTransport func(subProtocol string) transport.Transport
}

// Snapshot 站点对外只读视图
type Snapshot struct {
	Config       Config              `json:"config"`
	Running      bool                `json:"running"`
	State        string              `json:"state"`
	Connectors   []ConnectorSnapshot `json:"connectors"`
	LastBoot     *ocpp.BootResult    `json:"lastBoot,omitempty"`
	StartedAt    *time.Time          `json:"startedAt,omitempty"`
	ActiveTx     int                 `json:"activeTransactions"`
	HistoryCount int                 `json:"historyCount"`
}

// Simulator 单站模拟器。全部公开方法并发安全；
// 同一站点上的操作由内部互斥串行化，不同站点互不影响。
type Simulator struct {
	log    *zap.Logger
	bus    *events.Bus
	met    *metrics.AppMetrics
	policy HealthPolicy
	deps   Deps

	mu            sync.Mutex
	cfg           Config
	client        ocpp.Client
	br            *breaker.Breaker
	connectors    map[int]*Connector
	configKV      map[string]string
	history       *History
	running       bool
	bootInterval  time.Duration
	heartbeatStop chan struct{}
	startedAt     time.Time
}

// New 创建站点模拟器。不自动启动。
func New(cfg Config, deps Deps) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus()
	}
	if deps.Policy == (HealthPolicy{}) {
		deps.Policy = DefaultHealthPolicy()
	}
	if deps.VehicleTick <= 0 {
		deps.VehicleTick = 5 * time.Second
	}

	s := &Simulator{
		log:        deps.Logger.With(zap.String("stationId", cfg.StationID)),
		bus:        deps.Bus,
		met:        deps.Metrics,
		policy:     deps.Policy,
		deps:       deps,
		cfg:        cfg,
		connectors: newConnectors(cfg.ConnectorCount),
		history:    NewHistory(deps.HistoryCapacity),
	}
	s.br = s.buildBreaker()
	s.configKV = s.seedConfigKV()
	s.client = s.buildClient(cfg.ProtocolVersion)
	return s, nil
}

func (s *Simulator) buildBreaker() *breaker.Breaker {
	bc := s.deps.Breaker
	opts := []breaker.Option{breaker.WithObserver(func(tr breaker.Transition) {
		s.log.Info("breaker transition",
			zap.String("from", string(tr.From)), zap.String("to", string(tr.To)))
		if s.met != nil {
			s.met.BreakerTransitions.WithLabelValues(tr.Name, string(tr.To)).Inc()
		}
	})}
	if bc.FailureThreshold > 0 && bc.SuccessThreshold > 0 {
		opts = append(opts, breaker.WithThresholds(bc.FailureThreshold, bc.SuccessThreshold))
	}
	if bc.ResetTimeout > 0 {
		opts = append(opts, breaker.WithResetTimeout(bc.ResetTimeout))
	}
	if bc.CallTimeout > 0 {
		opts = append(opts, breaker.WithCallTimeout(bc.CallTimeout))
	}
	return breaker.New("transport:"+s.cfg.StationID, opts...)
}

func (s *Simulator) seedConfigKV() map[string]string {
	hb := s.cfg.HeartbeatIntervalSeconds
	if hb == 0 {
		hb = int(s.heartbeatDefault() / time.Second)
	}
	return map[string]string{
		"HeartbeatInterval":        strconv.Itoa(hb),
		"NumberOfConnectors":       strconv.Itoa(s.cfg.ConnectorCount),
		"MeterValueSampleInterval": strconv.Itoa(int(s.deps.VehicleTick / time.Second)),
	}
}

// buildClient 按协议版本构造客户端；站点自身承担 Listener 与 Controller
func (s *Simulator) buildClient(version ocpp.Version) ocpp.Client {
	endpoint := s.cfg.CSMSEndpoint
	if endpoint == "" {
		endpoint = s.deps.CSMS.Endpoint
	}
	cfg := ocpp.Config{
		StationID:        s.cfg.StationID,
		Vendor:           s.cfg.Vendor,
		Model:            s.cfg.Model,
		FirmwareVersion:  s.cfg.FirmwareVersion,
		Endpoint:         endpoint,
		CallTimeout:      s.deps.CSMS.CallTimeout,
		ReconnectInitial: s.deps.CSMS.ReconnectInitial,
		ReconnectMax:     s.deps.CSMS.ReconnectMax,
		ReconnectJitter:  s.deps.CSMS.ReconnectJitter,
		OutboundRate:     s.deps.CSMS.OutboundRate,
		OutboundBurst:    s.deps.CSMS.OutboundBurst,
	}
	deps := ocpp.Deps{
		Breaker:       s.br,
		Listener:      s,
		Logger:        s.log,
		FrameObserver: s.observeFrame(version),
		NewTransport:  s.deps.NewTransport,
	}
	if version == ocpp.V201 {
		return v201.New(cfg, deps, s)
	}
	return v16.New(cfg, deps, s)
}

func (s *Simulator) observeFrame(version ocpp.Version) ocpp.FrameObserver {
	return func(direction, kind string) {
		if s.met == nil {
			return
		}
		switch direction {
		case "sent":
			s.met.FramesSent.WithLabelValues(string(version), kind).Inc()
		case "received":
			s.met.FramesReceived.WithLabelValues(string(version), kind).Inc()
		}
	}
}

// ID 站点标识
func (s *Simulator) ID() string { return s.cfg.StationID }

// Config 当前配置副本
func (s *Simulator) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// IsOnline 站点是否处于运行态（与底层连接状态独立，健康评分会比对两者）
func (s *Simulator) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start 启动站点：打开连接、执行启动握手、上报初始枪口状态、
// 开启心跳。幂等；连接失败不算启动失败，重连机制会继续尝试。
func (s *Simulator) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.startedAt = time.Now()
	stop := make(chan struct{})
	s.heartbeatStop = stop
	client := s.client
	s.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		// 拨号失败走退避重连，站点保持运行态
		s.recordError(fmt.Errorf("connect: %w", err))
	}

	go s.heartbeatLoop(stop)

	if s.met != nil {
		s.met.StationsOnline.Inc()
	}
	s.publish(events.StationStarted, nil)
	s.UpdateHealthScore()
	return nil
}

// Stop 停止站点：取消心跳与车辆推进、作废进行中的交易、断开连接。幂等。
func (s *Simulator) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
	var cancelled []Transaction
	for _, c := range s.connectors {
		if c.stopTick != nil {
			c.stopTick()
			c.stopTick = nil
		}
		if c.charging() {
			now := time.Now()
			c.Tx.Status = TxCancelled
			c.Tx.StopTimestamp = &now
			cancelled = append(cancelled, *c.Tx)
			c.Tx = nil
		}
		c.Status = ocpp.ConnectorAvailable
	}
	client := s.client
	s.mu.Unlock()

	for _, tx := range cancelled {
		s.history.Append(HistorySession, tx)
	}
	err := client.Disconnect()

	if s.met != nil {
		s.met.StationsOnline.Dec()
	}
	s.publish(events.StationStopped, nil)
	s.UpdateHealthScore()
	return err
}

// SwitchProtocol 切换协议版本。仅离线状态允许；同版本为幂等空操作。
// 保留站点身份与非协议配置。
func (s *Simulator) SwitchProtocol(version string) error {
	v, err := ocpp.ParseVersion(version)
	if err != nil {
		return simerr.Validationf("unsupported protocol version %q", version)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return simerr.Conflictf("cannot switch protocol while station %s is online", s.cfg.StationID)
	}
	if st := s.client.State(); st != ocpp.StateDisconnected {
		return simerr.Conflictf("cannot switch protocol in state %s", st)
	}
	if v == s.cfg.ProtocolVersion {
		return nil
	}
	s.cfg.ProtocolVersion = v
	s.client = s.buildClient(v)
	s.log.Info("protocol switched", zap.String("version", string(v)))
	return nil
}

// UpdateConfiguration 合并非身份字段的部分更新
func (s *Simulator) UpdateConfiguration(u Update) error {
	if u.ConnectorCount != nil {
		return simerr.Validationf("connectorCount cannot be changed on an existing station")
	}
	s.mu.Lock()
	changed := s.cfg.merge(u)
	if changed && !s.running && s.client.State() == ocpp.StateDisconnected {
		// 离线时重建客户端让端点类变更立即生效
		s.client = s.buildClient(s.cfg.ProtocolVersion)
	}
	s.mu.Unlock()

	if changed {
		s.publish(events.StationUpdated, s.Snapshot().Config)
	}
	return nil
}

// ConnectVehicle 在枪口接入一台车辆
func (s *Simulator) ConnectVehicle(connectorID int, vcfg vehicle.Config) error {
	v, err := vehicle.New(vcfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connectors[connectorID]
	if !ok {
		return simerr.NotFoundf("connector %d not found on station %s", connectorID, s.cfg.StationID)
	}
	if c.Vehicle != nil {
		return simerr.Conflictf("connector %d already has a vehicle", connectorID)
	}
	c.Vehicle = v
	return nil
}

// DisconnectVehicle 拔枪。充电中的枪口必须先停止交易。
func (s *Simulator) DisconnectVehicle(connectorID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connectors[connectorID]
	if !ok {
		return simerr.NotFoundf("connector %d not found on station %s", connectorID, s.cfg.StationID)
	}
	if c.Vehicle == nil {
		return simerr.Conflictf("connector %d has no vehicle", connectorID)
	}
	if c.charging() {
		return simerr.Conflictf("connector %d is charging, stop charging first", connectorID)
	}
	c.Vehicle = nil
	return nil
}

// StartCharging 开始充电：要求枪口 Available 且已接车。
// 打开交易并按周期推进车辆 SoC 与电表上报。
func (s *Simulator) StartCharging(ctx context.Context, connectorID int, idTag string) error {
	s.mu.Lock()
	c, ok := s.connectors[connectorID]
	if !ok {
		s.mu.Unlock()
		return simerr.NotFoundf("connector %d not found on station %s", connectorID, s.cfg.StationID)
	}
	if !s.running {
		s.mu.Unlock()
		return simerr.Conflictf("station %s is not running", s.cfg.StationID)
	}
	if c.Status != ocpp.ConnectorAvailable {
		s.mu.Unlock()
		return simerr.Conflictf("connector %d is %s, need Available", connectorID, c.Status)
	}
	if c.Vehicle == nil {
		s.mu.Unlock()
		return simerr.Conflictf("connector %d has no vehicle connected", connectorID)
	}
	tx := &Transaction{
		TransactionID:  newTransactionID(),
		ConnectorID:    connectorID,
		IDTag:          idTag,
		MeterStartWh:   c.MeterWh,
		StartTimestamp: time.Now(),
		Status:         TxActive,
	}
	client := s.client
	s.mu.Unlock()

	res, err := client.SendStartTransaction(ctx, ocpp.StartTxRequest{
		ConnectorID:  connectorID,
		IDTag:        idTag,
		MeterStartWh: tx.MeterStartWh,
		LocalTxID:    tx.TransactionID,
		At:           tx.StartTimestamp,
	})
	if err != nil {
		s.noteCallError("startTransaction", err)
		return simerr.New(simerr.CodeInternal, "start transaction: %v", err)
	}
	if !res.Accepted {
		return simerr.Conflictf("authorization rejected for idTag %q", idTag)
	}
	tx.ProtocolTxID = res.ProtocolTxID

	s.mu.Lock()
	if c.Status != ocpp.ConnectorAvailable || c.Vehicle == nil || !s.running {
		s.mu.Unlock()
		return simerr.Conflictf("connector %d state changed during start", connectorID)
	}
	c.Tx = tx
	c.Status = ocpp.ConnectorOccupied
	stop := make(chan struct{})
	c.stopTick = func() { close(stop) }
	s.mu.Unlock()

	go s.tickLoop(connectorID, stop)
	s.sendStatus(connectorID, ocpp.ConnectorOccupied)

	if s.met != nil {
		s.met.SessionsStarted.Inc()
	}
	s.publish(events.ChargingStarted, map[string]any{
		"connectorId":   connectorID,
		"transactionId": tx.TransactionID,
		"idTag":         idTag,
	})
	return nil
}

// StopCharging 结束充电：关闭交易、停止推进、枪口回到 Available。
func (s *Simulator) StopCharging(ctx context.Context, connectorID int) error {
	return s.stopCharging(ctx, connectorID, "Local")
}

func (s *Simulator) stopCharging(ctx context.Context, connectorID int, reason string) error {
	s.mu.Lock()
	c, ok := s.connectors[connectorID]
	if !ok {
		s.mu.Unlock()
		return simerr.NotFoundf("connector %d not found on station %s", connectorID, s.cfg.StationID)
	}
	if !c.charging() {
		s.mu.Unlock()
		return simerr.Conflictf("connector %d has no active transaction", connectorID)
	}
	tx := c.Tx
	now := time.Now()
	meterStop := c.MeterWh
	tx.MeterStopWh = &meterStop
	tx.StopTimestamp = &now
	tx.Status = TxCompleted
	c.Tx = nil
	c.Status = ocpp.ConnectorAvailable
	if c.stopTick != nil {
		c.stopTick()
		c.stopTick = nil
	}
	client := s.client
	s.mu.Unlock()

	if err := client.SendStopTransaction(ctx, ocpp.StopTxRequest{
		ConnectorID:  connectorID,
		ProtocolTxID: tx.ProtocolTxID,
		LocalTxID:    tx.TransactionID,
		IDTag:        tx.IDTag,
		MeterStopWh:  meterStop,
		Reason:       reason,
		At:           now,
	}); err != nil {
		// 上报失败不回滚本地状态，只记录错误
		s.noteCallError("stopTransaction", err)
	}

	s.history.Append(HistorySession, *tx)
	s.sendStatus(connectorID, ocpp.ConnectorAvailable)

	if s.met != nil {
		s.met.SessionsStopped.Inc()
	}
	s.publish(events.ChargingStopped, map[string]any{
		"connectorId":   connectorID,
		"transactionId": tx.TransactionID,
		"energyWh":      tx.EnergyWh(),
		"durationMs":    tx.Duration().Milliseconds(),
	})
	return nil
}

// tickLoop 车辆充电推进循环，交易结束或站点停止时退出
func (s *Simulator) tickLoop(connectorID int, stop chan struct{}) {
	ticker := time.NewTicker(s.deps.VehicleTick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tickOnce(connectorID)
		}
	}
}

// tickOnce 推进一个充电周期并上报电表采样
func (s *Simulator) tickOnce(connectorID int) {
	s.mu.Lock()
	c, ok := s.connectors[connectorID]
	if !ok || !c.charging() || c.Vehicle == nil {
		s.mu.Unlock()
		return
	}
	res := c.Vehicle.Tick(s.deps.VehicleTick, s.cfg.MaxPowerW)
	c.MeterWh += res.DeltaWh
	temp := res.TemperatureC
	sample := ocpp.MeterSample{
		EnergyWh:     c.MeterWh,
		PowerW:       res.PowerW,
		SoC:          res.SoC,
		TemperatureC: &temp,
		At:           time.Now(),
	}
	protocolTxID := c.Tx.ProtocolTxID
	client := s.client
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.SendMeterValues(ctx, connectorID, protocolTxID, []ocpp.MeterSample{sample}); err != nil {
		s.noteCallError("meterValues", err)
		return
	}

	if s.met != nil {
		s.met.MeterSamplesTotal.Inc()
	}
	s.publish(events.MeterValues, map[string]any{
		"connectorId": connectorID,
		"sample":      sample,
	})
}

// heartbeatLoop 心跳循环；间隔每轮重读，启动握手下发的间隔即时生效
func (s *Simulator) heartbeatLoop(stop chan struct{}) {
	for {
		timer := time.NewTimer(s.heartbeatInterval())
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
			s.sendHeartbeat()
		}
	}
}

func (s *Simulator) heartbeatDefault() time.Duration {
	if s.deps.HeartbeatInterval > 0 {
		return s.deps.HeartbeatInterval
	}
	return 60 * time.Second
}

func (s *Simulator) heartbeatInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bootInterval > 0 {
		return s.bootInterval
	}
	if s.cfg.HeartbeatIntervalSeconds > 0 {
		return time.Duration(s.cfg.HeartbeatIntervalSeconds) * time.Second
	}
	return s.heartbeatDefault()
}

func (s *Simulator) sendHeartbeat() {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if !client.IsConnected() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := client.SendHeartbeat(ctx); err != nil {
		s.noteCallError("heartbeat", err)
		return
	}
	if s.met != nil {
		s.met.HeartbeatTotal.Inc()
	}
}

// sendStatus 上报枪口状态；失败只记录不回滚
func (s *Simulator) sendStatus(connectorID int, status ocpp.ConnectorStatus) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if !client.IsConnected() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.SendStatusNotification(ctx, connectorID, status, "NoError"); err != nil {
		s.noteCallError("statusNotification", err)
	}
}

// Health 按当前状态重算健康分，无副作用
func (s *Simulator) Health() Health {
	s.mu.Lock()
	online := s.running
	client := s.client
	s.mu.Unlock()

	since := time.Now().Add(-s.policy.ErrorWindow)
	return s.policy.evaluate(s.cfg.StationID, healthInput{
		online:             online,
		transportConnected: client.IsConnected(),
		errorCount:         s.history.CountSince(HistoryError, since),
	})
}

// UpdateHealthScore 重算健康分并发布事件；critical 额外发告警
func (s *Simulator) UpdateHealthScore() Health {
	h := s.Health()
	s.publish(events.HealthUpdate, h)
	if h.Status == HealthCritical {
		if s.met != nil {
			s.met.HealthAlerts.Inc()
		}
		s.publish(events.HealthAlert, h)
	}
	return h
}

// RecordError 追加一条错误历史
func (s *Simulator) RecordError(err error) {
	s.recordError(err)
}

// History 历史查询
func (s *Simulator) History(f HistoryFilter) []HistoryEntry {
	return s.history.Query(f)
}

// BreakerStats 熔断器统计
func (s *Simulator) BreakerStats() breaker.Stats {
	return s.br.Snapshot()
}

// Snapshot 当前状态快照
func (s *Simulator) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Config:       s.cfg,
		Running:      s.running,
		State:        s.client.State(),
		HistoryCount: s.history.Len(),
	}
	if s.running {
		t := s.startedAt
		snap.StartedAt = &t
	}
	if boot, ok := s.client.LastBoot(); ok {
		snap.LastBoot = &boot
	}
	ids := make([]int, 0, len(s.connectors))
	for id := range s.connectors {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		c := s.connectors[id]
		if c.charging() {
			snap.ActiveTx++
		}
		snap.Connectors = append(snap.Connectors, c.snapshot())
	}
	return snap
}

func (s *Simulator) recordError(err error) {
	s.log.Warn("station error", zap.Error(err))
	s.history.Append(HistoryError, map[string]string{"message": err.Error()})
	s.publish(events.StationError, map[string]string{"message": err.Error()})
	s.UpdateHealthScore()
}

// noteCallError 协议调用失败：计数超时并记入错误历史
func (s *Simulator) noteCallError(op string, err error) {
	if errors.Is(err, ocpp.ErrCallTimeout) && s.met != nil {
		s.met.CallTimeouts.Inc()
	}
	s.recordError(fmt.Errorf("%s: %w", op, err))
}

func (s *Simulator) publish(t events.Type, data any) {
	s.bus.Publish(events.Event{Type: t, StationID: s.cfg.StationID, Data: data})
}
