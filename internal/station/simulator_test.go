package station

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/CaiserSz/simisimiocpp-sub002/internal/events"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/ocpp"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/simerr"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/transport"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/vehicle"
)

// scriptedCSMS 脚本化 CSMS：每次拨号发放一对新管道，
// 按动作表应答站点的 CALL，并记录收到的全部帧。
type scriptedCSMS struct {
	t *testing.T

	mu       sync.Mutex
	ends     []*transport.Pipe
	received []*ocpp.Frame
	nextTxID int
	// bootStatuses 依次消费的启动握手应答状态；用尽后回落 Accepted
	bootStatuses []string
}

func newScriptedCSMS(t *testing.T) *scriptedCSMS {
	return &scriptedCSMS{t: t, nextTxID: 100}
}

func (c *scriptedCSMS) newTransport(string) transport.Transport {
	station, csms := transport.NewPipe()
	_ = csms.Connect(context.Background())
	csms.SetCallbacks(transport.Callbacks{OnFrame: func(data []byte) {
		f, err := ocpp.ParseFrame(data)
		if err != nil {
			return
		}
		c.mu.Lock()
		c.received = append(c.received, f)
		c.mu.Unlock()
		if f.Type != ocpp.MessageCall {
			return
		}
		if reply := c.answer(f); reply != nil {
			_ = csms.Send(context.Background(), reply)
		}
	}})

	c.mu.Lock()
	c.ends = append(c.ends, csms)
	c.mu.Unlock()
	return station
}

func (c *scriptedCSMS) answer(f *ocpp.Frame) []byte {
	now := time.Now().UTC().Format(time.RFC3339)
	var payload any
	switch f.Action {
	case "BootNotification":
		status := "Accepted"
		interval := 300
		c.mu.Lock()
		if len(c.bootStatuses) > 0 {
			status = c.bootStatuses[0]
			c.bootStatuses = c.bootStatuses[1:]
			interval = 1
		}
		c.mu.Unlock()
		payload = map[string]any{"status": status, "currentTime": now, "interval": interval}
	case "Heartbeat":
		payload = map[string]any{"currentTime": now}
	case "StartTransaction":
		c.mu.Lock()
		c.nextTxID++
		txID := c.nextTxID
		c.mu.Unlock()
		payload = map[string]any{"transactionId": txID, "idTagInfo": map[string]string{"status": "Accepted"}}
	case "StopTransaction":
		payload = map[string]any{"idTagInfo": map[string]string{"status": "Accepted"}}
	default:
		payload = map[string]any{}
	}
	data, err := ocpp.BuildCallResult(f.ID, payload)
	if err != nil {
		c.t.Errorf("构造应答失败: %v", err)
		return nil
	}
	return data
}

// sendCall 以 CSMS 身份向站点下发命令
func (c *scriptedCSMS) sendCall(id, action string, payload any) {
	c.mu.Lock()
	end := c.ends[len(c.ends)-1]
	c.mu.Unlock()
	data, err := ocpp.BuildCall(id, action, payload)
	if err != nil {
		c.t.Fatalf("构造命令失败: %v", err)
	}
	_ = end.Send(context.Background(), data)
}

func (c *scriptedCSMS) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, f := range c.received {
		if f.Type == ocpp.MessageCall {
			out = append(out, f.Action)
		}
	}
	return out
}

func (c *scriptedCSMS) countAction(action string) int {
	n := 0
	for _, a := range c.actions() {
		if a == action {
			n++
		}
	}
	return n
}

func newTestSimulator(t *testing.T, cfg Config, csms *scriptedCSMS) *Simulator {
	t.Helper()
	if cfg.StationID == "" {
		cfg.StationID = fmt.Sprintf("SIM-%s", t.Name())
	}
	s, err := New(cfg, Deps{
		NewTransport: csms.newTransport,
		VehicleTick:  10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("等待超时: %s", desc)
		default:
			time.Sleep(2 * time.Millisecond)
		}
	}
}

func TestSimulatorLifecycle(t *testing.T) {
	t.Run("启动后到达operational并完成引导上报", func(t *testing.T) {
		csms := newScriptedCSMS(t)
		s := newTestSimulator(t, Config{ConnectorCount: 2}, csms)
		defer s.Stop()

		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if !s.IsOnline() {
			t.Error("站点应为运行态")
		}
		if st := s.Snapshot().State; st != ocpp.StateOperational {
			t.Errorf("状态应为 operational, got %s", st)
		}
		if n := csms.countAction("BootNotification"); n != 1 {
			t.Errorf("应收到一次启动握手, got %d", n)
		}
		if n := csms.countAction("StatusNotification"); n != 2 {
			t.Errorf("应收到两枪口状态上报, got %d", n)
		}
	})

	t.Run("启停幂等", func(t *testing.T) {
		csms := newScriptedCSMS(t)
		s := newTestSimulator(t, Config{}, csms)

		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := s.Start(context.Background()); err != nil {
			t.Errorf("重复 Start 应为空操作: %v", err)
		}
		if n := csms.countAction("BootNotification"); n != 1 {
			t.Errorf("重复启动不应再次握手, got %d", n)
		}

		if err := s.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		if err := s.Stop(); err != nil {
			t.Errorf("重复 Stop 应为空操作: %v", err)
		}
		if s.IsOnline() {
			t.Error("停止后不应为运行态")
		}
		if st := s.Snapshot().State; st != ocpp.StateDisconnected {
			t.Errorf("停止后状态应为 disconnected, got %s", st)
		}
	})
}

func TestSwitchProtocol(t *testing.T) {
	t.Run("在线时拒绝切换", func(t *testing.T) {
		csms := newScriptedCSMS(t)
		s := newTestSimulator(t, Config{}, csms)
		defer s.Stop()
		_ = s.Start(context.Background())

		err := s.SwitchProtocol("2.0.1")
		if simerr.CodeOf(err) != simerr.CodeConflict {
			t.Fatalf("在线切换应返回冲突错误, got %v", err)
		}
	})

	t.Run("离线切换保留身份配置且可反复", func(t *testing.T) {
		csms := newScriptedCSMS(t)
		s := newTestSimulator(t, Config{
			Vendor: "ACME", Model: "X1", MaxPowerW: 11000,
		}, csms)

		for i := 0; i < 3; i++ {
			if err := s.SwitchProtocol("2.0.1"); err != nil {
				t.Fatalf("切到 2.0.1: %v", err)
			}
			if err := s.SwitchProtocol("1.6J"); err != nil {
				t.Fatalf("切回 1.6J: %v", err)
			}
		}

		cfg := s.Config()
		if cfg.Vendor != "ACME" || cfg.Model != "X1" || cfg.MaxPowerW != 11000 {
			t.Errorf("切换后配置被破坏: %+v", cfg)
		}
		if cfg.ProtocolVersion != ocpp.V16 {
			t.Errorf("版本不符: %s", cfg.ProtocolVersion)
		}
	})

	t.Run("未知版本校验失败", func(t *testing.T) {
		csms := newScriptedCSMS(t)
		s := newTestSimulator(t, Config{}, csms)
		if err := s.SwitchProtocol("3.0"); simerr.CodeOf(err) != simerr.CodeValidation {
			t.Fatalf("期望校验错误, got %v", err)
		}
	})
}

func TestCharging(t *testing.T) {
	t.Run("完整充电流程与交易算术", func(t *testing.T) {
		csms := newScriptedCSMS(t)
		bus := events.NewBus()
		s, err := New(Config{StationID: "SIM-charge"}, Deps{
			NewTransport: csms.newTransport,
			VehicleTick:  10 * time.Millisecond,
			Bus:          bus,
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		defer s.Stop()
		_ = s.Start(context.Background())

		meterCh, cancel := bus.Subscribe(256)
		defer cancel()

		if err := s.ConnectVehicle(1, vehicle.Config{
			BatteryCapacityKwh: 60, CurrentSoC: 50, TargetSoC: 80,
		}); err != nil {
			t.Fatalf("ConnectVehicle: %v", err)
		}
		if err := s.StartCharging(context.Background(), 1, "TAG-1"); err != nil {
			t.Fatalf("StartCharging: %v", err)
		}

		snap := s.Snapshot()
		if snap.Connectors[0].Status != ocpp.ConnectorOccupied {
			t.Errorf("充电中枪口应为 Occupied, got %s", snap.Connectors[0].Status)
		}
		if snap.ActiveTx != 1 {
			t.Errorf("应有一笔进行中交易, got %d", snap.ActiveTx)
		}
		if snap.Connectors[0].Tx.ProtocolTxID == "" {
			t.Error("交易应携带线上标识")
		}

		waitFor(t, "电表采样上报", func() bool { return csms.countAction("MeterValues") >= 5 })

		if err := s.StopCharging(context.Background(), 1); err != nil {
			t.Fatalf("StopCharging: %v", err)
		}

		sessions := s.History(HistoryFilter{Kind: HistorySession})
		if len(sessions) != 1 {
			t.Fatalf("历史应有一条会话, got %d", len(sessions))
		}
		tx := sessions[0].Data.(Transaction)
		if tx.Status != TxCompleted {
			t.Errorf("交易应为完成态, got %s", tx.Status)
		}
		if tx.MeterStopWh == nil || tx.StopTimestamp == nil {
			t.Fatal("完成交易应有电表与时间终值")
		}

		// 交易电量应等于各采样事件间的电能增量之和
		var samples []ocpp.MeterSample
		cancel()
		for evt := range meterCh {
			if evt.Type != events.MeterValues {
				continue
			}
			data := evt.Data.(map[string]any)
			samples = append(samples, data["sample"].(ocpp.MeterSample))
		}
		if len(samples) < 2 {
			t.Fatalf("采样不足: %d", len(samples))
		}
		var deltaSum float64
		prev := tx.MeterStartWh
		for _, sm := range samples {
			deltaSum += sm.EnergyWh - prev
			prev = sm.EnergyWh
		}
		lastToStop := *tx.MeterStopWh - prev
		if lastToStop < -1e-6 {
			t.Errorf("电表终值早于末次采样: %v", lastToStop)
		}
		if diff := math.Abs((deltaSum + lastToStop) - tx.EnergyWh()); diff > 1e-6 {
			t.Errorf("交易电量与采样增量不一致: %v", diff)
		}

		snap = s.Snapshot()
		if snap.Connectors[0].Status != ocpp.ConnectorAvailable {
			t.Errorf("停止后枪口应回到 Available, got %s", snap.Connectors[0].Status)
		}
	})

	t.Run("无车辆时拒绝充电", func(t *testing.T) {
		csms := newScriptedCSMS(t)
		s := newTestSimulator(t, Config{}, csms)
		defer s.Stop()
		_ = s.Start(context.Background())

		err := s.StartCharging(context.Background(), 1, "TAG-1")
		if simerr.CodeOf(err) != simerr.CodeConflict {
			t.Fatalf("期望冲突错误, got %v", err)
		}
	})

	t.Run("未知枪口返回不存在", func(t *testing.T) {
		csms := newScriptedCSMS(t)
		s := newTestSimulator(t, Config{ConnectorCount: 1}, csms)
		err := s.StartCharging(context.Background(), 9, "TAG-1")
		if simerr.CodeOf(err) != simerr.CodeNotFound {
			t.Fatalf("期望不存在错误, got %v", err)
		}
	})

	t.Run("站点停止作废进行中交易", func(t *testing.T) {
		csms := newScriptedCSMS(t)
		s := newTestSimulator(t, Config{}, csms)
		_ = s.Start(context.Background())
		_ = s.ConnectVehicle(1, vehicle.Config{BatteryCapacityKwh: 40, CurrentSoC: 20, TargetSoC: 80})
		if err := s.StartCharging(context.Background(), 1, "TAG-1"); err != nil {
			t.Fatalf("StartCharging: %v", err)
		}

		_ = s.Stop()
		sessions := s.History(HistoryFilter{Kind: HistorySession})
		if len(sessions) != 1 {
			t.Fatalf("历史应有一条会话, got %d", len(sessions))
		}
		if tx := sessions[0].Data.(Transaction); tx.Status != TxCancelled {
			t.Errorf("交易应为作废态, got %s", tx.Status)
		}
	})
}

func TestRemoteCommands(t *testing.T) {
	t.Run("远程启动充电", func(t *testing.T) {
		csms := newScriptedCSMS(t)
		s := newTestSimulator(t, Config{}, csms)
		defer s.Stop()
		_ = s.Start(context.Background())
		_ = s.ConnectVehicle(1, vehicle.Config{BatteryCapacityKwh: 40, CurrentSoC: 30, TargetSoC: 90})

		connector := 1
		payload, _ := json.Marshal(map[string]any{"idTag": "REMOTE-1", "connectorId": connector})
		csms.sendCall("cmd-1", "RemoteStartTransaction", json.RawMessage(payload))

		waitFor(t, "远程启动生效", func() bool { return s.Snapshot().ActiveTx == 1 })
	})

	t.Run("不支持的命令不影响连接", func(t *testing.T) {
		csms := newScriptedCSMS(t)
		s := newTestSimulator(t, Config{}, csms)
		defer s.Stop()
		_ = s.Start(context.Background())

		csms.sendCall("cmd-2", "SignCertificate", map[string]any{})

		if st := s.Snapshot().State; st != ocpp.StateOperational {
			t.Errorf("连接不应受影响, got %s", st)
		}
		if _, err := s.clientRef().SendHeartbeat(context.Background()); err != nil {
			t.Errorf("后续调用应正常: %v", err)
		}
	})

	t.Run("配置读写", func(t *testing.T) {
		csms := newScriptedCSMS(t)
		s := newTestSimulator(t, Config{}, csms)

		if err := s.SetConfigurationValue("HeartbeatInterval", "120"); err != nil {
			t.Fatalf("SetConfigurationValue: %v", err)
		}
		if got := s.ConfigurationValues()["HeartbeatInterval"]; got != "120" {
			t.Errorf("配置未生效: %q", got)
		}
		if s.heartbeatInterval() != 120*time.Second {
			t.Errorf("心跳间隔未更新: %v", s.heartbeatInterval())
		}
		if err := s.SetConfigurationValue("HeartbeatInterval", "abc"); simerr.CodeOf(err) != simerr.CodeValidation {
			t.Errorf("非法值应校验失败: %v", err)
		}
		if err := s.SetConfigurationValue("NumberOfConnectors", "5"); simerr.CodeOf(err) != simerr.CodeConflict {
			t.Errorf("只读键应返回冲突: %v", err)
		}
	})

	t.Run("切换枪口可用性", func(t *testing.T) {
		csms := newScriptedCSMS(t)
		s := newTestSimulator(t, Config{ConnectorCount: 2}, csms)
		defer s.Stop()
		_ = s.Start(context.Background())

		if err := s.ChangeAvailability(1, false); err != nil {
			t.Fatalf("ChangeAvailability: %v", err)
		}
		if st := s.Snapshot().Connectors[0].Status; st != ocpp.ConnectorUnavailable {
			t.Errorf("枪口应为 Unavailable, got %s", st)
		}
		if err := s.ChangeAvailability(0, true); err != nil {
			t.Fatalf("全量恢复: %v", err)
		}
		for _, c := range s.Snapshot().Connectors {
			if c.Status != ocpp.ConnectorAvailable {
				t.Errorf("枪口 %d 应恢复 Available, got %s", c.ID, c.Status)
			}
		}
	})
}

func TestHealth(t *testing.T) {
	t.Run("离线站点低于healthy阈值", func(t *testing.T) {
		csms := newScriptedCSMS(t)
		s := newTestSimulator(t, Config{}, csms)

		h := s.Health()
		if h.Score >= 80 {
			t.Errorf("离线分数应低于 80, got %d", h.Score)
		}
		if h.Status == HealthHealthy {
			t.Error("离线不应为 healthy")
		}
		if len(h.Issues) == 0 {
			t.Error("应记录离线原因")
		}
	})

	t.Run("错误数增加分数严格下降", func(t *testing.T) {
		csms := newScriptedCSMS(t)
		s := newTestSimulator(t, Config{}, csms)
		defer s.Stop()
		_ = s.Start(context.Background())

		prev := s.Health().Score
		for i := 0; i < 4; i++ {
			s.RecordError(fmt.Errorf("induced error %d", i))
			h := s.Health()
			if h.Score >= prev {
				t.Fatalf("第 %d 个错误后分数未下降: %d -> %d", i+1, prev, h.Score)
			}
			prev = h.Score
		}
	})

	t.Run("critical时发布告警事件", func(t *testing.T) {
		csms := newScriptedCSMS(t)
		bus := events.NewBus()
		s, err := New(Config{StationID: "SIM-alert"}, Deps{
			NewTransport: csms.newTransport,
			Bus:          bus,
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		// 离线 30 + 错误封顶 40 = 70 扣分, 落入 critical
		for i := 0; i < 10; i++ {
			s.RecordError(fmt.Errorf("induced error %d", i))
		}
		ch, cancel := bus.Subscribe(16)
		defer cancel()

		h := s.UpdateHealthScore()
		if h.Status != HealthCritical {
			t.Fatalf("应为 critical, got %s score=%d", h.Status, h.Score)
		}
		var sawUpdate, sawAlert bool
		for len(ch) > 0 {
			evt := <-ch
			switch evt.Type {
			case events.HealthUpdate:
				sawUpdate = true
			case events.HealthAlert:
				sawAlert = true
			}
		}
		if !sawUpdate || !sawAlert {
			t.Errorf("缺少健康事件: update=%v alert=%v", sawUpdate, sawAlert)
		}
	})

	t.Run("错误累积自动触发告警无需查询", func(t *testing.T) {
		csms := newScriptedCSMS(t)
		bus := events.NewBus()
		s, err := New(Config{StationID: "SIM-degrade"}, Deps{
			NewTransport: csms.newTransport,
			Bus:          bus,
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		ch, cancel := bus.Subscribe(64)
		defer cancel()

		// 离线 30 + 错误封顶 40 = 70 扣分, 落入 critical
		for i := 0; i < 10; i++ {
			s.RecordError(fmt.Errorf("induced error %d", i))
		}

		deadline := time.After(2 * time.Second)
		for {
			select {
			case evt := <-ch:
				if evt.Type == events.HealthAlert {
					return
				}
			case <-deadline:
				t.Fatal("降级到 critical 后未收到告警事件")
			}
		}
	})
}

func TestUpdateConfiguration(t *testing.T) {
	t.Run("部分更新合并非身份字段", func(t *testing.T) {
		csms := newScriptedCSMS(t)
		s := newTestSimulator(t, Config{Vendor: "ACME"}, csms)

		model := "Pro-2"
		power := 7400.0
		if err := s.UpdateConfiguration(Update{Model: &model, MaxPowerW: &power}); err != nil {
			t.Fatalf("UpdateConfiguration: %v", err)
		}
		cfg := s.Config()
		if cfg.Model != "Pro-2" || cfg.MaxPowerW != 7400 {
			t.Errorf("更新未生效: %+v", cfg)
		}
		if cfg.Vendor != "ACME" {
			t.Errorf("未更新字段被破坏: %q", cfg.Vendor)
		}
	})
}

func TestBootPendingRetry(t *testing.T) {
	t.Run("Pending后按间隔重试直到Accepted", func(t *testing.T) {
		csms := newScriptedCSMS(t)
		csms.bootStatuses = []string{"Pending"}
		s := newTestSimulator(t, Config{}, csms)
		defer s.Stop()

		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}

		// 首次握手 Pending，站点保持非 operational
		waitFor(t, "完成首次握手", func() bool {
			return csms.countAction("BootNotification") >= 1
		})
		if state := s.Snapshot().State; state == "operational" {
			t.Fatalf("Pending 不应推进到 operational, state=%s", state)
		}

		// 按下发间隔重试，第二次 Accepted 后进入 operational
		waitFor(t, "握手重试后到达operational", func() bool {
			return s.Snapshot().State == "operational"
		})
		if n := csms.countAction("BootNotification"); n < 2 {
			t.Errorf("应至少握手两次, got %d", n)
		}
	})
}
