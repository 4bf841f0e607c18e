package station

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/CaiserSz/simisimiocpp-sub002/internal/ocpp"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/simerr"
)

// 本文件实现 ocpp.Controller：CSMS 远程命令在站点上的落点。
// 需要发起出站调用的命令（启停充电、复位）同步校验后异步执行，
// 以免阻塞入站帧的应答。

var _ ocpp.Controller = (*Simulator)(nil)

const remoteOpTimeout = 30 * time.Second

// RemoteStartCharging 处理远程启动充电
func (s *Simulator) RemoteStartCharging(connectorID int, idTag string) error {
	if err := s.canStartCharging(connectorID); err != nil {
		return err
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), remoteOpTimeout)
		defer cancel()
		if err := s.StartCharging(ctx, connectorID, idTag); err != nil {
			s.recordError(fmt.Errorf("remote start on connector %d: %w", connectorID, err))
		}
	}()
	return nil
}

// RemoteStopCharging 处理远程停止充电；按线上交易标识定位枪口
func (s *Simulator) RemoteStopCharging(protocolTxID string) error {
	connectorID, err := s.findTransaction(protocolTxID)
	if err != nil {
		return err
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), remoteOpTimeout)
		defer cancel()
		if err := s.stopCharging(ctx, connectorID, "Remote"); err != nil {
			s.recordError(fmt.Errorf("remote stop on connector %d: %w", connectorID, err))
		}
	}()
	return nil
}

// Reset 复位：停止后重新启动，模拟真实设备重启
func (s *Simulator) Reset(kind string) error {
	s.log.Info("reset requested", zap.String("kind", kind))
	go func() {
		if err := s.Stop(); err != nil {
			s.recordError(fmt.Errorf("reset stop: %w", err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), remoteOpTimeout)
		defer cancel()
		if err := s.Start(ctx); err != nil {
			s.recordError(fmt.Errorf("reset start: %w", err))
		}
	}()
	return nil
}

// ChangeAvailability 切换枪口可用性；connectorID 为 0 作用于全部枪口
func (s *Simulator) ChangeAvailability(connectorID int, available bool) error {
	target := ocpp.ConnectorUnavailable
	if available {
		target = ocpp.ConnectorAvailable
	}

	s.mu.Lock()
	var ids []int
	if connectorID == 0 {
		for id := range s.connectors {
			ids = append(ids, id)
		}
	} else {
		c, ok := s.connectors[connectorID]
		if !ok {
			s.mu.Unlock()
			return simerr.NotFoundf("connector %d not found", connectorID)
		}
		if c.charging() {
			s.mu.Unlock()
			return simerr.Conflictf("connector %d is charging", connectorID)
		}
		ids = append(ids, connectorID)
	}
	var changed []int
	for _, id := range ids {
		c := s.connectors[id]
		if c.charging() || c.Status == target {
			continue
		}
		c.Status = target
		changed = append(changed, id)
	}
	s.mu.Unlock()

	for _, id := range changed {
		s.sendStatus(id, target)
	}
	return nil
}

// SetConfigurationValue 写入配置键；HeartbeatInterval 即时生效
func (s *Simulator) SetConfigurationValue(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch key {
	case "HeartbeatInterval":
		secs, err := strconv.Atoi(value)
		if err != nil || secs <= 0 {
			return simerr.Validationf("invalid HeartbeatInterval %q", value)
		}
		s.cfg.HeartbeatIntervalSeconds = secs
		s.bootInterval = 0
	case "NumberOfConnectors":
		return simerr.Conflictf("%s is read only", key)
	}
	s.configKV[key] = value
	return nil
}

// ConfigurationValues 当前配置键值副本
func (s *Simulator) ConfigurationValues() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.configKV))
	for k, v := range s.configKV {
		out[k] = v
	}
	return out
}

// TriggerMessage 按 CSMS 要求触发一次主动上报
func (s *Simulator) TriggerMessage(requested string, connectorID int) error {
	switch requested {
	case "Heartbeat":
		go s.sendHeartbeat()
	case "BootNotification":
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), remoteOpTimeout)
			defer cancel()
			if _, err := s.clientRef().SendBootNotification(ctx); err != nil {
				s.noteCallError("triggered bootNotification", err)
			}
		}()
	case "StatusNotification":
		s.mu.Lock()
		c, ok := s.connectors[connectorID]
		var status ocpp.ConnectorStatus
		if ok {
			status = c.Status
		}
		s.mu.Unlock()
		if !ok {
			return simerr.NotFoundf("connector %d not found", connectorID)
		}
		go s.sendStatus(connectorID, status)
	case "MeterValues":
		s.mu.Lock()
		c, ok := s.connectors[connectorID]
		charging := ok && c.charging()
		s.mu.Unlock()
		if !ok {
			return simerr.NotFoundf("connector %d not found", connectorID)
		}
		if !charging {
			return simerr.Conflictf("connector %d has no active transaction", connectorID)
		}
		go s.tickOnce(connectorID)
	default:
		return simerr.Validationf("message %q cannot be triggered", requested)
	}
	return nil
}

// UnlockConnector 解锁枪口；有进行中交易时先结束交易再解锁
func (s *Simulator) UnlockConnector(connectorID int) error {
	s.mu.Lock()
	c, ok := s.connectors[connectorID]
	charging := ok && c.charging()
	s.mu.Unlock()
	if !ok {
		return simerr.NotFoundf("connector %d not found", connectorID)
	}
	if charging {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), remoteOpTimeout)
			defer cancel()
			if err := s.stopCharging(ctx, connectorID, "UnlockCommand"); err != nil {
				s.recordError(fmt.Errorf("unlock stop on connector %d: %w", connectorID, err))
			}
		}()
	}
	return nil
}

// canStartCharging 远程启动前的同步预检
func (s *Simulator) canStartCharging(connectorID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connectors[connectorID]
	if !ok {
		return simerr.NotFoundf("connector %d not found", connectorID)
	}
	if !s.running {
		return simerr.Conflictf("station %s is not running", s.cfg.StationID)
	}
	if c.Status != ocpp.ConnectorAvailable {
		return simerr.Conflictf("connector %d is %s", connectorID, c.Status)
	}
	if c.Vehicle == nil {
		return simerr.Conflictf("connector %d has no vehicle connected", connectorID)
	}
	return nil
}

// findTransaction 按线上交易标识定位枪口
func (s *Simulator) findTransaction(protocolTxID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.connectors {
		if c.charging() && c.Tx.ProtocolTxID == protocolTxID {
			return id, nil
		}
	}
	return 0, simerr.NotFoundf("no active transaction %q", protocolTxID)
}

func (s *Simulator) clientRef() ocpp.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}
