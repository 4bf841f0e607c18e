package station

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/CaiserSz/simisimiocpp-sub002/internal/events"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/ocpp"
)

// 本文件实现 ocpp.Listener：协议生命周期回调在站点上的落点。
// 首次连接与重连成功共用同一条引导路径（启动握手 + 全枪口状态上报）。

var _ ocpp.Listener = (*Simulator)(nil)

// OnConnected 传输就绪：执行启动握手并上报初始枪口状态
func (s *Simulator) OnConnected() {
	s.mu.Lock()
	running := s.running
	client := s.client
	var ids []int
	var statuses []ocpp.ConnectorStatus
	for id := 1; id <= s.cfg.ConnectorCount; id++ {
		if c, ok := s.connectors[id]; ok {
			ids = append(ids, id)
			statuses = append(statuses, c.Status)
		}
	}
	s.mu.Unlock()
	if !running {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := client.SendBootNotification(ctx); err != nil {
		s.noteCallError("bootNotification", err)
		return
	}
	for i, id := range ids {
		if err := client.SendStatusNotification(ctx, id, statuses[i], "NoError"); err != nil {
			s.noteCallError("statusNotification", err)
		}
	}
}

// OnBooted 启动握手结果：CSMS 下发的心跳间隔即时生效。
// Pending/Rejected 按下发间隔定时重试握手，直到 Accepted 或站点停止。
func (s *Simulator) OnBooted(res ocpp.BootResult) {
	s.mu.Lock()
	if res.Interval > 0 {
		s.bootInterval = res.Interval
	}
	s.mu.Unlock()
	s.log.Info("boot notification acknowledged",
		zap.String("status", string(res.Status)),
		zap.Duration("interval", res.Interval))

	s.UpdateHealthScore()
	if res.Status == ocpp.RegistrationAccepted {
		return
	}
	retry := res.Interval
	if retry <= 0 {
		retry = 30 * time.Second
	}
	time.AfterFunc(retry, s.retryBoot)
}

func (s *Simulator) retryBoot() {
	s.mu.Lock()
	running := s.running
	client := s.client
	s.mu.Unlock()
	if !running || !client.IsConnected() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := client.SendBootNotification(ctx); err != nil {
		s.noteCallError("bootNotification retry", err)
	}
}

// OnDisconnected 传输中断
func (s *Simulator) OnDisconnected(err error) {
	if err != nil {
		s.recordError(fmt.Errorf("transport lost: %w", err))
	} else {
		s.UpdateHealthScore()
	}
	s.publish(events.Reconnecting, nil)
}

// OnReconnectAttempt 重连调度
func (s *Simulator) OnReconnectAttempt(attempt int, delay time.Duration) {
	if s.met != nil {
		s.met.ReconnectAttempts.Inc()
	}
	s.publish(events.Reconnecting, map[string]any{
		"attempt": attempt,
		"delayMs": delay.Milliseconds(),
	})
}

// OnReconnectFailed 重连次数耗尽
func (s *Simulator) OnReconnectFailed(err error) {
	s.recordError(fmt.Errorf("reconnect attempts exhausted: %w", err))
}

// OnProtocolError 协议层错误（出站调用被 CALLERROR 拒绝）
func (s *Simulator) OnProtocolError(err error) {
	s.recordError(fmt.Errorf("protocol: %w", err))
}
