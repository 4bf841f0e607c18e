package ocpp

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/CaiserSz/simisimiocpp-sub002/internal/breaker"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/transport"
)

// 生命周期状态
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateBooted       = "booted"
	StateOperational  = "operational"
	StateReconnecting = "reconnecting"
)

// 生命周期事件
const (
	evConnect      = "connect"
	evEstablished  = "established"
	evBootRecorded = "boot_recorded"
	evActivated    = "activated"
	evLost         = "lost"
	evStopped      = "stopped"
)

// Config 协议客户端配置
type Config struct {
	StationID       string
	Vendor          string
	Model           string
	FirmwareVersion string
	Endpoint        string

	CallTimeout      time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	ReconnectJitter  float64
	// MaxReconnectAttempts 0 表示不限次数
	MaxReconnectAttempts int
	OutboundRate         float64
	OutboundBurst        int
}

func (c *Config) applyDefaults() {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 60 * time.Second
	}
	if c.ReconnectJitter <= 0 {
		c.ReconnectJitter = 0.2
	}
}

// Deps 协议客户端依赖注入
type Deps struct {
	Breaker  *breaker.Breaker
	Listener Listener
	Logger   *zap.Logger
	// FrameObserver 帧级观测回调，可为 nil
	FrameObserver FrameObserver
	// NewTransport 传输工厂；为 nil 时按配置创建 WebSocket 传输。
	// 测试注入进程内管道。
	NewTransport func(subProtocol string) transport.Transport
}

// Base 两个版本实现共享的生命周期骨架：
// 熔断保护的拨号、带抖动的指数退避重连、状态机与在途调用终止。
type Base struct {
	cfg      Config
	version  Version
	br       *breaker.Breaker
	listener Listener
	log      *zap.Logger
	observe  FrameObserver
	newTr    func(subProtocol string) transport.Transport

	mu             sync.Mutex
	machine        *fsm.FSM
	ep             *Endpoint
	tr             transport.Transport
	handler        CallHandler
	attempt        int
	reconnectTimer *time.Timer
	stopped        bool
	lastBoot       *BootResult
}

// NewBase 构造共享骨架；version 由具体实现传入
func NewBase(version Version, cfg Config, deps Deps) *Base {
	cfg.applyDefaults()
	if deps.Listener == nil {
		deps.Listener = NopListener{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Breaker == nil {
		deps.Breaker = breaker.New("transport:" + cfg.StationID)
	}

	b := &Base{
		cfg:      cfg,
		version:  version,
		br:       deps.Breaker,
		listener: deps.Listener,
		log:      deps.Logger,
		observe:  deps.FrameObserver,
		newTr:    deps.NewTransport,
	}
	if b.newTr == nil {
		b.newTr = func(subProtocol string) transport.Transport {
			return transport.NewWS(transport.WSConfig{
				Endpoint:      cfg.Endpoint,
				StationID:     cfg.StationID,
				SubProtocol:   subProtocol,
				OutboundRate:  cfg.OutboundRate,
				OutboundBurst: cfg.OutboundBurst,
			}, b.log)
		}
	}

	b.machine = fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: evConnect, Src: []string{StateDisconnected, StateReconnecting}, Dst: StateConnecting},
			{Name: evEstablished, Src: []string{StateConnecting}, Dst: StateConnected},
			{Name: evBootRecorded, Src: []string{StateConnected, StateBooted}, Dst: StateBooted},
			{Name: evActivated, Src: []string{StateBooted}, Dst: StateOperational},
			{Name: evLost, Src: []string{StateConnecting, StateConnected, StateBooted, StateOperational}, Dst: StateReconnecting},
			{Name: evStopped, Src: []string{
				StateDisconnected, StateConnecting, StateConnected,
				StateBooted, StateOperational, StateReconnecting,
			}, Dst: StateDisconnected},
		},
		fsm.Callbacks{},
	)
	return b
}

// Version 协议版本
func (b *Base) Version() Version { return b.version }

// Config 客户端配置副本
func (b *Base) Config() Config { return b.cfg }

// State 当前生命周期状态
func (b *Base) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.machine.Current()
}

// IsConnected 传输连接是否存活（connected/booted/operational）
func (b *Base) IsConnected() bool {
	switch b.State() {
	case StateConnected, StateBooted, StateOperational:
		return true
	}
	return false
}

// LastBoot 最近一次启动握手结果
func (b *Base) LastBoot() (BootResult, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastBoot == nil {
		return BootResult{}, false
	}
	return *b.lastBoot, true
}

// SetHandler 安装入站 CALL 分发器（版本实现在构造时调用）
func (b *Base) SetHandler(h CallHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Connect 打开传输连接（受熔断器保护）。
// 失败不会永久终止：按带抖动的指数退避调度下一次尝试。
func (b *Base) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.stopped = false
	}
	if err := b.machine.Event(ctx, evConnect); err != nil {
		b.mu.Unlock()
		return err
	}
	b.mu.Unlock()

	return b.dial(ctx)
}

// dial 一次拨号尝试；失败时登记重连
func (b *Base) dial(ctx context.Context) error {
	tr := b.newTr(b.version.SubProtocol())
	ep := NewEndpoint(tr, b.dispatch, b.log,
		WithCallTimeout(b.cfg.CallTimeout), WithFrameObserver(b.observe))
	tr.SetCallbacks(transport.Callbacks{
		OnFrame: ep.HandleFrame,
		OnClose: func(err error) { b.onTransportLost(err) },
	})

	err := b.br.Execute(ctx, func(ctx context.Context) error {
		return tr.Connect(ctx)
	})
	if err != nil {
		b.log.Warn("connect failed", zap.Error(err))
		b.mu.Lock()
		_ = b.machine.Event(context.Background(), evLost)
		stopped := b.stopped
		b.mu.Unlock()
		if !stopped {
			b.scheduleReconnect(err)
		}
		return err
	}

	b.mu.Lock()
	b.tr = tr
	b.ep = ep
	b.attempt = 0
	_ = b.machine.Event(ctx, evEstablished)
	b.mu.Unlock()

	b.listener.OnConnected()
	return nil
}

// onTransportLost 传输中断：终止在途调用并进入重连
func (b *Base) onTransportLost(err error) {
	b.mu.Lock()
	ep := b.ep
	b.ep = nil
	b.tr = nil
	stopped := b.stopped
	if !stopped {
		_ = b.machine.Event(context.Background(), evLost)
	}
	b.mu.Unlock()

	if ep != nil {
		ep.Abort()
	}
	if stopped {
		return
	}
	b.listener.OnDisconnected(err)
	b.scheduleReconnect(err)
}

// scheduleReconnect 登记下一次重连尝试（独立于任何调用方的定时器）
func (b *Base) scheduleReconnect(cause error) {
	b.mu.Lock()
	if b.stopped || b.reconnectTimer != nil {
		b.mu.Unlock()
		return
	}
	b.attempt++
	attempt := b.attempt
	if b.cfg.MaxReconnectAttempts > 0 && attempt > b.cfg.MaxReconnectAttempts {
		b.mu.Unlock()
		b.log.Error("reconnect attempts exhausted", zap.Int("attempts", attempt-1), zap.Error(cause))
		b.listener.OnReconnectFailed(cause)
		return
	}
	delay := b.backoff(attempt)
	b.reconnectTimer = time.AfterFunc(delay, b.reconnect)
	b.mu.Unlock()

	b.log.Info("reconnect scheduled",
		zap.Int("attempt", attempt), zap.Duration("delay", delay))
	b.listener.OnReconnectAttempt(attempt, delay)
}

// reconnect 重连定时器回调
func (b *Base) reconnect() {
	b.mu.Lock()
	b.reconnectTimer = nil
	if b.stopped {
		b.mu.Unlock()
		return
	}
	if err := b.machine.Event(context.Background(), evConnect); err != nil {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = b.dial(ctx)
}

// backoff 带抖动的指数退避
func (b *Base) backoff(attempt int) time.Duration {
	d := b.cfg.ReconnectInitial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.cfg.ReconnectMax {
			d = b.cfg.ReconnectMax
			break
		}
	}
	jitter := 1 + b.cfg.ReconnectJitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * jitter)
}

// MarkBooted 记录启动握手结果；仅 Accepted 推进到 operational
func (b *Base) MarkBooted(res BootResult) {
	b.mu.Lock()
	b.lastBoot = &res
	_ = b.machine.Event(context.Background(), evBootRecorded)
	if res.Status == RegistrationAccepted {
		_ = b.machine.Event(context.Background(), evActivated)
	}
	b.mu.Unlock()

	b.listener.OnBooted(res)
}

// Disconnect 显式停止：取消重连定时器、终止在途调用、关闭传输。幂等。
func (b *Base) Disconnect() error {
	b.mu.Lock()
	if b.stopped && b.machine.Current() == StateDisconnected {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	if b.reconnectTimer != nil {
		b.reconnectTimer.Stop()
		b.reconnectTimer = nil
	}
	b.attempt = 0
	ep := b.ep
	tr := b.tr
	b.ep = nil
	b.tr = nil
	_ = b.machine.Event(context.Background(), evStopped)
	b.mu.Unlock()

	if ep != nil {
		ep.Abort()
	}
	if tr != nil {
		return tr.Close()
	}
	return nil
}

// Call 出站 CALL 的薄封装：校验连接可用后委托给 Endpoint
func (b *Base) Call(ctx context.Context, action string, payload, out any) error {
	b.mu.Lock()
	ep := b.ep
	b.mu.Unlock()
	if ep == nil {
		return ErrNotOperational
	}
	err := ep.CallInto(ctx, action, payload, out)
	if err != nil {
		if cerr, ok := err.(*CallError); ok {
			b.listener.OnProtocolError(cerr)
		}
	}
	return err
}

// dispatch 入站 CALL 分发（持有锁读取 handler 快照）
func (b *Base) dispatch(action string, payload json.RawMessage) (any, *CallError) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h == nil {
		return nil, NewCallError(ErrCodeNotImplemented, "no handler for %s", action)
	}
	return h(action, payload)
}
