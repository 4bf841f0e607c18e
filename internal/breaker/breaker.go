// Package breaker 实现包裹任意可失败调用的熔断器。
// 状态机：CLOSED -> OPEN（连续失败达阈值）-> HALF_OPEN（冷却期满后首个调用放行）
// -> CLOSED（连续成功达阈值）或回落 OPEN（半开态任一失败）。
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State 熔断器状态
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

var (
	// ErrOpen 熔断开启期间的快速失败错误，被保护操作不会被调用
	ErrOpen = errors.New("breaker: circuit open")
	// ErrCallTimeout 单次调用超时，计为一次失败
	ErrCallTimeout = errors.New("breaker: call timeout")
)

// Stats 累计统计
type Stats struct {
	TotalRequests  int64 `json:"totalRequests"`
	TotalSuccesses int64 `json:"totalSuccesses"`
	TotalFailures  int64 `json:"totalFailures"`
	TotalRejected  int64 `json:"totalRejected"`
}

// Transition 状态迁移事件，供健康计算与可观测层消费
type Transition struct {
	Name     string    `json:"name"`
	From     State     `json:"from"`
	To       State     `json:"to"`
	Failures int       `json:"failures"`
	Stats    Stats     `json:"stats"`
	At       time.Time `json:"at"`
}

// Observer 状态迁移回调
type Observer func(Transition)

// Breaker 单个操作类别的熔断器实例
type Breaker struct {
	name             string
	failureThreshold int
	successThreshold int
	resetTimeout     time.Duration
	callTimeout      time.Duration
	observer         Observer
	now              func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	nextAttempt time.Time
	stats       Stats
}

// Option 构造参数
type Option func(*Breaker)

// WithThresholds 设置失败/成功阈值
func WithThresholds(failure, success int) Option {
	return func(b *Breaker) {
		if failure > 0 {
			b.failureThreshold = failure
		}
		if success > 0 {
			b.successThreshold = success
		}
	}
}

// WithResetTimeout 设置 OPEN 态冷却时间
func WithResetTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.resetTimeout = d
		}
	}
}

// WithCallTimeout 设置单次调用超时；0 表示不限制
func WithCallTimeout(d time.Duration) Option {
	return func(b *Breaker) { b.callTimeout = d }
}

// WithObserver 安装状态迁移回调
func WithObserver(obs Observer) Option {
	return func(b *Breaker) {
		if obs != nil {
			b.observer = obs
		}
	}
}

// WithNow 注入时钟（测试用）
func WithNow(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// New 创建熔断器，初始为 CLOSED
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		successThreshold: 2,
		resetTimeout:     30 * time.Second,
		callTimeout:      10 * time.Second,
		observer:         func(Transition) {},
		now:              time.Now,
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute 执行被保护操作。OPEN 态下直接返回 ErrOpen；
// 冷却期满的首个调用先迁移到 HALF_OPEN 再放行。
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if b.callTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- op(callCtx) }()

	var err error
	select {
	case err = <-done:
	case <-callCtx.Done():
		// 超时计为失败；操作结果被放弃
		err = ErrCallTimeout
	}

	b.afterCall(err)
	return err
}

// beforeCall 入口检查：统计请求数并按状态决定放行或拒绝
func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.TotalRequests++
	if b.state == StateOpen {
		if b.now().Before(b.nextAttempt) {
			b.stats.TotalRejected++
			return ErrOpen
		}
		// 冷却期满：迁移到半开并放行本次调用
		b.transitionLocked(StateHalfOpen)
	}
	return nil
}

// afterCall 出口记账与状态迁移
func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.stats.TotalFailures++
		switch b.state {
		case StateHalfOpen:
			// 半开态任一失败立即回落 OPEN
			b.openLocked()
		case StateClosed:
			b.failures++
			if b.failures >= b.failureThreshold {
				b.openLocked()
			}
		}
		return
	}

	b.stats.TotalSuccesses++
	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.transitionLocked(StateClosed)
		}
	case StateClosed:
		b.failures = 0
	}
}

func (b *Breaker) openLocked() {
	b.nextAttempt = b.now().Add(b.resetTimeout)
	b.transitionLocked(StateOpen)
}

// transitionLocked 执行状态迁移并通知观察者，调用方必须持锁
func (b *Breaker) transitionLocked(to State) {
	from := b.state
	failures := b.failures
	b.state = to
	b.failures = 0
	b.successes = 0

	t := Transition{
		Name:     b.name,
		From:     from,
		To:       to,
		Failures: failures,
		Stats:    b.stats,
		At:       b.now(),
	}
	// 回调在持锁状态下发出，观察者不得回调回熔断器
	b.observer(t)
}

// State 当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name 熔断器名称
func (b *Breaker) Name() string { return b.name }

// Snapshot 返回累计统计副本
func (b *Breaker) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
