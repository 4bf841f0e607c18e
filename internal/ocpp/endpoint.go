package ocpp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CaiserSz/simisimiocpp-sub002/internal/transport"
)

// CallHandler 入站 CALL 分发函数。返回应答载荷或 CALLERROR（二选一）。
type CallHandler func(action string, payload json.RawMessage) (any, *CallError)

// FrameObserver 帧级观测回调（指标上报用）。direction: sent|received。
type FrameObserver func(direction, kind string)

type callOutcome struct {
	payload json.RawMessage
	err     error
}

type pendingCall struct {
	action   string
	issuedAt time.Time
	timer    *time.Timer
	result   chan callOutcome
}

// Endpoint 消息层：出站 CALL 的关联与超时，入站三类帧的分发。
// 并发出站调用互不阻塞；同一 messageId 的请求/应答总是正确配对。
type Endpoint struct {
	tr          transport.Transport
	log         *zap.Logger
	callTimeout time.Duration
	handler     CallHandler
	observe     FrameObserver

	mu      sync.Mutex
	pending map[string]*pendingCall
	aborted bool
}

// EndpointOption Endpoint 构造参数
type EndpointOption func(*Endpoint)

// WithCallTimeout 设置出站调用超时
func WithCallTimeout(d time.Duration) EndpointOption {
	return func(ep *Endpoint) {
		if d > 0 {
			ep.callTimeout = d
		}
	}
}

// WithFrameObserver 安装帧级观测回调
func WithFrameObserver(obs FrameObserver) EndpointOption {
	return func(ep *Endpoint) {
		if obs != nil {
			ep.observe = obs
		}
	}
}

// NewEndpoint 创建消息层。handler 为 nil 时所有入站 CALL 回 NotImplemented。
func NewEndpoint(tr transport.Transport, handler CallHandler, logger *zap.Logger, opts ...EndpointOption) *Endpoint {
	ep := &Endpoint{
		tr:          tr,
		log:         logger,
		callTimeout: 30 * time.Second,
		handler:     handler,
		observe:     func(string, string) {},
		pending:     make(map[string]*pendingCall),
	}
	for _, opt := range opts {
		opt(ep)
	}
	return ep
}

// Call 发起一次 CALL 并挂起等待应答、超时或 ctx 取消。
func (ep *Endpoint) Call(ctx context.Context, action string, payload any) (json.RawMessage, error) {
	id := uuid.NewString()
	data, err := BuildCall(id, action, payload)
	if err != nil {
		return nil, err
	}

	pc := &pendingCall{
		action:   action,
		issuedAt: time.Now(),
		result:   make(chan callOutcome, 1),
	}

	ep.mu.Lock()
	if ep.aborted {
		ep.mu.Unlock()
		return nil, ErrAborted
	}
	// 超时先于应答到达时本地合成错误，条目移除，不发任何帧。
	// 定时器必须在条目发布前装好，resolve 侧才能安全读到。
	pc.timer = time.AfterFunc(ep.callTimeout, func() {
		ep.resolve(id, callOutcome{err: ErrCallTimeout})
	})
	ep.pending[id] = pc
	ep.mu.Unlock()

	if err := ep.tr.Send(ctx, data); err != nil {
		ep.drop(id)
		return nil, err
	}
	ep.observe("sent", "call")

	select {
	case out := <-pc.result:
		return out.payload, out.err
	case <-ctx.Done():
		ep.drop(id)
		return nil, ctx.Err()
	}
}

// CallInto Call 的便捷封装：应答载荷直接反序列化到 out（可为 nil）。
func (ep *Endpoint) CallInto(ctx context.Context, action string, payload, out any) error {
	raw, err := ep.Call(ctx, action, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return NewCallError(ErrCodeFormationViolation, "decode %s response: %v", action, err)
	}
	return nil
}

// HandleFrame 处理一条入站原始帧；接到 transport 的 OnFrame 上。
// 入站 CALL 的应答相对该条消息同步产生并发送。
func (ep *Endpoint) HandleFrame(data []byte) {
	f, err := ParseFrame(data)
	if err != nil {
		ep.log.Warn("malformed inbound frame", zap.Error(err), zap.ByteString("frame", data))
		// 能提取到 messageId 的坏帧回协议错误，否则只能丢弃
		if f != nil && f.ID != "" {
			ep.reply(BuildCallError(f.ID, ErrCodeProtocolError, "malformed frame"))
		}
		return
	}

	switch f.Type {
	case MessageCall:
		ep.observe("received", "call")
		ep.dispatchCall(f)
	case MessageCallResult:
		ep.observe("received", "callresult")
		if !ep.resolve(f.ID, callOutcome{payload: f.Payload}) {
			ep.log.Warn("callresult for unknown message id, dropped", zap.String("messageId", f.ID))
		}
	case MessageCallError:
		ep.observe("received", "callerror")
		cerr := &CallError{Code: f.ErrorCode, Description: f.ErrorDescription}
		if !ep.resolve(f.ID, callOutcome{err: cerr}) {
			ep.log.Warn("callerror for unknown message id, dropped", zap.String("messageId", f.ID))
		}
	}
}

// dispatchCall 分发入站 CALL 并回 CALLRESULT/CALLERROR
func (ep *Endpoint) dispatchCall(f *Frame) {
	if ep.handler == nil {
		ep.reply(BuildCallError(f.ID, ErrCodeNotImplemented, "no handler installed"))
		return
	}
	result, cerr := ep.handler(f.Action, f.Payload)
	if cerr != nil {
		ep.reply(BuildCallError(f.ID, cerr.Code, cerr.Description))
		return
	}
	data, err := BuildCallResult(f.ID, result)
	if err != nil {
		ep.log.Error("marshal call result failed", zap.String("action", f.Action), zap.Error(err))
		ep.reply(BuildCallError(f.ID, ErrCodeInternalError, "marshal response failed"))
		return
	}
	ep.reply(data, nil)
}

func (ep *Endpoint) reply(data []byte, buildErr error) {
	if buildErr != nil {
		ep.log.Error("build reply failed", zap.Error(buildErr))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ep.tr.Send(ctx, data); err != nil {
		ep.log.Warn("send reply failed", zap.Error(err))
		return
	}
	ep.observe("sent", "reply")
}

// resolve 完成指定在途调用；返回是否存在匹配条目
func (ep *Endpoint) resolve(id string, out callOutcome) bool {
	ep.mu.Lock()
	pc, ok := ep.pending[id]
	if ok {
		delete(ep.pending, id)
	}
	ep.mu.Unlock()
	if !ok {
		return false
	}
	if pc.timer != nil {
		pc.timer.Stop()
	}
	pc.result <- out
	return true
}

// drop 静默移除在途条目（发送失败或调用方放弃）
func (ep *Endpoint) drop(id string) {
	ep.mu.Lock()
	pc, ok := ep.pending[id]
	if ok {
		delete(ep.pending, id)
	}
	ep.mu.Unlock()
	if ok && pc.timer != nil {
		pc.timer.Stop()
	}
}

// Abort 连接断开时终止全部在途调用，Endpoint 不再接受新调用。
func (ep *Endpoint) Abort() {
	ep.mu.Lock()
	ep.aborted = true
	pending := ep.pending
	ep.pending = make(map[string]*pendingCall)
	ep.mu.Unlock()

	for _, pc := range pending {
		if pc.timer != nil {
			pc.timer.Stop()
		}
		pc.result <- callOutcome{err: ErrAborted}
	}
}

// PendingCount 当前在途调用数
func (ep *Endpoint) PendingCount() int {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return len(ep.pending)
}
