package ocpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/CaiserSz/simisimiocpp-sub002/internal/transport"
)

// fakeCSMS 挂在管道对端的脚本化应答方
type fakeCSMS struct {
	tr     transport.Transport
	mu     sync.Mutex
	onCall func(f *Frame) []byte // 返回 nil 表示不应答
}

func newFakeCSMS(t *testing.T, tr transport.Transport) *fakeCSMS {
	t.Helper()
	c := &fakeCSMS{tr: tr}
	tr.SetCallbacks(transport.Callbacks{OnFrame: func(data []byte) {
		f, err := ParseFrame(data)
		if err != nil {
			return
		}
		c.mu.Lock()
		handler := c.onCall
		c.mu.Unlock()
		if handler == nil {
			return
		}
		if reply := handler(f); reply != nil {
			_ = c.tr.Send(context.Background(), reply)
		}
	}})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("对端连接失败: %v", err)
	}
	return c
}

func (c *fakeCSMS) respond(fn func(f *Frame) []byte) {
	c.mu.Lock()
	c.onCall = fn
	c.mu.Unlock()
}

func newTestEndpoint(t *testing.T, handler CallHandler, opts ...EndpointOption) (*Endpoint, *fakeCSMS) {
	t.Helper()
	station, csms := transport.NewPipe()
	if err := station.Connect(context.Background()); err != nil {
		t.Fatalf("本端连接失败: %v", err)
	}
	ep := NewEndpoint(station, handler, zap.NewNop(), opts...)
	station.SetCallbacks(transport.Callbacks{OnFrame: ep.HandleFrame})
	return ep, newFakeCSMS(t, csms)
}

func TestEndpointCall(t *testing.T) {
	t.Run("请求应答按messageId配对", func(t *testing.T) {
		ep, csms := newTestEndpoint(t, nil)
		csms.respond(func(f *Frame) []byte {
			data, _ := BuildCallResult(f.ID, map[string]string{"currentTime": "2026-01-01T00:00:00Z"})
			return data
		})

		raw, err := ep.Call(context.Background(), "Heartbeat", struct{}{})
		if err != nil {
			t.Fatalf("Call: %v", err)
		}
		var resp struct {
			CurrentTime string `json:"currentTime"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			t.Fatalf("应答解码失败: %v", err)
		}
		if resp.CurrentTime != "2026-01-01T00:00:00Z" {
			t.Errorf("应答不符: %q", resp.CurrentTime)
		}
		if n := ep.PendingCount(); n != 0 {
			t.Errorf("在途表应清空, got %d", n)
		}
	})

	t.Run("CALLERROR映射为CallError", func(t *testing.T) {
		ep, csms := newTestEndpoint(t, nil)
		csms.respond(func(f *Frame) []byte {
			data, _ := BuildCallError(f.ID, ErrCodeNotSupported, "nope")
			return data
		})

		_, err := ep.Call(context.Background(), "DataTransfer", struct{}{})
		var cerr *CallError
		if !errors.As(err, &cerr) {
			t.Fatalf("期望 CallError, got %v", err)
		}
		if cerr.Code != ErrCodeNotSupported {
			t.Errorf("错误码不符: %q", cerr.Code)
		}
	})

	t.Run("超时本地合成错误并移除条目", func(t *testing.T) {
		ep, csms := newTestEndpoint(t, nil, WithCallTimeout(30*time.Millisecond))
		csms.respond(func(*Frame) []byte { return nil })

		start := time.Now()
		_, err := ep.Call(context.Background(), "Heartbeat", struct{}{})
		if !errors.Is(err, ErrCallTimeout) {
			t.Fatalf("期望超时错误, got %v", err)
		}
		if time.Since(start) > time.Second {
			t.Error("超时触发过晚")
		}
		if n := ep.PendingCount(); n != 0 {
			t.Errorf("超时后在途表应清空, got %d", n)
		}
	})

	t.Run("应答与超时竞争时恰好一个结果", func(t *testing.T) {
		ep, csms := newTestEndpoint(t, nil, WithCallTimeout(time.Millisecond))
		csms.respond(func(f *Frame) []byte {
			data, _ := BuildCallResult(f.ID, struct{}{})
			return data
		})

		for i := 0; i < 64; i++ {
			_, err := ep.Call(context.Background(), "Heartbeat", struct{}{})
			if err != nil && !errors.Is(err, ErrCallTimeout) {
				t.Fatalf("第 %d 次调用意外错误: %v", i, err)
			}
		}
		if n := ep.PendingCount(); n != 0 {
			t.Errorf("在途表应清空, got %d", n)
		}
	})

	t.Run("迟到应答落到未知id被丢弃", func(t *testing.T) {
		ep, csms := newTestEndpoint(t, nil, WithCallTimeout(20*time.Millisecond))
		var lateID string
		var mu sync.Mutex
		csms.respond(func(f *Frame) []byte {
			mu.Lock()
			lateID = f.ID
			mu.Unlock()
			return nil
		})

		_, err := ep.Call(context.Background(), "Heartbeat", struct{}{})
		if !errors.Is(err, ErrCallTimeout) {
			t.Fatalf("期望超时错误, got %v", err)
		}

		// 超时后对端补发应答, 只应被丢弃而不影响后续调用
		mu.Lock()
		id := lateID
		mu.Unlock()
		data, _ := BuildCallResult(id, struct{}{})
		_ = csms.tr.Send(context.Background(), data)
		if n := ep.PendingCount(); n != 0 {
			t.Errorf("在途表应保持为空, got %d", n)
		}
	})

	t.Run("并发调用互不串扰", func(t *testing.T) {
		ep, csms := newTestEndpoint(t, nil)
		csms.respond(func(f *Frame) []byte {
			var req struct {
				N int `json:"n"`
			}
			_ = json.Unmarshal(f.Payload, &req)
			data, _ := BuildCallResult(f.ID, map[string]int{"n": req.N})
			return data
		})

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				raw, err := ep.Call(context.Background(), "DataTransfer", map[string]int{"n": n})
				if err != nil {
					t.Errorf("Call %d: %v", n, err)
					return
				}
				var resp struct {
					N int `json:"n"`
				}
				if err := json.Unmarshal(raw, &resp); err != nil || resp.N != n {
					t.Errorf("应答串扰: want %d got %d err %v", n, resp.N, err)
				}
			}(i)
		}
		wg.Wait()
	})

	t.Run("ctx取消静默放弃调用", func(t *testing.T) {
		ep, csms := newTestEndpoint(t, nil)
		csms.respond(func(*Frame) []byte { return nil })

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			_, err := ep.Call(ctx, "Heartbeat", struct{}{})
			done <- err
		}()
		time.Sleep(10 * time.Millisecond)
		cancel()

		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Fatalf("期望取消错误, got %v", err)
		}
		if n := ep.PendingCount(); n != 0 {
			t.Errorf("取消后在途表应清空, got %d", n)
		}
	})
}

func TestEndpointAbort(t *testing.T) {
	t.Run("终止让全部在途调用立即失败", func(t *testing.T) {
		ep, csms := newTestEndpoint(t, nil)
		csms.respond(func(*Frame) []byte { return nil })

		const n = 4
		done := make(chan error, n)
		for i := 0; i < n; i++ {
			go func() {
				_, err := ep.Call(context.Background(), "Heartbeat", struct{}{})
				done <- err
			}()
		}
		// 等全部调用进入在途状态
		deadline := time.After(time.Second)
		for ep.PendingCount() < n {
			select {
			case <-deadline:
				t.Fatalf("在途调用未就绪: %d", ep.PendingCount())
			default:
				time.Sleep(time.Millisecond)
			}
		}

		ep.Abort()
		for i := 0; i < n; i++ {
			if err := <-done; !errors.Is(err, ErrAborted) {
				t.Errorf("期望终止错误, got %v", err)
			}
		}
	})

	t.Run("终止后拒绝新调用", func(t *testing.T) {
		ep, _ := newTestEndpoint(t, nil)
		ep.Abort()
		_, err := ep.Call(context.Background(), "Heartbeat", struct{}{})
		if !errors.Is(err, ErrAborted) {
			t.Fatalf("期望终止错误, got %v", err)
		}
	})
}

func TestEndpointInbound(t *testing.T) {
	t.Run("入站CALL分发并回CALLRESULT", func(t *testing.T) {
		var mu sync.Mutex
		var replies []*Frame
		handler := func(action string, payload json.RawMessage) (any, *CallError) {
			if action != "Reset" {
				t.Errorf("action 不符: %q", action)
			}
			return map[string]string{"status": "Accepted"}, nil
		}
		ep, csms := newTestEndpoint(t, handler)
		csms.tr.SetCallbacks(transport.Callbacks{OnFrame: func(data []byte) {
			f, err := ParseFrame(data)
			if err != nil {
				t.Errorf("应答坏帧: %v", err)
				return
			}
			mu.Lock()
			replies = append(replies, f)
			mu.Unlock()
		}})
		_ = ep

		call, _ := BuildCall("srv-1", "Reset", map[string]string{"type": "Soft"})
		_ = csms.tr.Send(context.Background(), call)

		mu.Lock()
		defer mu.Unlock()
		if len(replies) != 1 {
			t.Fatalf("期望一条应答, got %d", len(replies))
		}
		if replies[0].Type != MessageCallResult || replies[0].ID != "srv-1" {
			t.Errorf("应答帧不符: %+v", replies[0])
		}
	})

	t.Run("handler报错回CALLERROR", func(t *testing.T) {
		handler := func(action string, payload json.RawMessage) (any, *CallError) {
			return nil, NewCallError(ErrCodeNotSupported, "action %s not supported", action)
		}
		ep, csms := newTestEndpoint(t, handler)
		var mu sync.Mutex
		var got *Frame
		csms.tr.SetCallbacks(transport.Callbacks{OnFrame: func(data []byte) {
			f, _ := ParseFrame(data)
			mu.Lock()
			got = f
			mu.Unlock()
		}})
		_ = ep

		call, _ := BuildCall("srv-2", "FancyAction", struct{}{})
		_ = csms.tr.Send(context.Background(), call)

		mu.Lock()
		defer mu.Unlock()
		if got == nil || got.Type != MessageCallError || got.ErrorCode != ErrCodeNotSupported {
			t.Errorf("期望 NotSupported CALLERROR: %+v", got)
		}
	})

	t.Run("坏帧带id回ProtocolError", func(t *testing.T) {
		ep, csms := newTestEndpoint(t, nil)
		var mu sync.Mutex
		var got *Frame
		csms.tr.SetCallbacks(transport.Callbacks{OnFrame: func(data []byte) {
			f, _ := ParseFrame(data)
			mu.Lock()
			got = f
			mu.Unlock()
		}})
		_ = ep

		// 类型未知但 messageId 可提取
		_ = csms.tr.Send(context.Background(), []byte(`[7,"bad-1","x",{}]`))

		mu.Lock()
		defer mu.Unlock()
		if got == nil || got.Type != MessageCallError || got.ErrorCode != ErrCodeProtocolError {
			t.Errorf("期望 ProtocolError CALLERROR: %+v", got)
		}
	})

	t.Run("无handler回NotImplemented", func(t *testing.T) {
		ep, csms := newTestEndpoint(t, nil)
		var mu sync.Mutex
		var got *Frame
		csms.tr.SetCallbacks(transport.Callbacks{OnFrame: func(data []byte) {
			f, _ := ParseFrame(data)
			mu.Lock()
			got = f
			mu.Unlock()
		}})
		_ = ep

		call, _ := BuildCall("srv-3", "Reset", struct{}{})
		_ = csms.tr.Send(context.Background(), call)

		mu.Lock()
		defer mu.Unlock()
		if got == nil || got.ErrorCode != ErrCodeNotImplemented {
			t.Errorf("期望 NotImplemented CALLERROR: %+v", got)
		}
	})
}

func TestEndpointObserver(t *testing.T) {
	t.Run("帧级观测回调计数", func(t *testing.T) {
		var mu sync.Mutex
		counts := map[string]int{}
		obs := func(direction, kind string) {
			mu.Lock()
			counts[fmt.Sprintf("%s/%s", direction, kind)]++
			mu.Unlock()
		}
		ep, csms := newTestEndpoint(t, nil, WithFrameObserver(obs))
		csms.respond(func(f *Frame) []byte {
			data, _ := BuildCallResult(f.ID, struct{}{})
			return data
		})

		if _, err := ep.Call(context.Background(), "Heartbeat", struct{}{}); err != nil {
			t.Fatalf("Call: %v", err)
		}

		mu.Lock()
		defer mu.Unlock()
		if counts["sent/call"] != 1 || counts["received/callresult"] != 1 {
			t.Errorf("观测计数不符: %v", counts)
		}
	})
}
