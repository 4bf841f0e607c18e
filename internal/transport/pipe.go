package transport

import (
	"context"
	"sync"
)

// Pipe 进程内双向管道传输，测试与回环 CSMS 使用。
// NewPipe 返回的两端互为对端：一端 Send 的帧到达另一端的 OnFrame。
type Pipe struct {
	mu        sync.Mutex
	peer      *Pipe
	cb        Callbacks
	connected bool
	closed    bool
}

// NewPipe 创建互联的两端
func NewPipe() (*Pipe, *Pipe) {
	a := &Pipe{}
	b := &Pipe{}
	a.peer = b
	b.peer = a
	return a, b
}

// SetCallbacks 安装回调
func (p *Pipe) SetCallbacks(cb Callbacks) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb = cb
}

// Connect 标记本端可用
func (p *Pipe) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.connected = true
	return nil
}

// Send 将帧投递给对端；投递在调用方 goroutine 上同步完成
func (p *Pipe) Send(ctx context.Context, data []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if !p.connected {
		p.mu.Unlock()
		return ErrNotConnected
	}
	peer := p.peer
	p.mu.Unlock()

	peer.mu.Lock()
	cb := peer.cb
	closed := peer.closed
	peer.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if cb.OnFrame != nil {
		// 复制一份，避免调用方复用缓冲
		buf := make([]byte, len(data))
		copy(buf, data)
		cb.OnFrame(buf)
	}
	return nil
}

// Close 关闭本端并向两端发出关闭通知
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cb := p.cb
	peer := p.peer
	p.mu.Unlock()

	if cb.OnClose != nil {
		cb.OnClose(nil)
	}

	peer.mu.Lock()
	peerClosed := peer.closed
	peer.closed = true
	peerCb := peer.cb
	peer.mu.Unlock()
	if !peerClosed && peerCb.OnClose != nil {
		peerCb.OnClose(ErrClosed)
	}
	return nil
}

// DropPeer 模拟对端异常消失：本端收到错误关闭通知，对端不再可写
func (p *Pipe) DropPeer() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cb := p.cb
	p.mu.Unlock()
	if cb.OnClose != nil {
		cb.OnClose(ErrClosed)
	}
}
