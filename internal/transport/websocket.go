package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// WSConfig WebSocket 传输配置
type WSConfig struct {
	// Endpoint CSMS 基础地址，站点标识作为路径末段拼接
	Endpoint  string
	StationID string
	// SubProtocol OCPP 子协议（ocpp1.6 / ocpp2.0.1），握手时协商
	SubProtocol      string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// OutboundRate 出站帧速率上限（帧/秒），<=0 表示不限速
	OutboundRate  float64
	OutboundBurst int
}

// WS 基于 gorilla/websocket 的传输实现
type WS struct {
	cfg     WSConfig
	log     *zap.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	conn   *websocket.Conn
	cb     Callbacks
	closed bool
}

// NewWS 创建 WebSocket 传输
func NewWS(cfg WSConfig, logger *zap.Logger) *WS {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := &WS{cfg: cfg, log: logger}
	if cfg.OutboundRate > 0 {
		burst := cfg.OutboundBurst
		if burst <= 0 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(rate.Limit(cfg.OutboundRate), burst)
	}
	return w
}

// SetCallbacks 安装回调；必须在 Connect 前调用
func (w *WS) SetCallbacks(cb Callbacks) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cb = cb
}

// Connect 拨号并启动读循环
func (w *WS) Connect(ctx context.Context) error {
	u, err := joinStationURL(w.cfg.Endpoint, w.cfg.StationID)
	if err != nil {
		return fmt.Errorf("transport: bad endpoint: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: w.cfg.HandshakeTimeout,
		Subprotocols:     []string{w.cfg.SubProtocol},
	}
	conn, resp, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", u, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	// CSMS 未回显子协议时按兼容处理，仅记录告警
	if got := conn.Subprotocol(); got != "" && got != w.cfg.SubProtocol {
		w.log.Warn("csms negotiated unexpected subprotocol",
			zap.String("want", w.cfg.SubProtocol), zap.String("got", got))
	}

	w.mu.Lock()
	w.conn = conn
	w.closed = false
	cb := w.cb
	w.mu.Unlock()

	go w.readLoop(conn, cb)
	return nil
}

// Send 发送文本帧（OCPP JSON 均为文本帧）
func (w *WS) Send(ctx context.Context, data []byte) error {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.conn == nil {
		return ErrNotConnected
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Close 关闭连接；幂等
func (w *WS) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.conn == nil {
		w.closed = true
		return nil
	}
	w.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return w.conn.Close()
}

// readLoop 持续读取入站帧，连接终止时触发 OnClose（恰好一次）
func (w *WS) readLoop(conn *websocket.Conn, cb Callbacks) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			wasClosed := w.closed
			w.closed = true
			w.mu.Unlock()

			if cb.OnClose != nil {
				if wasClosed {
					// 本地主动关闭不算异常
					cb.OnClose(nil)
				} else {
					cb.OnClose(err)
				}
			}
			return
		}
		if cb.OnFrame != nil {
			cb.OnFrame(data)
		}
	}
}

// joinStationURL 将站点标识拼接到 CSMS 端点路径末段
func joinStationURL(endpoint, stationID string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + url.PathEscape(stationID)
	return u.String(), nil
}
