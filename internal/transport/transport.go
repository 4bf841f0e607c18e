// Package transport 抽象站点与 CSMS 之间的消息传输通道。
// 协议层只依赖 Transport 接口；生产实现为 WebSocket（OCPP 子协议协商），
// 测试使用进程内管道。
package transport

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected 在未连接状态下发送
	ErrNotConnected = errors.New("transport: not connected")
	// ErrClosed 通道已关闭
	ErrClosed = errors.New("transport: closed")
)

// Callbacks 入站帧与关闭通知回调。OnClose 在连接因任何原因终止时恰好触发一次。
type Callbacks struct {
	OnFrame func(data []byte)
	OnClose func(err error)
}

// Transport 面向帧的双向通道
type Transport interface {
	// Connect 建立连接并启动读循环；回调必须在 Connect 前安装
	Connect(ctx context.Context) error
	// Send 发送单帧；阻塞直到写入完成、限速放行或 ctx 取消
	Send(ctx context.Context, data []byte) error
	// Close 主动关闭；幂等
	Close() error
	// SetCallbacks 安装回调
	SetCallbacks(cb Callbacks)
}
