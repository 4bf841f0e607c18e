// Package api 实现车队模拟器的控制面 REST 接口与 WebSocket 推送端点。
// 错误统一按分类编码映射 HTTP 状态码。
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/CaiserSz/simisimiocpp-sub002/internal/fleet"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/simerr"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/wshub"
)

// Handler 控制面处理器
type Handler struct {
	logger   *zap.Logger
	fleet    *fleet.Manager
	hub      *wshub.Hub
	upgrader websocket.Upgrader
}

// NewHandler 创建处理器。hub 可为 nil，此时不注册 WebSocket 端点。
func NewHandler(logger *zap.Logger, mgr *fleet.Manager, hub *wshub.Hub) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger: logger,
		fleet:  mgr,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 控制台跨域访问
			},
		},
	}
}

// writeError 按错误分类编码映射HTTP状态码
func (h *Handler) writeError(c *gin.Context, err error) {
	code := simerr.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case simerr.CodeValidation:
		status = http.StatusBadRequest
	case simerr.CodeNotFound:
		status = http.StatusNotFound
	case simerr.CodeConflict:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"code": string(code), "message": err.Error()})
}

// HandleWebSocket 升级连接并接入推送 Hub
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	client := wshub.NewClient(h.hub, conn)
	client.Register()
	go client.WritePump()
	go client.ReadPump()
}
