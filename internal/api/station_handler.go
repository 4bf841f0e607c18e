package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CaiserSz/simisimiocpp-sub002/internal/simerr"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/station"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/vehicle"
)

// ListStations 查询全部站点快照
func (h *Handler) ListStations(c *gin.Context) {
	sims := h.fleet.List()
	out := make([]station.Snapshot, 0, len(sims))
	for _, sim := range sims {
		out = append(out, sim.Snapshot())
	}
	c.JSON(http.StatusOK, gin.H{"stations": out, "total": len(out)})
}

// CreateStation 创建站点（不自动启动）
func (h *Handler) CreateStation(c *gin.Context) {
	var cfg station.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		h.writeError(c, simerr.Validationf("invalid request body: %v", err))
		return
	}
	sim, err := h.fleet.CreateStation(cfg)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sim.Snapshot())
}

// GetStation 查询单站快照
func (h *Handler) GetStation(c *gin.Context) {
	sim, err := h.fleet.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sim.Snapshot())
}

// DeleteStation 停止并移除站点
func (h *Handler) DeleteStation(c *gin.Context) {
	if err := h.fleet.RemoveStation(c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": c.Param("id")})
}

// UpdateStation 更新单站配置；索引刷新走管理器
func (h *Handler) UpdateStation(c *gin.Context) {
	id := c.Param("id")
	var u station.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		h.writeError(c, simerr.Validationf("invalid request body: %v", err))
		return
	}
	if err := h.fleet.UpdateStation(id, u); err != nil {
		h.writeError(c, err)
		return
	}
	sim, err := h.fleet.Get(id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sim.Snapshot())
}

// StartStation 启动站点
func (h *Handler) StartStation(c *gin.Context) {
	sim, err := h.fleet.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := sim.Start(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sim.Snapshot())
}

// StopStation 停止站点
func (h *Handler) StopStation(c *gin.Context) {
	sim, err := h.fleet.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := sim.Stop(); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sim.Snapshot())
}

// CloneStation 克隆站点配置
func (h *Handler) CloneStation(c *gin.Context) {
	var req struct {
		NewID     string          `json:"newStationId"`
		Overrides *station.Update `json:"overrides"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		h.writeError(c, simerr.Validationf("invalid request body: %v", err))
		return
	}
	clone, err := h.fleet.CloneStation(c.Param("id"), req.NewID, req.Overrides)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, clone.Snapshot())
}

// SwitchProtocol 切换站点协议版本（仅限离线）
func (h *Handler) SwitchProtocol(c *gin.Context) {
	sim, err := h.fleet.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	var req struct {
		Version string `json:"version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, simerr.Validationf("invalid request body: %v", err))
		return
	}
	if err := sim.SwitchProtocol(req.Version); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sim.Snapshot())
}

// ConnectVehicle 在枪头上接入车辆
func (h *Handler) ConnectVehicle(c *gin.Context) {
	sim, err := h.fleet.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	connectorID, err := h.connectorID(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	var vcfg vehicle.Config
	if err := c.ShouldBindJSON(&vcfg); err != nil {
		h.writeError(c, simerr.Validationf("invalid request body: %v", err))
		return
	}
	if err := sim.ConnectVehicle(connectorID, vcfg); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sim.Snapshot())
}

// DisconnectVehicle 移除枪头上的车辆
func (h *Handler) DisconnectVehicle(c *gin.Context) {
	sim, err := h.fleet.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	connectorID, err := h.connectorID(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := sim.DisconnectVehicle(connectorID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sim.Snapshot())
}

// StartCharging 发起充电事务
func (h *Handler) StartCharging(c *gin.Context) {
	sim, err := h.fleet.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	connectorID, err := h.connectorID(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	var req struct {
		IDTag string `json:"idTag"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		h.writeError(c, simerr.Validationf("invalid request body: %v", err))
		return
	}
	if req.IDTag == "" {
		req.IDTag = "console"
	}
	if err := sim.StartCharging(c.Request.Context(), connectorID, req.IDTag); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sim.Snapshot())
}

// StopCharging 结束充电事务
func (h *Handler) StopCharging(c *gin.Context) {
	sim, err := h.fleet.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	connectorID, err := h.connectorID(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := sim.StopCharging(c.Request.Context(), connectorID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sim.Snapshot())
}

// GetStationHealth 单站健康评分（即时重算）
func (h *Handler) GetStationHealth(c *gin.Context) {
	sim, err := h.fleet.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sim.UpdateHealthScore())
}

// GetStationHistory 查询站点历史记录，支持 kind/since/limit 过滤
func (h *Handler) GetStationHistory(c *gin.Context) {
	sim, err := h.fleet.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	var f station.HistoryFilter
	f.Kind = station.HistoryKind(c.Query("kind"))
	if v := c.Query("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(c, simerr.Validationf("invalid since timestamp: %v", err))
			return
		}
		f.Since = ts
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(c, simerr.Validationf("invalid limit: %s", v))
			return
		}
		f.Limit = n
	}

	entries := sim.History(f)
	c.JSON(http.StatusOK, gin.H{"stationId": sim.ID(), "entries": entries, "total": len(entries)})
}

// GetBreakerStats 站点熔断器状态
func (h *Handler) GetBreakerStats(c *gin.Context) {
	sim, err := h.fleet.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sim.BreakerStats())
}

func (h *Handler) connectorID(c *gin.Context) (int, error) {
	raw := c.Param("connectorId")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, simerr.Validationf("invalid connector id: %s", raw)
	}
	return id, nil
}
