package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/CaiserSz/simisimiocpp-sub002/internal/fleet"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/simerr"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/station"
)

type batchRequest struct {
	StationIDs []string `json:"stationIds"`
}

// BatchStart 批量启动站点
func (h *Handler) BatchStart(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, simerr.Validationf("invalid request body: %v", err))
		return
	}
	c.JSON(http.StatusOK, h.fleet.BatchStartStations(c.Request.Context(), req.StationIDs))
}

// BatchStop 批量停止站点
func (h *Handler) BatchStop(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, simerr.Validationf("invalid request body: %v", err))
		return
	}
	c.JSON(http.StatusOK, h.fleet.BatchStopStations(c.Request.Context(), req.StationIDs))
}

// BatchUpdate 批量更新站点配置
func (h *Handler) BatchUpdate(c *gin.Context) {
	var req struct {
		StationIDs []string       `json:"stationIds"`
		Update     station.Update `json:"update"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, simerr.Validationf("invalid request body: %v", err))
		return
	}
	c.JSON(http.StatusOK, h.fleet.BatchUpdateStations(c.Request.Context(), req.StationIDs, req.Update))
}

// GetHealthSummary 全车队健康汇总
func (h *Handler) GetHealthSummary(c *gin.Context) {
	c.JSON(http.StatusOK, h.fleet.GetHealthSummary())
}

// GetStationsByHealth 按健康分级筛选站点
func (h *Handler) GetStationsByHealth(c *gin.Context) {
	status := station.HealthStatus(c.Param("status"))
	switch status {
	case station.HealthHealthy, station.HealthWarning, station.HealthCritical:
	default:
		h.writeError(c, simerr.Validationf("unknown health status: %s", status))
		return
	}
	sims := h.fleet.GetStationsByHealthStatus(status)
	out := make([]station.Snapshot, 0, len(sims))
	for _, sim := range sims {
		out = append(out, sim.Snapshot())
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "stations": out, "total": len(out)})
}

// GetGroups 全部分组标识
func (h *Handler) GetGroups(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"groups": h.fleet.GetGroups()})
}

// GetGroupStations 分组内站点快照
func (h *Handler) GetGroupStations(c *gin.Context) {
	sims := h.fleet.GetStationsByGroup(c.Param("groupId"))
	out := make([]station.Snapshot, 0, len(sims))
	for _, sim := range sims {
		out = append(out, sim.Snapshot())
	}
	c.JSON(http.StatusOK, gin.H{"groupId": c.Param("groupId"), "stations": out, "total": len(out)})
}

// GetNetworks 全部组网标识
func (h *Handler) GetNetworks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"networks": h.fleet.GetNetworks()})
}

// GetNetworkStations 组网内站点快照
func (h *Handler) GetNetworkStations(c *gin.Context) {
	sims := h.fleet.GetStationsByNetwork(c.Param("networkId"))
	out := make([]station.Snapshot, 0, len(sims))
	for _, sim := range sims {
		out = append(out, sim.Snapshot())
	}
	c.JSON(http.StatusOK, gin.H{"networkId": c.Param("networkId"), "stations": out, "total": len(out)})
}

// GetStats 车队运行统计
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.fleet.Stats())
}

// ApplyScenario 按场景文件批量建站
func (h *Handler) ApplyScenario(c *gin.Context) {
	var sc fleet.Scenario
	if err := c.ShouldBindJSON(&sc); err != nil {
		h.writeError(c, simerr.Validationf("invalid scenario: %v", err))
		return
	}
	created := h.fleet.ApplyScenario(c.Request.Context(), &sc)
	c.JSON(http.StatusCreated, gin.H{"created": created, "total": len(created)})
}
