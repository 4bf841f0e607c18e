package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CaiserSz/simisimiocpp-sub002/internal/api/middleware"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/breaker"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/fleet"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/ocpp"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/station"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/transport"
)

// loopbackCSMS 一问一答的回环 CSMS，接口测试共用
func loopbackCSMS(string) transport.Transport {
	stationEnd, csms := transport.NewPipe()
	_ = csms.Connect(context.Background())
	csms.SetCallbacks(transport.Callbacks{OnFrame: func(data []byte) {
		f, err := ocpp.ParseFrame(data)
		if err != nil || f.Type != ocpp.MessageCall {
			return
		}
		now := time.Now().UTC().Format(time.RFC3339)
		var payload any
		switch f.Action {
		case "BootNotification":
			payload = map[string]any{"status": "Accepted", "currentTime": now, "interval": 300}
		case "Heartbeat":
			payload = map[string]any{"currentTime": now}
		case "StartTransaction":
			payload = map[string]any{"transactionId": 42, "idTagInfo": map[string]string{"status": "Accepted"}}
		default:
			payload = map[string]any{}
		}
		if reply, err := ocpp.BuildCallResult(f.ID, payload); err == nil {
			_ = csms.Send(context.Background(), reply)
		}
	}})
	return stationEnd
}

func newTestRouter(t *testing.T, authCfg middleware.AuthConfig, rlCfg middleware.RateLimitConfig) (*gin.Engine, *fleet.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mgr := fleet.New(fleet.Deps{
		Station:        station.Deps{NewTransport: loopbackCSMS},
		BatchOpTimeout: 2 * time.Second,
	})
	t.Cleanup(mgr.RemoveAllStations)

	r := gin.New()
	RegisterRoutes(r, NewHandler(zap.NewNop(), mgr, nil), authCfg, rlCfg, zap.NewNop())
	return r, mgr
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStationCRUD(t *testing.T) {
	r, _ := newTestRouter(t, middleware.AuthConfig{}, middleware.RateLimitConfig{})

	w := doJSON(t, r, http.MethodPost, "/api/stations", station.Config{StationID: "SIM-api-1", Vendor: "ACME"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// 重复创建冲突
	w = doJSON(t, r, http.MethodPost, "/api/stations", station.Config{StationID: "SIM-api-1"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// 非法配置
	w = doJSON(t, r, http.MethodPost, "/api/stations", station.Config{ConnectorCount: 99}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 查询
	w = doJSON(t, r, http.MethodGet, "/api/stations/SIM-api-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap station.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "ACME", snap.Config.Vendor)
	assert.False(t, snap.Running)

	w = doJSON(t, r, http.MethodGet, "/api/stations/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 更新
	w = doJSON(t, r, http.MethodPatch, "/api/stations/SIM-api-1", map[string]any{"vendor": "NewCo"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "NewCo", snap.Config.Vendor)

	// 列表
	w = doJSON(t, r, http.MethodGet, "/api/stations", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)

	// 删除
	w = doJSON(t, r, http.MethodDelete, "/api/stations/SIM-api-1", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodGet, "/api/stations/SIM-api-1", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStationLifecycleEndpoints(t *testing.T) {
	r, _ := newTestRouter(t, middleware.AuthConfig{}, middleware.RateLimitConfig{})
	w := doJSON(t, r, http.MethodPost, "/api/stations", station.Config{StationID: "SIM-life"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/stations/SIM-life/start", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var snap station.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.True(t, snap.Running)

	// 在线切协议应冲突
	w = doJSON(t, r, http.MethodPost, "/api/stations/SIM-life/protocol", map[string]string{"version": "ocpp2.0.1"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// 熔断器统计随启动握手计数
	w = doJSON(t, r, http.MethodGet, "/api/stations/SIM-life/breaker", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var stats breaker.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Positive(t, stats.TotalRequests)

	w = doJSON(t, r, http.MethodPost, "/api/stations/SIM-life/stop", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// 离线切协议
	w = doJSON(t, r, http.MethodPost, "/api/stations/SIM-life/protocol", map[string]string{"version": "ocpp2.0.1"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, ocpp.V201, snap.Config.ProtocolVersion)

	// 未知版本
	w = doJSON(t, r, http.MethodPost, "/api/stations/SIM-life/protocol", map[string]string{"version": "ocpp9.9"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChargingEndpoints(t *testing.T) {
	r, _ := newTestRouter(t, middleware.AuthConfig{}, middleware.RateLimitConfig{})
	doJSON(t, r, http.MethodPost, "/api/stations", station.Config{StationID: "SIM-chg"}, nil)
	w := doJSON(t, r, http.MethodPost, "/api/stations/SIM-chg/start", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 没插车先充电应冲突
	w = doJSON(t, r, http.MethodPost, "/api/stations/SIM-chg/connectors/1/charge", map[string]string{"idTag": "tag-1"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// 接入车辆
	w = doJSON(t, r, http.MethodPost, "/api/stations/SIM-chg/connectors/1/vehicle", map[string]any{
		"batteryCapacityKwh": 60, "currentSoC": 30, "targetSoC": 80,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 非法枪头号
	w = doJSON(t, r, http.MethodPost, "/api/stations/SIM-chg/connectors/abc/charge", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 开始充电
	w = doJSON(t, r, http.MethodPost, "/api/stations/SIM-chg/connectors/1/charge", map[string]string{"idTag": "tag-1"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var snap station.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.ActiveTx)

	// 结束充电
	w = doJSON(t, r, http.MethodDelete, "/api/stations/SIM-chg/connectors/1/charge", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 历史应含一条会话
	w = doJSON(t, r, http.MethodGet, "/api/stations/SIM-chg/history?kind=session", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	assert.Equal(t, 1, hist.Total)

	// 充电中拔车应冲突
	doJSON(t, r, http.MethodPost, "/api/stations/SIM-chg/connectors/1/charge", map[string]string{"idTag": "tag-2"}, nil)
	w = doJSON(t, r, http.MethodDelete, "/api/stations/SIM-chg/connectors/1/vehicle", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestFleetEndpoints(t *testing.T) {
	r, _ := newTestRouter(t, middleware.AuthConfig{}, middleware.RateLimitConfig{})
	doJSON(t, r, http.MethodPost, "/api/stations", station.Config{StationID: "SIM-f1", GroupID: "east"}, nil)
	doJSON(t, r, http.MethodPost, "/api/stations", station.Config{StationID: "SIM-f2", GroupID: "east"}, nil)

	// 批量启动：一个成功一个未知
	w := doJSON(t, r, http.MethodPost, "/api/fleet/batch/start", map[string]any{"stationIds": []string{"SIM-f1", "ghost"}}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res fleet.BatchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Len(t, res.Success, 1)
	assert.Len(t, res.Failed, 1)

	// 健康汇总
	w = doJSON(t, r, http.MethodGet, "/api/fleet/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sum fleet.HealthSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, 2, sum.Total)

	// 未知健康分级
	w = doJSON(t, r, http.MethodGet, "/api/fleet/health/banana", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 分组
	w = doJSON(t, r, http.MethodGet, "/api/fleet/groups/east", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var group struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &group))
	assert.Equal(t, 2, group.Total)

	// 统计
	w = doJSON(t, r, http.MethodGet, "/api/fleet/stats", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats fleet.Statistics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Running)

	// 克隆
	w = doJSON(t, r, http.MethodPost, "/api/stations/SIM-f2/clone", map[string]any{}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var snap station.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Contains(t, snap.Config.StationID, "SIM-f2")
	assert.False(t, snap.Running)
}

func TestScenarioEndpoint(t *testing.T) {
	r, mgr := newTestRouter(t, middleware.AuthConfig{}, middleware.RateLimitConfig{})
	w := doJSON(t, r, http.MethodPost, "/api/fleet/scenario", map[string]any{
		"name": "api-load",
		"stations": []map[string]any{
			{"stationId": "SIM-sc-api", "count": 2},
		},
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Len(t, mgr.List(), 2)
}

func TestAuthMiddleware(t *testing.T) {
	authCfg := middleware.AuthConfig{Enabled: true, APIKeys: []string{"sk_test_valid_key"}}
	r, _ := newTestRouter(t, authCfg, middleware.RateLimitConfig{})

	// 缺少Key
	w := doJSON(t, r, http.MethodGet, "/api/stations", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 无效Key
	w = doJSON(t, r, http.MethodGet, "/api/stations", nil, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// X-API-Key 有效
	w = doJSON(t, r, http.MethodGet, "/api/stations", nil, map[string]string{"X-API-Key": "sk_test_valid_key"})
	assert.Equal(t, http.StatusOK, w.Code)

	// Bearer 有效
	w = doJSON(t, r, http.MethodGet, "/api/stations", nil, map[string]string{"Authorization": "Bearer sk_test_valid_key"})
	assert.Equal(t, http.StatusOK, w.Code)

	// 就绪检查不需要认证
	w = doJSON(t, r, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	rlCfg := middleware.RateLimitConfig{Enabled: true, RequestsPerSec: 1, BurstSize: 1}
	r, _ := newTestRouter(t, middleware.AuthConfig{}, rlCfg)

	// 桶容量 1：首个请求放行，紧随其后的被限流
	w := doJSON(t, r, http.MethodGet, "/api/stations", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodGet, "/api/stations", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// 就绪检查不在限流范围内
	w = doJSON(t, r, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
