package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("缺省配置文件回退默认值", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
		if err == nil {
			_ = cfg
			t.Fatal("指定了不存在的文件应报错")
		}
	})

	t.Run("从文件加载并保留未覆盖默认值", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "sim.yaml")
		raw := `http:
  addr: ":18080"
csms:
  endpoint: ws://csms.test:9000/ocpp
  callTimeout: 3s
simulation:
  vehicleTick: 250ms
`
		if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
			t.Fatalf("写配置: %v", err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTP.Addr != ":18080" {
			t.Errorf("http.addr 未生效: %s", cfg.HTTP.Addr)
		}
		if cfg.CSMS.Endpoint != "ws://csms.test:9000/ocpp" {
			t.Errorf("csms.endpoint 未生效: %s", cfg.CSMS.Endpoint)
		}
		if cfg.CSMS.CallTimeout != 3*time.Second {
			t.Errorf("csms.callTimeout 未生效: %v", cfg.CSMS.CallTimeout)
		}
		if cfg.Simulation.VehicleTick != 250*time.Millisecond {
			t.Errorf("simulation.vehicleTick 未生效: %v", cfg.Simulation.VehicleTick)
		}
		// 未覆盖字段保留默认值
		if cfg.Metrics.Path != "/metrics" {
			t.Errorf("metrics.path 默认值丢失: %s", cfg.Metrics.Path)
		}
		if cfg.Health.OfflinePenalty != 30 {
			t.Errorf("health.offlinePenalty 默认值丢失: %d", cfg.Health.OfflinePenalty)
		}
		if cfg.Breaker.FailureThreshold != 5 {
			t.Errorf("breaker.failureThreshold 默认值丢失: %d", cfg.Breaker.FailureThreshold)
		}
	})

	t.Run("环境变量覆盖文件", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "sim.yaml")
		if err := os.WriteFile(path, []byte("http:\n  addr: \":18080\"\n"), 0o644); err != nil {
			t.Fatalf("写配置: %v", err)
		}
		t.Setenv("SIM_HTTP_ADDR", ":28080")

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTP.Addr != ":28080" {
			t.Errorf("环境变量应覆盖文件: %s", cfg.HTTP.Addr)
		}
	})
}
