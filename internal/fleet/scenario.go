package fleet

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/CaiserSz/simisimiocpp-sub002/internal/station"
)

// Scenario 批量建站场景。启动时从 YAML 加载，亦可经控制面提交。
type Scenario struct {
	Name     string            `yaml:"name" json:"name"`
	Stations []ScenarioStation `yaml:"stations" json:"stations"`
}

// ScenarioStation 场景中的一组同构站点
type ScenarioStation struct {
	station.Config `yaml:",inline"`
	// Count 大于 1 时展开为多台站点，标识追加序号后缀
	Count     int  `yaml:"count" json:"count"`
	AutoStart bool `yaml:"autoStart" json:"autoStart"`
}

// LoadScenario 从 YAML 文件读取场景
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	return &sc, nil
}

// ApplyScenario 按场景建站并启动标记 autoStart 的站点。
// 单站失败记录日志并继续，返回成功创建的站点标识。
func (m *Manager) ApplyScenario(ctx context.Context, sc *Scenario) []string {
	var created []string
	var autoStart []string
	for _, entry := range sc.Stations {
		count := entry.Count
		if count <= 0 {
			count = 1
		}
		for i := 1; i <= count; i++ {
			cfg := entry.Config
			if count > 1 {
				if cfg.StationID == "" {
					cfg.StationID = station.NewStationID()
				} else {
					cfg.StationID = fmt.Sprintf("%s-%03d", entry.StationID, i)
				}
			}
			sim, err := m.CreateStation(cfg)
			if err != nil {
				m.log.Warn("scenario station skipped",
					zap.String("stationId", cfg.StationID), zap.Error(err))
				continue
			}
			created = append(created, sim.ID())
			if entry.AutoStart {
				autoStart = append(autoStart, sim.ID())
			}
		}
	}

	if len(autoStart) > 0 {
		res := m.BatchStartStations(ctx, autoStart)
		if len(res.Failed) > 0 {
			m.log.Warn("scenario autostart partially failed",
				zap.Int("failed", len(res.Failed)))
		}
	}
	m.log.Info("scenario applied",
		zap.String("name", sc.Name), zap.Int("stations", len(created)))
	return created
}
