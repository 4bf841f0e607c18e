// Package vehicle 模拟接在枪口上的电动车：SoC 随充电推进，
// 功率曲线随 SoC 升高单调不增，到达目标 SoC 后降为涓流但不自动停充。
package vehicle

import (
	"time"

	"github.com/CaiserSz/simisimiocpp-sub002/internal/simerr"
)

// Profile 充电功率曲线：输入当前 SoC（0-100），输出最大功率的占比（0-1）。
// 实现必须随 SoC 单调不增。
type Profile func(soc float64) float64

// DefaultProfile 默认曲线：80% 前满功率，80% 到 100% 线性收窄到 10%
func DefaultProfile(soc float64) float64 {
	switch {
	case soc <= 80:
		return 1.0
	case soc >= 100:
		return 0.1
	default:
		return 1.0 - 0.9*(soc-80)/20
	}
}

// trickleFraction 到达目标 SoC 后的涓流功率占比
const trickleFraction = 0.05

// Config 车辆参数
type Config struct {
	Type               string  `json:"type"`
	BatteryCapacityKwh float64 `json:"batteryCapacityKwh"`
	CurrentSoC         float64 `json:"currentSoC"`
	TargetSoC          float64 `json:"targetSoC"`
	// MaxPowerW 车端功率上限；0 表示只受站端限制
	MaxPowerW float64 `json:"maxPowerW"`
	Profile   Profile `json:"-"`
}

// TickResult 单次推进的产出
type TickResult struct {
	PowerW       float64
	DeltaWh      float64
	SoC          float64
	TemperatureC float64
}

// Snapshot 车辆状态快照（对外只读）
type Snapshot struct {
	Type               string  `json:"type"`
	BatteryCapacityKwh float64 `json:"batteryCapacityKwh"`
	CurrentSoC         float64 `json:"currentSoC"`
	TargetSoC          float64 `json:"targetSoC"`
	MaxPowerW          float64 `json:"maxPowerW"`
	EnergyWh           float64 `json:"energyWh"`
}

// Vehicle 单台模拟车辆。调用方负责串行化 Tick（枪口持有唯一车辆）。
type Vehicle struct {
	cfg      Config
	soc      float64
	energyWh float64
}

// New 创建车辆并校验参数
func New(cfg Config) (*Vehicle, error) {
	if cfg.BatteryCapacityKwh <= 0 {
		return nil, simerr.Validationf("batteryCapacityKwh must be positive, got %v", cfg.BatteryCapacityKwh)
	}
	if cfg.CurrentSoC < 0 || cfg.CurrentSoC > 100 {
		return nil, simerr.Validationf("currentSoC must be in [0,100], got %v", cfg.CurrentSoC)
	}
	if cfg.TargetSoC < 0 || cfg.TargetSoC > 100 {
		return nil, simerr.Validationf("targetSoC must be in [0,100], got %v", cfg.TargetSoC)
	}
	if cfg.TargetSoC < cfg.CurrentSoC {
		return nil, simerr.Validationf("targetSoC %v below currentSoC %v", cfg.TargetSoC, cfg.CurrentSoC)
	}
	if cfg.Type == "" {
		cfg.Type = "generic-ev"
	}
	if cfg.Profile == nil {
		cfg.Profile = DefaultProfile
	}
	return &Vehicle{cfg: cfg, soc: cfg.CurrentSoC}, nil
}

// PowerAt 给定 SoC 与站端功率上限时的充电功率
func (v *Vehicle) PowerAt(soc, stationLimitW float64) float64 {
	limit := stationLimitW
	if v.cfg.MaxPowerW > 0 && v.cfg.MaxPowerW < limit {
		limit = v.cfg.MaxPowerW
	}
	if limit <= 0 {
		return 0
	}
	if soc >= v.cfg.TargetSoC {
		return limit * trickleFraction
	}
	frac := v.cfg.Profile(soc)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return limit * frac
}

// Tick 推进一个周期：按当前功率累积电能并抬升 SoC。
// SoC 封顶在目标值，之后保持涓流继续计量。
func (v *Vehicle) Tick(elapsed time.Duration, stationLimitW float64) TickResult {
	if elapsed <= 0 {
		return TickResult{PowerW: v.PowerAt(v.soc, stationLimitW), SoC: v.soc, TemperatureC: v.temperature(0)}
	}

	power := v.PowerAt(v.soc, stationLimitW)
	deltaWh := power * elapsed.Hours()
	v.energyWh += deltaWh

	if v.soc < v.cfg.TargetSoC {
		deltaSoC := deltaWh / (v.cfg.BatteryCapacityKwh * 1000) * 100
		v.soc += deltaSoC
		if v.soc > v.cfg.TargetSoC {
			v.soc = v.cfg.TargetSoC
		}
	}

	return TickResult{
		PowerW:       power,
		DeltaWh:      deltaWh,
		SoC:          v.soc,
		TemperatureC: v.temperature(power),
	}
}

// temperature 简化热模型：环境温度叠加与功率成比例的温升
func (v *Vehicle) temperature(powerW float64) float64 {
	limit := v.cfg.MaxPowerW
	if limit <= 0 {
		limit = 22000
	}
	return 25 + 15*powerW/limit
}

// SoC 当前电量百分比
func (v *Vehicle) SoC() float64 { return v.soc }

// EnergyWh 本次连接以来累计充入电能
func (v *Vehicle) EnergyWh() float64 { return v.energyWh }

// AtTarget 是否已到达目标 SoC
func (v *Vehicle) AtTarget() bool { return v.soc >= v.cfg.TargetSoC }

// Snapshot 状态快照
func (v *Vehicle) Snapshot() Snapshot {
	return Snapshot{
		Type:               v.cfg.Type,
		BatteryCapacityKwh: v.cfg.BatteryCapacityKwh,
		CurrentSoC:         v.soc,
		TargetSoC:          v.cfg.TargetSoC,
		MaxPowerW:          v.cfg.MaxPowerW,
		EnergyWh:           v.energyWh,
	}
}
