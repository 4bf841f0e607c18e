// Package station 实现单站模拟器：聚合协议客户端、枪口与车辆、
// 交易与历史记录、健康评分，并把状态变化发布到事件总线。
package station

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/CaiserSz/simisimiocpp-sub002/internal/ocpp"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/simerr"
)

// Config 站点配置。StationID 为身份字段，创建后不可变更；
// 其余字段可经 Update 合并修改。
type Config struct {
	StationID                string       `json:"stationId" yaml:"stationId"`
	Vendor                   string       `json:"vendor" yaml:"vendor"`
	Model                    string       `json:"model" yaml:"model"`
	FirmwareVersion          string       `json:"firmwareVersion" yaml:"firmwareVersion"`
	ProtocolVersion          ocpp.Version `json:"protocolVersion" yaml:"protocolVersion"`
	ConnectorCount           int          `json:"connectorCount" yaml:"connectorCount"`
	MaxPowerW                float64      `json:"maxPower" yaml:"maxPower"`
	CSMSEndpoint             string       `json:"csmsEndpoint" yaml:"csmsEndpoint"`
	HeartbeatIntervalSeconds int          `json:"heartbeatIntervalSeconds" yaml:"heartbeatIntervalSeconds"`
	GroupID                  string       `json:"groupId,omitempty" yaml:"groupId"`
	NetworkID                string       `json:"networkId,omitempty" yaml:"networkId"`
}

// Update 部分更新；nil 字段表示保持不变。身份字段不可出现。
// ConnectorCount 只在克隆覆盖时生效，已建站点的枪口数不可变更。
type Update struct {
	Vendor                   *string  `json:"vendor,omitempty"`
	Model                    *string  `json:"model,omitempty"`
	FirmwareVersion          *string  `json:"firmwareVersion,omitempty"`
	ConnectorCount           *int     `json:"connectorCount,omitempty"`
	MaxPowerW                *float64 `json:"maxPower,omitempty"`
	CSMSEndpoint             *string  `json:"csmsEndpoint,omitempty"`
	HeartbeatIntervalSeconds *int     `json:"heartbeatIntervalSeconds,omitempty"`
	GroupID                  *string  `json:"groupId,omitempty"`
	NetworkID                *string  `json:"networkId,omitempty"`
}

// NewStationID 生成形如 SIM-1a2b3c4d 的站点标识
func NewStationID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("SIM-%s", hex.EncodeToString(buf))
}

// Validate 校验配置并补齐缺省值
func (c *Config) Validate() error {
	if c.StationID == "" {
		c.StationID = NewStationID()
	}
	if c.ProtocolVersion == "" {
		c.ProtocolVersion = ocpp.V16
	}
	if _, err := ocpp.ParseVersion(string(c.ProtocolVersion)); err != nil {
		return simerr.Validationf("unsupported protocol version %q", c.ProtocolVersion)
	}
	if c.ConnectorCount == 0 {
		c.ConnectorCount = 1
	}
	if c.ConnectorCount < 1 || c.ConnectorCount > 10 {
		return simerr.Validationf("connectorCount must be in [1,10], got %d", c.ConnectorCount)
	}
	if c.MaxPowerW <= 0 {
		c.MaxPowerW = 22000
	}
	if c.Vendor == "" {
		c.Vendor = "SimVendor"
	}
	if c.Model == "" {
		c.Model = "SimModel"
	}
	if c.FirmwareVersion == "" {
		c.FirmwareVersion = "1.0.0"
	}
	if c.HeartbeatIntervalSeconds < 0 {
		return simerr.Validationf("heartbeatIntervalSeconds must not be negative, got %d", c.HeartbeatIntervalSeconds)
	}
	return nil
}

// merge 应用部分更新，返回是否有字段变化
func (c *Config) merge(u Update) bool {
	changed := false
	setS := func(dst *string, src *string) {
		if src != nil && *src != *dst {
			*dst = *src
			changed = true
		}
	}
	setS(&c.Vendor, u.Vendor)
	setS(&c.Model, u.Model)
	setS(&c.FirmwareVersion, u.FirmwareVersion)
	setS(&c.CSMSEndpoint, u.CSMSEndpoint)
	setS(&c.GroupID, u.GroupID)
	setS(&c.NetworkID, u.NetworkID)
	if u.MaxPowerW != nil && *u.MaxPowerW != c.MaxPowerW {
		c.MaxPowerW = *u.MaxPowerW
		changed = true
	}
	if u.HeartbeatIntervalSeconds != nil && *u.HeartbeatIntervalSeconds != c.HeartbeatIntervalSeconds {
		c.HeartbeatIntervalSeconds = *u.HeartbeatIntervalSeconds
		changed = true
	}
	return changed
}
