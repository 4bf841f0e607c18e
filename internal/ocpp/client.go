package ocpp

import (
	"context"
	"fmt"
	"time"
)

// Version 站点配置的 OCPP 协议版本
type Version string

const (
	V16  Version = "1.6J"
	V201 Version = "2.0.1"
)

// SubProtocol WebSocket 握手使用的子协议标识
func (v Version) SubProtocol() string {
	switch v {
	case V201:
		return "ocpp2.0.1"
	default:
		return "ocpp1.6"
	}
}

// ParseVersion 解析版本字符串
func ParseVersion(s string) (Version, error) {
	switch s {
	case string(V16), "1.6", "ocpp1.6":
		return V16, nil
	case string(V201), "ocpp2.0.1":
		return V201, nil
	default:
		return "", fmt.Errorf("ocpp: unsupported protocol version %q", s)
	}
}

// RegistrationStatus 启动握手结果
type RegistrationStatus string

const (
	RegistrationAccepted RegistrationStatus = "Accepted"
	RegistrationPending  RegistrationStatus = "Pending"
	RegistrationRejected RegistrationStatus = "Rejected"
)

// BootResult 启动握手结果记录
type BootResult struct {
	Status   RegistrationStatus `json:"status"`
	Interval time.Duration      `json:"interval"`
	CSMSTime time.Time          `json:"csmsTime"`
}

// ConnectorStatus 枪口状态（引擎通用枚举，版本包各自映射到线上取值）
type ConnectorStatus string

const (
	ConnectorAvailable   ConnectorStatus = "Available"
	ConnectorOccupied    ConnectorStatus = "Occupied"
	ConnectorReserved    ConnectorStatus = "Reserved"
	ConnectorUnavailable ConnectorStatus = "Unavailable"
	ConnectorFaulted     ConnectorStatus = "Faulted"
)

// MeterSample 单次电表采样
type MeterSample struct {
	EnergyWh     float64   `json:"energyWh"` // 累计电能
	PowerW       float64   `json:"powerW"`   // 瞬时功率
	SoC          float64   `json:"soc"`
	TemperatureC *float64  `json:"temperatureC,omitempty"`
	At           time.Time `json:"at"`
}

// StartTxRequest 开始交易请求（引擎视角，版本包映射到各自报文）
type StartTxRequest struct {
	ConnectorID  int
	IDTag        string
	MeterStartWh float64
	LocalTxID    string // 进程内生成的交易标识
	At           time.Time
}

// StartTxResult 开始交易结果
type StartTxResult struct {
	Accepted bool
	// ProtocolTxID 线上交易标识：1.6J 为 CSMS 分配的数字 id，2.0.1 回显本地 id
	ProtocolTxID string
}

// StopTxRequest 结束交易请求
type StopTxRequest struct {
	ConnectorID  int
	ProtocolTxID string
	LocalTxID    string
	IDTag        string
	MeterStopWh  float64
	Reason       string
	At           time.Time
}

// Controller 远程命令落点：版本包把 CSMS 下发的命令翻译为对站点的调用。
// 实现方为站点模拟器。
type Controller interface {
	RemoteStartCharging(connectorID int, idTag string) error
	RemoteStopCharging(protocolTxID string) error
	Reset(kind string) error
	ChangeAvailability(connectorID int, available bool) error
	SetConfigurationValue(key, value string) error
	ConfigurationValues() map[string]string
	TriggerMessage(requested string, connectorID int) error
	UnlockConnector(connectorID int) error
}

// Listener 生命周期回调（站点侧消费，再转发到事件总线）
type Listener interface {
	OnConnected()
	OnBooted(BootResult)
	OnDisconnected(err error)
	OnReconnectAttempt(attempt int, delay time.Duration)
	OnReconnectFailed(err error)
	OnProtocolError(err error)
}

// NopListener 空实现，可嵌入只关心部分回调的监听者
type NopListener struct{}

func (NopListener) OnConnected()                          {}
func (NopListener) OnBooted(BootResult)                   {}
func (NopListener) OnDisconnected(error)                  {}
func (NopListener) OnReconnectAttempt(int, time.Duration) {}
func (NopListener) OnReconnectFailed(error)               {}
func (NopListener) OnProtocolError(error)                 {}

// Client 站点侧协议客户端。两个版本实现共享生命周期语义，
// 全部发送方法可并发调用且互不阻塞。
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Version() Version
	State() string
	IsConnected() bool
	LastBoot() (BootResult, bool)

	SendBootNotification(ctx context.Context) (BootResult, error)
	SendHeartbeat(ctx context.Context) (time.Time, error)
	SendStatusNotification(ctx context.Context, connectorID int, status ConnectorStatus, errorCode string) error
	SendMeterValues(ctx context.Context, connectorID int, protocolTxID string, samples []MeterSample) error
	SendStartTransaction(ctx context.Context, req StartTxRequest) (StartTxResult, error)
	SendStopTransaction(ctx context.Context, req StopTxRequest) error
}
