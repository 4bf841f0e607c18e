// Package v16 实现 OCPP 1.6J 的报文模式与远程命令集。
package v16

// OCPP 1.6 动作名
const (
	ActionBootNotification   = "BootNotification"
	ActionHeartbeat          = "Heartbeat"
	ActionStatusNotification = "StatusNotification"
	ActionMeterValues        = "MeterValues"
	ActionStartTransaction   = "StartTransaction"
	ActionStopTransaction    = "StopTransaction"

	ActionRemoteStartTransaction = "RemoteStartTransaction"
	ActionRemoteStopTransaction  = "RemoteStopTransaction"
	ActionReset                  = "Reset"
	ActionChangeAvailability     = "ChangeAvailability"
	ActionChangeConfiguration    = "ChangeConfiguration"
	ActionGetConfiguration       = "GetConfiguration"
	ActionTriggerMessage         = "TriggerMessage"
	ActionUnlockConnector        = "UnlockConnector"
	ActionDataTransfer           = "DataTransfer"
)

// BootNotificationRequest 启动通知
type BootNotificationRequest struct {
	ChargePointVendor string `json:"chargePointVendor"`
	ChargePointModel  string `json:"chargePointModel"`
	FirmwareVersion   string `json:"firmwareVersion,omitempty"`
}

// BootNotificationResponse 启动通知应答
type BootNotificationResponse struct {
	Status      string `json:"status"` // Accepted / Pending / Rejected
	CurrentTime string `json:"currentTime"`
	Interval    int    `json:"interval"`
}

// HeartbeatRequest 心跳（空载荷）
type HeartbeatRequest struct{}

// HeartbeatResponse 心跳应答
type HeartbeatResponse struct {
	CurrentTime string `json:"currentTime"`
}

// StatusNotificationRequest 枪口状态通知
type StatusNotificationRequest struct {
	ConnectorID int    `json:"connectorId"`
	ErrorCode   string `json:"errorCode"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// StatusNotificationResponse 空应答
type StatusNotificationResponse struct{}

// SampledValue 采样值
type SampledValue struct {
	Value     string `json:"value"`
	Measurand string `json:"measurand,omitempty"`
	Unit      string `json:"unit,omitempty"`
}

// MeterValue 一个时间点的采样集合
type MeterValue struct {
	Timestamp    string         `json:"timestamp"`
	SampledValue []SampledValue `json:"sampledValue"`
}

// MeterValuesRequest 电表值上报
type MeterValuesRequest struct {
	ConnectorID   int          `json:"connectorId"`
	TransactionID *int         `json:"transactionId,omitempty"`
	MeterValue    []MeterValue `json:"meterValue"`
}

// MeterValuesResponse 空应答
type MeterValuesResponse struct{}

// IdTagInfo 授权信息
type IdTagInfo struct {
	Status string `json:"status"` // Accepted / Blocked / Expired / Invalid
}

// StartTransactionRequest 开始交易
type StartTransactionRequest struct {
	ConnectorID int    `json:"connectorId"`
	IDTag       string `json:"idTag"`
	MeterStart  int    `json:"meterStart"`
	Timestamp   string `json:"timestamp"`
}

// StartTransactionResponse 开始交易应答，交易 id 由 CSMS 分配
type StartTransactionResponse struct {
	IdTagInfo     IdTagInfo `json:"idTagInfo"`
	TransactionID int       `json:"transactionId"`
}

// StopTransactionRequest 结束交易
type StopTransactionRequest struct {
	TransactionID int    `json:"transactionId"`
	IDTag         string `json:"idTag,omitempty"`
	MeterStop     int    `json:"meterStop"`
	Timestamp     string `json:"timestamp"`
	Reason        string `json:"reason,omitempty"`
}

// StopTransactionResponse 结束交易应答
type StopTransactionResponse struct {
	IdTagInfo *IdTagInfo `json:"idTagInfo,omitempty"`
}

// RemoteStartTransactionRequest CSMS 远程启动
type RemoteStartTransactionRequest struct {
	IDTag       string `json:"idTag"`
	ConnectorID *int   `json:"connectorId,omitempty"`
}

// RemoteStopTransactionRequest CSMS 远程停止
type RemoteStopTransactionRequest struct {
	TransactionID int `json:"transactionId"`
}

// RemoteStartStopResponse 远程启停应答
type RemoteStartStopResponse struct {
	Status string `json:"status"` // Accepted / Rejected
}

// ResetRequest 复位命令
type ResetRequest struct {
	Type string `json:"type"` // Hard / Soft
}

// ResetResponse 复位应答
type ResetResponse struct {
	Status string `json:"status"`
}

// ChangeAvailabilityRequest 可用性变更
type ChangeAvailabilityRequest struct {
	ConnectorID int    `json:"connectorId"`
	Type        string `json:"type"` // Inoperative / Operative
}

// ChangeAvailabilityResponse 可用性变更应答
type ChangeAvailabilityResponse struct {
	Status string `json:"status"` // Accepted / Rejected / Scheduled
}

// ChangeConfigurationRequest 配置项写入
type ChangeConfigurationRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ChangeConfigurationResponse 配置项写入应答
type ChangeConfigurationResponse struct {
	Status string `json:"status"` // Accepted / Rejected / RebootRequired / NotSupported
}

// KeyValue 配置键值
type KeyValue struct {
	Key      string `json:"key"`
	ReadOnly bool   `json:"readonly"`
	Value    string `json:"value,omitempty"`
}

// GetConfigurationRequest 配置读取
type GetConfigurationRequest struct {
	Key []string `json:"key,omitempty"`
}

// GetConfigurationResponse 配置读取应答
type GetConfigurationResponse struct {
	ConfigurationKey []KeyValue `json:"configurationKey,omitempty"`
	UnknownKey       []string   `json:"unknownKey,omitempty"`
}

// TriggerMessageRequest 触发主动上报
type TriggerMessageRequest struct {
	RequestedMessage string `json:"requestedMessage"`
	ConnectorID      *int   `json:"connectorId,omitempty"`
}

// TriggerMessageResponse 触发应答
type TriggerMessageResponse struct {
	Status string `json:"status"` // Accepted / Rejected / NotImplemented
}

// UnlockConnectorRequest 解锁枪口
type UnlockConnectorRequest struct {
	ConnectorID int `json:"connectorId"`
}

// UnlockConnectorResponse 解锁应答
type UnlockConnectorResponse struct {
	Status string `json:"status"` // Unlocked / UnlockFailed / NotSupported
}

// DataTransferRequest 厂商自定义数据透传
type DataTransferRequest struct {
	VendorID  string `json:"vendorId"`
	MessageID string `json:"messageId,omitempty"`
	Data      string `json:"data,omitempty"`
}

// DataTransferResponse 透传应答
type DataTransferResponse struct {
	Status string `json:"status"` // Accepted / Rejected / UnknownVendorId
	Data   string `json:"data,omitempty"`
}
