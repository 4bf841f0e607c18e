// Package v201 实现 OCPP 2.0.1 的报文模式与远程命令集。
package v201

// OCPP 2.0.1 动作名
const (
	ActionBootNotification   = "BootNotification"
	ActionHeartbeat          = "Heartbeat"
	ActionStatusNotification = "StatusNotification"
	ActionMeterValues        = "MeterValues"
	ActionTransactionEvent   = "TransactionEvent"

	ActionRequestStartTransaction = "RequestStartTransaction"
	ActionRequestStopTransaction  = "RequestStopTransaction"
	ActionReset                   = "Reset"
	ActionSetVariables            = "SetVariables"
	ActionGetVariables            = "GetVariables"
	ActionTriggerMessage          = "TriggerMessage"
	ActionUnlockConnector         = "UnlockConnector"
	ActionDataTransfer            = "DataTransfer"
)

// ChargingStation 启动通知中的站点描述对象
type ChargingStation struct {
	Model           string `json:"model"`
	VendorName      string `json:"vendorName"`
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
}

// BootNotificationRequest 启动通知；2.0.1 增加 reason 与站点对象
type BootNotificationRequest struct {
	Reason          string          `json:"reason"` // PowerUp / ApplicationReset / ...
	ChargingStation ChargingStation `json:"chargingStation"`
}

// BootNotificationResponse 启动通知应答
type BootNotificationResponse struct {
	CurrentTime string `json:"currentTime"`
	Interval    int    `json:"interval"`
	Status      string `json:"status"` // Accepted / Pending / Rejected
}

// HeartbeatRequest 心跳
type HeartbeatRequest struct{}

// HeartbeatResponse 心跳应答
type HeartbeatResponse struct {
	CurrentTime string `json:"currentTime"`
}

// StatusNotificationRequest 枪口状态通知；2.0.1 以 EVSE+枪口编号定位
type StatusNotificationRequest struct {
	Timestamp       string `json:"timestamp"`
	ConnectorStatus string `json:"connectorStatus"`
	EvseID          int    `json:"evseId"`
	ConnectorID     int    `json:"connectorId"`
}

// StatusNotificationResponse 空应答
type StatusNotificationResponse struct{}

// UnitOfMeasure 计量单位
type UnitOfMeasure struct {
	Unit string `json:"unit,omitempty"`
}

// SampledValue 采样值；2.0.1 为数值类型
type SampledValue struct {
	Value         float64        `json:"value"`
	Measurand     string         `json:"measurand,omitempty"`
	UnitOfMeasure *UnitOfMeasure `json:"unitOfMeasure,omitempty"`
}

// MeterValue 一个时间点的采样集合
type MeterValue struct {
	Timestamp    string         `json:"timestamp"`
	SampledValue []SampledValue `json:"sampledValue"`
}

// MeterValuesRequest 交易外电表值上报
type MeterValuesRequest struct {
	EvseID     int          `json:"evseId"`
	MeterValue []MeterValue `json:"meterValue"`
}

// MeterValuesResponse 空应答
type MeterValuesResponse struct{}

// EVSE 供电单元定位
type EVSE struct {
	ID          int `json:"id"`
	ConnectorID int `json:"connectorId,omitempty"`
}

// IdToken 授权令牌
type IdToken struct {
	IdToken string `json:"idToken"`
	Type    string `json:"type"` // ISO14443 / Central / ...
}

// TransactionInfo 交易标识；2.0.1 由站点生成
type TransactionInfo struct {
	TransactionID string `json:"transactionId"`
	StoppedReason string `json:"stoppedReason,omitempty"`
}

// TransactionEventRequest 交易事件（Started / Updated / Ended）
type TransactionEventRequest struct {
	EventType       string          `json:"eventType"`
	Timestamp       string          `json:"timestamp"`
	TriggerReason   string          `json:"triggerReason"`
	SeqNo           int             `json:"seqNo"`
	TransactionInfo TransactionInfo `json:"transactionInfo"`
	Evse            *EVSE           `json:"evse,omitempty"`
	IdToken         *IdToken        `json:"idToken,omitempty"`
	MeterValue      []MeterValue    `json:"meterValue,omitempty"`
}

// IdTokenInfo 授权结果
type IdTokenInfo struct {
	Status string `json:"status"` // Accepted / Blocked / Invalid / ...
}

// TransactionEventResponse 交易事件应答
type TransactionEventResponse struct {
	IdTokenInfo *IdTokenInfo `json:"idTokenInfo,omitempty"`
}

// RequestStartTransactionRequest CSMS 远程启动
type RequestStartTransactionRequest struct {
	EvseID        int     `json:"evseId,omitempty"`
	RemoteStartID int     `json:"remoteStartId"`
	IdToken       IdToken `json:"idToken"`
}

// RequestStopTransactionRequest CSMS 远程停止
type RequestStopTransactionRequest struct {
	TransactionID string `json:"transactionId"`
}

// RequestStartStopStatusResponse 远程启停应答
type RequestStartStopStatusResponse struct {
	Status string `json:"status"` // Accepted / Rejected
}

// ResetRequest 复位命令
type ResetRequest struct {
	Type   string `json:"type"` // Immediate / OnIdle
	EvseID *int   `json:"evseId,omitempty"`
}

// ResetResponse 复位应答
type ResetResponse struct {
	Status string `json:"status"` // Accepted / Rejected / Scheduled
}

// Component 设备模型组件
type Component struct {
	Name string `json:"name"`
}

// Variable 设备模型变量
type Variable struct {
	Name string `json:"name"`
}

// SetVariableData 变量写入项
type SetVariableData struct {
	AttributeValue string    `json:"attributeValue"`
	Component      Component `json:"component"`
	Variable       Variable  `json:"variable"`
}

// SetVariablesRequest 变量写入
type SetVariablesRequest struct {
	SetVariableData []SetVariableData `json:"setVariableData"`
}

// SetVariableResult 单个变量写入结果
type SetVariableResult struct {
	AttributeStatus string    `json:"attributeStatus"` // Accepted / Rejected / UnknownVariable
	Component       Component `json:"component"`
	Variable        Variable  `json:"variable"`
}

// SetVariablesResponse 变量写入应答
type SetVariablesResponse struct {
	SetVariableResult []SetVariableResult `json:"setVariableResult"`
}

// GetVariableData 变量读取项
type GetVariableData struct {
	Component Component `json:"component"`
	Variable  Variable  `json:"variable"`
}

// GetVariablesRequest 变量读取
type GetVariablesRequest struct {
	GetVariableData []GetVariableData `json:"getVariableData"`
}

// GetVariableResult 单个变量读取结果
type GetVariableResult struct {
	AttributeStatus string    `json:"attributeStatus"`
	AttributeValue  string    `json:"attributeValue,omitempty"`
	Component       Component `json:"component"`
	Variable        Variable  `json:"variable"`
}

// GetVariablesResponse 变量读取应答
type GetVariablesResponse struct {
	GetVariableResult []GetVariableResult `json:"getVariableResult"`
}

// TriggerMessageRequest 触发主动上报
type TriggerMessageRequest struct {
	RequestedMessage string `json:"requestedMessage"`
	Evse             *EVSE  `json:"evse,omitempty"`
}

// TriggerMessageResponse 触发应答
type TriggerMessageResponse struct {
	Status string `json:"status"` // Accepted / Rejected / NotImplemented
}

// UnlockConnectorRequest 解锁枪口
type UnlockConnectorRequest struct {
	EvseID      int `json:"evseId"`
	ConnectorID int `json:"connectorId"`
}

// UnlockConnectorResponse 解锁应答
type UnlockConnectorResponse struct {
	Status string `json:"status"` // Unlocked / UnlockFailed / OngoingAuthorizedTransaction
}

// DataTransferRequest 厂商自定义数据透传
type DataTransferRequest struct {
	VendorID  string `json:"vendorId"`
	MessageID string `json:"messageId,omitempty"`
	Data      string `json:"data,omitempty"`
}

// DataTransferResponse 透传应答
type DataTransferResponse struct {
	Status string `json:"status"`
	Data   string `json:"data,omitempty"`
}
