package v16

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/CaiserSz/simisimiocpp-sub002/internal/ocpp"
)

// Client OCPP 1.6J 站点侧客户端
type Client struct {
	*ocpp.Base
	ctrl ocpp.Controller
}

var _ ocpp.Client = (*Client)(nil)

// New 创建 1.6J 客户端并安装远程命令分发
func New(cfg ocpp.Config, deps ocpp.Deps, ctrl ocpp.Controller) *Client {
	c := &Client{
		Base: ocpp.NewBase(ocpp.V16, cfg, deps),
		ctrl: ctrl,
	}
	c.SetHandler(c.handleCall)
	return c
}

// SendBootNotification 启动握手；结果记录到生命周期状态机
func (c *Client) SendBootNotification(ctx context.Context) (ocpp.BootResult, error) {
	cfg := c.Config()
	req := BootNotificationRequest{
		ChargePointVendor: cfg.Vendor,
		ChargePointModel:  cfg.Model,
		FirmwareVersion:   cfg.FirmwareVersion,
	}
	var resp BootNotificationResponse
	if err := c.Call(ctx, ActionBootNotification, req, &resp); err != nil {
		return ocpp.BootResult{}, err
	}

	res := ocpp.BootResult{
		Status:   ocpp.RegistrationStatus(resp.Status),
		Interval: time.Duration(resp.Interval) * time.Second,
	}
	if t, err := time.Parse(time.RFC3339, resp.CurrentTime); err == nil {
		res.CSMSTime = t
	}
	c.MarkBooted(res)
	return res, nil
}

// SendHeartbeat 心跳，返回 CSMS 时间
func (c *Client) SendHeartbeat(ctx context.Context) (time.Time, error) {
	var resp HeartbeatResponse
	if err := c.Call(ctx, ActionHeartbeat, HeartbeatRequest{}, &resp); err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, resp.CurrentTime)
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}

// SendStatusNotification 枪口状态通知
func (c *Client) SendStatusNotification(ctx context.Context, connectorID int, status ocpp.ConnectorStatus, errorCode string) error {
	if errorCode == "" {
		errorCode = "NoError"
	}
	req := StatusNotificationRequest{
		ConnectorID: connectorID,
		ErrorCode:   errorCode,
		Status:      wireStatus(status),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	return c.Call(ctx, ActionStatusNotification, req, &StatusNotificationResponse{})
}

// SendMeterValues 电表值上报
func (c *Client) SendMeterValues(ctx context.Context, connectorID int, protocolTxID string, samples []ocpp.MeterSample) error {
	req := MeterValuesRequest{ConnectorID: connectorID}
	if protocolTxID != "" {
		if txID, err := strconv.Atoi(protocolTxID); err == nil {
			req.TransactionID = &txID
		}
	}
	for _, s := range samples {
		mv := MeterValue{
			Timestamp: s.At.UTC().Format(time.RFC3339),
			SampledValue: []SampledValue{
				{Value: strconv.FormatFloat(s.EnergyWh, 'f', 1, 64), Measurand: "Energy.Active.Import.Register", Unit: "Wh"},
				{Value: strconv.FormatFloat(s.PowerW, 'f', 1, 64), Measurand: "Power.Active.Import", Unit: "W"},
				{Value: strconv.FormatFloat(s.SoC, 'f', 1, 64), Measurand: "SoC", Unit: "Percent"},
			},
		}
		if s.TemperatureC != nil {
			mv.SampledValue = append(mv.SampledValue, SampledValue{
				Value: strconv.FormatFloat(*s.TemperatureC, 'f', 1, 64), Measurand: "Temperature", Unit: "Celsius",
			})
		}
		req.MeterValue = append(req.MeterValue, mv)
	}
	return c.Call(ctx, ActionMeterValues, req, &MeterValuesResponse{})
}

// SendStartTransaction 开始交易；1.6J 由 CSMS 分配数字交易 id
func (c *Client) SendStartTransaction(ctx context.Context, req ocpp.StartTxRequest) (ocpp.StartTxResult, error) {
	wire := StartTransactionRequest{
		ConnectorID: req.ConnectorID,
		IDTag:       req.IDTag,
		MeterStart:  int(req.MeterStartWh),
		Timestamp:   req.At.UTC().Format(time.RFC3339),
	}
	var resp StartTransactionResponse
	if err := c.Call(ctx, ActionStartTransaction, wire, &resp); err != nil {
		return ocpp.StartTxResult{}, err
	}
	return ocpp.StartTxResult{
		Accepted:     resp.IdTagInfo.Status == "Accepted",
		ProtocolTxID: strconv.Itoa(resp.TransactionID),
	}, nil
}

// SendStopTransaction 结束交易
func (c *Client) SendStopTransaction(ctx context.Context, req ocpp.StopTxRequest) error {
	txID, _ := strconv.Atoi(req.ProtocolTxID)
	wire := StopTransactionRequest{
		TransactionID: txID,
		IDTag:         req.IDTag,
		MeterStop:     int(req.MeterStopWh),
		Timestamp:     req.At.UTC().Format(time.RFC3339),
		Reason:        req.Reason,
	}
	return c.Call(ctx, ActionStopTransaction, wire, &StopTransactionResponse{})
}

// handleCall CSMS 下发命令分发；不支持的动作回 NotSupported，不中断连接
func (c *Client) handleCall(action string, payload json.RawMessage) (any, *ocpp.CallError) {
	switch action {
	case ActionRemoteStartTransaction:
		var req RemoteStartTransactionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, ocpp.NewCallError(ocpp.ErrCodeFormationViolation, "decode %s: %v", action, err)
		}
		connectorID := 1
		if req.ConnectorID != nil {
			connectorID = *req.ConnectorID
		}
		if err := c.ctrl.RemoteStartCharging(connectorID, req.IDTag); err != nil {
			return RemoteStartStopResponse{Status: "Rejected"}, nil
		}
		return RemoteStartStopResponse{Status: "Accepted"}, nil

	case ActionRemoteStopTransaction:
		var req RemoteStopTransactionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, ocpp.NewCallError(ocpp.ErrCodeFormationViolation, "decode %s: %v", action, err)
		}
		if err := c.ctrl.RemoteStopCharging(strconv.Itoa(req.TransactionID)); err != nil {
			return RemoteStartStopResponse{Status: "Rejected"}, nil
		}
		return RemoteStartStopResponse{Status: "Accepted"}, nil

	case ActionReset:
		var req ResetRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, ocpp.NewCallError(ocpp.ErrCodeFormationViolation, "decode %s: %v", action, err)
		}
		if err := c.ctrl.Reset(req.Type); err != nil {
			return ResetResponse{Status: "Rejected"}, nil
		}
		return ResetResponse{Status: "Accepted"}, nil

	case ActionChangeAvailability:
		var req ChangeAvailabilityRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, ocpp.NewCallError(ocpp.ErrCodeFormationViolation, "decode %s: %v", action, err)
		}
		if err := c.ctrl.ChangeAvailability(req.ConnectorID, req.Type == "Operative"); err != nil {
			return ChangeAvailabilityResponse{Status: "Rejected"}, nil
		}
		return ChangeAvailabilityResponse{Status: "Accepted"}, nil

	case ActionChangeConfiguration:
		var req ChangeConfigurationRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, ocpp.NewCallError(ocpp.ErrCodeFormationViolation, "decode %s: %v", action, err)
		}
		if err := c.ctrl.SetConfigurationValue(req.Key, req.Value); err != nil {
			return ChangeConfigurationResponse{Status: "Rejected"}, nil
		}
		return ChangeConfigurationResponse{Status: "Accepted"}, nil

	case ActionGetConfiguration:
		var req GetConfigurationRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, ocpp.NewCallError(ocpp.ErrCodeFormationViolation, "decode %s: %v", action, err)
		}
		values := c.ctrl.ConfigurationValues()
		resp := GetConfigurationResponse{}
		keys := req.Key
		if len(keys) == 0 {
			for k := range values {
				keys = append(keys, k)
			}
		}
		for _, k := range keys {
			if v, ok := values[k]; ok {
				resp.ConfigurationKey = append(resp.ConfigurationKey, KeyValue{Key: k, Value: v})
			} else {
				resp.UnknownKey = append(resp.UnknownKey, k)
			}
		}
		return resp, nil

	case ActionTriggerMessage:
		var req TriggerMessageRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, ocpp.NewCallError(ocpp.ErrCodeFormationViolation, "decode %s: %v", action, err)
		}
		connectorID := 0
		if req.ConnectorID != nil {
			connectorID = *req.ConnectorID
		}
		if err := c.ctrl.TriggerMessage(req.RequestedMessage, connectorID); err != nil {
			return TriggerMessageResponse{Status: "Rejected"}, nil
		}
		return TriggerMessageResponse{Status: "Accepted"}, nil

	case ActionUnlockConnector:
		var req UnlockConnectorRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, ocpp.NewCallError(ocpp.ErrCodeFormationViolation, "decode %s: %v", action, err)
		}
		if err := c.ctrl.UnlockConnector(req.ConnectorID); err != nil {
			return UnlockConnectorResponse{Status: "UnlockFailed"}, nil
		}
		return UnlockConnectorResponse{Status: "Unlocked"}, nil

	case ActionDataTransfer:
		var req DataTransferRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, ocpp.NewCallError(ocpp.ErrCodeFormationViolation, "decode %s: %v", action, err)
		}
		return DataTransferResponse{Status: "Accepted"}, nil

	default:
		return nil, ocpp.NewCallError(ocpp.ErrCodeNotSupported, "action %s not supported", action)
	}
}

// wireStatus 引擎通用枪口状态映射到 1.6 线上取值
func wireStatus(s ocpp.ConnectorStatus) string {
	if s == ocpp.ConnectorOccupied {
		return "Charging"
	}
	return string(s)
}
