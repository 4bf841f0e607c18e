package v201

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/CaiserSz/simisimiocpp-sub002/internal/ocpp"
)

// Client OCPP 2.0.1 站点侧客户端
type Client struct {
	*ocpp.Base
	ctrl ocpp.Controller
	// seqNo TransactionEvent 序号，按站点单调递增
	seqNo atomic.Int64
}

var _ ocpp.Client = (*Client)(nil)

// New 创建 2.0.1 客户端并安装远程命令分发
func New(cfg ocpp.Config, deps ocpp.Deps, ctrl ocpp.Controller) *Client {
	c := &Client{
		Base: ocpp.NewBase(ocpp.V201, cfg, deps),
		ctrl: ctrl,
	}
	c.SetHandler(c.handleCall)
	return c
}

// SendBootNotification 启动握手；2.0.1 携带 reason 与站点对象
func (c *Client) SendBootNotification(ctx context.Context) (ocpp.BootResult, error) {
	cfg := c.Config()
	req := BootNotificationRequest{
		Reason: "PowerUp",
		ChargingStation: ChargingStation{
			Model:           cfg.Model,
			VendorName:      cfg.Vendor,
			FirmwareVersion: cfg.FirmwareVersion,
		},
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

// SendHeartbeat 心跳
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

// SendStatusNotification 枪口状态通知；EVSE 编号与枪口编号一一对应
func (c *Client) SendStatusNotification(ctx context.Context, connectorID int, status ocpp.ConnectorStatus, errorCode string) error {
	req := StatusNotificationRequest{
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		ConnectorStatus: string(status),
		EvseID:          connectorID,
		ConnectorID:     connectorID,
	}
	return c.Call(ctx, ActionStatusNotification, req, &StatusNotificationResponse{})
}

// SendMeterValues 交易中采样走 TransactionEvent(Updated)，交易外走 MeterValues
func (c *Client) SendMeterValues(ctx context.Context, connectorID int, protocolTxID string, samples []ocpp.MeterSample) error {
	values := wireMeterValues(samples)
	if protocolTxID == "" {
		req := MeterValuesRequest{EvseID: connectorID, MeterValue: values}
		return c.Call(ctx, ActionMeterValues, req, &MeterValuesResponse{})
	}

	req := TransactionEventRequest{
		EventType:       "Updated",
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		TriggerReason:   "MeterValuePeriodic",
		SeqNo:           int(c.seqNo.Add(1)),
		TransactionInfo: TransactionInfo{TransactionID: protocolTxID},
		Evse:            &EVSE{ID: connectorID, ConnectorID: connectorID},
		MeterValue:      values,
	}
	return c.Call(ctx, ActionTransactionEvent, req, &TransactionEventResponse{})
}

// SendStartTransaction 交易开始；2.0.1 交易 id 由站点生成并回显
func (c *Client) SendStartTransaction(ctx context.Context, req ocpp.StartTxRequest) (ocpp.StartTxResult, error) {
	wire := TransactionEventRequest{
		EventType:       "Started",
		Timestamp:       req.At.UTC().Format(time.RFC3339),
		TriggerReason:   "Authorized",
		SeqNo:           int(c.seqNo.Add(1)),
		TransactionInfo: TransactionInfo{TransactionID: req.LocalTxID},
		Evse:            &EVSE{ID: req.ConnectorID, ConnectorID: req.ConnectorID},
		IdToken:         &IdToken{IdToken: req.IDTag, Type: "ISO14443"},
		MeterValue: []MeterValue{{
			Timestamp: req.At.UTC().Format(time.RFC3339),
			SampledValue: []SampledValue{{
				Value: req.MeterStartWh, Measurand: "Energy.Active.Import.Register",
				UnitOfMeasure: &UnitOfMeasure{Unit: "Wh"},
			}},
		}},
	}
	var resp TransactionEventResponse
	if err := c.Call(ctx, ActionTransactionEvent, wire, &resp); err != nil {
		return ocpp.StartTxResult{}, err
	}

	accepted := true
	if resp.IdTokenInfo != nil && resp.IdTokenInfo.Status != "Accepted" {
		accepted = false
	}
	return ocpp.StartTxResult{Accepted: accepted, ProtocolTxID: req.LocalTxID}, nil
}

// SendStopTransaction 交易结束
func (c *Client) SendStopTransaction(ctx context.Context, req ocpp.StopTxRequest) error {
	reason := req.Reason
	if reason == "" {
		reason = "Local"
	}
	wire := TransactionEventRequest{
		EventType:     "Ended",
		Timestamp:     req.At.UTC().Format(time.RFC3339),
		TriggerReason: "StopAuthorized",
		SeqNo:         int(c.seqNo.Add(1)),
		TransactionInfo: TransactionInfo{
			TransactionID: req.ProtocolTxID,
			StoppedReason: reason,
		},
		Evse: &EVSE{ID: req.ConnectorID, ConnectorID: req.ConnectorID},
		MeterValue: []MeterValue{{
			Timestamp: req.At.UTC().Format(time.RFC3339),
			SampledValue: []SampledValue{{
				Value: req.MeterStopWh, Measurand: "Energy.Active.Import.Register",
				UnitOfMeasure: &UnitOfMeasure{Unit: "Wh"},
			}},
		}},
	}
	return c.Call(ctx, ActionTransactionEvent, wire, &TransactionEventResponse{})
}

// handleCall CSMS 下发命令分发；不支持的动作回 NotSupported
func (c *Client) handleCall(action string, payload json.RawMessage) (any, *ocpp.CallError) {
	switch action {
	case ActionRequestStartTransaction:
		var req RequestStartTransactionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, ocpp.NewCallError(ocpp.ErrCodeFormationViolation, "decode %s: %v", action, err)
		}
		connectorID := req.EvseID
		if connectorID == 0 {
			connectorID = 1
		}
		if err := c.ctrl.RemoteStartCharging(connectorID, req.IdToken.IdToken); err != nil {
			return RequestStartStopStatusResponse{Status: "Rejected"}, nil
		}
		return RequestStartStopStatusResponse{Status: "Accepted"}, nil

	case ActionRequestStopTransaction:
		var req RequestStopTransactionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, ocpp.NewCallError(ocpp.ErrCodeFormationViolation, "decode %s: %v", action, err)
		}
		if err := c.ctrl.RemoteStopCharging(req.TransactionID); err != nil {
			return RequestStartStopStatusResponse{Status: "Rejected"}, nil
		}
		return RequestStartStopStatusResponse{Status: "Accepted"}, nil

	case ActionReset:
		var req ResetRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, ocpp.NewCallError(ocpp.ErrCodeFormationViolation, "decode %s: %v", action, err)
		}
		if err := c.ctrl.Reset(req.Type); err != nil {
			return ResetResponse{Status: "Rejected"}, nil
		}
		return ResetResponse{Status: "Accepted"}, nil

	case ActionSetVariables:
		var req SetVariablesRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, ocpp.NewCallError(ocpp.ErrCodeFormationViolation, "decode %s: %v", action, err)
		}
		resp := SetVariablesResponse{}
		for _, item := range req.SetVariableData {
			status := "Accepted"
			if err := c.ctrl.SetConfigurationValue(item.Variable.Name, item.AttributeValue); err != nil {
				status = "Rejected"
			}
			resp.SetVariableResult = append(resp.SetVariableResult, SetVariableResult{
				AttributeStatus: status,
				Component:       item.Component,
				Variable:        item.Variable,
			})
		}
		return resp, nil

	case ActionGetVariables:
		var req GetVariablesRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, ocpp.NewCallError(ocpp.ErrCodeFormationViolation, "decode %s: %v", action, err)
		}
		values := c.ctrl.ConfigurationValues()
		resp := GetVariablesResponse{}
		for _, item := range req.GetVariableData {
			result := GetVariableResult{
				AttributeStatus: "UnknownVariable",
				Component:       item.Component,
				Variable:        item.Variable,
			}
			if v, ok := values[item.Variable.Name]; ok {
				result.AttributeStatus = "Accepted"
				result.AttributeValue = v
			}
			resp.GetVariableResult = append(resp.GetVariableResult, result)
		}
		return resp, nil

	case ActionTriggerMessage:
		var req TriggerMessageRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, ocpp.NewCallError(ocpp.ErrCodeFormationViolation, "decode %s: %v", action, err)
		}
		connectorID := 0
		if req.Evse != nil {
			connectorID = req.Evse.ID
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

// wireMeterValues 引擎采样转 2.0.1 线上结构
func wireMeterValues(samples []ocpp.MeterSample) []MeterValue {
	out := make([]MeterValue, 0, len(samples))
	for _, s := range samples {
		mv := MeterValue{
			Timestamp: s.At.UTC().Format(time.RFC3339),
			SampledValue: []SampledValue{
				{Value: s.EnergyWh, Measurand: "Energy.Active.Import.Register", UnitOfMeasure: &UnitOfMeasure{Unit: "Wh"}},
				{Value: s.PowerW, Measurand: "Power.Active.Import", UnitOfMeasure: &UnitOfMeasure{Unit: "W"}},
				{Value: s.SoC, Measurand: "SoC", UnitOfMeasure: &UnitOfMeasure{Unit: "Percent"}},
			},
		}
		if s.TemperatureC != nil {
			mv.SampledValue = append(mv.SampledValue, SampledValue{
				Value: *s.TemperatureC, Measurand: "Temperature", UnitOfMeasure: &UnitOfMeasure{Unit: "Celsius"},
			})
		}
		out = append(out, mv)
	}
	return out
}
