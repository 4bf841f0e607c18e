// Package ocpp 实现站点侧 OCPP 协议核心：JSON 数组帧编解码、
// 出站 CALL 关联与超时、生命周期状态机与重连退避。
// 版本差异（消息模式、启动握手、远程命令集）收敛在 v16 / v201 子包。
package ocpp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType OCPP 帧类型
type MessageType int

const (
	MessageCall       MessageType = 2
	MessageCallResult MessageType = 3
	MessageCallError  MessageType = 4
)

// Frame 解析后的 OCPP 帧
type Frame struct {
	Type             MessageType
	ID               string
	Action           string          // 仅 CALL
	Payload          json.RawMessage // CALL / CALLRESULT
	ErrorCode        string          // 仅 CALLERROR
	ErrorDescription string          // 仅 CALLERROR
	ErrorDetails     json.RawMessage // 仅 CALLERROR
}

var errMalformed = errors.New("ocpp: malformed frame")

// ParseFrame 解码 [type, messageId, ...] 线格式。
// 尽力提取 messageId：入站坏帧需要它来回 CALLERROR。
func ParseFrame(data []byte) (*Frame, error) {
	var array []json.RawMessage
	if err := json.Unmarshal(data, &array); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if len(array) < 3 {
		return nil, errMalformed
	}

	var msgType int
	if err := json.Unmarshal(array[0], &msgType); err != nil {
		return nil, fmt.Errorf("%w: read type: %v", errMalformed, err)
	}

	f := &Frame{Type: MessageType(msgType)}
	if err := json.Unmarshal(array[1], &f.ID); err != nil {
		return nil, fmt.Errorf("%w: read message id: %v", errMalformed, err)
	}

	switch f.Type {
	case MessageCall:
		if len(array) < 4 {
			return f, fmt.Errorf("%w: incomplete CALL", errMalformed)
		}
		if err := json.Unmarshal(array[2], &f.Action); err != nil {
			return f, fmt.Errorf("%w: read action: %v", errMalformed, err)
		}
		f.Payload = array[3]
	case MessageCallResult:
		f.Payload = array[2]
	case MessageCallError:
		if len(array) < 4 {
			return f, fmt.Errorf("%w: incomplete CALLERROR", errMalformed)
		}
		if err := json.Unmarshal(array[2], &f.ErrorCode); err != nil {
			return f, fmt.Errorf("%w: read error code: %v", errMalformed, err)
		}
		if err := json.Unmarshal(array[3], &f.ErrorDescription); err != nil {
			return f, fmt.Errorf("%w: read error description: %v", errMalformed, err)
		}
		if len(array) > 4 {
			f.ErrorDetails = array[4]
		}
	default:
		return f, fmt.Errorf("%w: unsupported message type %d", errMalformed, msgType)
	}
	return f, nil
}

// IsMalformed 判断解析错误是否为坏帧（而非IO错误）
func IsMalformed(err error) bool {
	return errors.Is(err, errMalformed)
}

// BuildCall 构造 [2, id, action, payload] 帧
func BuildCall(id, action string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ocpp: marshal %s payload: %w", action, err)
	}
	return json.Marshal([]any{int(MessageCall), id, action, json.RawMessage(body)})
}

// BuildCallResult 构造 [3, id, payload] 帧
func BuildCallResult(id string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ocpp: marshal call result: %w", err)
	}
	return json.Marshal([]any{int(MessageCallResult), id, json.RawMessage(body)})
}

// BuildCallError 构造 [4, id, code, description, details] 帧
func BuildCallError(id, code, description string) ([]byte, error) {
	return json.Marshal([]any{int(MessageCallError), id, code, description, map[string]string{}})
}
