package ocpp

import (
	"errors"
	"fmt"
)

// OCPP 标准 CALLERROR 错误码（两个版本共用的子集）
const (
	ErrCodeNotSupported       = "NotSupported"
	ErrCodeNotImplemented     = "NotImplemented"
	ErrCodeProtocolError      = "ProtocolError"
	ErrCodeFormationViolation = "FormationViolation"
	ErrCodeInternalError      = "InternalError"
	ErrCodeGenericError       = "GenericError"
)

// CallError 对端返回的 CALLERROR，或本地准备回发的错误应答
type CallError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *CallError) Error() string {
	return fmt.Sprintf("ocpp: call error %s: %s", e.Code, e.Description)
}

// NewCallError 构造 CALLERROR
func NewCallError(code, format string, args ...any) *CallError {
	return &CallError{Code: code, Description: fmt.Sprintf(format, args...)}
}

var (
	// ErrCallTimeout 出站 CALL 在配置窗口内未收到应答，本地合成的超时错误
	ErrCallTimeout = errors.New("ocpp: call timeout")
	// ErrNotOperational 在非可用状态发起协议调用
	ErrNotOperational = errors.New("ocpp: endpoint not operational")
	// ErrAborted 连接断开导致在途调用被终止
	ErrAborted = errors.New("ocpp: call aborted by disconnect")
)
