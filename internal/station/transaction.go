package station

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// TxStatus 交易状态
type TxStatus string

const (
	TxActive    TxStatus = "active"
	TxCompleted TxStatus = "completed"
	TxCancelled TxStatus = "cancelled"
)

// Transaction 单次充电交易。完成后不再变更，只进入历史记录。
type Transaction struct {
	TransactionID string `json:"transactionId"`
	// ProtocolTxID 线上交易标识；1.6J 为 CSMS 分配，2.0.1 与本地一致
	ProtocolTxID   string     `json:"protocolTxId,omitempty"`
	ConnectorID    int        `json:"connectorId"`
	IDTag          string     `json:"idTag"`
	MeterStartWh   float64    `json:"meterStart"`
	MeterStopWh    *float64   `json:"meterStop,omitempty"`
	StartTimestamp time.Time  `json:"startTimestamp"`
	StopTimestamp  *time.Time `json:"stopTimestamp,omitempty"`
	Status         TxStatus   `json:"status"`
}

// newTransactionID 进程内唯一交易标识
func newTransactionID() string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("tx-%d-%s", time.Now().UnixMilli(), hex.EncodeToString(buf))
}

// Duration 交易时长；进行中的交易按当前时间计算
func (t *Transaction) Duration() time.Duration {
	if t.StopTimestamp != nil {
		return t.StopTimestamp.Sub(t.StartTimestamp)
	}
	return time.Since(t.StartTimestamp)
}

// EnergyWh 交易累计电量；未结束返回 0
func (t *Transaction) EnergyWh() float64 {
	if t.MeterStopWh == nil {
		return 0
	}
	return *t.MeterStopWh - t.MeterStartWh
}
