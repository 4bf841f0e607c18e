package station

import (
	"github.com/CaiserSz/simisimiocpp-sub002/internal/ocpp"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/vehicle"
)

// Connector 站内单个枪口。弱引用其上的车辆与进行中的交易，
// 电表读数跨交易累计。
type Connector struct {
	ID      int
	Status  ocpp.ConnectorStatus
	Vehicle *vehicle.Vehicle
	Tx      *Transaction
	// MeterWh 枪口累计电表读数
	MeterWh float64

	stopTick func()
}

// ConnectorSnapshot 对外只读的枪口视图
type ConnectorSnapshot struct {
	ID      int                  `json:"connectorId"`
	Status  ocpp.ConnectorStatus `json:"status"`
	MeterWh float64              `json:"meterWh"`
	Vehicle *vehicle.Snapshot    `json:"vehicle,omitempty"`
	Tx      *Transaction         `json:"transaction,omitempty"`
}

func newConnectors(count int) map[int]*Connector {
	m := make(map[int]*Connector, count)
	for i := 1; i <= count; i++ {
		m[i] = &Connector{ID: i, Status: ocpp.ConnectorAvailable}
	}
	return m
}

func (c *Connector) snapshot() ConnectorSnapshot {
	s := ConnectorSnapshot{ID: c.ID, Status: c.Status, MeterWh: c.MeterWh}
	if c.Vehicle != nil {
		v := c.Vehicle.Snapshot()
		s.Vehicle = &v
	}
	if c.Tx != nil {
		tx := *c.Tx
		s.Tx = &tx
	}
	return s
}

// charging 该枪口是否有进行中的交易
func (c *Connector) charging() bool {
	return c.Tx != nil && c.Tx.Status == TxActive
}
