package station

import (
	"fmt"
	"time"

	"github.com/CaiserSz/simisimiocpp-sub002/internal/config"
)

// HealthStatus 健康分级
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// HealthIssue 单条扣分原因
type HealthIssue struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// Health 站点健康视图。按需重算，从不持久化。
type Health struct {
	StationID string        `json:"stationId"`
	Score     int           `json:"score"`
	Status    HealthStatus  `json:"status"`
	Issues    []HealthIssue `json:"issues"`
	At        time.Time     `json:"at"`
}

// HealthPolicy 评分策略。权重可调，80/40 分级保持从高到低的单调性。
type HealthPolicy struct {
	OfflinePenalty      int
	ErrorPenalty        int
	ErrorPenaltyCap     int
	InconsistentPenalty int
	WarningThreshold    int
	CriticalThreshold   int
	// ErrorWindow 计入扣分的错误时间窗
	ErrorWindow time.Duration
}

// DefaultHealthPolicy 缺省策略
func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{
		OfflinePenalty:      30,
		ErrorPenalty:        5,
		ErrorPenaltyCap:     40,
		InconsistentPenalty: 15,
		WarningThreshold:    80,
		CriticalThreshold:   40,
		ErrorWindow:         15 * time.Minute,
	}
}

// PolicyFromConfig 从配置构造评分策略，非法权重回退缺省值
func PolicyFromConfig(hc config.HealthConfig) HealthPolicy {
	p := DefaultHealthPolicy()
	if hc.OfflinePenalty > 0 {
		p.OfflinePenalty = hc.OfflinePenalty
	}
	if hc.ErrorPenalty > 0 {
		p.ErrorPenalty = hc.ErrorPenalty
	}
	if hc.ErrorPenaltyCap > 0 {
		p.ErrorPenaltyCap = hc.ErrorPenaltyCap
	}
	if hc.InconsistentPenalty > 0 {
		p.InconsistentPenalty = hc.InconsistentPenalty
	}
	if hc.WarningThreshold > 0 && hc.CriticalThreshold > 0 && hc.CriticalThreshold < hc.WarningThreshold {
		p.WarningThreshold = hc.WarningThreshold
		p.CriticalThreshold = hc.CriticalThreshold
	}
	return p
}

// healthInput 一次评分所需的状态快照
type healthInput struct {
	online             bool
	transportConnected bool
	errorCount         int
}

// evaluate 计算健康分。满分 100，逐项扣分并记录结构化原因。
func (p HealthPolicy) evaluate(stationID string, in healthInput) Health {
	now := time.Now()
	h := Health{StationID: stationID, Score: 100, At: now}

	if !in.online {
		h.Score -= p.OfflinePenalty
		h.Issues = append(h.Issues, HealthIssue{
			Type: "offline", Severity: "warning", Timestamp: now,
			Message: "station is not running",
		})
	}

	if in.errorCount > 0 {
		penalty := in.errorCount * p.ErrorPenalty
		if penalty > p.ErrorPenaltyCap {
			penalty = p.ErrorPenaltyCap
		}
		h.Score -= penalty
		h.Issues = append(h.Issues, HealthIssue{
			Type: "errors", Severity: "warning", Timestamp: now,
			Message: recentErrorsMessage(in.errorCount),
		})
	}

	if in.online && !in.transportConnected {
		h.Score -= p.InconsistentPenalty
		h.Issues = append(h.Issues, HealthIssue{
			Type: "inconsistent", Severity: "critical", Timestamp: now,
			Message: "station reports online but protocol connection is down",
		})
	}

	if h.Score < 0 {
		h.Score = 0
	}
	switch {
	case h.Score >= p.WarningThreshold:
		h.Status = HealthHealthy
	case h.Score >= p.CriticalThreshold:
		h.Status = HealthWarning
	default:
		h.Status = HealthCritical
	}
	return h
}

func recentErrorsMessage(n int) string {
	if n == 1 {
		return "1 recent error"
	}
	return fmt.Sprintf("%d recent errors", n)
}
