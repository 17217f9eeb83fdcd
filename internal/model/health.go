package model

import "time"

// NodeStatus defines the operational status of a pagedb process
type NodeStatus string

const (
	NodeStatusHealthy   NodeStatus = "healthy"
	NodeStatusDegraded  NodeStatus = "degraded"
	NodeStatusUnhealthy NodeStatus = "unhealthy"
)

// CheckStatus is the outcome of a single health check
type CheckStatus string

const (
	CheckHealthy  CheckStatus = "healthy"
	CheckWarning  CheckStatus = "warning"
	CheckCritical CheckStatus = "critical"
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string      `json:"name"`
	Status    CheckStatus `json:"status"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}

// HealthStatus represents the health state of the process
type HealthStatus struct {
	NodeID    string                 `json:"node_id"`
	Status    NodeStatus             `json:"status"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}
