package models

import (
	"time"
)

// HealthStatus is the classified outcome of a backend health probe
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "HEALTHY"
	HealthUnhealthy   HealthStatus = "UNHEALTHY"
	HealthUnreachable HealthStatus = "UNREACHABLE"
)

// NamespaceHealth is the probe outcome for one registered namespace
type NamespaceHealth struct {
	Status     HealthStatus `json:"status"`
	URL        string       `json:"url,omitempty"`
	StatusCode int          `json:"statusCode,omitempty"`
	LatencyMs  int64        `json:"latencyMs"`
	Error      string       `json:"error,omitempty"`
	Detail     any          `json:"detail,omitempty"`
}

// HealthSnapshot is the aggregate health of every registered backend at TakenAt
type HealthSnapshot struct {
	PerNamespace map[string]NamespaceHealth `json:"perNamespace"`
	TakenAt      time.Time                  `json:"takenAt"`
}

// Count returns how many namespaces are in the given status
func (s HealthSnapshot) Count(status HealthStatus) int {
	n := 0
	for _, h := range s.PerNamespace {
		if h.Status == status {
			n++
		}
	}
	return n
}

// GatewayHealth represents the gateway's own liveness
type GatewayHealth struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Backends  int       `json:"backends"`
}

// ServiceInfo describes one registered namespace for listing endpoints
type ServiceInfo struct {
	Namespace string `json:"namespace"`
	URL       string `json:"url"`
	InvokeURL string `json:"invokeUrl"`
	HealthURL string `json:"healthUrl"`
	TimeoutMs int64  `json:"timeoutMs"`
}
