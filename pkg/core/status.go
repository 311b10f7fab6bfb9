package core

// ServiceStatus is what a plugin reports about its own readiness.
type ServiceStatus string

const (
	StatusHealthy   ServiceStatus = "HEALTHY"
	StatusUnhealthy ServiceStatus = "UNHEALTHY"
	StatusUnknown   ServiceStatus = "UNKNOWN"
	StatusDegraded  ServiceStatus = "DEGRADED" // running, but a feature is switched off
)

func (s ServiceStatus) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusUnknown:
		return 1
	case StatusDegraded:
		return 2
	default:
		return 3
	}
}

// WorstStatus returns the more severe of a and b. Unrecognised values count
// as unhealthy.
func WorstStatus(a, b ServiceStatus) ServiceStatus {
	if b.severity() > a.severity() {
		return b
	}
	return a
}
