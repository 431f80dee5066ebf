package types

// HealthStatus is a point-in-time snapshot of the token layer
type HealthStatus struct {
	Valid                bool      `json:"valid"`
	InBackoff            bool      `json:"in_backoff"`
	BackoffSeconds       int       `json:"backoff_seconds"`
	LastError            ErrorKind `json:"last_error,omitempty"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	GlobalFailureCount   int       `json:"global_failure_count"`
	CircuitBreakerActive bool      `json:"circuit_breaker_active"`
}

// Healthy reports whether the token layer would admit a request right now
func (h HealthStatus) Healthy() bool {
	return h.Valid && !h.InBackoff && !h.CircuitBreakerActive
}
