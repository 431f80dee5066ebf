package handlers

import (
	"net/http"
	"time"

	"github.com/cecil-the-coder/auth-resilience-kit/pkg/backendtypes"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

// HealthReporter is the part of the token guard the health check reads
type HealthReporter interface {
	HealthStatus() types.HealthStatus
	IsBlocked() bool
}

type HealthHandler struct {
	guard     HealthReporter
	version   string
	startTime time.Time
}

func NewHealthHandler(guard HealthReporter, version string) *HealthHandler {
	return &HealthHandler{
		guard:     guard,
		version:   version,
		startTime: time.Now(),
	}
}

// Health always answers 200 while the process is up; Status says whether token
// requests are currently admitted.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if h.guard != nil && (h.guard.IsBlocked() || !h.guard.HealthStatus().Healthy()) {
		status = "degraded"
	}

	SendSuccess(w, r, backendtypes.HealthResponse{
		Status:  status,
		Version: h.version,
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Version returns version information
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	SendSuccess(w, r, map[string]string{"version": h.version})
}
