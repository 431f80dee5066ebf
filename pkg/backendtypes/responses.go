package backendtypes

import (
	"time"

	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

// APIResponse is the standard response wrapper
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// HealthResponse for the health endpoint. Status is "healthy" when a token
// request would be admitted, "degraded" otherwise.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// TokenStatusResponse describes every component of the token layer
type TokenStatusResponse struct {
	Health             types.HealthStatus `json:"health"`
	Healthy            bool               `json:"healthy"`
	SignedIn           bool               `json:"signed_in"`
	UserID             string             `json:"user_id,omitempty"`
	Blocked            bool               `json:"blocked"`
	BlockReason        string             `json:"block_reason,omitempty"`
	BlockRemainingSecs int                `json:"block_remaining_seconds,omitempty"`
	ReloadPending      bool               `json:"reload_pending"`
	HealAttempts       int                `json:"heal_attempts"`
	HealSuspendedUntil *time.Time         `json:"heal_suspended_until,omitempty"`
	PurgeRuns          int                `json:"purge_runs"`
	Sync               *SyncStatus        `json:"sync,omitempty"`
}

// SyncStatus mirrors the profile sync coordinator's snapshot
type SyncStatus struct {
	State               string     `json:"state"`
	LastSyncAt          *time.Time `json:"last_sync_at,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	QuotaExceeded       bool       `json:"quota_exceeded"`
	LastError           string     `json:"last_error,omitempty"`
	PeriodSeconds       int        `json:"period_seconds"`
}

// ActionResponse reports the result of a mutating call
type ActionResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}
