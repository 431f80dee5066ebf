package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cecil-the-coder/auth-resilience-kit/pkg/backendtypes"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/profilesync"
)

// SyncHandler exposes the profile sync coordinator
type SyncHandler struct {
	sync *profilesync.Coordinator
}

func NewSyncHandler(sync *profilesync.Coordinator) *SyncHandler {
	return &SyncHandler{sync: sync}
}

func (h *SyncHandler) enabled(w http.ResponseWriter, r *http.Request) bool {
	if h.sync == nil {
		SendError(w, r, "SYNC_DISABLED", "Profile sync is not enabled", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// Status handles GET /api/sync
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w, r) {
		return
	}
	SendSuccess(w, r, syncStatus(h.sync.Status()))
}

// Sync handles POST /api/sync. ?force=true heals an invalid token first and
// skips the quota and interval checks.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w, r) {
		return
	}

	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			SendError(w, r, "INVALID_REQUEST", "force must be a boolean", http.StatusBadRequest)
			return
		}
		force = parsed
	}

	var ok bool
	if force {
		ok = h.sync.ForceSync(r.Context())
	} else {
		ok = h.sync.Sync(r.Context(), false)
	}

	status := h.sync.Status()
	msg := "profile synced"
	if !ok {
		msg = "sync skipped or failed"
		if status.LastError != "" {
			msg = status.LastError
		}
	}
	SendSuccess(w, r, backendtypes.ActionResponse{OK: ok, Message: msg})
}

// ResetQuota handles POST /api/sync/reset-quota
func (h *SyncHandler) ResetQuota(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w, r) {
		return
	}
	h.sync.ResetQuotaStatus()
	SendSuccess(w, r, backendtypes.ActionResponse{OK: true, Message: "quota status reset"})
}

func syncStatus(s profilesync.Status) backendtypes.SyncStatus {
	out := backendtypes.SyncStatus{
		State:               string(s.State),
		ConsecutiveFailures: s.ConsecutiveFailures,
		QuotaExceeded:       s.QuotaExceeded,
		LastError:           s.LastError,
		PeriodSeconds:       int(s.Period / time.Second),
	}
	if !s.LastSyncAt.IsZero() {
		t := s.LastSyncAt
		out.LastSyncAt = &t
	}
	if !s.LastSuccessAt.IsZero() {
		t := s.LastSuccessAt
		out.LastSuccessAt = &t
	}
	return out
}
