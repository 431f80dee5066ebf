package handlers

import (
	"net/http"
	"strings"

	"github.com/cecil-the-coder/auth-resilience-kit/pkg/backendtypes"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/profilesync"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/tokenguard"
)

// TokenHandler exposes the token guard to operators
type TokenHandler struct {
	guard *tokenguard.Guard
	sync  *profilesync.Coordinator // nil when sync is disabled
}

func NewTokenHandler(guard *tokenguard.Guard, sync *profilesync.Coordinator) *TokenHandler {
	return &TokenHandler{guard: guard, sync: sync}
}

// Status handles GET /api/token/status. It reads the block without side
// effects; an expired critical block is reported as a pending reload and is
// left for the guard to signal.
func (h *TokenHandler) Status(w http.ResponseWriter, r *http.Request) {
	health := h.guard.HealthStatus()
	block := h.guard.Blocker().Check()

	resp := backendtypes.TokenStatusResponse{
		Health:        health,
		Healthy:       health.Healthy() && !block.Blocked,
		Blocked:       block.Blocked,
		ReloadPending: block.ReloadRequired,
		HealAttempts:  h.guard.Healer().Attempts(),
		PurgeRuns:     h.guard.Purger().Runs(),
	}
	if block.Blocked {
		resp.BlockReason = h.guard.Blocker().Reason()
		resp.BlockRemainingSecs = int(block.Remaining.Seconds() + 0.5)
	}
	if until := h.guard.Healer().SuspendedUntil(); !until.IsZero() {
		resp.HealSuspendedUntil = &until
	}
	if identity := h.guard.CurrentIdentity(); identity != nil {
		resp.SignedIn = true
		resp.UserID = identity.UserID
	}
	if h.sync != nil {
		status := syncStatus(h.sync.Status())
		resp.Sync = &status
	}

	SendSuccess(w, r, resp)
}

// Heal handles POST /api/token/heal
func (h *TokenHandler) Heal(w http.ResponseWriter, r *http.Request) {
	identity := h.guard.CurrentIdentity()
	if identity == nil {
		SendError(w, r, "NOT_SIGNED_IN", "No identity is signed in", http.StatusConflict)
		return
	}

	healed := h.guard.HealToken(r.Context(), identity)
	msg := "token refreshed"
	if !healed {
		msg = "heal was not attempted or did not succeed, see token status"
	}
	SendSuccess(w, r, backendtypes.ActionResponse{OK: healed, Message: msg})
}

// Purge handles POST /api/token/purge
func (h *TokenHandler) Purge(w http.ResponseWriter, r *http.Request) {
	var req backendtypes.PurgeRequest
	if err := ParseJSON(r, &req); err != nil {
		SendCodedError(w, r, err)
		return
	}

	var ok bool
	if req.Consent {
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			reason = "requested by operator"
		}
		ok = h.guard.ClearCredentialsWithConsent(r.Context(), reason)
	} else {
		ok = h.guard.ClearCredentialsAndSignOut(r.Context())
	}

	msg := "credentials cleared"
	if !ok {
		msg = "purge declined, debounced or incomplete"
	}
	SendSuccess(w, r, backendtypes.ActionResponse{OK: ok, Message: msg})
}

// Block handles POST /api/block
func (h *TokenHandler) Block(w http.ResponseWriter, r *http.Request) {
	var req backendtypes.BlockRequest
	if err := ParseJSON(r, &req); err != nil {
		SendCodedError(w, r, err)
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "blocked by operator"
	}

	h.guard.BlockRequests(reason)
	SendSuccess(w, r, backendtypes.ActionResponse{OK: true, Message: reason})
}

// Unblock handles DELETE /api/block
func (h *TokenHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	h.guard.ResetBlock()
	SendSuccess(w, r, backendtypes.ActionResponse{OK: true, Message: "block cleared"})
}
