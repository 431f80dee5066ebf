package tokenguard

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

// BlockCheck is the result of evaluating the global block
type BlockCheck struct {
	Blocked        bool
	ReloadRequired bool // the block expired while a fatal-class error was flagged
	Remaining      time.Duration
}

// Blocker is the coarse global veto. It can be triggered from the network layer
// without going through token state, and it vetoes all guarded traffic.
type Blocker struct {
	mu       sync.Mutex
	cfg      Config
	logger   *slog.Logger
	sink     types.NotificationSink
	reloader types.Reloader
	failures func() int

	blocked   bool
	blockedAt time.Time
	duration  time.Duration
	reason    string
	critical  bool

	errorWindowCount int
	errorWindowStart time.Time

	expiry *time.Timer
}

// NewBlocker creates a blocker. failures reports the current global failure count,
// which scales the initial block duration.
func NewBlocker(cfg Config, failures func() int, sink types.NotificationSink, reloader types.Reloader, logger *slog.Logger) *Blocker {
	if logger == nil {
		logger = slog.Default()
	}
	if failures == nil {
		failures = func() int { return 0 }
	}
	return &Blocker{
		cfg:      cfg.withDefaults(),
		failures: failures,
		sink:     sink,
		reloader: reloader,
		logger:   logger.With("component", "request_blocker"),
	}
}

// Check evaluates the block without changing it. On an expired block that was
// flagged critical, ReloadRequired reports the reload the next IsBlocked signals.
func (b *Blocker) Check() BlockCheck {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peekLocked()
}

func (b *Blocker) peekLocked() BlockCheck {
	if !b.blocked {
		return BlockCheck{}
	}
	remaining := b.blockedAt.Add(b.duration).Sub(b.cfg.Clock())
	if remaining > 0 {
		return BlockCheck{Blocked: true, Remaining: remaining}
	}
	return BlockCheck{ReloadRequired: b.critical}
}

// expireLocked clears a block whose time is up. The returned check tells the
// caller whether it must signal a reload.
func (b *Blocker) expireLocked() BlockCheck {
	check := b.peekLocked()
	if check.Blocked || !b.blocked {
		return check
	}

	b.blocked = false
	b.critical = false
	b.reason = ""
	b.errorWindowCount = 0
	b.errorWindowStart = time.Time{}
	b.stopTimerLocked()
	b.logger.Info("global block expired", "reload_required", check.ReloadRequired)

	return check
}

// IsBlocked reports whether requests are blocked. When the check finds an expired
// block that was flagged critical, it signals the reloader.
func (b *Blocker) IsBlocked() bool {
	b.mu.Lock()
	check := b.expireLocked()
	b.mu.Unlock()

	if check.ReloadRequired && b.reloader != nil {
		b.reloader.Reload("global block expired after a fatal credential error")
	}
	return check.Blocked
}

// ReportObservedError classifies a message seen by the network layer and counts it
func (b *Blocker) ReportObservedError(message string) {
	b.ReportError(types.ClassifyMessage(message), message)
}

// ReportError counts an error of a known kind in the rolling window. Reaching the
// window threshold, or any fatal error, triggers the block.
func (b *Blocker) ReportError(kind types.ErrorKind, message string) {
	b.countError(kind, message, true)
}

// CountError adds an error to the rolling window without letting a single fatal
// error trigger the block. The fatal flag still marks the block critical.
func (b *Blocker) CountError(kind types.ErrorKind, message string) {
	b.countError(kind, message, false)
}

func (b *Blocker) countError(kind types.ErrorKind, message string, fatalTriggers bool) {
	b.mu.Lock()
	now := b.cfg.Clock()
	if b.errorWindowStart.IsZero() || now.Sub(b.errorWindowStart) > b.cfg.ErrorWindow {
		b.errorWindowStart = now
		b.errorWindowCount = 0
	}
	b.errorWindowCount++
	count := b.errorWindowCount
	if kind == types.KindFatal {
		b.critical = true
	}
	b.mu.Unlock()

	b.logger.Debug("observed error", "kind", kind.String(), "window_count", count, "message", message)

	switch {
	case fatalTriggers && kind == types.KindFatal:
		b.Trigger(fmt.Sprintf("fatal credential error: %s", message))
	case count >= b.cfg.ErrorWindowTrip:
		b.Trigger(fmt.Sprintf("%d errors within %s", count, b.cfg.ErrorWindow))
	}
}

// Critical reports whether a fatal-class error has been seen since the last reset or expiry
func (b *Blocker) Critical() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.critical
}

// Trigger starts the block, or extends it when already active
func (b *Blocker) Trigger(reason string) {
	global := b.failures()

	b.mu.Lock()
	check := b.expireLocked()
	if check.Blocked {
		extended := time.Duration(float64(b.duration) * b.cfg.BlockGrowth)
		if extended > b.cfg.BlockMax {
			extended = b.cfg.BlockMax
		}
		b.duration = extended
		b.scheduleExpiryLocked()
		b.mu.Unlock()

		b.logger.Warn("global block extended", "reason", reason, "duration", extended)
		return
	}

	exp := global - b.cfg.BlockFreeFailures
	if exp < 0 {
		exp = 0
	}
	duration := time.Duration(float64(b.cfg.BlockInitial) * math.Pow(b.cfg.BlockGrowth, float64(exp)))
	if duration > b.cfg.BlockMax || duration <= 0 {
		duration = b.cfg.BlockMax
	}

	b.blocked = true
	b.blockedAt = b.cfg.Clock()
	b.duration = duration
	b.reason = reason
	b.scheduleExpiryLocked()
	b.mu.Unlock()

	if check.ReloadRequired && b.reloader != nil {
		b.reloader.Reload("global block expired after a fatal credential error")
	}

	minutes := int(math.Ceil(duration.Minutes()))
	b.logger.Warn("global block triggered", "reason", reason, "duration", duration, "global_failures", global)
	if b.sink != nil {
		b.sink.Advise(types.Advisory{
			Kind:      types.AdvisoryBlocked,
			Message:   fmt.Sprintf("Sign-in requests are paused for %d minutes: %s", minutes, reason),
			Actions:   []types.Action{types.ActionRetryNow, types.ActionDismiss},
			Remaining: minutes,
		})
	}
}

// scheduleExpiryLocked arranges for IsBlocked to run shortly after the block ends so
// a pending reload is signalled even when nothing else polls the blocker.
func (b *Blocker) scheduleExpiryLocked() {
	b.stopTimerLocked()
	delay := b.blockedAt.Add(b.duration).Sub(b.cfg.Clock()) + b.cfg.BlockExpiryCheckGap
	b.expiry = time.AfterFunc(delay, func() {
		b.IsBlocked()
	})
}

func (b *Blocker) stopTimerLocked() {
	if b.expiry != nil {
		b.expiry.Stop()
		b.expiry = nil
	}
}

// Reason returns the reason for the active block
func (b *Blocker) Reason() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason
}

// Duration returns the length of the current block
func (b *Blocker) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.duration
}

// Reset clears the block, the error window and the critical flag
func (b *Blocker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopTimerLocked()
	b.blocked = false
	b.blockedAt = time.Time{}
	b.duration = 0
	b.reason = ""
	b.critical = false
	b.errorWindowCount = 0
	b.errorWindowStart = time.Time{}
}
