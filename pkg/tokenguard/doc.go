// Package tokenguard decides when a token refresh may reach the identity provider
// and what happens after repeated failure.
//
// A Guard combines five cooperating parts over one shared State:
//
//   - Backoff: per-attempt window. Fatal and rate-limited failures double an
//     exponential interval (with jitter, capped at MaxBackoff); transient failures
//     get a short linear window.
//   - CircuitBreaker: trips when the global failure count reaches BreakerThreshold
//     and invokes the credential purge. IsTripped untrips lazily after BreakerTimeout.
//   - Blocker: a coarse veto fed by the network observer. Errors are counted in a
//     rolling window; the block duration grows while it is re-triggered.
//   - Healer: a bounded number of spaced, forced refreshes with a hard timeout.
//   - Purger: wipes every credential tier, clears credential cookies, signs out and
//     arms the breaker and block.
//
// IsBlocked and IsTripped have side effects: they reap expired state. Blocker.Check
// is the variant that reports a required reload without signalling it.
//
// Example:
//
//	guard, err := tokenguard.New(tokenguard.DefaultConfig(), tokenguard.Dependencies{
//		Provider: provider,
//		Session:  session,
//		Tiers:    []tokenguard.CredentialTier{memoryStore, fileStore},
//	})
//	if err != nil {
//		return err
//	}
//	if token := guard.GetTokenSafely(ctx, session.CurrentIdentity(), false); token != nil {
//		// use token
//	}
package tokenguard
