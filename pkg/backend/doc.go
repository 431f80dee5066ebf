// Package backend is the admin HTTP server of authguard.
//
// It exposes the token guard and the profile sync coordinator to operators:
//
//	GET    /health                  liveness and a healthy/degraded summary
//	GET    /api/token/status        every component of the token layer
//	POST   /api/token/heal          one bounded forced refresh
//	POST   /api/token/purge         emergency credential purge ({"consent": true} asks first)
//	POST   /api/block               trigger the global request block
//	DELETE /api/block               clear it
//	GET    /api/sync                profile sync status
//	POST   /api/sync?force=true     run a sync now
//	POST   /api/sync/reset-quota    clear the quota flag and backoff window
//
// Client is the matching client used by the status command.
package backend
