// Package backendtypes defines the configuration and wire types of the admin API.
//
// It is kept apart from pkg/backend so that clients such as the status command
// can decode responses without importing the server.
//
// Every response is wrapped in APIResponse:
//
//	{"success": true, "data": {...}, "request_id": "...", "timestamp": "..."}
//
// and failures carry an APIError with a machine-readable code.
package backendtypes
