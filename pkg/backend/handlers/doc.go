// Package handlers implements the admin API: health, token layer status and
// control, and profile sync control. Responses use the backendtypes envelope.
package handlers
