// Package middleware provides the admin server's HTTP middleware: request IDs,
// structured request logging, panic recovery, bearer-key authentication and CORS.
package middleware
