// Package types defines the shared data structures and collaborator interfaces for the
// auth resilience kit. It includes identities and tokens, the error taxonomy used to
// classify token failures, network observations, advisories, and the health snapshot
// exposed to callers.
package types
