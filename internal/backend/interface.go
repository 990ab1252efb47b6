// Package backend chooses the store implementation once at startup.
package backend

import (
	"context"

	"stars/internal/amqp"
	"stars/internal/store"
)

// Backend is a store that also tracks ledger exports.
type Backend interface {
	store.Store
	store.ExportTracker
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function.
// Relay is set when a message broker is configured; the caller runs it.
type BackendResult struct {
	Backend Backend
	Relay   *amqp.Relay
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend   BackendType = "memory"
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, PostgresBackend:
		return true
	default:
		return false
	}
}

// Durable reports whether data outlives the process.
func (bt BackendType) Durable() bool {
	return bt == SQLiteBackend || bt == PostgresBackend
}
