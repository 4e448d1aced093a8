// Package backend builds the configured ledger store.
package backend

import (
	"context"

	"cashbook/internal/ports"
)

// CleanupFunc releases resources held by a backend.
type CleanupFunc func() error

// PingFunc reports whether the backend is reachable.
type PingFunc func(ctx context.Context) error

// BackendResult is a ready store plus its lifecycle hooks. Ping and Cleanup
// are never nil.
type BackendResult struct {
	Store   ports.Store
	Ping    PingFunc
	Cleanup CleanupFunc
}

// Factory creates stores from configuration.
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds what any backend may need.
type Config struct {
	Type BackendType

	// sqlite
	SQLiteDBPath string

	// supabase
	SupabaseURL string
	SupabaseKey string

	// memory
	DataDirectory string
}

// BackendType names a store implementation.
type BackendType string

const (
	SQLiteBackend   BackendType = "sqlite"
	SupabaseBackend BackendType = "supabase"
	MemoryBackend   BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, SupabaseBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
