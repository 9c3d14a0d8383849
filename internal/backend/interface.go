package backend

import (
	"context"

	"ledger/internal/core"
	"ledger/internal/ports"
	"ledger/internal/sheets/google"
)

// Store is the document store plus the category resum used by reconciliation.
// Both the SQLite and in-memory stores satisfy it.
type Store interface {
	ports.Store
	SumByCategory(ctx context.Context, ownerID string, period core.PeriodKey) (map[core.Category]core.Money, error)
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the stores and a cleanup function
type BackendResult struct {
	Store   Store
	Audit   ports.AuditLog
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type         BackendType
	Audit        BackendType
	SQLiteDBPath string
	Sheets       google.Config
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	SheetsBackend BackendType = "sheets"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValidStore reports whether bt can hold ledger documents.
func (bt BackendType) IsValidStore() bool {
	return bt == SQLiteBackend || bt == MemoryBackend
}

// IsValidAudit reports whether bt can receive audit entries.
func (bt BackendType) IsValidAudit() bool {
	return bt == SQLiteBackend || bt == MemoryBackend || bt == SheetsBackend
}
