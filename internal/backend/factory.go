package backend

import (
	"context"
	"fmt"

	"ledger/internal/log"
	"ledger/internal/ports"
	"ledger/internal/sheets/google"
	"ledger/internal/storage"
	"ledger/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if config.Audit == "" {
		config.Audit = config.Type
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var res *BackendResult
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		res = &BackendResult{Store: repo, Audit: repo, Cleanup: repo.Close}
	case MemoryBackend:
		store := memory.New()
		f.logger.InfoContext(ctx, "Initialized memory backend")
		res = &BackendResult{Store: store, Audit: store, Cleanup: store.Close}
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}

	if config.Audit == SheetsBackend {
		audit, err := f.createSheetsAudit(ctx, config)
		if err != nil {
			res.Cleanup()
			return nil, err
		}
		res.Audit = audit
	}
	f.logger.InfoContext(ctx, "Audit log backend selected", "audit_backend", config.Audit.String())
	return res, nil
}

func (f *DefaultFactory) createSheetsAudit(ctx context.Context, config Config) (ports.AuditLog, error) {
	sink, err := google.New(ctx, config.Sheets, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets audit sink: %w", err)
	}
	return sink, nil
}
