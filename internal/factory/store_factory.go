package factory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/phishguard/phishguard/internal/adapters/store"
	"github.com/phishguard/phishguard/internal/config"
	"github.com/phishguard/phishguard/internal/core"
	"go.uber.org/zap"
)

// Stores bundles the three repositories backed by one persistence backend.
type Stores struct {
	Quarantine core.QuarantineRepository
	Incidents  core.IncidentRepository
	Blacklist  core.BlacklistRepository
}

// StoreFactory creates repositories based on configuration
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{cfg: cfg, logger: logger}
}

// CreateStores creates the repositories for the configured backend.
func (f *StoreFactory) CreateStores() (*Stores, error) {
	storeCfg := f.cfg.GetStore()

	switch storeCfg.Type {
	case "memory":
		return &Stores{
			Quarantine: store.NewMemoryQuarantine(f.logger),
			Incidents:  store.NewMemoryIncidents(f.logger),
			Blacklist:  store.NewMemoryBlacklist(f.logger),
		}, nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(storeCfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		db, err := store.OpenSQLite(storeCfg.SQLitePath, f.logger)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Quarantine: store.NewSQLiteQuarantine(db, f.logger),
			Incidents:  store.NewSQLiteIncidents(db, f.logger),
			Blacklist:  store.NewSQLiteBlacklist(db, f.logger),
		}, nil
	case "mysql":
		db, err := store.OpenMySQL(storeCfg.MySQLDSN, f.logger)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Quarantine: store.NewMySQLQuarantine(db, f.logger),
			Incidents:  store.NewMySQLIncidents(db, f.logger),
			Blacklist:  store.NewMySQLBlacklist(db, f.logger),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported store type: %s", core.ErrInvalidConfiguration, storeCfg.Type)
	}
}
