package core

import (
	"fmt"
	"os"
	"strings"

	"govcore/internal/infra/persistence/memory"
	"govcore/internal/infra/persistence/postgres"
	"govcore/internal/infra/persistence/sqlite"
	"govcore/pkg/domain"
)

// Environment keys selecting the durable backend.
const (
	EnvPersistenceDriver = "GOVCORE_PERSISTENCE_DRIVER"
	EnvSQLitePath        = "GOVCORE_SQLITE_PATH"
	EnvPostgresDSN       = "GOVCORE_POSTGRES_DSN"
)

// OpenPersistentStore opens the backend named by GOVCORE_PERSISTENCE_DRIVER:
// "sqlite" (the default), "postgres", or "memory". The returned closer flushes
// and releases the backend; callers defer it for the process lifetime.
func OpenPersistentStore(engine *domain.RulesEngine) (domain.PersistentStore, func() error, error) {
	driver := strings.ToLower(strings.TrimSpace(os.Getenv(EnvPersistenceDriver)))
	switch driver {
	case "", "sqlite":
		store, err := sqlite.NewStore(os.Getenv(EnvSQLitePath), engine)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, store.Close, nil
	case "postgres":
		store, err := postgres.NewStore(os.Getenv(EnvPostgresDSN), engine)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, store.Close, nil
	case "memory":
		return memory.NewStore(engine), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown persistence driver %q", driver)
	}
}
