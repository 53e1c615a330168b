package core

import (
	"fmt"
	"log/slog"
	"os"

	"govcore/internal/matrix"
	"govcore/internal/statemachine"
	"govcore/pkg/domain"
)

// EnvMatrixDir names the directory holding the permission matrix CSV files.
const EnvMatrixDir = "GOVCORE_MATRIX_DIR"

// Bootstrap assembles a production service: blueprint registry, commit-time
// rules, the durable store from the environment, and the permission matrix
// from GOVCORE_MATRIX_DIR. With no matrix directory the engine runs with an
// empty matrix, which denies every edit.
func Bootstrap(options ...Option) (*Service, func() error, error) {
	registry := statemachine.NewRegistry()
	if err := RegisterBlueprints(registry); err != nil {
		return nil, nil, fmt.Errorf("register blueprints: %w", err)
	}
	engine := domain.NewRulesEngine()
	engine.Register(NewLifecycleRule(registry))

	store, closer, err := OpenPersistentStore(engine)
	if err != nil {
		return nil, nil, err
	}

	compiled := matrix.NewMatrix()
	if dir := os.Getenv(EnvMatrixDir); dir != "" {
		compiled, err = matrix.LoadDir(dir)
		if err != nil {
			closer()
			return nil, nil, fmt.Errorf("load permission matrix: %w", err)
		}
	} else {
		slog.Warn("no permission matrix configured, all edits will be denied", "env", EnvMatrixDir)
	}

	svc := NewService(store, registry, matrix.NewDecider(compiled), options...)
	return svc, closer, nil
}
