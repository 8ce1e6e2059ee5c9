package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/larksoftware/xstaradventures/internal/persistence/indexdb"
	"github.com/larksoftware/xstaradventures/internal/persistence/snapshot"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
	"github.com/larksoftware/xstaradventures/internal/sim/world"
)

type runtimeIndex interface {
	world.TickLogger
	Close() error
	Dropped() uint64
	UpsertTuning(scenarioID string, tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
}

// openRuntimeIndex picks the read-model backend from XSA_INDEX_BACKEND
// (sqlite, postgres or none). A nil index with a nil error means indexing
// is off.
func openRuntimeIndex(worldDir string, disableDB bool) (runtimeIndex, string, error) {
	if disableDB {
		return nil, "none", nil
	}

	backend := strings.ToLower(envString("XSA_INDEX_BACKEND", "sqlite"))
	switch backend {
	case "none", "off", "disabled":
		return nil, "none", nil
	case "sqlite":
		dbPath := envString("XSA_INDEX_PATH", filepath.Join(worldDir, "index", "world.sqlite"))
		idx, err := indexdb.OpenSQLite(dbPath)
		if err != nil {
			return nil, backend, err
		}
		return idx, backend, nil
	case "postgres", "postgresql":
		dsn := envString("XSA_INDEX_DSN", "")
		if dsn == "" {
			return nil, backend, fmt.Errorf("XSA_INDEX_BACKEND=%s but XSA_INDEX_DSN is empty", backend)
		}
		idx, err := indexdb.OpenPostgres(dsn)
		if err != nil {
			return nil, backend, err
		}
		return idx, "postgres", nil
	default:
		return nil, backend, fmt.Errorf("unsupported XSA_INDEX_BACKEND: %s", backend)
	}
}
