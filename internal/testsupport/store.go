package testsupport

import (
	"path/filepath"
	"testing"

	"docket/internal/checkpoint"
	"docket/internal/config"
)

// MustOpenStore opens the SQLite checkpoint store backing cfg and registers
// cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *checkpoint.SQLiteStore {
	t.Helper()

	store, err := checkpoint.OpenSQLite(filepath.Join(cfg.Paths.StateDir, "checkpoints.db"))
	if err != nil {
		t.Fatalf("checkpoint.OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
