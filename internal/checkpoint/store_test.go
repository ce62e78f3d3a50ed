package checkpoint_test

import (
	"context"
	"path/filepath"
	"testing"

	"docket/internal/checkpoint"
	"docket/internal/testsupport"
)

func openStores(t *testing.T) map[string]checkpoint.Store {
	t.Helper()
	return map[string]checkpoint.Store{
		"memory": checkpoint.NewMemoryStore(),
		"sqlite": testsupport.MustOpenStore(t, testsupport.NewConfig(t)),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, ok, err := store.Get(ctx, "absent"); err != nil || ok {
				t.Fatalf("expected miss for absent key, got ok=%v err=%v", ok, err)
			}

			if err := store.Set(ctx, "pipeline:abc", []byte(`{"wave":1}`)); err != nil {
				t.Fatalf("Set returned error: %v", err)
			}
			value, ok, err := store.Get(ctx, "pipeline:abc")
			if err != nil || !ok {
				t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
			}
			if string(value) != `{"wave":1}` {
				t.Fatalf("unexpected value: %s", value)
			}

			if err := store.Set(ctx, "pipeline:abc", []byte(`{"wave":2}`)); err != nil {
				t.Fatalf("Set overwrite returned error: %v", err)
			}
			value, _, err = store.Get(ctx, "pipeline:abc")
			if err != nil {
				t.Fatalf("Get returned error: %v", err)
			}
			if string(value) != `{"wave":2}` {
				t.Fatalf("expected overwrite, got %s", value)
			}

			if err := store.Delete(ctx, "pipeline:abc"); err != nil {
				t.Fatalf("Delete returned error: %v", err)
			}
			if _, ok, _ := store.Get(ctx, "pipeline:abc"); ok {
				t.Fatal("expected key gone after delete")
			}
			if err := store.Delete(ctx, "pipeline:abc"); err != nil {
				t.Fatalf("expected idempotent delete, got %v", err)
			}
		})
	}
}

func TestStoreKeysSorted(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, key := range []string{"zeta", "alpha", "mid"} {
				if err := store.Set(ctx, key, []byte("v")); err != nil {
					t.Fatalf("Set returned error: %v", err)
				}
			}
			keys, err := store.Keys(ctx)
			if err != nil {
				t.Fatalf("Keys returned error: %v", err)
			}
			want := []string{"alpha", "mid", "zeta"}
			if len(keys) != len(want) {
				t.Fatalf("unexpected keys: %v", keys)
			}
			for i := range want {
				if keys[i] != want[i] {
					t.Fatalf("unexpected key order: %v", keys)
				}
			}
		})
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	ctx := context.Background()

	original := []byte("original")
	if err := store.Set(ctx, "k", original); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	original[0] = 'X'

	value, _, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if string(value) != "original" {
		t.Fatalf("expected stored copy unaffected, got %s", value)
	}

	value[0] = 'Y'
	value2, _, _ := store.Get(ctx, "k")
	if string(value2) != "original" {
		t.Fatalf("expected returned copy isolated, got %s", value2)
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	ctx := context.Background()

	store, err := checkpoint.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite returned error: %v", err)
	}
	if err := store.Set(ctx, "pipeline:persist", []byte("state")); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	reopened, err := checkpoint.OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	defer reopened.Close()

	value, ok, err := reopened.Get(ctx, "pipeline:persist")
	if err != nil || !ok {
		t.Fatalf("expected persisted value, got ok=%v err=%v", ok, err)
	}
	if string(value) != "state" {
		t.Fatalf("unexpected value: %s", value)
	}
}
