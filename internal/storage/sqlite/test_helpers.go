package sqlite

import (
	"context"
	"testing"
)

// newTestStore creates a Store backed by a temp-file database.
//
// File-based databases are more reliable than in-memory ones for connection
// pool scenarios: ":memory:" shares one database across the whole process,
// which causes test interference.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	store, err := New(ctx, t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("Failed to close test database: %v", cerr)
		}
	})

	return store
}
