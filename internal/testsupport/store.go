package testsupport

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"tomarr/internal/catalog"
)

// MustOpenStore opens a catalog database in a fresh temp directory and
// registers cleanup.
func MustOpenStore(t testing.TB) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(filepath.Join(t.TempDir(), "manga_library.db"))
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// NewLibrary creates a library record rooted at the given directory.
func NewLibrary(t testing.TB, store *catalog.Store, name, root string) *catalog.Library {
	t.Helper()

	var library *catalog.Library
	err := store.WithTx(context.Background(), func(tx *sql.Tx) error {
		var err error
		library, err = store.CreateLibrary(context.Background(), tx, name, root, "")
		return err
	})
	if err != nil {
		t.Fatalf("create library %s: %v", name, err)
	}
	return library
}
