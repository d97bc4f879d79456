package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func testDatabase(t *testing.T, db Database) {
	t.Helper()
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	batch := db.NewBatch()
	_ = batch.Put([]byte("a/1"), []byte("one"))
	_ = batch.Put([]byte("a/2"), []byte("two"))
	_ = batch.Put([]byte("b/1"), []byte("other"))
	if ok, _ := db.Has([]byte("a/1")); ok {
		t.Fatalf("batch must not be visible before Write")
	}
	if err := batch.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}
	if v, err := db.Get([]byte("a/2")); err != nil || string(v) != "two" {
		t.Fatalf("unexpected value %q (%v)", v, err)
	}
	if err := db.Delete([]byte("a/1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := db.Has([]byte("a/1")); ok {
		t.Fatalf("deleted key still present")
	}
}

func TestMemDB(t *testing.T) {
	testDatabase(t, NewMemDB())
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "ledger"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	testDatabase(t, db)
}

func TestOverlayCommitAndDiscard(t *testing.T) {
	base := NewMemDB()
	_ = base.Put([]byte("k"), []byte("base"))

	ov := NewOverlay(base)
	_ = ov.Put([]byte("k"), []byte("new"))
	_ = ov.Put([]byte("x"), []byte("1"))
	if v, _ := ov.Get([]byte("k")); string(v) != "new" {
		t.Fatalf("overlay should read its own writes, got %q", v)
	}
	if v, _ := base.Get([]byte("k")); string(v) != "base" {
		t.Fatalf("parent changed before commit: %q", v)
	}
	ov.Discard()
	if v, _ := ov.Get([]byte("k")); string(v) != "base" {
		t.Fatalf("discard should expose parent value, got %q", v)
	}

	_ = ov.Put([]byte("k"), []byte("committed"))
	_ = ov.Delete([]byte("x"))
	if err := ov.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if v, _ := base.Get([]byte("k")); string(v) != "committed" {
		t.Fatalf("commit not applied: %q", v)
	}
	if ov.Dirty() {
		t.Fatalf("overlay should be clean after commit")
	}
}
