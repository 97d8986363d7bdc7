package storage_test

import (
	"testing"

	"github.com/pichain/pichain/storage"
)

func TestChecksummedDBRoundTrips(t *testing.T) {
	db := storage.NewChecksummedDB(storage.NewMemDB())
	if err := db.Put([]byte("k"), []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil || string(got) != "hello" {
		t.Fatalf("Get = %s, %v, want hello, nil", got, err)
	}
}

func TestChecksummedDBDetectsCorruption(t *testing.T) {
	inner := storage.NewMemDB()
	db := storage.NewChecksummedDB(inner)
	if err := db.Put([]byte("k"), []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Corrupt the underlying value directly, bypassing the checksum write.
	if err := inner.Put([]byte("k"), []byte("corrupted")); err != nil {
		t.Fatalf("Put (corrupt): %v", err)
	}

	if _, err := db.Get([]byte("k")); err == nil {
		t.Fatalf("Get must fail once the stored checksum no longer matches the value")
	}
}

func TestChecksummedDBToleratesPreexistingUnsummedData(t *testing.T) {
	inner := storage.NewMemDB()
	// Simulate data written before checksumming was introduced: no sibling
	// checksum key exists at all.
	if err := inner.Put([]byte("legacy"), []byte("value")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	db := storage.NewChecksummedDB(inner)
	got, err := db.Get([]byte("legacy"))
	if err != nil {
		t.Fatalf("Get on pre-existing unsummed data must not error, got %v", err)
	}
	if string(got) != "value" {
		t.Fatalf("Get = %s, want value", got)
	}
}

func TestChecksummedDBBatchWritesSurviveVerification(t *testing.T) {
	db := storage.NewChecksummedDB(storage.NewMemDB())
	b := db.NewBatch()
	b.Put([]byte("a"), []byte("1"))
	b.Put([]byte("b"), []byte("2"))
	if err := b.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	for key, want := range map[string]string{"a": "1", "b": "2"} {
		got, err := db.Get([]byte(key))
		if err != nil {
			t.Fatalf("Get(%q): %v", key, err)
		}
		if string(got) != want {
			t.Fatalf("Get(%q) = %s, want %s", key, got, want)
		}
	}
}

func TestChecksummedDBBatchDeleteRemovesChecksum(t *testing.T) {
	db := storage.NewChecksummedDB(storage.NewMemDB())
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	b := db.NewBatch()
	b.Delete([]byte("k"))
	if err := b.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := db.Get([]byte("k")); err != storage.ErrNotFound {
		t.Fatalf("Get after batch Delete err = %v, want ErrNotFound", err)
	}
}

func TestChecksummedDBDeleteRemovesChecksum(t *testing.T) {
	db := storage.NewChecksummedDB(storage.NewMemDB())
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := db.Get([]byte("k")); err != storage.ErrNotFound {
		t.Fatalf("Get after Delete err = %v, want ErrNotFound", err)
	}
}
