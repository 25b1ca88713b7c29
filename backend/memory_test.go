package backend

import (
	"bytes"
	"errors"
	"testing"

	"github.com/syndtr/goleveldb/leveldb"
)

func TestMemory_GetReportsMissingKeys(t *testing.T) {
	db := NewMemory()
	if _, err := db.Get([]byte("key"), nil); !errors.Is(err, leveldb.ErrNotFound) {
		t.Errorf("missing key should report leveldb.ErrNotFound, got %v", err)
	}
	if exists, err := db.Has([]byte("key"), nil); err != nil || exists {
		t.Errorf("missing key should not exist, got %t, err %v", exists, err)
	}
}

func TestMemory_ValuesCanBeStoredAndRetrieved(t *testing.T) {
	db := NewMemory()
	if err := db.Put([]byte("key"), []byte("value"), nil); err != nil {
		t.Fatalf("failed to put value: %v", err)
	}
	value, err := db.Get([]byte("key"), nil)
	if err != nil {
		t.Fatalf("failed to get value: %v", err)
	}
	if !bytes.Equal(value, []byte("value")) {
		t.Errorf("unexpected value, got %x, want %x", value, []byte("value"))
	}
	if exists, err := db.Has([]byte("key"), nil); err != nil || !exists {
		t.Errorf("stored key should exist, got %t, err %v", exists, err)
	}
}

func TestMemory_ReturnedValuesAreCopies(t *testing.T) {
	db := NewMemory()
	if err := db.Put([]byte("key"), []byte("value"), nil); err != nil {
		t.Fatalf("failed to put value: %v", err)
	}
	value, err := db.Get([]byte("key"), nil)
	if err != nil {
		t.Fatalf("failed to get value: %v", err)
	}
	value[0] = 'X'
	again, err := db.Get([]byte("key"), nil)
	if err != nil {
		t.Fatalf("failed to get value: %v", err)
	}
	if !bytes.Equal(again, []byte("value")) {
		t.Errorf("stored value was aliased by the returned slice, got %x", again)
	}
}

func TestMemory_DeleteRemovesKeys(t *testing.T) {
	db := NewMemory()
	if err := db.Put([]byte("key"), []byte("value"), nil); err != nil {
		t.Fatalf("failed to put value: %v", err)
	}
	if err := db.Delete([]byte("key"), nil); err != nil {
		t.Fatalf("failed to delete value: %v", err)
	}
	if _, err := db.Get([]byte("key"), nil); !errors.Is(err, leveldb.ErrNotFound) {
		t.Errorf("deleted key should be gone, got %v", err)
	}
}

func TestMemory_WriteAppliesAllBatchOperations(t *testing.T) {
	db := NewMemory()
	if err := db.Put([]byte("old"), []byte("1"), nil); err != nil {
		t.Fatalf("failed to put value: %v", err)
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte("a"), []byte("2"))
	batch.Put([]byte("b"), []byte("3"))
	batch.Delete([]byte("old"))
	if err := db.Write(batch, nil); err != nil {
		t.Fatalf("failed to write batch: %v", err)
	}

	if _, err := db.Get([]byte("old"), nil); !errors.Is(err, leveldb.ErrNotFound) {
		t.Errorf("batch delete was not applied, got %v", err)
	}
	for key, want := range map[string]string{"a": "2", "b": "3"} {
		value, err := db.Get([]byte(key), nil)
		if err != nil {
			t.Fatalf("failed to get %s: %v", key, err)
		}
		if string(value) != want {
			t.Errorf("unexpected value of %s, got %s, want %s", key, value, want)
		}
	}
}

func TestMemory_LastWriteOfAKeyInABatchWins(t *testing.T) {
	db := NewMemory()
	batch := new(leveldb.Batch)
	batch.Put([]byte("key"), []byte("first"))
	batch.Delete([]byte("key"))
	batch.Put([]byte("key"), []byte("second"))
	if err := db.Write(batch, nil); err != nil {
		t.Fatalf("failed to write batch: %v", err)
	}
	value, err := db.Get([]byte("key"), nil)
	if err != nil {
		t.Fatalf("failed to get value: %v", err)
	}
	if string(value) != "second" {
		t.Errorf("unexpected value, got %s, want second", value)
	}
}
