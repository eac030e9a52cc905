package storage

import (
	"bytes"
	"testing"
)

func TestLevelDBRoundTrip(t *testing.T) {
	db, err := OpenLevelDB(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := db.Put([]byte("alpha"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	got, err := db.Get([]byte("alpha"))
	if err != nil || !bytes.Equal(got, []byte("1")) {
		t.Fatalf("get: %q, %v", got, err)
	}
	if _, err := db.Get([]byte("missing")); err != ErrNotFound {
		t.Fatalf("missing key: got %v, want ErrNotFound", err)
	}

	batch := db.NewBatch()
	if err := batch.Put([]byte("beta"), []byte("2")); err != nil {
		t.Fatal(err)
	}
	if err := batch.Delete([]byte("alpha")); err != nil {
		t.Fatal(err)
	}
	if err := batch.Write(); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Get([]byte("alpha")); err != ErrNotFound {
		t.Fatalf("batched delete not applied: %v", err)
	}

	if err := db.Put([]byte("b1"), []byte("x")); err != nil {
		t.Fatal(err)
	}
	iter := db.NewIterator([]byte("b"), nil)
	defer iter.Release()
	var keys []string
	for iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	if len(keys) != 2 || keys[0] != "b1" || keys[1] != "beta" {
		t.Fatalf("prefix iteration got %v", keys)
	}
}
