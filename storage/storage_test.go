package storage

import (
	"bytes"
	"testing"

	"github.com/grovedb/go-grovedb/costs"
)

func TestBuildPrefixInjective(t *testing.T) {
	var cost costs.OperationCost
	// Same concatenation, different segmentation: must hash differently
	// because segment lengths feed the digest.
	a := BuildPrefix(&cost, [][]byte{[]byte("aa"), []byte("b")})
	b := BuildPrefix(&cost, [][]byte{[]byte("a"), []byte("ab")})
	if a == b {
		t.Fatal("prefixes for [aa b] and [a ab] must differ")
	}
	again := BuildPrefix(&cost, [][]byte{[]byte("aa"), []byte("b")})
	if a != again {
		t.Fatal("prefix must be deterministic")
	}
	if cost.HashNodeCalls != 3 {
		t.Errorf("hash calls: got %d, want 3", cost.HashNodeCalls)
	}
}

func TestMemoryDBIterator(t *testing.T) {
	db := NewMemoryDB()
	pairs := map[string]string{
		"pa1": "1", "pa2": "2", "pb1": "3", "qa1": "4",
	}
	for k, v := range pairs {
		if err := db.Put([]byte(k), []byte(v)); err != nil {
			t.Fatal(err)
		}
	}

	iter := db.NewIterator([]byte("p"), nil)
	defer iter.Release()
	var keys []string
	for iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	want := []string{"pa1", "pa2", "pb1"}
	if len(keys) != len(want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got %v, want %v", keys, want)
		}
	}

	// Start position skips earlier keys within the prefix.
	iter2 := db.NewIterator([]byte("p"), []byte("a2"))
	defer iter2.Release()
	keys = nil
	for iter2.Next() {
		keys = append(keys, string(iter2.Key()))
	}
	if len(keys) != 2 || keys[0] != "pa2" || keys[1] != "pb1" {
		t.Fatalf("start-positioned iteration got %v", keys)
	}
}

func TestContextColumnFamilies(t *testing.T) {
	db := NewMemoryDB()
	s := New(db)
	var cost costs.OperationCost
	ctx := s.Context(&cost, [][]byte{[]byte("sub")})

	key := []byte("k")
	if err := ctx.Put(key, []byte("main")); err != nil {
		t.Fatal(err)
	}
	if err := ctx.PutAux(key, []byte("aux")); err != nil {
		t.Fatal(err)
	}
	if err := ctx.PutRoot(key, []byte("root")); err != nil {
		t.Fatal(err)
	}
	if err := ctx.PutMeta(key, []byte("meta")); err != nil {
		t.Fatal(err)
	}

	reads := []struct {
		name string
		get  func(*costs.OperationCost, []byte) ([]byte, error)
		want string
	}{
		{"main", ctx.Get, "main"},
		{"aux", ctx.GetAux, "aux"},
		{"roots", ctx.GetRoot, "root"},
		{"meta", ctx.GetMeta, "meta"},
	}
	for _, r := range reads {
		got, err := r.get(&cost, key)
		if err != nil {
			t.Fatalf("%s: %v", r.name, err)
		}
		if string(got) != r.want {
			t.Errorf("%s: got %q, want %q", r.name, got, r.want)
		}
	}

	if err := ctx.DeleteAux(key); err != nil {
		t.Fatal(err)
	}
	if _, err := ctx.GetAux(&cost, key); err != ErrNotFound {
		t.Errorf("deleted aux key: got %v, want ErrNotFound", err)
	}
	if got, _ := ctx.Get(&cost, key); string(got) != "main" {
		t.Errorf("main family must be untouched by aux delete")
	}
}

func TestContextGetCosts(t *testing.T) {
	db := NewMemoryDB()
	s := New(db)
	var cost costs.OperationCost
	ctx := s.Context(&cost, nil)
	if err := ctx.Put([]byte("k"), []byte("0123456789")); err != nil {
		t.Fatal(err)
	}

	cost = costs.OperationCost{}
	if _, err := ctx.Get(&cost, []byte("k")); err != nil {
		t.Fatal(err)
	}
	if cost.SeekCount != 1 {
		t.Errorf("seek count: got %d, want 1", cost.SeekCount)
	}
	if cost.StorageLoadedBytes != 10 {
		t.Errorf("loaded bytes: got %d, want 10", cost.StorageLoadedBytes)
	}

	cost = costs.OperationCost{}
	if _, err := ctx.Get(&cost, []byte("missing")); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if cost.SeekCount != 1 || cost.StorageLoadedBytes != 0 {
		t.Errorf("miss must cost one seek and no load, got %+v", cost)
	}
}

func TestTransactionReadYourWrites(t *testing.T) {
	db := NewMemoryDB()
	if err := db.Put([]byte("a"), []byte("old")); err != nil {
		t.Fatal(err)
	}
	tx := newTransaction(db)

	if err := tx.put([]byte("a"), []byte("new")); err != nil {
		t.Fatal(err)
	}
	got, err := tx.get([]byte("a"))
	if err != nil || string(got) != "new" {
		t.Fatalf("tx read: got %q, %v", got, err)
	}
	// The base store is untouched until commit.
	base, _ := db.Get([]byte("a"))
	if string(base) != "old" {
		t.Fatalf("base store mutated before commit")
	}

	if err := tx.delete([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := tx.get([]byte("a")); err != ErrNotFound {
		t.Fatalf("staged delete must shadow base, got %v", err)
	}

	if err := tx.commit(); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Get([]byte("a")); err != ErrNotFound {
		t.Fatalf("commit must apply the staged delete, got %v", err)
	}
	if err := tx.put([]byte("b"), []byte("x")); err != ErrTransactionDone {
		t.Fatalf("finished transaction must refuse writes, got %v", err)
	}
}

func TestTransactionSavepoints(t *testing.T) {
	db := NewMemoryDB()
	if err := db.Put([]byte("k"), []byte("base")); err != nil {
		t.Fatal(err)
	}
	tx := newTransaction(db)

	if err := tx.put([]byte("k"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	tx.SetSavepoint()
	if err := tx.put([]byte("k"), []byte("v2")); err != nil {
		t.Fatal(err)
	}
	if err := tx.put([]byte("extra"), []byte("x")); err != nil {
		t.Fatal(err)
	}

	if err := tx.RollbackToSavepoint(); err != nil {
		t.Fatal(err)
	}
	got, err := tx.get([]byte("k"))
	if err != nil || string(got) != "v1" {
		t.Fatalf("after savepoint rollback: got %q, %v", got, err)
	}
	if _, err := tx.get([]byte("extra")); err != ErrNotFound {
		t.Fatalf("write after savepoint must be undone, got %v", err)
	}

	if err := tx.RollbackToSavepoint(); err != ErrNoSavepoint {
		t.Fatalf("second rollback: got %v, want ErrNoSavepoint", err)
	}

	// A rollback returns to the most recent savepoint without finishing
	// the transaction; a commit may still follow.
	tx2 := newTransaction(db)
	if err := tx2.put([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	tx2.SetSavepoint()
	if err := tx2.put([]byte("b"), []byte("2")); err != nil {
		t.Fatal(err)
	}
	if err := tx2.rollback(); err != nil {
		t.Fatal(err)
	}
	if _, err := tx2.get([]byte("b")); err != ErrNotFound {
		t.Fatalf("rolled-back write visible")
	}
	if err := tx2.commit(); err != nil {
		t.Fatal(err)
	}
	if got, _ := db.Get([]byte("a")); string(got) != "1" {
		t.Fatalf("pre-savepoint write lost on commit")
	}
}

func TestTransactionIterator(t *testing.T) {
	db := NewMemoryDB()
	for _, k := range []string{"p1", "p3", "p5"} {
		if err := db.Put([]byte(k), []byte("base")); err != nil {
			t.Fatal(err)
		}
	}
	tx := newTransaction(db)
	if err := tx.put([]byte("p2"), []byte("staged")); err != nil {
		t.Fatal(err)
	}
	if err := tx.put([]byte("p3"), []byte("shadow")); err != nil {
		t.Fatal(err)
	}
	if err := tx.delete([]byte("p5")); err != nil {
		t.Fatal(err)
	}

	iter := tx.newIterator([]byte("p"), nil)
	defer iter.Release()
	var got [][2]string
	for iter.Next() {
		got = append(got, [2]string{string(iter.Key()), string(iter.Value())})
	}
	want := [][2]string{{"p1", "base"}, {"p2", "staged"}, {"p3", "shadow"}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestCommitMultiContextBatch(t *testing.T) {
	db := NewMemoryDB()
	s := New(db)
	var cost costs.OperationCost
	ctx := s.Context(&cost, nil)
	if err := ctx.Put([]byte("victim"), []byte("0123456789")); err != nil {
		t.Fatal(err)
	}

	batch := NewStorageBatch()
	batchCtx := s.BatchContext(&cost, nil, batch)
	if err := batchCtx.Put([]byte("k1"), []byte("value-1")); err != nil {
		t.Fatal(err)
	}
	if err := batchCtx.PutRootBookkeeping([]byte("r"), []byte("k1")); err != nil {
		t.Fatal(err)
	}
	if err := batchCtx.Delete([]byte("victim")); err != nil {
		t.Fatal(err)
	}

	cost = costs.OperationCost{}
	stats, err := s.CommitMultiContextBatch(&cost, batch, nil)
	if err != nil {
		t.Fatal(err)
	}
	// One seek and ten loaded bytes for the delete preread; the bookkeeping
	// record is excluded from the write counter.
	if cost.SeekCount != 1 {
		t.Errorf("seek count: got %d, want 1", cost.SeekCount)
	}
	if cost.StorageLoadedBytes != 10 {
		t.Errorf("loaded bytes: got %d, want 10", cost.StorageLoadedBytes)
	}
	scopedLen := uint32(PrefixSize + 2) // prefix + "k1"
	if want := scopedLen + 7; stats.WrittenBytes != want {
		t.Errorf("written bytes: got %d, want %d", stats.WrittenBytes, want)
	}
	if want := uint32(PrefixSize+6) + 10; stats.FreedBytes != want {
		t.Errorf("freed bytes: got %d, want %d", stats.FreedBytes, want)
	}

	var readCost costs.OperationCost
	readCtx := s.Context(&readCost, nil)
	got, err := readCtx.Get(&readCost, []byte("k1"))
	if err != nil || !bytes.Equal(got, []byte("value-1")) {
		t.Fatalf("committed value: got %q, %v", got, err)
	}
	if _, err := readCtx.Get(&readCost, []byte("victim")); err != ErrNotFound {
		t.Fatalf("victim should be deleted, got %v", err)
	}
}

func TestCommitMultiContextBatchWithTransaction(t *testing.T) {
	db := NewMemoryDB()
	s := New(db)
	var cost costs.OperationCost

	tx := s.StartTransaction()
	batch := NewStorageBatch()
	ctx := s.BatchTransactionalContext(&cost, nil, batch, tx)
	if err := ctx.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CommitMultiContextBatch(&cost, batch, tx); err != nil {
		t.Fatal(err)
	}

	// Staged in the transaction, invisible in the base store.
	if _, err := db.Get(cfKey(CFMain, ctx.scopedKey([]byte("k")))); err != ErrNotFound {
		t.Fatalf("batch leaked to base store before tx commit")
	}
	if err := s.CommitTransaction(tx); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Get(cfKey(CFMain, ctx.scopedKey([]byte("k")))); err != nil {
		t.Fatalf("tx commit lost the batch write: %v", err)
	}
}
