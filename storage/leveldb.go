package storage

import (
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB is a persistent KeyValueStore backed by goleveldb. It satisfies
// the engine's backend requirement: ordered keys, prefix iteration and
// atomic write batches.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) a leveldb store at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.db.Has(key, nil)
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := l.db.Get(key, nil)
	if err == ldberrors.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) Close() error { return l.db.Close() }

func (l *LevelDB) NewBatch() Batch {
	return &ldbBatch{db: l.db, batch: new(leveldb.Batch)}
}

func (l *LevelDB) NewIterator(prefix, start []byte) Iterator {
	r := util.BytesPrefix(prefix)
	if len(start) > 0 {
		r.Start = append(append([]byte{}, prefix...), start...)
	}
	return &ldbIterator{iter: l.db.NewIterator(r, nil)}
}

// --- Batch ---

type ldbBatch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
	size  int
}

func (b *ldbBatch) Put(key, value []byte) error {
	b.batch.Put(key, value)
	b.size += len(key) + len(value)
	return nil
}

func (b *ldbBatch) Delete(key []byte) error {
	b.batch.Delete(key)
	b.size += len(key)
	return nil
}

func (b *ldbBatch) ValueSize() int { return b.size }

func (b *ldbBatch) Write() error {
	return b.db.Write(b.batch, &opt.WriteOptions{Sync: false})
}

func (b *ldbBatch) Reset() {
	b.batch.Reset()
	b.size = 0
}

// --- Iterator ---

type ldbIterator struct {
	iter iterator.Iterator
}

func (it *ldbIterator) Next() bool { return it.iter.Next() }

// Key returns a copy: goleveldb reuses its key buffer between Next calls.
func (it *ldbIterator) Key() []byte {
	return append([]byte{}, it.iter.Key()...)
}

func (it *ldbIterator) Value() []byte {
	return append([]byte{}, it.iter.Value()...)
}

func (it *ldbIterator) Release() { it.iter.Release() }
