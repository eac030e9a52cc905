package storage

import (
	"bytes"
	"sort"
	"sync"
)

// txEntry is a staged write. deleted entries shadow the backing store.
type txEntry struct {
	value   []byte
	deleted bool
}

// txOp records one overlay mutation so savepoint rollback can undo it.
// prev is the overlay entry the key had before the mutation, nil if the key
// was untouched in the overlay.
type txOp struct {
	key  string
	prev *txEntry
}

// Transaction stages writes in an in-memory overlay on top of the backing
// store. Reads within the transaction see its own prior writes. Savepoints
// are positions in the mutation log; rolling back to a savepoint undoes the
// mutations recorded after it without finishing the transaction. Commit
// applies the overlay through a single atomic backend batch.
type Transaction struct {
	mu         sync.Mutex
	db         KeyValueStore
	overlay    map[string]txEntry
	log        []txOp
	savepoints []int
	done       bool
}

func newTransaction(db KeyValueStore) *Transaction {
	return &Transaction{
		db:      db,
		overlay: make(map[string]txEntry),
	}
}

func (t *Transaction) get(key []byte) ([]byte, error) {
	t.mu.Lock()
	entry, ok := t.overlay[string(key)]
	t.mu.Unlock()
	if ok {
		if entry.deleted {
			return nil, ErrNotFound
		}
		cp := make([]byte, len(entry.value))
		copy(cp, entry.value)
		return cp, nil
	}
	return t.db.Get(key)
}

func (t *Transaction) record(key string) {
	var prev *txEntry
	if entry, ok := t.overlay[key]; ok {
		cp := entry
		prev = &cp
	}
	t.log = append(t.log, txOp{key: key, prev: prev})
}

func (t *Transaction) put(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTransactionDone
	}
	k := string(key)
	t.record(k)
	cp := make([]byte, len(value))
	copy(cp, value)
	t.overlay[k] = txEntry{value: cp}
	return nil
}

func (t *Transaction) delete(key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTransactionDone
	}
	k := string(key)
	t.record(k)
	t.overlay[k] = txEntry{deleted: true}
	return nil
}

// SetSavepoint marks the current transaction state. A later
// RollbackToSavepoint returns to it.
func (t *Transaction) SetSavepoint() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.savepoints = append(t.savepoints, len(t.log))
}

// RollbackToSavepoint undoes every mutation staged after the most recent
// savepoint and removes that savepoint. The transaction stays usable.
func (t *Transaction) RollbackToSavepoint() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTransactionDone
	}
	if len(t.savepoints) == 0 {
		return ErrNoSavepoint
	}
	mark := t.savepoints[len(t.savepoints)-1]
	t.savepoints = t.savepoints[:len(t.savepoints)-1]
	t.undoTo(mark)
	return nil
}

func (t *Transaction) undoTo(mark int) {
	for i := len(t.log) - 1; i >= mark; i-- {
		op := t.log[i]
		if op.prev == nil {
			delete(t.overlay, op.key)
		} else {
			t.overlay[op.key] = *op.prev
		}
	}
	t.log = t.log[:mark]
}

// rollback discards all staged writes back to the most recent savepoint, or
// everything if none is set. The transaction stays usable, so a commit may
// still follow.
func (t *Transaction) rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTransactionDone
	}
	mark := 0
	if len(t.savepoints) > 0 {
		mark = t.savepoints[len(t.savepoints)-1]
	}
	t.undoTo(mark)
	return nil
}

// commit applies the overlay atomically and finishes the transaction.
func (t *Transaction) commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTransactionDone
	}
	batch := t.db.NewBatch()
	keys := make([]string, 0, len(t.overlay))
	for k := range t.overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		entry := t.overlay[k]
		if entry.deleted {
			if err := batch.Delete([]byte(k)); err != nil {
				return err
			}
		} else if err := batch.Put([]byte(k), entry.value); err != nil {
			return err
		}
	}
	if err := batch.Write(); err != nil {
		return err
	}
	t.done = true
	return nil
}

// newIterator merges the backing store's iterator with the overlay so the
// transaction sees its own staged writes during iteration.
func (t *Transaction) newIterator(prefix, start []byte) Iterator {
	t.mu.Lock()
	var staged []kvPair
	for k, entry := range t.overlay {
		kb := []byte(k)
		if !bytes.HasPrefix(kb, prefix) {
			continue
		}
		if start != nil && bytes.Compare(kb, append(append([]byte{}, prefix...), start...)) < 0 {
			continue
		}
		staged = append(staged, kvPair{key: kb, value: entry.value, deleted: entry.deleted})
	}
	t.mu.Unlock()
	sort.Slice(staged, func(i, j int) bool {
		return bytes.Compare(staged[i].key, staged[j].key) < 0
	})
	return &mergedIterator{
		base:   t.db.NewIterator(prefix, start),
		staged: staged,
	}
}

type kvPair struct {
	key     []byte
	value   []byte
	deleted bool
}

// mergedIterator yields the union of the base iterator and the staged
// overlay entries in key order, with staged entries shadowing base entries
// and staged deletions suppressing them.
type mergedIterator struct {
	base       Iterator
	baseValid  bool
	basePrimed bool
	staged     []kvPair
	stagedPos  int
	key, value []byte
}

func (it *mergedIterator) Next() bool {
	if !it.basePrimed {
		it.baseValid = it.base.Next()
		it.basePrimed = true
	}
	for {
		hasStaged := it.stagedPos < len(it.staged)
		switch {
		case !it.baseValid && !hasStaged:
			return false
		case !it.baseValid:
			entry := it.staged[it.stagedPos]
			it.stagedPos++
			if entry.deleted {
				continue
			}
			it.key, it.value = entry.key, entry.value
			return true
		case !hasStaged:
			it.key, it.value = it.base.Key(), it.base.Value()
			it.baseValid = it.base.Next()
			return true
		}
		entry := it.staged[it.stagedPos]
		cmp := bytes.Compare(entry.key, it.base.Key())
		switch {
		case cmp < 0:
			it.stagedPos++
			if entry.deleted {
				continue
			}
			it.key, it.value = entry.key, entry.value
			return true
		case cmp == 0:
			// Staged entry shadows the base entry.
			it.stagedPos++
			it.baseValid = it.base.Next()
			if entry.deleted {
				continue
			}
			it.key, it.value = entry.key, entry.value
			return true
		default:
			it.key, it.value = it.base.Key(), it.base.Value()
			it.baseValid = it.base.Next()
			return true
		}
	}
}

func (it *mergedIterator) Key() []byte   { return it.key }
func (it *mergedIterator) Value() []byte { return it.value }
func (it *mergedIterator) Release()      { it.base.Release() }
