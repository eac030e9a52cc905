// Package storage provides the ordered key-value backend abstraction for the
// grove engine. A Storage wraps any KeyValueStore and exposes prefixed
// per-subtree contexts over four logical column families (main, aux, roots,
// meta), transactions with savepoints, and multi-context batches that commit
// atomically.
package storage

import (
	"encoding/binary"
	"errors"

	"lukechampine.com/blake3"

	"github.com/grovedb/go-grovedb/costs"
)

// PrefixSize is the byte length of a subtree prefix.
const PrefixSize = 32

var (
	// ErrNotFound is returned when a key is absent from the store.
	ErrNotFound = errors.New("storage: not found")

	// ErrTransactionDone is returned when a finished transaction is reused.
	ErrTransactionDone = errors.New("storage: transaction already committed or rolled back")

	// ErrNoSavepoint is returned when rolling back to a savepoint that was
	// never set.
	ErrNoSavepoint = errors.New("storage: no savepoint set")
)

// Column family tags. Every physical key is the one-byte family tag followed
// by the logical key, so four logical keyspaces share one ordered store.
const (
	cfTagMain  = 'd'
	cfTagAux   = 'a'
	cfTagRoots = 'r'
	cfTagMeta  = 'm'
)

// CF identifies one of the four logical column families.
type CF uint8

const (
	CFMain CF = iota
	CFAux
	CFRoots
	CFMeta
)

func (cf CF) tag() byte {
	switch cf {
	case CFMain:
		return cfTagMain
	case CFAux:
		return cfTagAux
	case CFRoots:
		return cfTagRoots
	case CFMeta:
		return cfTagMeta
	default:
		panic("storage: unknown column family")
	}
}

// KeyValueStore is the interface a physical backend must satisfy: an ordered
// byte-key/byte-value store with atomic write batches and prefix iteration.
type KeyValueStore interface {
	// Has retrieves if a key is present in the store.
	Has(key []byte) (bool, error)

	// Get retrieves the given key if it's present. Returns ErrNotFound
	// when absent.
	Get(key []byte) ([]byte, error)

	// Put inserts the given value into the store.
	Put(key, value []byte) error

	// Delete removes the key from the store.
	Delete(key []byte) error

	// NewBatch creates a write batch that applies atomically on Write.
	NewBatch() Batch

	// NewIterator returns an iterator over keys with the given prefix,
	// starting at or after prefix+start, in ascending lexicographic order.
	NewIterator(prefix, start []byte) Iterator

	// Close releases backend resources.
	Close() error
}

// Batch buffers writes for atomic application to the backing store.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	ValueSize() int
	Write() error
	Reset()
}

// Iterator walks key-value pairs in ascending key order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
}

// Storage is the engine-facing storage layer over a KeyValueStore.
type Storage struct {
	db KeyValueStore
}

// New creates a Storage over the given backend.
func New(db KeyValueStore) *Storage {
	return &Storage{db: db}
}

// DB exposes the backing store.
func (s *Storage) DB() KeyValueStore { return s.db }

// Close closes the backing store.
func (s *Storage) Close() error { return s.db.Close() }

// Flush is a hint to persist buffered state. It is a no-op for every
// backend; the in-memory and leveldb backends both write through on batch
// commit.
func (s *Storage) Flush() error { return nil }

// BuildPrefix computes the 32-byte subtree prefix of a path: the BLAKE3-256
// digest of the concatenated segments followed by the segment count and each
// segment length, all little-endian. Including the lengths makes the prefix
// injective over distinct segment vectors: [aa, b] and [a, ab] hash
// differently.
func BuildPrefix(cost *costs.OperationCost, path [][]byte) [PrefixSize]byte {
	var buf []byte
	var lengths []byte
	for _, segment := range path {
		buf = append(buf, segment...)
		lengths = binary.LittleEndian.AppendUint64(lengths, uint64(len(segment)))
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(path)))
	buf = append(buf, lengths...)
	cost.AddHashCalls(1)
	return blake3.Sum256(buf)
}

// StartTransaction begins a new transaction over the backing store.
func (s *Storage) StartTransaction() *Transaction {
	return newTransaction(s.db)
}

// CommitTransaction atomically applies the transaction's staged writes.
func (s *Storage) CommitTransaction(tx *Transaction) error {
	return tx.commit()
}

// RollbackTransaction discards the transaction's staged writes but keeps the
// transaction usable, positioned at its most recent savepoint if one is set.
func (s *Storage) RollbackTransaction(tx *Transaction) error {
	return tx.rollback()
}

// Context returns a storage context bound to the subtree prefix of path.
func (s *Storage) Context(cost *costs.OperationCost, path [][]byte) *Context {
	return s.ContextWithPrefix(BuildPrefix(cost, path))
}

// ContextWithPrefix returns a storage context for an already-computed prefix.
func (s *Storage) ContextWithPrefix(prefix [PrefixSize]byte) *Context {
	return &Context{storage: s, prefix: prefix}
}

// TransactionalContext returns a context whose reads and writes go through
// the given transaction.
func (s *Storage) TransactionalContext(cost *costs.OperationCost, path [][]byte, tx *Transaction) *Context {
	return s.TransactionalContextWithPrefix(BuildPrefix(cost, path), tx)
}

// TransactionalContextWithPrefix is TransactionalContext for a known prefix.
func (s *Storage) TransactionalContextWithPrefix(prefix [PrefixSize]byte, tx *Transaction) *Context {
	return &Context{storage: s, prefix: prefix, tx: tx}
}

// BatchContext returns a context whose writes are buffered into batch.
func (s *Storage) BatchContext(cost *costs.OperationCost, path [][]byte, batch *StorageBatch) *Context {
	return &Context{storage: s, prefix: BuildPrefix(cost, path), batch: batch}
}

// BatchContextWithPrefix is BatchContext for a known prefix.
func (s *Storage) BatchContextWithPrefix(prefix [PrefixSize]byte, batch *StorageBatch) *Context {
	return &Context{storage: s, prefix: prefix, batch: batch}
}

// BatchTransactionalContext returns a context that reads through tx and
// buffers writes into batch.
func (s *Storage) BatchTransactionalContext(cost *costs.OperationCost, path [][]byte, batch *StorageBatch, tx *Transaction) *Context {
	return s.BatchTransactionalContextWithPrefix(BuildPrefix(cost, path), batch, tx)
}

// BatchTransactionalContextWithPrefix is BatchTransactionalContext for a
// known prefix.
func (s *Storage) BatchTransactionalContextWithPrefix(prefix [PrefixSize]byte, batch *StorageBatch, tx *Transaction) *Context {
	return &Context{storage: s, prefix: prefix, batch: batch, tx: tx}
}

func cfKey(cf CF, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = cf.tag()
	copy(out[1:], key)
	return out
}
