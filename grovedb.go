// Package grovedb implements a hierarchical authenticated key-value store:
// a forest of Merk trees composed into a tree of trees. Every non-leaf cell
// of a parent tree either carries a value or opens a nested subtree whose
// state is committed into the parent through a layered value hash, yielding
// one root hash over the entire hierarchy.
package grovedb

import (
	"encoding/binary"
	"errors"

	"github.com/grovedb/go-grovedb/costs"
	"github.com/grovedb/go-grovedb/log"
	"github.com/grovedb/go-grovedb/merk"
	"github.com/grovedb/go-grovedb/storage"
)

// groveVersion is the on-disk format version recorded in the meta family.
// Node encoding changes require a bump.
const groveVersion = 1

var metaVersionKey = []byte("grove_version")

// GroveDB is a single-writer embedded grove database handle.
type GroveDB struct {
	db    storage.KeyValueStore
	store *storage.Storage
	cfg   Config
	log   *log.Logger

	rootPrefix [storage.PrefixSize]byte

	// prefixes caches subtree prefixes per path so repeated addressing of a
	// path hashes only once.
	prefixes map[string][storage.PrefixSize]byte

	// subtrees caches open non-transactional Merk handles by prefix. The
	// handle is owned exclusively by the engine.
	subtrees map[string]*merk.Merk

	rootLeaves *rootLeafRegistry
}

// Open opens a grove over the given backend with default configuration.
func Open(db storage.KeyValueStore) (*GroveDB, error) {
	return OpenWithConfig(db, DefaultConfig())
}

// OpenWithConfig opens a grove with explicit configuration. The engine
// version is checked against the meta family and recorded on first open.
func OpenWithConfig(db storage.KeyValueStore, cfg Config) (*GroveDB, error) {
	if cfg.ReferenceLimit <= 0 {
		cfg.ReferenceLimit = DefaultConfig().ReferenceLimit
	}
	if cfg.PruneDepth <= 0 {
		cfg.PruneDepth = DefaultConfig().PruneDepth
	}
	g := &GroveDB{
		db:       db,
		store:    storage.New(db),
		cfg:      cfg,
		log:      cfg.Logger.Module("grovedb"),
		prefixes: make(map[string][storage.PrefixSize]byte),
		subtrees: make(map[string]*merk.Merk),
	}

	var openCost costs.OperationCost
	g.rootPrefix = storage.BuildPrefix(&openCost, nil)
	g.prefixes[pathCacheKey(nil)] = g.rootPrefix

	if err := g.checkVersion(&openCost); err != nil {
		return nil, err
	}

	registry, err := loadRootLeafRegistry(db, g.rootPrefix)
	if err != nil {
		return nil, err
	}
	g.rootLeaves = registry

	// Open the root merk eagerly; it is the spine of every operation.
	if _, err := g.openCachedMerk(&openCost, nil); err != nil {
		return nil, err
	}
	g.log.Debug("grove opened", "rootLeaves", len(registry.order))
	return g, nil
}

func (g *GroveDB) checkVersion(cost *costs.OperationCost) error {
	ctx := g.store.ContextWithPrefix(g.rootPrefix)
	stored, err := ctx.GetMeta(cost, metaVersionKey)
	if errors.Is(err, storage.ErrNotFound) {
		value := binary.LittleEndian.AppendUint32(nil, groveVersion)
		return wrapStorage(ctx.PutMeta(metaVersionKey, value))
	}
	if err != nil {
		return wrapStorage(err)
	}
	if len(stored) != 4 || binary.LittleEndian.Uint32(stored) != groveVersion {
		return ErrCorruptedData
	}
	return nil
}

// Close releases the backend.
func (g *GroveDB) Close() error { return g.store.Close() }

// Storage exposes the storage layer for callers that manage their own aux
// data.
func (g *GroveDB) Storage() *storage.Storage { return g.store }

// pathCacheKey builds an unambiguous string key for a path: each segment is
// length-prefixed so segment boundaries cannot collide.
func pathCacheKey(path [][]byte) string {
	var buf []byte
	for _, segment := range path {
		buf = binary.AppendUvarint(buf, uint64(len(segment)))
		buf = append(buf, segment...)
	}
	return string(buf)
}

// prefix returns the cached subtree prefix of a path, computing and pricing
// it on first use.
func (g *GroveDB) prefix(cost *costs.OperationCost, path [][]byte) [storage.PrefixSize]byte {
	key := pathCacheKey(path)
	if p, ok := g.prefixes[key]; ok {
		return p
	}
	p := storage.BuildPrefix(cost, path)
	g.prefixes[key] = p
	return p
}

// openCachedMerk returns the non-transactional Merk handle for a path,
// opening and caching it on first use.
func (g *GroveDB) openCachedMerk(cost *costs.OperationCost, path [][]byte) (*merk.Merk, error) {
	prefix := g.prefix(cost, path)
	if m, ok := g.subtrees[string(prefix[:])]; ok {
		return m, nil
	}
	feature, err := g.subtreeFeature(cost, path, nil)
	if err != nil {
		return nil, err
	}
	m, err := merk.Open(cost, g.store.ContextWithPrefix(prefix), feature)
	if err != nil {
		return nil, err
	}
	m.PruneDepth = g.cfg.PruneDepth
	g.subtrees[string(prefix[:])] = m
	return m, nil
}

// subtreeFeature determines whether the subtree at path participates in the
// sum rollup, from the Tree/SumTree element in its parent. The root merk is
// always basic.
func (g *GroveDB) subtreeFeature(cost *costs.OperationCost, path [][]byte, tx *storage.Transaction) (merk.FeatureType, error) {
	if len(path) == 0 {
		return merk.Basic, nil
	}
	parent, key := path[:len(path)-1], path[len(path)-1]
	element, err := g.getElementAt(cost, parent, key, tx)
	if err != nil {
		if errors.Is(err, ErrPathKeyNotFound) || errors.Is(err, ErrPathNotFound) {
			// Subtree being created in this run; the caller knows the kind.
			return merk.Basic, nil
		}
		return merk.Basic, err
	}
	if element.IsSumTree() {
		return merk.Summed, nil
	}
	return merk.Basic, nil
}

// resetCaches drops every cached subtree handle. Called after a failed run
// or a transaction commit, both of which invalidate in-memory state.
func (g *GroveDB) resetCaches() {
	g.subtrees = make(map[string]*merk.Merk)
}

// RootHash returns the grove root hash: the root merk's hash combined with
// the flat merkle over root-leaf keys.
func (g *GroveDB) RootHash() (merk.Hash, costs.OperationCost, error) {
	var cost costs.OperationCost
	rootMerk, err := g.openCachedMerk(&cost, nil)
	if err != nil {
		return merk.NullHash, cost, err
	}
	merkRoot := rootMerk.RootHash(&cost)
	leavesRoot := g.rootLeaves.rootHash(&cost)
	buf := make([]byte, 0, 2*merk.HashLength)
	buf = append(buf, merkRoot[:]...)
	buf = append(buf, leavesRoot[:]...)
	return merk.HashData(&cost, buf), cost, nil
}

// StartTransaction begins a transaction; reads through it see its own prior
// writes, and its writes stay invisible until commit.
func (g *GroveDB) StartTransaction() *storage.Transaction {
	return g.store.StartTransaction()
}

// CommitTransaction atomically applies a transaction. Cached subtree handles
// are dropped since their in-memory state predates the transaction.
func (g *GroveDB) CommitTransaction(tx *storage.Transaction) error {
	if err := g.store.CommitTransaction(tx); err != nil {
		return wrapStorage(err)
	}
	g.resetCaches()
	var cost costs.OperationCost
	registry, err := loadRootLeafRegistry(g.db, g.rootPrefix)
	if err != nil {
		return err
	}
	g.rootLeaves = registry
	if _, err := g.openCachedMerk(&cost, nil); err != nil {
		return err
	}
	return nil
}

// RollbackTransaction undoes a transaction's staged writes back to its most
// recent savepoint, or all of them when none is set; the transaction stays
// usable. Every applied batch sets a savepoint before its writes, so this
// undoes the latest batch. The root-leaf registry is reloaded from storage
// since transactional runs stage their registrations in memory.
func (g *GroveDB) RollbackTransaction(tx *storage.Transaction) error {
	if err := g.store.RollbackTransaction(tx); err != nil {
		return wrapStorage(err)
	}
	registry, err := loadRootLeafRegistry(g.db, g.rootPrefix)
	if err != nil {
		return err
	}
	g.rootLeaves = registry
	return nil
}

// Flush asks the backend to persist buffered state.
func (g *GroveDB) Flush() error { return wrapStorage(g.store.Flush()) }
