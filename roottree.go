package grovedb

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/grovedb/go-grovedb/costs"
	"github.com/grovedb/go-grovedb/merk"
	"github.com/grovedb/go-grovedb/storage"
)

// registryTag namespaces root-leaf index records within the roots family of
// the root context: 'l' + child subtree prefix -> LE index + leaf key.
const registryTag = 'l'

// rootLeafRegistry tracks the grove's root-level subtrees in registration
// order and maintains the flat merkle over their keys. Indexes are assigned
// monotonically and never reused, so removals leave gaps instead of
// renumbering the records of surviving leaves. Leaf hashes are cached so a
// rebuild only hashes new keys.
type rootLeafRegistry struct {
	order      [][]byte       // leaf keys in ascending index order
	index      map[string]int // leaf key -> index
	nextIndex  int
	leafHashes map[string]merk.Hash
	root       merk.Hash
	rootValid  bool
}

func newRootLeafRegistry() *rootLeafRegistry {
	return &rootLeafRegistry{
		index:      make(map[string]int),
		leafHashes: make(map[string]merk.Hash),
	}
}

// loadRootLeafRegistry reads the registry records back from the roots
// family. The merkle root is left unset; it settles lazily.
func loadRootLeafRegistry(db storage.KeyValueStore, rootPrefix [storage.PrefixSize]byte) (*rootLeafRegistry, error) {
	registry := newRootLeafRegistry()

	physicalPrefix := make([]byte, 0, 2+storage.PrefixSize)
	physicalPrefix = append(physicalPrefix, 'r') // roots family tag
	physicalPrefix = append(physicalPrefix, rootPrefix[:]...)
	physicalPrefix = append(physicalPrefix, registryTag)

	type leafEntry struct {
		index int
		key   []byte
	}
	var entries []leafEntry
	iter := db.NewIterator(physicalPrefix, nil)
	defer iter.Release()
	for iter.Next() {
		value := iter.Value()
		if len(value) < 8 {
			return nil, fmt.Errorf("%w: malformed root leaf record", ErrCorruptedData)
		}
		entries = append(entries, leafEntry{
			index: int(binary.LittleEndian.Uint64(value[:8])),
			key:   append([]byte{}, value[8:]...),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].index < entries[j].index })
	for _, e := range entries {
		registry.order = append(registry.order, e.key)
		registry.index[string(e.key)] = e.index
		registry.nextIndex = e.index + 1
	}
	return registry, nil
}

// has reports whether a leaf key is registered.
func (r *rootLeafRegistry) has(key []byte) bool {
	_, ok := r.index[string(key)]
	return ok
}

// add registers a new leaf key, returning its merkle index.
func (r *rootLeafRegistry) add(key []byte) int {
	if idx, ok := r.index[string(key)]; ok {
		return idx
	}
	idx := r.nextIndex
	r.nextIndex++
	r.order = append(r.order, append([]byte{}, key...))
	r.index[string(key)] = idx
	r.rootValid = false
	return idx
}

// remove unregisters a leaf key. Its index is retired, not reused.
func (r *rootLeafRegistry) remove(key []byte) {
	if _, ok := r.index[string(key)]; !ok {
		return
	}
	for i, k := range r.order {
		if string(k) == string(key) {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	delete(r.index, string(key))
	delete(r.leafHashes, string(key))
	r.rootValid = false
}

// rebuild recomputes the merkle root over the leaf keys, hashing only keys
// whose leaf hash is not cached yet, then one call over the concatenation.
func (r *rootLeafRegistry) rebuild(cost *costs.OperationCost) {
	buf := make([]byte, 0, len(r.order)*merk.HashLength)
	for _, key := range r.order {
		leaf, ok := r.leafHashes[string(key)]
		if !ok {
			leaf = merk.HashData(cost, key)
			r.leafHashes[string(key)] = leaf
		}
		buf = append(buf, leaf[:]...)
	}
	if len(r.order) == 0 {
		r.root = merk.NullHash
	} else {
		r.root = merk.HashData(cost, buf)
	}
	r.rootValid = true
}

// rootHash returns the merkle root, rebuilding it if stale.
func (r *rootLeafRegistry) rootHash(cost *costs.OperationCost) merk.Hash {
	if !r.rootValid {
		r.rebuild(cost)
	}
	return r.root
}

// registryRecord builds the roots-family record for a leaf.
func registryRecord(childPrefix [storage.PrefixSize]byte, index int, key []byte) (recordKey, recordValue []byte) {
	recordKey = append([]byte{registryTag}, childPrefix[:]...)
	recordValue = binary.LittleEndian.AppendUint64(nil, uint64(index))
	recordValue = append(recordValue, key...)
	return recordKey, recordValue
}
