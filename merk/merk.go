package merk

import (
	"bytes"
	"errors"

	"github.com/grovedb/go-grovedb/costs"
	"github.com/grovedb/go-grovedb/storage"
)

// RootKeyRecord is the roots-family key under which a tree's root node key
// is tracked.
var RootKeyRecord = []byte("r")

// DefaultPruneDepth keeps the root and its immediate children loaded after a
// commit; deeper nodes are demoted to references.
const DefaultPruneDepth = 1

// Merk is a Merkle-AVL tree bound to a prefixed storage context. Opening a
// Merk loads only the root node; children stay as references until a walk
// needs them. All mutations stage in memory until Commit writes them through
// the context.
type Merk struct {
	tree    *TreeNode
	ctx     *storage.Context
	feature FeatureType

	// PruneDepth is the deepest level kept in memory after a commit.
	PruneDepth int

	deleted       []deletedEntry
	aux           []AuxOp
	storedRootKey []byte
}

type deletedEntry struct {
	key         []byte
	value       []byte
	oldValueLen uint32
	wasStored   bool
}

// Open loads a Merk from the given context. An absent root-key record yields
// an empty tree; otherwise only the root node is fetched.
func Open(cost *costs.OperationCost, ctx *storage.Context, feature FeatureType) (*Merk, error) {
	m := &Merk{ctx: ctx, feature: feature, PruneDepth: DefaultPruneDepth}
	rootKey, err := ctx.GetRoot(cost, RootKeyRecord)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return m, nil
		}
		return nil, err
	}
	root, err := m.fetchNode(cost, rootKey)
	if err != nil {
		return nil, err
	}
	m.tree = root
	m.storedRootKey = append([]byte{}, rootKey...)
	return m, nil
}

// Context returns the storage context the tree is bound to.
func (m *Merk) Context() *storage.Context { return m.ctx }

// SetContext rebinds the tree to a new storage context. The grove layer uses
// this to route a cached tree's writes into the current run's batch.
func (m *Merk) SetContext(ctx *storage.Context) { m.ctx = ctx }

// Feature returns the tree's feature type.
func (m *Merk) Feature() FeatureType { return m.feature }

// fetchNode loads and decodes one node record.
func (m *Merk) fetchNode(cost *costs.OperationCost, key []byte) (*TreeNode, error) {
	data, err := m.ctx.Get(cost, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return decodeNode(key, data)
}

// Get returns the value stored under key, fetching pruned nodes as the
// descent requires.
func (m *Merk) Get(cost *costs.OperationCost, key []byte) ([]byte, error) {
	node, err := m.seek(cost, key)
	if err != nil {
		return nil, err
	}
	return append([]byte{}, node.value...), nil
}

// GetValueHash returns the value hash stored under key.
func (m *Merk) GetValueHash(cost *costs.OperationCost, key []byte) (Hash, error) {
	node, err := m.seek(cost, key)
	if err != nil {
		return NullHash, err
	}
	return node.valueHash, nil
}

// Has reports whether key is present.
func (m *Merk) Has(cost *costs.OperationCost, key []byte) (bool, error) {
	_, err := m.seek(cost, key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *Merk) seek(cost *costs.OperationCost, key []byte) (*TreeNode, error) {
	node := m.tree
	for node != nil {
		cmp := bytes.Compare(key, node.key)
		if cmp == 0 {
			return node, nil
		}
		child, err := m.child(cost, node, cmp < 0)
		if err != nil {
			return nil, err
		}
		node = child
	}
	return nil, ErrKeyNotFound
}

// RootHash settles any pending hashes and returns the root node hash, or
// NullHash for an empty tree.
func (m *Merk) RootHash(cost *costs.OperationCost) Hash {
	if m.tree == nil {
		return NullHash
	}
	m.tree.commitHashes(cost)
	return m.tree.nodeHash
}

// RootKey returns the root node's key, nil for an empty tree.
func (m *Merk) RootKey() []byte {
	if m.tree == nil {
		return nil
	}
	return append([]byte{}, m.tree.key...)
}

// RootSum returns the tree-wide aggregate. The second return is false for
// non-sum trees.
func (m *Merk) RootSum() (int64, bool) {
	if m.feature != Summed {
		return 0, false
	}
	if m.tree == nil {
		return 0, true
	}
	return m.tree.totalSum(), true
}

// IsEmpty reports whether the tree has no stored or staged records.
func (m *Merk) IsEmpty(cost *costs.OperationCost) bool {
	if m.tree != nil {
		return false
	}
	iter := m.ctx.RawIter(cost)
	defer iter.Release()
	return !iter.Next()
}

// Commit settles hashes, writes every staged node through the context,
// prices the byte deltas into cost, and prunes retained nodes past
// PruneDepth to references. Deletions recorded by Apply are issued here,
// with freed bytes attributed through splitRemoval when provided.
func (m *Merk) Commit(cost *costs.OperationCost, splitRemoval SplitRemovalFn) error {
	if m.tree != nil {
		m.tree.commitHashes(cost)
		if err := m.commitNode(cost, m.tree, 0, splitRemoval); err != nil {
			return err
		}
	}

	for _, d := range m.deleted {
		if !d.wasStored {
			continue
		}
		keyLen := uint32(len(d.key))
		removedKeyBytes := KeyRecordCost(keyLen) + ParentHookCost(keyLen)
		removedValueBytes := ValueRecordCost(d.oldValueLen)
		removed := costs.StorageRemovedBytes(costs.BasicStorageRemoval(removedKeyBytes + removedValueBytes))
		if splitRemoval != nil {
			attributed, err := splitRemoval(d.value, removedKeyBytes, removedValueBytes)
			if err != nil {
				return err
			}
			removed = attributed
		}
		cost.AddRemoved(removed)
		if err := m.ctx.Delete(d.key); err != nil {
			return err
		}
	}
	m.deleted = nil

	for _, op := range m.aux {
		if op.Delete {
			if err := m.ctx.DeleteAux(op.Key); err != nil {
				return err
			}
			continue
		}
		if err := m.ctx.PutAux(op.Key, op.Value); err != nil {
			return err
		}
	}
	m.aux = nil

	return m.writeRootKey()
}

func (m *Merk) writeRootKey() error {
	switch {
	case m.tree == nil && m.storedRootKey != nil:
		if err := m.ctx.DeleteRootBookkeeping(RootKeyRecord); err != nil {
			return err
		}
		m.storedRootKey = nil
	case m.tree != nil && !bytes.Equal(m.storedRootKey, m.tree.key):
		if err := m.ctx.PutRootBookkeeping(RootKeyRecord, m.tree.key); err != nil {
			return err
		}
		m.storedRootKey = append([]byte{}, m.tree.key...)
	}
	return nil
}

// commitNode writes the subtree rooted at n post-order, then applies the
// pruning policy to its links.
func (m *Merk) commitNode(cost *costs.OperationCost, n *TreeNode, depth int, splitRemoval SplitRemovalFn) error {
	for _, left := range []bool{true, false} {
		link := n.childLink(left)
		switch l := link.(type) {
		case *UncommittedLink:
			if err := m.commitNode(cost, l.tree, depth+1, splitRemoval); err != nil {
				return err
			}
			promoted := Link(&LoadedLink{
				hash:         l.hash,
				childHeights: l.childHeights,
				tree:         l.tree,
				sum:          l.sum,
				hasSum:       l.hasSum,
			})
			if depth+1 > m.PruneDepth {
				promoted = promoted.intoReference()
			}
			n.setChildLink(left, promoted)
		case *LoadedLink:
			if depth+1 > m.PruneDepth {
				n.setChildLink(left, l.intoReference())
			}
		case *ModifiedLink:
			panic("merk: commit reached a modified link")
		}
	}

	if !n.toWrite {
		return nil
	}

	keyLen := uint32(len(n.key))
	newRecord := ValueRecordCost(uint32(len(n.value)))
	if n.isNew {
		cost.Storage.AddedBytes += KeyRecordCost(keyLen) + newRecord + ParentHookCost(keyLen)
	} else {
		oldRecord := ValueRecordCost(n.oldValueLen)
		switch {
		case newRecord > oldRecord:
			cost.Storage.AddedBytes += newRecord - oldRecord
			cost.Storage.ReplacedBytes += KeyRecordCost(keyLen) + oldRecord + ParentHookCost(keyLen)
		case newRecord < oldRecord:
			cost.Storage.ReplacedBytes += KeyRecordCost(keyLen) + newRecord + ParentHookCost(keyLen)
			shrunk := costs.StorageRemovedBytes(costs.BasicStorageRemoval(oldRecord - newRecord))
			if splitRemoval != nil {
				attributed, err := splitRemoval(n.value, 0, oldRecord-newRecord)
				if err != nil {
					return err
				}
				shrunk = attributed
			}
			cost.AddRemoved(shrunk)
		default:
			cost.Storage.ReplacedBytes += KeyRecordCost(keyLen) + newRecord
		}
	}

	encoded, err := encodeNode(n)
	if err != nil {
		return err
	}
	if err := m.ctx.Put(n.key, encoded); err != nil {
		return err
	}
	n.toWrite = false
	n.isNew = false
	n.oldValueLen = uint32(len(n.value))
	return nil
}
