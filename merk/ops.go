package merk

import (
	"bytes"
	"sort"

	"github.com/grovedb/go-grovedb/costs"
)

// OpKind discriminates batch operations.
type OpKind uint8

const (
	// OpPut writes a value; its value hash is the hash of the bytes.
	OpPut OpKind = iota

	// OpPutReference writes a value whose value hash is supplied by the
	// caller (the hash of the referenced record's value).
	OpPutReference

	// OpPutLayered writes a value that commits to a child layer: the value
	// hash covers both the bytes and the child layer's root hash.
	OpPutLayered

	// OpDelete removes the key.
	OpDelete
)

// Op is one operation against a single key.
type Op struct {
	Kind OpKind

	// Value is the record bytes for put operations.
	Value []byte

	// ValueHash is the externally supplied value hash for OpPutReference.
	ValueHash Hash

	// LayeredHash is the child layer root hash for OpPutLayered.
	LayeredHash Hash

	// Sum is the node's own weight in Summed trees.
	Sum int64
}

// BatchEntry pairs a key with its operation.
type BatchEntry struct {
	Key []byte
	Op  Op
}

// Batch is a list of operations sorted strictly ascending by key.
type Batch []BatchEntry

// UpdateFlagsFn fires when an existing record is about to be rewritten. It
// receives the classified storage transition and the old and new value bytes
// and may return replacement bytes (e.g. with rewritten element flags). The
// boolean reports whether the value was changed.
type UpdateFlagsFn func(transition costs.StorageCost, oldValue, newValue []byte) ([]byte, bool, error)

// SplitRemovalFn attributes freed bytes. It receives the removed record's
// value bytes alongside the freed key and value byte counts.
type SplitRemovalFn func(value []byte, removedKeyBytes, removedValueBytes uint32) (costs.StorageRemovedBytes, error)

// validateBatch rejects unsorted or duplicate keys.
func validateBatch(batch Batch) error {
	for i := 1; i < len(batch); i++ {
		switch bytes.Compare(batch[i-1].Key, batch[i].Key) {
		case 0:
			return ErrDuplicateKey
		case 1:
			return ErrUnsortedBatch
		}
	}
	return nil
}

// AuxOp is a caller-metadata write staged alongside a batch and flushed to
// the aux column family at commit.
type AuxOp struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Apply replays a sorted batch against the in-memory tree, fetching pruned
// children as the descent requires and rebalancing on the way back up. The
// tree's hashes are left pending; they settle on the next RootHash or
// Commit.
func (m *Merk) Apply(cost *costs.OperationCost, batch Batch, flagUpdate UpdateFlagsFn) error {
	return m.ApplyWithAux(cost, batch, nil, flagUpdate)
}

// ApplyWithAux is Apply with an additional aux-family batch staged for the
// next commit.
func (m *Merk) ApplyWithAux(cost *costs.OperationCost, batch Batch, aux []AuxOp, flagUpdate UpdateFlagsFn) error {
	if err := validateBatch(batch); err != nil {
		return err
	}
	if len(batch) == 0 {
		m.aux = append(m.aux, aux...)
		return nil
	}
	tree, err := m.applyTo(cost, m.tree, batch, flagUpdate)
	if err != nil {
		return err
	}
	m.tree = tree
	m.aux = append(m.aux, aux...)
	return nil
}

func (m *Merk) applyTo(cost *costs.OperationCost, node *TreeNode, batch Batch, fu UpdateFlagsFn) (*TreeNode, error) {
	if len(batch) == 0 {
		return node, nil
	}
	if node == nil {
		return m.build(cost, batch)
	}

	idx := sort.Search(len(batch), func(i int) bool {
		return bytes.Compare(batch[i].Key, node.key) >= 0
	})
	exact := idx < len(batch) && bytes.Equal(batch[idx].Key, node.key)

	deleteSelf := false
	if exact {
		op := batch[idx].Op
		if op.Kind == OpDelete {
			deleteSelf = true
		} else if err := m.putNode(cost, node, op, fu); err != nil {
			return nil, err
		}
	}

	leftBatch := batch[:idx]
	rightBatch := batch[idx:]
	if exact {
		rightBatch = batch[idx+1:]
	}

	if len(leftBatch) > 0 {
		child, err := m.child(cost, node, true)
		if err != nil {
			return nil, err
		}
		newChild, err := m.applyTo(cost, child, leftBatch, fu)
		if err != nil {
			return nil, err
		}
		node.attach(true, newChild)
	}
	if len(rightBatch) > 0 {
		child, err := m.child(cost, node, false)
		if err != nil {
			return nil, err
		}
		newChild, err := m.applyTo(cost, child, rightBatch, fu)
		if err != nil {
			return nil, err
		}
		node.attach(false, newChild)
	}

	if deleteSelf {
		m.deleted = append(m.deleted, deletedEntry{
			key:         append([]byte{}, node.key...),
			value:       append([]byte{}, node.value...),
			oldValueLen: node.oldValueLen,
			wasStored:   !node.isNew,
		})
		replacement, err := m.removeRoot(cost, node)
		if err != nil {
			return nil, err
		}
		node = replacement
	}
	return m.balance(cost, node)
}

// putNode rewrites an existing node's value, running the flag-update
// callback with the prospective storage transition first.
func (m *Merk) putNode(cost *costs.OperationCost, node *TreeNode, op Op, fu UpdateFlagsFn) error {
	if fu != nil && !node.isNew {
		transition := updateTransition(uint32(len(node.key)), node.oldValueLen, uint32(len(op.Value)))
		replacement, changed, err := fu(transition, node.value, op.Value)
		if err != nil {
			return err
		}
		if changed {
			op.Value = replacement
		}
	}
	node.setValue(cost, op)
	return nil
}

// updateTransition builds the prospective storage cost of rewriting a record
// so flag callbacks can classify it before the write happens.
func updateTransition(keyLen, oldValueLen, newValueLen uint32) costs.StorageCost {
	oldRecord := ValueRecordCost(oldValueLen)
	newRecord := ValueRecordCost(newValueLen)
	switch {
	case newRecord > oldRecord:
		return costs.StorageCost{
			AddedBytes:    newRecord - oldRecord,
			ReplacedBytes: KeyRecordCost(keyLen) + oldRecord + ParentHookCost(keyLen),
			RemovedBytes:  costs.NoStorageRemoval{},
		}
	case newRecord < oldRecord:
		return costs.StorageCost{
			ReplacedBytes: KeyRecordCost(keyLen) + newRecord + ParentHookCost(keyLen),
			RemovedBytes:  costs.BasicStorageRemoval(oldRecord - newRecord),
		}
	default:
		return costs.StorageCost{
			ReplacedBytes: KeyRecordCost(keyLen) + newRecord,
			RemovedBytes:  costs.NoStorageRemoval{},
		}
	}
}

// build constructs a balanced subtree from a sorted batch by mid-splitting.
func (m *Merk) build(cost *costs.OperationCost, batch Batch) (*TreeNode, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	mid := len(batch) / 2
	entry := batch[mid]
	if entry.Op.Kind == OpDelete {
		return nil, ErrKeyNotFound
	}
	node := newTreeNode(cost, entry.Key, entry.Op, m.feature)
	left, err := m.build(cost, batch[:mid])
	if err != nil {
		return nil, err
	}
	right, err := m.build(cost, batch[mid+1:])
	if err != nil {
		return nil, err
	}
	node.attach(true, left)
	node.attach(false, right)
	return node, nil
}

// child materializes the subtree on the given side, fetching it from the
// storage context when the link is a pruned Reference.
func (m *Merk) child(cost *costs.OperationCost, node *TreeNode, left bool) (*TreeNode, error) {
	link := node.childLink(left)
	if link == nil {
		return nil, nil
	}
	if t := link.Tree(); t != nil {
		return t, nil
	}
	ref := link.(*ReferenceLink)
	fetched, err := m.fetchNode(cost, ref.key)
	if err != nil {
		return nil, err
	}
	node.setChildLink(left, &LoadedLink{
		hash:         ref.hash,
		childHeights: ref.childHeights,
		tree:         fetched,
		sum:          ref.sum,
		hasSum:       ref.hasSum,
	})
	return fetched, nil
}

// balance restores the AVL invariant at node, rotating once or twice as
// needed.
func (m *Merk) balance(cost *costs.OperationCost, node *TreeNode) (*TreeNode, error) {
	if node == nil {
		return nil, nil
	}
	bf := node.balanceFactor()
	if bf >= -1 && bf <= 1 {
		return node, nil
	}
	left := bf < 0
	child, err := m.child(cost, node, left)
	if err != nil {
		return nil, err
	}

	// A child leaning the opposite way needs the double rotation; the
	// tie-break (child balance zero) stays single, which yields the smaller
	// resulting height.
	childBf := child.balanceFactor()
	if (left && childBf > 0) || (!left && childBf < 0) {
		rotated, err := m.rotate(cost, child, !left)
		if err != nil {
			return nil, err
		}
		node.attach(left, rotated)
	}
	return m.rotate(cost, node, left)
}

// rotate promotes the child on the given side over node.
func (m *Merk) rotate(cost *costs.OperationCost, node *TreeNode, left bool) (*TreeNode, error) {
	child, err := m.child(cost, node, left)
	if err != nil {
		return nil, err
	}
	node.detach(left)
	grandchild, err := m.child(cost, child, !left)
	if err != nil {
		return nil, err
	}
	child.detach(!left)

	node.attach(left, grandchild)
	node, err = m.balance(cost, node)
	if err != nil {
		return nil, err
	}
	child.attach(!left, node)
	return m.balance(cost, child)
}

// removeRoot detaches node from the tree and returns its replacement: the
// edge node of the taller child promoted into its place.
func (m *Merk) removeRoot(cost *costs.OperationCost, node *TreeNode) (*TreeNode, error) {
	leftH, rightH := node.childHeights()
	if leftH == 0 && rightH == 0 {
		return nil, nil
	}
	promoteLeft := leftH >= rightH
	child, err := m.child(cost, node, promoteLeft)
	if err != nil {
		return nil, err
	}
	other, err := m.child(cost, node, !promoteLeft)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return other, nil
	}
	if other == nil && child.height() == 1 {
		return child, nil
	}

	// Promote the inner edge of the taller child: its rightmost node when
	// promoting from the left, leftmost otherwise.
	edge, rest, err := m.popEdge(cost, child, !promoteLeft)
	if err != nil {
		return nil, err
	}
	edge.attach(promoteLeft, rest)
	edge.attach(!promoteLeft, other)
	return m.balance(cost, edge)
}

// popEdge removes the edge-most node on the given side of the subtree,
// returning it and the rebalanced remainder.
func (m *Merk) popEdge(cost *costs.OperationCost, node *TreeNode, left bool) (*TreeNode, *TreeNode, error) {
	child, err := m.child(cost, node, left)
	if err != nil {
		return nil, nil, err
	}
	if child == nil {
		// node is the edge; the remainder is its other child.
		other, err := m.child(cost, node, !left)
		if err != nil {
			return nil, nil, err
		}
		node.detach(!left)
		return node, other, nil
	}
	edge, rest, err := m.popEdge(cost, child, left)
	if err != nil {
		return nil, nil, err
	}
	node.attach(left, rest)
	balanced, err := m.balance(cost, node)
	if err != nil {
		return nil, nil, err
	}
	return edge, balanced, nil
}
