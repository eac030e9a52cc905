package merk

import (
	"bytes"

	"github.com/grovedb/go-grovedb/costs"
)

// FeatureType selects whether nodes of a tree participate in the sum rollup.
type FeatureType uint8

const (
	// Basic nodes carry no aggregate.
	Basic FeatureType = iota

	// Summed nodes contribute a signed weight aggregated up the tree.
	Summed
)

// TreeNode is one node of a Merk tree: a key-value record plus up to two
// child links. Hash fields are maintained lazily: mutating the value marks
// the key-value hash dirty, mutating the children marks the node hash dirty,
// and the recompute pass settles both post-order.
type TreeNode struct {
	key   []byte
	value []byte

	feature FeatureType
	sum     int64 // own weight (Summed trees only)

	valueHash Hash
	kvHash    Hash
	nodeHash  Hash

	left  Link
	right Link

	kvDirty   bool // kvHash must be recomputed
	hashDirty bool // nodeHash must be recomputed
	toWrite   bool // stored record is stale

	isNew       bool   // no stored record exists yet
	oldValueLen uint32 // stored value length (valid when !isNew)
}

// newTreeNode creates a fresh node from a put operation. The value hash is
// computed eagerly; kv and node hashes settle in the recompute pass.
func newTreeNode(cost *costs.OperationCost, key []byte, op Op, feature FeatureType) *TreeNode {
	n := &TreeNode{
		key:       append([]byte{}, key...),
		feature:   feature,
		isNew:     true,
		toWrite:   true,
		kvDirty:   true,
		hashDirty: true,
	}
	n.setValue(cost, op)
	return n
}

// setValue rewrites the node's value from a put operation and refreshes the
// value hash.
func (n *TreeNode) setValue(cost *costs.OperationCost, op Op) {
	n.value = append([]byte{}, op.Value...)
	if n.feature == Summed {
		n.sum = op.Sum
	}
	switch op.Kind {
	case OpPut:
		n.valueHash = valueHash(cost, n.value)
	case OpPutReference:
		n.valueHash = op.ValueHash
	case OpPutLayered:
		n.valueHash = layeredValueHash(cost, n.value, op.LayeredHash)
	default:
		panic("merk: setValue on non-put op")
	}
	n.kvDirty = true
	n.hashDirty = true
	n.toWrite = true
}

// Key returns the node's key.
func (n *TreeNode) Key() []byte { return n.key }

// Value returns the node's value bytes.
func (n *TreeNode) Value() []byte { return n.value }

// ValueHash returns the node's value hash.
func (n *TreeNode) ValueHash() Hash { return n.valueHash }

func (n *TreeNode) childLink(left bool) Link {
	if left {
		return n.left
	}
	return n.right
}

func (n *TreeNode) setChildLink(left bool, l Link) {
	if left {
		n.left = l
	} else {
		n.right = l
	}
}

// childHeight returns the height of the subtree on the given side, zero when
// absent.
func (n *TreeNode) childHeight(left bool) uint8 {
	return linkHeight(n.childLink(left))
}

// childHeights returns (leftHeight, rightHeight).
func (n *TreeNode) childHeights() (uint8, uint8) {
	return n.childHeight(true), n.childHeight(false)
}

// height is 1 plus the taller child height.
func (n *TreeNode) height() uint8 {
	l, r := n.childHeights()
	return 1 + maxU8(l, r)
}

// balanceFactor is rightHeight - leftHeight.
func (n *TreeNode) balanceFactor() int8 {
	l, r := n.childHeights()
	return int8(r) - int8(l)
}

// attach wraps child in a Modified link on the given side. A nil child
// clears the side.
func (n *TreeNode) attach(left bool, child *TreeNode) {
	if child == nil {
		n.detach(left)
		return
	}
	if bytes.Equal(child.key, n.key) {
		panic("merk: tried to attach tree with same key")
	}
	n.setChildLink(left, modifiedLinkFromTree(child))
	n.hashDirty = true
	n.toWrite = true
}

// detach clears the given side.
func (n *TreeNode) detach(left bool) {
	if n.childLink(left) == nil {
		return
	}
	n.setChildLink(left, nil)
	n.hashDirty = true
	n.toWrite = true
}

func (n *TreeNode) childHash(left bool) Hash {
	l := n.childLink(left)
	if l == nil {
		return NullHash
	}
	return l.Hash()
}

// totalSum returns the node's own weight plus both subtree aggregates.
// Modified links recurse into their in-memory subtrees.
func (n *TreeNode) totalSum() int64 {
	total := n.sum
	for _, l := range []Link{n.left, n.right} {
		if l == nil {
			continue
		}
		if ml, ok := l.(*ModifiedLink); ok {
			total += ml.tree.totalSum()
			continue
		}
		if s, ok := l.Sum(); ok {
			total += s
		}
	}
	return total
}

// commitHashes settles the hash fields of every subtree reachable through
// Modified links, post-order, promoting each settled link to Uncommitted.
func (n *TreeNode) commitHashes(cost *costs.OperationCost) {
	for _, left := range []bool{true, false} {
		ml, ok := n.childLink(left).(*ModifiedLink)
		if !ok {
			continue
		}
		child := ml.tree
		child.commitHashes(cost)
		ml.pendingHashes--
		n.setChildLink(left, &UncommittedLink{
			hash:         child.nodeHash,
			childHeights: ml.childHeights,
			tree:         child,
			sum:          child.totalSum(),
			hasSum:       child.feature == Summed,
		})
	}
	if n.hashDirty {
		if n.kvDirty {
			n.kvHash = kvHash(cost, n.key, n.valueHash)
			n.kvDirty = false
		}
		n.nodeHash = nodeHash(cost, n.kvHash, n.childHash(true), n.childHash(false))
		n.hashDirty = false
	}
}

// verifyBalance walks the in-memory portion of the subtree checking the AVL
// invariant. Used by tests.
func (n *TreeNode) verifyBalance() bool {
	if n == nil {
		return true
	}
	bf := n.balanceFactor()
	if bf < -1 || bf > 1 {
		return false
	}
	for _, l := range []Link{n.left, n.right} {
		if l == nil {
			continue
		}
		if t := l.Tree(); t != nil && !t.verifyBalance() {
			return false
		}
	}
	return true
}
