package merk

// Link is a typed reference from a parent node to a child subtree. Exactly
// four states exist:
//
//   - Reference: the child is pruned from memory; only its key, hash and
//     child heights are retained. The child can always be fetched back from
//     the storage context by key.
//   - Modified: the child subtree has been mutated since its last hash
//     computation; its hash is unknown. Hash is undefined here.
//   - Uncommitted: the child subtree is in memory with an up-to-date hash
//     that has not yet been written to storage.
//   - Loaded: the child subtree is in memory, hashed and persisted.
//
// Accessors document which states they accept; calling an accessor on an
// excluded state is a programmer error and panics.
type Link interface {
	// Key returns the key of the referenced subtree's root node.
	Key() []byte

	// Hash returns the referenced subtree's root hash. Panics for Modified
	// links, whose hash has not been recomputed yet.
	Hash() Hash

	// Sum returns the aggregate carried by the referenced subtree, false if
	// the tree is not a sum tree. Panics for Modified links.
	Sum() (int64, bool)

	// ChildHeights returns the heights of the referenced node's two
	// subtrees (not the height of the referenced node itself).
	ChildHeights() (uint8, uint8)

	// Tree returns the in-memory subtree, nil for Reference links.
	Tree() *TreeNode

	// intoReference converts the link to a Reference, dropping the owned
	// subtree. Panics for Modified and Uncommitted links.
	intoReference() Link
}

// linkHeight is the height of the subtree behind a link.
func linkHeight(l Link) uint8 {
	if l == nil {
		return 0
	}
	left, right := l.ChildHeights()
	return 1 + maxU8(left, right)
}

func maxU8(a, b uint8) uint8 {
	if a >= b {
		return a
	}
	return b
}

// ReferenceLink is a pruned child retained by key only.
type ReferenceLink struct {
	hash         Hash
	childHeights [2]uint8
	key          []byte
	sum          int64
	hasSum       bool
}

func (l *ReferenceLink) Key() []byte                   { return l.key }
func (l *ReferenceLink) Hash() Hash                    { return l.hash }
func (l *ReferenceLink) Sum() (int64, bool)            { return l.sum, l.hasSum }
func (l *ReferenceLink) ChildHeights() (uint8, uint8)  { return l.childHeights[0], l.childHeights[1] }
func (l *ReferenceLink) Tree() *TreeNode               { return nil }
func (l *ReferenceLink) intoReference() Link           { return l }

// ModifiedLink holds a mutated subtree whose hash is pending.
type ModifiedLink struct {
	pendingHashes int
	childHeights  [2]uint8
	tree          *TreeNode
}

func (l *ModifiedLink) Key() []byte { return l.tree.key }

func (l *ModifiedLink) Hash() Hash {
	panic("merk: cannot get hash of modified link")
}

func (l *ModifiedLink) Sum() (int64, bool) {
	panic("merk: cannot get sum of modified link")
}

func (l *ModifiedLink) ChildHeights() (uint8, uint8) { return l.childHeights[0], l.childHeights[1] }
func (l *ModifiedLink) Tree() *TreeNode              { return l.tree }

func (l *ModifiedLink) intoReference() Link {
	panic("merk: cannot prune modified link")
}

// UncommittedLink holds a hashed subtree that has not been written yet.
type UncommittedLink struct {
	hash         Hash
	childHeights [2]uint8
	tree         *TreeNode
	sum          int64
	hasSum       bool
}

func (l *UncommittedLink) Key() []byte                  { return l.tree.key }
func (l *UncommittedLink) Hash() Hash                   { return l.hash }
func (l *UncommittedLink) Sum() (int64, bool)           { return l.sum, l.hasSum }
func (l *UncommittedLink) ChildHeights() (uint8, uint8) { return l.childHeights[0], l.childHeights[1] }
func (l *UncommittedLink) Tree() *TreeNode              { return l.tree }

func (l *UncommittedLink) intoReference() Link {
	panic("merk: cannot prune uncommitted link")
}

// LoadedLink holds a persisted subtree retained in memory.
type LoadedLink struct {
	hash         Hash
	childHeights [2]uint8
	tree         *TreeNode
	sum          int64
	hasSum       bool
}

func (l *LoadedLink) Key() []byte                  { return l.tree.key }
func (l *LoadedLink) Hash() Hash                   { return l.hash }
func (l *LoadedLink) Sum() (int64, bool)           { return l.sum, l.hasSum }
func (l *LoadedLink) ChildHeights() (uint8, uint8) { return l.childHeights[0], l.childHeights[1] }
func (l *LoadedLink) Tree() *TreeNode              { return l.tree }

func (l *LoadedLink) intoReference() Link {
	return &ReferenceLink{
		hash:         l.hash,
		childHeights: l.childHeights,
		key:          l.tree.key,
		sum:          l.sum,
		hasSum:       l.hasSum,
	}
}

// modifiedLinkFromTree wraps a mutated subtree, counting the hash
// recomputations it will need.
func modifiedLinkFromTree(t *TreeNode) *ModifiedLink {
	pending := 1
	if ml, ok := t.left.(*ModifiedLink); ok {
		pending += ml.pendingHashes
	}
	if mr, ok := t.right.(*ModifiedLink); ok {
		pending += mr.pendingHashes
	}
	return &ModifiedLink{
		pendingHashes: pending,
		childHeights:  [2]uint8{t.childHeight(true), t.childHeight(false)},
		tree:          t,
	}
}
