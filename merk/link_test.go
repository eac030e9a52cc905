package merk

import (
	"testing"

	"github.com/grovedb/go-grovedb/costs"
)

func testTree(t *testing.T, key, value byte) *TreeNode {
	t.Helper()
	var cost costs.OperationCost
	return newTreeNode(&cost, []byte{key}, Op{Kind: OpPut, Value: []byte{value}}, Basic)
}

func TestLinkStates(t *testing.T) {
	hash := NullHash
	heights := [2]uint8{0, 0}

	reference := Link(&ReferenceLink{hash: hash, childHeights: heights, key: []byte{0}})
	modified := Link(modifiedLinkFromTree(testTree(t, 0, 1)))
	uncommitted := Link(&UncommittedLink{hash: hash, childHeights: heights, tree: testTree(t, 0, 1)})
	loaded := Link(&LoadedLink{hash: hash, childHeights: heights, tree: testTree(t, 0, 1)})

	if reference.Tree() != nil {
		t.Error("reference link must not carry a tree")
	}
	if modified.Tree() == nil || uncommitted.Tree() == nil || loaded.Tree() == nil {
		t.Error("in-memory links must carry their tree")
	}
	for name, l := range map[string]Link{"reference": reference, "uncommitted": uncommitted, "loaded": loaded} {
		if l.Hash() != NullHash {
			t.Errorf("%s: unexpected hash", name)
		}
		if h := linkHeight(l); h != 1 {
			t.Errorf("%s: height got %d, want 1", name, h)
		}
	}
	if _, ok := reference.intoReference().(*ReferenceLink); !ok {
		t.Error("reference into reference must stay a reference")
	}
	if _, ok := loaded.intoReference().(*ReferenceLink); !ok {
		t.Error("loaded link must prune to a reference")
	}
}

func TestModifiedLinkHashPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("hash of a modified link must panic")
		}
	}()
	modifiedLinkFromTree(testTree(t, 0, 1)).Hash()
}

func TestModifiedLinkIntoReferencePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("pruning a modified link must panic")
		}
	}()
	modifiedLinkFromTree(testTree(t, 0, 1)).intoReference()
}

func TestUncommittedLinkIntoReferencePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("pruning an uncommitted link must panic")
		}
	}()
	link := &UncommittedLink{tree: testTree(t, 0, 1)}
	link.intoReference()
}

func TestModifiedLinkPendingHashes(t *testing.T) {
	var cost costs.OperationCost
	parent := newTreeNode(&cost, []byte{5}, Op{Kind: OpPut, Value: []byte{0}}, Basic)
	parent.attach(true, testTree(t, 3, 0))
	link := modifiedLinkFromTree(parent)
	if link.pendingHashes != 2 {
		t.Errorf("pending hashes: got %d, want 2", link.pendingHashes)
	}
}
