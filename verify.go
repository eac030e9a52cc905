package grovedb

import (
	"bytes"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/grovedb/go-grovedb/costs"
	"github.com/grovedb/go-grovedb/merk"
	"github.com/grovedb/go-grovedb/storage"
)

// VerifyGrove walks every subtree checking that each Tree element's layered
// value hash matches the current root of the subtree it opens. Root-level
// subtrees are verified in parallel, one worker per root leaf; within a
// subtree the walk is sequential. Returns the list of paths whose embedded
// commitment disagrees with the child's actual root.
func (g *GroveDB) VerifyGrove() ([]string, error) {
	leaves := make([][]byte, len(g.rootLeaves.order))
	copy(leaves, g.rootLeaves.order)

	var mu sync.Mutex
	var bad []string
	var eg errgroup.Group
	for _, leaf := range leaves {
		leaf := leaf
		eg.Go(func() error {
			mismatches, err := g.verifySubtree(nil, leaf)
			if err != nil {
				return err
			}
			mu.Lock()
			bad = append(bad, mismatches...)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return bad, nil
}

// verifySubtree checks the Tree element at parentPath/key against its
// subtree, then recurses into the subtree's own tree elements. It opens
// private Merk handles so concurrent workers never share mutable state.
func (g *GroveDB) verifySubtree(parentPath [][]byte, key []byte) ([]string, error) {
	var cost costs.OperationCost
	parentPrefix := storage.BuildPrefix(&cost, parentPath)
	parent, err := merk.Open(&cost, g.store.ContextWithPrefix(parentPrefix), merk.Basic)
	if err != nil {
		return nil, wrapStorage(err)
	}
	value, err := parent.Get(&cost, key)
	if err != nil {
		return nil, wrapStorage(err)
	}
	storedHash, err := parent.GetValueHash(&cost, key)
	if err != nil {
		return nil, wrapStorage(err)
	}
	element, err := DeserializeElement(value)
	if err != nil {
		return nil, err
	}
	if !element.IsTree() {
		return nil, fmt.Errorf("%w: verify target is not a tree", ErrInvalidPath)
	}

	childPath := appendPath(parentPath, key)
	feature := merk.Basic
	if element.IsSumTree() {
		feature = merk.Summed
	}
	childPrefix := storage.BuildPrefix(&cost, childPath)
	child, err := merk.Open(&cost, g.store.ContextWithPrefix(childPrefix), feature)
	if err != nil {
		return nil, wrapStorage(err)
	}
	childRoot := child.RootHash(&cost)

	var bad []string
	expected := merk.CombineLayeredHash(&cost, value, childRoot)
	if !bytes.Equal(expected[:], storedHash[:]) {
		bad = append(bad, pathString(childPath))
	}

	// Recurse into the subtree's own nested trees.
	iter := child.Context().RawIter(&cost)
	defer iter.Release()
	var nested [][]byte
	for iter.Next() {
		elementBytes, err := merk.DecodeNodeValue(iter.Value())
		if err != nil {
			return nil, err
		}
		nestedElement, err := DeserializeElement(elementBytes)
		if err != nil {
			return nil, err
		}
		if nestedElement.IsTree() {
			nested = append(nested, append([]byte{}, iter.Key()...))
		}
	}
	for _, nestedKey := range nested {
		mismatches, err := g.verifySubtree(childPath, nestedKey)
		if err != nil {
			return nil, err
		}
		bad = append(bad, mismatches...)
	}
	return bad, nil
}

func pathString(path [][]byte) string {
	var buf bytes.Buffer
	for i, segment := range path {
		if i > 0 {
			buf.WriteByte('/')
		}
		buf.WriteString(fmt.Sprintf("%q", segment))
	}
	return buf.String()
}
