package grovedb

import (
	"errors"

	"github.com/grovedb/go-grovedb/costs"
	"github.com/grovedb/go-grovedb/merk"
	"github.com/grovedb/go-grovedb/storage"
)

// Insert writes an element under path/key. Inserting a Tree element creates
// its (empty) subtree; non-tree elements are rejected at the root. The
// single-op path routes through the batch executor, so batch and non-batch
// costs agree.
func (g *GroveDB) Insert(path [][]byte, key []byte, element *Element, tx *storage.Transaction) (costs.OperationCost, error) {
	return g.ApplyBatch([]Op{InsertOp(path, key, element)}, tx)
}

// InsertIfNotExists inserts only when path/key is vacant, reporting whether
// an insert happened.
func (g *GroveDB) InsertIfNotExists(path [][]byte, key []byte, element *Element, tx *storage.Transaction) (bool, costs.OperationCost, error) {
	var cost costs.OperationCost
	_, err := g.getElementAt(&cost, path, key, tx)
	if err == nil {
		return false, cost, nil
	}
	if !errors.Is(err, ErrPathKeyNotFound) && !errors.Is(err, ErrPathNotFound) {
		return false, cost, err
	}
	insertCost, err := g.Insert(path, key, element, tx)
	cost.Add(insertCost)
	return err == nil, cost, err
}

// Replace rewrites an existing element; a vacant key fails with
// ErrPathKeyNotFound.
func (g *GroveDB) Replace(path [][]byte, key []byte, element *Element, tx *storage.Transaction) (costs.OperationCost, error) {
	return g.ApplyBatch([]Op{ReplaceOp(path, key, element)}, tx)
}

// Delete removes the element under path/key. A Tree element must have an
// empty subtree; use DeleteTree to clear descendants.
func (g *GroveDB) Delete(path [][]byte, key []byte, tx *storage.Transaction) (costs.OperationCost, error) {
	return g.ApplyBatch([]Op{DeleteOp(path, key)}, tx)
}

// DeleteTree removes a subtree element together with all descendant records.
func (g *GroveDB) DeleteTree(path [][]byte, key []byte, tx *storage.Transaction) (costs.OperationCost, error) {
	return g.ApplyBatch([]Op{DeleteTreeOp(path, key)}, tx)
}

// Get returns the element under path/key, following Reference elements up
// to the configured hop limit.
func (g *GroveDB) Get(path [][]byte, key []byte, tx *storage.Transaction) (*Element, costs.OperationCost, error) {
	var cost costs.OperationCost
	element, err := g.getElementAt(&cost, path, key, tx)
	if err != nil {
		return nil, cost, err
	}
	hops := 0
	for element.Kind == KindReference {
		hops++
		if hops > g.cfg.ReferenceLimit {
			return nil, cost, ErrReferenceLimit
		}
		refPath, refKey, err := splitRefPath(element.RefPath)
		if err != nil {
			return nil, cost, err
		}
		element, err = g.getElementAt(&cost, refPath, refKey, tx)
		if err != nil {
			return nil, cost, err
		}
	}
	return element, cost, nil
}

// GetRaw returns the element as stored, without reference resolution.
func (g *GroveDB) GetRaw(path [][]byte, key []byte, tx *storage.Transaction) (*Element, costs.OperationCost, error) {
	var cost costs.OperationCost
	element, err := g.getElementAt(&cost, path, key, tx)
	return element, cost, err
}

// Has reports whether path/key holds an element, without resolving
// references.
func (g *GroveDB) Has(path [][]byte, key []byte, tx *storage.Transaction) (bool, costs.OperationCost, error) {
	var cost costs.OperationCost
	_, err := g.getElementAt(&cost, path, key, tx)
	if err == nil {
		return true, cost, nil
	}
	if errors.Is(err, ErrPathKeyNotFound) || errors.Is(err, ErrPathNotFound) {
		return false, cost, nil
	}
	return false, cost, err
}

// IsEmptyTree reports whether the subtree at path has no records.
func (g *GroveDB) IsEmptyTree(path [][]byte, tx *storage.Transaction) (bool, costs.OperationCost, error) {
	var cost costs.OperationCost
	m, err := g.subtreeMerk(&cost, path, tx)
	if err != nil {
		return false, cost, err
	}
	return m.IsEmpty(&cost), cost, nil
}

// SubtreeRootHash returns the root hash of the subtree at path.
func (g *GroveDB) SubtreeRootHash(path [][]byte, tx *storage.Transaction) (merk.Hash, costs.OperationCost, error) {
	var cost costs.OperationCost
	m, err := g.subtreeMerk(&cost, path, tx)
	if err != nil {
		return merk.NullHash, cost, err
	}
	return m.RootHash(&cost), cost, nil
}

// SubtreeSum returns the aggregate of the sum subtree at path. The boolean
// is false when the subtree is not a sum tree.
func (g *GroveDB) SubtreeSum(path [][]byte, tx *storage.Transaction) (int64, bool, costs.OperationCost, error) {
	var cost costs.OperationCost
	m, err := g.subtreeMerk(&cost, path, tx)
	if err != nil {
		return 0, false, cost, err
	}
	sum, ok := m.RootSum()
	return sum, ok, cost, nil
}

// subtreeMerk opens the Merk for a path: the cached handle outside a
// transaction, a fresh transactional one inside.
func (g *GroveDB) subtreeMerk(cost *costs.OperationCost, path [][]byte, tx *storage.Transaction) (*merk.Merk, error) {
	if len(path) > 0 {
		parent, key := path[:len(path)-1], path[len(path)-1]
		element, err := g.getElementAt(cost, parent, key, tx)
		if err != nil {
			return nil, err
		}
		if !element.IsTree() {
			return nil, ErrInvalidPath
		}
	}
	if tx == nil {
		return g.openCachedMerk(cost, path)
	}
	prefix := g.prefix(cost, path)
	feature, err := g.subtreeFeature(cost, path, tx)
	if err != nil {
		return nil, err
	}
	m, err := merk.Open(cost, g.store.TransactionalContextWithPrefix(prefix, tx), feature)
	if err != nil {
		return nil, wrapStorage(err)
	}
	m.PruneDepth = g.cfg.PruneDepth
	return m, nil
}

// getElementAt reads the element stored directly at path/key.
func (g *GroveDB) getElementAt(cost *costs.OperationCost, path [][]byte, key []byte, tx *storage.Transaction) (*Element, error) {
	value, err := g.getElementBytes(cost, path, key, tx)
	if err != nil {
		return nil, err
	}
	return DeserializeElement(value)
}

func (g *GroveDB) getElementBytes(cost *costs.OperationCost, path [][]byte, key []byte, tx *storage.Transaction) ([]byte, error) {
	m, err := g.pathMerk(cost, path, tx)
	if err != nil {
		return nil, err
	}
	value, err := m.Get(cost, key)
	if err != nil {
		if errors.Is(err, merk.ErrKeyNotFound) {
			if m.RootKey() == nil && len(path) > 0 {
				// An empty handle is also what a missing subtree opens to;
				// the parent element tells the two apart.
				if _, perr := g.getElementAt(cost, path[:len(path)-1], path[len(path)-1], tx); perr != nil {
					return nil, ErrPathNotFound
				}
			}
			return nil, ErrPathKeyNotFound
		}
		return nil, wrapStorage(err)
	}
	return value, nil
}

// pathMerk opens a subtree handle for reads without validating the parent
// chain; callers that need chain validation use subtreeMerk.
func (g *GroveDB) pathMerk(cost *costs.OperationCost, path [][]byte, tx *storage.Transaction) (*merk.Merk, error) {
	if tx == nil {
		return g.openCachedMerk(cost, path)
	}
	prefix := g.prefix(cost, path)
	feature, err := g.subtreeFeature(cost, path, tx)
	if err != nil {
		return nil, err
	}
	m, err := merk.Open(cost, g.store.TransactionalContextWithPrefix(prefix, tx), feature)
	if err != nil {
		return nil, wrapStorage(err)
	}
	m.PruneDepth = g.cfg.PruneDepth
	return m, nil
}
