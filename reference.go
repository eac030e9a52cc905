package grovedb

import (
	"errors"
	"fmt"

	"github.com/grovedb/go-grovedb/costs"
	"github.com/grovedb/go-grovedb/merk"
	"github.com/grovedb/go-grovedb/storage"
)

// splitRefPath separates a reference target into its containing path and
// key (the final segment).
func splitRefPath(refPath [][]byte) ([][]byte, []byte, error) {
	if len(refPath) == 0 {
		return nil, nil, fmt.Errorf("%w: empty reference path", ErrInvalidPath)
	}
	return refPath[:len(refPath)-1], refPath[len(refPath)-1], nil
}

// followReferenceValueHash resolves a reference chain and returns the value
// hash of the terminal element, so a reference's own value hash commits to
// what it points at. Chains longer than the configured limit, including
// cycles, fail with ErrReferenceLimit.
func (g *GroveDB) followReferenceValueHash(cost *costs.OperationCost, refPath [][]byte, depth int, tx *storage.Transaction) (merk.Hash, error) {
	if depth > g.cfg.ReferenceLimit {
		return merk.NullHash, ErrReferenceLimit
	}
	path, key, err := splitRefPath(refPath)
	if err != nil {
		return merk.NullHash, err
	}
	m, err := g.pathMerk(cost, path, tx)
	if err != nil {
		return merk.NullHash, err
	}
	value, err := m.Get(cost, key)
	if err != nil {
		if errors.Is(err, merk.ErrKeyNotFound) {
			return merk.NullHash, ErrPathKeyNotFound
		}
		return merk.NullHash, wrapStorage(err)
	}
	element, err := DeserializeElement(value)
	if err != nil {
		return merk.NullHash, err
	}
	if element.Kind == KindReference {
		return g.followReferenceValueHash(cost, element.RefPath, depth+1, tx)
	}
	return m.GetValueHash(cost, key)
}
