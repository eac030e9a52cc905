package storage

import (
	"errors"

	"github.com/grovedb/go-grovedb/costs"
)

// Context is a view of the store scoped to one subtree prefix. Reads go
// through the bound transaction when one is set, otherwise straight to the
// backend. Writes are buffered into the bound StorageBatch when one is set,
// otherwise applied immediately (through the transaction if bound).
//
// Main-family keys are namespaced as prefix+key; the roots, aux and meta
// families are namespaced the same way under their own family tags.
type Context struct {
	storage *Storage
	prefix  [PrefixSize]byte
	tx      *Transaction
	batch   *StorageBatch
}

// Prefix returns the 32-byte subtree prefix the context is bound to.
func (c *Context) Prefix() []byte {
	out := make([]byte, PrefixSize)
	copy(out, c.prefix[:])
	return out
}

func (c *Context) scopedKey(key []byte) []byte {
	out := make([]byte, PrefixSize+len(key))
	copy(out, c.prefix[:])
	copy(out[PrefixSize:], key)
	return out
}

func (c *Context) read(key []byte) ([]byte, error) {
	if c.tx != nil {
		return c.tx.get(key)
	}
	return c.storage.db.Get(key)
}

// get performs a costed point lookup in the given family.
func (c *Context) get(cost *costs.OperationCost, cf CF, key []byte) ([]byte, error) {
	cost.AddSeek(1)
	value, err := c.read(cfKey(cf, c.scopedKey(key)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	cost.AddLoaded(uint32(len(value)))
	return value, nil
}

// Get retrieves a main-family value under the context prefix.
func (c *Context) Get(cost *costs.OperationCost, key []byte) ([]byte, error) {
	return c.get(cost, CFMain, key)
}

// GetAux retrieves an aux-family value under the context prefix.
func (c *Context) GetAux(cost *costs.OperationCost, key []byte) ([]byte, error) {
	return c.get(cost, CFAux, key)
}

// GetRoot retrieves a roots-family value under the context prefix.
func (c *Context) GetRoot(cost *costs.OperationCost, key []byte) ([]byte, error) {
	return c.get(cost, CFRoots, key)
}

// GetMeta retrieves a meta-family value under the context prefix.
func (c *Context) GetMeta(cost *costs.OperationCost, key []byte) ([]byte, error) {
	return c.get(cost, CFMeta, key)
}

func (c *Context) write(cf CF, key, value []byte) error {
	scoped := c.scopedKey(key)
	if c.batch != nil {
		c.batch.Put(cf, scoped, value)
		return nil
	}
	physical := cfKey(cf, scoped)
	if c.tx != nil {
		return c.tx.put(physical, value)
	}
	return c.storage.db.Put(physical, value)
}

func (c *Context) remove(cf CF, key []byte) error {
	scoped := c.scopedKey(key)
	if c.batch != nil {
		c.batch.Delete(cf, scoped)
		return nil
	}
	physical := cfKey(cf, scoped)
	if c.tx != nil {
		return c.tx.delete(physical)
	}
	return c.storage.db.Delete(physical)
}

// Put stores a main-family value under the context prefix.
func (c *Context) Put(key, value []byte) error { return c.write(CFMain, key, value) }

// PutAux stores an aux-family value under the context prefix.
func (c *Context) PutAux(key, value []byte) error { return c.write(CFAux, key, value) }

// PutRoot stores a roots-family value under the context prefix.
func (c *Context) PutRoot(key, value []byte) error { return c.write(CFRoots, key, value) }

// PutMeta stores a meta-family value under the context prefix.
func (c *Context) PutMeta(key, value []byte) error { return c.write(CFMeta, key, value) }

// PutRootBookkeeping stores a derived roots-family record (a merk root key,
// a root-leaf index) whose bytes are priced into the node records it
// describes rather than counted on their own.
func (c *Context) PutRootBookkeeping(key, value []byte) error {
	scoped := c.scopedKey(key)
	if c.batch != nil {
		c.batch.PutBookkeeping(CFRoots, scoped, value)
		return nil
	}
	physical := cfKey(CFRoots, scoped)
	if c.tx != nil {
		return c.tx.put(physical, value)
	}
	return c.storage.db.Put(physical, value)
}

// DeleteRootBookkeeping removes a derived roots-family record.
func (c *Context) DeleteRootBookkeeping(key []byte) error {
	scoped := c.scopedKey(key)
	if c.batch != nil {
		c.batch.DeleteBookkeeping(CFRoots, scoped)
		return nil
	}
	physical := cfKey(CFRoots, scoped)
	if c.tx != nil {
		return c.tx.delete(physical)
	}
	return c.storage.db.Delete(physical)
}

// Delete removes a main-family key under the context prefix.
func (c *Context) Delete(key []byte) error { return c.remove(CFMain, key) }

// DeleteAux removes an aux-family key under the context prefix.
func (c *Context) DeleteAux(key []byte) error { return c.remove(CFAux, key) }

// DeleteRoot removes a roots-family key under the context prefix.
func (c *Context) DeleteRoot(key []byte) error { return c.remove(CFRoots, key) }

// DeleteMeta removes a meta-family key under the context prefix.
func (c *Context) DeleteMeta(key []byte) error { return c.remove(CFMeta, key) }

// RawIter returns an ordered iterator over the main-family records of this
// subtree. Keys are reported without the prefix. Positioning the iterator
// costs one seek.
func (c *Context) RawIter(cost *costs.OperationCost) Iterator {
	cost.AddSeek(1)
	physicalPrefix := cfKey(CFMain, c.prefix[:])
	var inner Iterator
	if c.tx != nil {
		inner = c.tx.newIterator(physicalPrefix, nil)
	} else {
		inner = c.storage.db.NewIterator(physicalPrefix, nil)
	}
	return &strippingIterator{inner: inner, strip: len(physicalPrefix)}
}

// strippingIterator removes the family tag and subtree prefix from keys.
type strippingIterator struct {
	inner Iterator
	strip int
}

func (it *strippingIterator) Next() bool    { return it.inner.Next() }
func (it *strippingIterator) Value() []byte { return it.inner.Value() }
func (it *strippingIterator) Release()      { it.inner.Release() }

func (it *strippingIterator) Key() []byte {
	key := it.inner.Key()
	if len(key) < it.strip {
		return key
	}
	return key[it.strip:]
}
