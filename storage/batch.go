package storage

import (
	"github.com/grovedb/go-grovedb/costs"
)

// BatchOp is one buffered write in a StorageBatch. Key is the fully scoped
// logical key (subtree prefix + user key) without the family tag.
type BatchOp struct {
	CF     CF
	Key    []byte
	Value  []byte
	Delete bool

	// Bookkeeping marks derived records (merk root keys, root-leaf indexes)
	// whose bytes are priced into the node records they describe; they are
	// excluded from the written/freed byte counters.
	Bookkeeping bool
}

// StorageBatch buffers writes from any number of contexts for one atomic
// commit. Operations apply in insertion order.
type StorageBatch struct {
	ops []BatchOp
}

// NewStorageBatch creates an empty multi-context batch.
func NewStorageBatch() *StorageBatch {
	return &StorageBatch{}
}

// Put buffers a write into the given family.
func (b *StorageBatch) Put(cf CF, key, value []byte) {
	b.ops = append(b.ops, BatchOp{CF: cf, Key: key, Value: value})
}

// PutBookkeeping buffers a bookkeeping write into the given family.
func (b *StorageBatch) PutBookkeeping(cf CF, key, value []byte) {
	b.ops = append(b.ops, BatchOp{CF: cf, Key: key, Value: value, Bookkeeping: true})
}

// Delete buffers a deletion from the given family.
func (b *StorageBatch) Delete(cf CF, key []byte) {
	b.ops = append(b.ops, BatchOp{CF: cf, Key: key, Delete: true})
}

// DeleteBookkeeping buffers a bookkeeping deletion from the given family.
func (b *StorageBatch) DeleteBookkeeping(cf CF, key []byte) {
	b.ops = append(b.ops, BatchOp{CF: cf, Key: key, Delete: true, Bookkeeping: true})
}

// Len returns the number of buffered operations.
func (b *StorageBatch) Len() int { return len(b.ops) }

// Ops exposes the buffered operations in insertion order.
func (b *StorageBatch) Ops() []BatchOp { return b.ops }

// CommitStats reports the byte counters of a committed batch. The counters
// are pending while the batch executes and only become valid once the
// backend write succeeds.
type CommitStats struct {
	WrittenBytes uint32
	FreedBytes   uint32
}

// CommitMultiContextBatch applies the whole batch atomically. With a nil
// transaction the operations go through one backend write batch; with a
// transaction they are staged behind a savepoint that is rolled back on
// failure.
//
// Deletions read the current value first to size the freed bytes (one seek
// plus the loaded value); this read is not atomic with the deletion, so
// callers that rely on exact freed counts must serialize writers.
func (s *Storage) CommitMultiContextBatch(cost *costs.OperationCost, batch *StorageBatch, tx *Transaction) (CommitStats, error) {
	var pending CommitStats

	sizeDelete := func(physical []byte, key []byte, bookkeeping bool) error {
		cost.AddSeek(1)
		value, err := s.db.Get(physical)
		if err != nil && err != ErrNotFound {
			return err
		}
		cost.AddLoaded(uint32(len(value)))
		if !bookkeeping {
			pending.FreedBytes += uint32(len(key) + len(value))
		}
		return nil
	}

	if tx != nil {
		tx.SetSavepoint()
		for _, op := range batch.ops {
			physical := cfKey(op.CF, op.Key)
			if op.Delete {
				if err := sizeDelete(physical, op.Key, op.Bookkeeping); err != nil {
					_ = tx.RollbackToSavepoint()
					return CommitStats{}, err
				}
				if err := tx.delete(physical); err != nil {
					_ = tx.RollbackToSavepoint()
					return CommitStats{}, err
				}
				continue
			}
			if !op.Bookkeeping {
				pending.WrittenBytes += uint32(len(op.Key) + len(op.Value))
			}
			if err := tx.put(physical, op.Value); err != nil {
				_ = tx.RollbackToSavepoint()
				return CommitStats{}, err
			}
		}
		return pending, nil
	}

	dbBatch := s.db.NewBatch()
	for _, op := range batch.ops {
		physical := cfKey(op.CF, op.Key)
		if op.Delete {
			if err := sizeDelete(physical, op.Key, op.Bookkeeping); err != nil {
				return CommitStats{}, err
			}
			if err := dbBatch.Delete(physical); err != nil {
				return CommitStats{}, err
			}
			continue
		}
		if !op.Bookkeeping {
			pending.WrittenBytes += uint32(len(op.Key) + len(op.Value))
		}
		if err := dbBatch.Put(physical, op.Value); err != nil {
			return CommitStats{}, err
		}
	}
	if err := dbBatch.Write(); err != nil {
		return CommitStats{}, err
	}
	return pending, nil
}
