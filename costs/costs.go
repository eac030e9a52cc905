// Package costs implements deterministic, operation-level cost accounting
// for the grove storage engine. Every engine operation accrues its work into
// an OperationCost: backend seeks, bytes added/replaced/freed, bytes loaded,
// and node-hash invocations. Cost is data, not a side effect: callers thread
// an *OperationCost through the call chain and the accumulated value is
// preserved even when an operation fails partway.
package costs

// OperationCost is the accumulated cost of one engine operation.
type OperationCost struct {
	// SeekCount is the number of backend point lookups or iterator
	// positionings performed.
	SeekCount uint32

	// Storage tracks byte-level storage changes.
	Storage StorageCost

	// StorageLoadedBytes is the total number of value bytes read from the
	// backend.
	StorageLoadedBytes uint32

	// HashNodeCalls is the number of invocations of the node-hash primitive.
	HashNodeCalls uint32
}

// StorageCost tracks the byte deltas of an operation against the backend.
type StorageCost struct {
	AddedBytes    uint32
	ReplacedBytes uint32
	RemovedBytes  StorageRemovedBytes
}

// Add merges another cost into the receiver. Costs compose additively.
func (c *OperationCost) Add(other OperationCost) {
	c.SeekCount += other.SeekCount
	c.Storage.AddedBytes += other.Storage.AddedBytes
	c.Storage.ReplacedBytes += other.Storage.ReplacedBytes
	c.Storage.RemovedBytes = mergeRemoved(c.Storage.RemovedBytes, other.Storage.RemovedBytes)
	c.StorageLoadedBytes += other.StorageLoadedBytes
	c.HashNodeCalls += other.HashNodeCalls
}

// AddSeek records n backend seeks.
func (c *OperationCost) AddSeek(n uint32) { c.SeekCount += n }

// AddLoaded records n bytes read from the backend.
func (c *OperationCost) AddLoaded(n uint32) { c.StorageLoadedBytes += n }

// AddHashCalls records n invocations of the node-hash primitive.
func (c *OperationCost) AddHashCalls(n uint32) { c.HashNodeCalls += n }

// AddRemoved merges removed-bytes attribution into the storage cost.
func (c *OperationCost) AddRemoved(r StorageRemovedBytes) {
	c.Storage.RemovedBytes = mergeRemoved(c.Storage.RemovedBytes, r)
}

// WithSeeks returns a cost consisting of n seeks only.
func WithSeeks(n uint32) OperationCost {
	return OperationCost{SeekCount: n}
}

// WithHashNodeCalls returns a cost consisting of n hash calls only.
func WithHashNodeCalls(n uint32) OperationCost {
	return OperationCost{HashNodeCalls: n}
}

func mergeRemoved(a, b StorageRemovedBytes) StorageRemovedBytes {
	switch {
	case a == nil || a.TotalRemovedBytes() == 0:
		if b == nil {
			return a
		}
		return b
	case b == nil || b.TotalRemovedBytes() == 0:
		return a
	}
	if as, ok := a.(SectionedStorageRemoval); ok {
		if bs, ok := b.(SectionedStorageRemoval); ok {
			merged := make(SectionedStorageRemoval, len(as)+len(bs))
			for k, v := range as {
				merged[k] += v
			}
			for k, v := range bs {
				merged[k] += v
			}
			return merged
		}
	}
	return BasicStorageRemoval(a.TotalRemovedBytes() + b.TotalRemovedBytes())
}
