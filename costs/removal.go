package costs

// StorageRemovedBytes attributes bytes freed by an operation. The engine
// produces BasicStorageRemoval by default; callers supplying a removal
// split callback may attribute freed bytes to sections (epochs, identities)
// instead.
type StorageRemovedBytes interface {
	// TotalRemovedBytes returns the total number of freed bytes regardless
	// of attribution.
	TotalRemovedBytes() uint32

	isStorageRemoval()
}

// NoStorageRemoval indicates the operation freed no bytes.
type NoStorageRemoval struct{}

// BasicStorageRemoval is an unattributed count of freed bytes.
type BasicStorageRemoval uint32

// SectionedStorageRemoval attributes freed bytes to caller-defined sections
// (the key is typically an epoch index recorded in element flags).
type SectionedStorageRemoval map[uint16]uint32

func (NoStorageRemoval) TotalRemovedBytes() uint32 { return 0 }
func (NoStorageRemoval) isStorageRemoval()         {}

func (r BasicStorageRemoval) TotalRemovedBytes() uint32 { return uint32(r) }
func (BasicStorageRemoval) isStorageRemoval()           {}

func (r SectionedStorageRemoval) TotalRemovedBytes() uint32 {
	var total uint32
	for _, n := range r {
		total += n
	}
	return total
}
func (SectionedStorageRemoval) isStorageRemoval() {}
