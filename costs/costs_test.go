package costs

import "testing"

func TestAddAccumulates(t *testing.T) {
	a := OperationCost{
		SeekCount:          2,
		Storage:            StorageCost{AddedBytes: 100, ReplacedBytes: 50},
		StorageLoadedBytes: 10,
		HashNodeCalls:      3,
	}
	b := OperationCost{
		SeekCount:          1,
		Storage:            StorageCost{AddedBytes: 44, ReplacedBytes: 7, RemovedBytes: BasicStorageRemoval(9)},
		StorageLoadedBytes: 5,
		HashNodeCalls:      3,
	}
	a.Add(b)

	if a.SeekCount != 3 {
		t.Errorf("seek count: got %d, want 3", a.SeekCount)
	}
	if a.Storage.AddedBytes != 144 {
		t.Errorf("added bytes: got %d, want 144", a.Storage.AddedBytes)
	}
	if a.Storage.ReplacedBytes != 57 {
		t.Errorf("replaced bytes: got %d, want 57", a.Storage.ReplacedBytes)
	}
	if got := a.Storage.RemovedBytes.TotalRemovedBytes(); got != 9 {
		t.Errorf("removed bytes: got %d, want 9", got)
	}
	if a.StorageLoadedBytes != 15 {
		t.Errorf("loaded bytes: got %d, want 15", a.StorageLoadedBytes)
	}
	if a.HashNodeCalls != 6 {
		t.Errorf("hash calls: got %d, want 6", a.HashNodeCalls)
	}
}

func TestAddIsAdditiveOverSplits(t *testing.T) {
	// Accumulating a sequence of costs in one go or in two prefixes must
	// agree.
	parts := []OperationCost{
		{SeekCount: 1, Storage: StorageCost{AddedBytes: 10}},
		{HashNodeCalls: 4, Storage: StorageCost{RemovedBytes: BasicStorageRemoval(3)}},
		{StorageLoadedBytes: 77, Storage: StorageCost{ReplacedBytes: 12}},
		{SeekCount: 2, Storage: StorageCost{RemovedBytes: BasicStorageRemoval(5)}},
	}

	var whole OperationCost
	for _, p := range parts {
		whole.Add(p)
	}

	var first, second OperationCost
	first.Add(parts[0])
	first.Add(parts[1])
	second.Add(parts[2])
	second.Add(parts[3])
	var joined OperationCost
	joined.Add(first)
	joined.Add(second)

	if whole.SeekCount != joined.SeekCount ||
		whole.Storage.AddedBytes != joined.Storage.AddedBytes ||
		whole.Storage.ReplacedBytes != joined.Storage.ReplacedBytes ||
		whole.StorageLoadedBytes != joined.StorageLoadedBytes ||
		whole.HashNodeCalls != joined.HashNodeCalls {
		t.Errorf("split accumulation diverged: %+v vs %+v", whole, joined)
	}
	if whole.Storage.RemovedBytes.TotalRemovedBytes() != joined.Storage.RemovedBytes.TotalRemovedBytes() {
		t.Errorf("removed bytes diverged")
	}
}

func TestMergeRemovedSections(t *testing.T) {
	a := SectionedStorageRemoval{1: 10, 2: 5}
	b := SectionedStorageRemoval{2: 3, 7: 1}
	merged := mergeRemoved(a, b)
	sections, ok := merged.(SectionedStorageRemoval)
	if !ok {
		t.Fatalf("expected sectioned removal, got %T", merged)
	}
	if sections[1] != 10 || sections[2] != 8 || sections[7] != 1 {
		t.Errorf("bad merge: %v", sections)
	}
	if merged.TotalRemovedBytes() != 19 {
		t.Errorf("total: got %d, want 19", merged.TotalRemovedBytes())
	}
}

func TestTransitionClassification(t *testing.T) {
	tests := []struct {
		name string
		cost StorageCost
		want TransitionType
	}{
		{"no-op", StorageCost{}, TransitionNoOp},
		{"insert", StorageCost{AddedBytes: 10}, TransitionInsertNew},
		{"bigger", StorageCost{AddedBytes: 2, ReplacedBytes: 100}, TransitionUpdateBiggerSize},
		{"same", StorageCost{ReplacedBytes: 100}, TransitionUpdateSameSize},
		{"smaller", StorageCost{ReplacedBytes: 98, RemovedBytes: BasicStorageRemoval(2)}, TransitionUpdateSmallerSize},
		{"delete", StorageCost{RemovedBytes: BasicStorageRemoval(100)}, TransitionDelete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cost.TransitionType(); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
