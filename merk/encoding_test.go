package merk

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/grovedb/go-grovedb/costs"
)

func TestEncodeLink(t *testing.T) {
	link := &ReferenceLink{
		key:          []byte{1, 2, 3},
		childHeights: [2]uint8{123, 124},
	}
	for i := range link.hash {
		link.hash[i] = 55
	}

	if got := LinkEncodingLength(3, false); got != 39 {
		t.Errorf("encoding length: got %d, want 39", got)
	}

	encoded, err := encodeLink(nil, link)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		3, 1, 2, 3,
		55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55,
		55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55,
		123, 124, 0,
	}
	if !bytes.Equal(encoded, want) {
		t.Errorf("encoding mismatch:\n got %v\nwant %v", encoded, want)
	}

	decoded, rest, err := decodeLink(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 0 {
		t.Errorf("%d trailing bytes after decode", len(rest))
	}
	if diff := cmp.Diff(link, decoded, cmp.AllowUnexported(ReferenceLink{})); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeLinkWithSum(t *testing.T) {
	link := &ReferenceLink{
		key:          []byte{1, 2, 3},
		childHeights: [2]uint8{123, 124},
		sum:          50,
		hasSum:       true,
	}
	for i := range link.hash {
		link.hash[i] = 55
	}

	if got := LinkEncodingLength(3, true); got != 47 {
		t.Errorf("encoding length: got %d, want 47", got)
	}

	encoded, err := encodeLink(nil, link)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		3, 1, 2, 3,
		55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55,
		55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55, 55,
		123, 124, 1, 0, 0, 0, 0, 0, 0, 0, 50,
	}
	if !bytes.Equal(encoded, want) {
		t.Errorf("encoding mismatch:\n got %v\nwant %v", encoded, want)
	}

	decoded, _, err := decodeLink(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if sum, ok := decoded.Sum(); !ok || sum != 50 {
		t.Errorf("decoded sum: got %d (%v), want 50", sum, ok)
	}
}

func TestEncodeLinkLongKeyFails(t *testing.T) {
	link := &ReferenceLink{key: bytes.Repeat([]byte{123}, 300)}
	if _, err := encodeLink(nil, link); err != ErrKeyTooLong {
		t.Fatalf("got %v, want ErrKeyTooLong", err)
	}
}

func TestEncodeModifiedLinkPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("encoding a modified link must panic")
		}
	}()
	var cost costs.OperationCost
	node := newTreeNode(&cost, []byte{1}, Op{Kind: OpPut, Value: []byte{2}}, Basic)
	_, _ = encodeLink(nil, modifiedLinkFromTree(node))
}

func TestNodeRoundTrip(t *testing.T) {
	var cost costs.OperationCost
	n := newTreeNode(&cost, []byte("node-key"), Op{Kind: OpPut, Value: []byte("payload")}, Basic)
	n.commitHashes(&cost)
	n.left = &ReferenceLink{
		key:          []byte("left-child"),
		childHeights: [2]uint8{1, 2},
		hash:         n.valueHash,
	}

	encoded, err := encodeNode(n)
	if err != nil {
		t.Fatal(err)
	}
	if got := encodedNodeSize(n); int(got) != len(encoded) {
		t.Errorf("size predictor: got %d, want %d", got, len(encoded))
	}

	decoded, err := decodeNode([]byte("node-key"), encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded.key, n.key) || !bytes.Equal(decoded.value, n.value) {
		t.Errorf("key/value mismatch after round trip")
	}
	if decoded.valueHash != n.valueHash || decoded.nodeHash != n.nodeHash {
		t.Errorf("hash fields lost in round trip")
	}
	left, ok := decoded.left.(*ReferenceLink)
	if !ok {
		t.Fatalf("left child must decode as a reference, got %T", decoded.left)
	}
	if !bytes.Equal(left.key, []byte("left-child")) || left.childHeights != [2]uint8{1, 2} {
		t.Errorf("left link mismatch: %+v", left)
	}
	if decoded.right != nil {
		t.Errorf("absent right child must decode as nil")
	}
	if decoded.oldValueLen != uint32(len(n.value)) {
		t.Errorf("stored value length: got %d, want %d", decoded.oldValueLen, len(n.value))
	}
}

func TestSummedNodeRoundTrip(t *testing.T) {
	var cost costs.OperationCost
	n := newTreeNode(&cost, []byte("s"), Op{Kind: OpPut, Value: []byte("v"), Sum: -7}, Summed)
	n.commitHashes(&cost)

	encoded, err := encodeNode(n)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := decodeNode([]byte("s"), encoded)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.feature != Summed || decoded.sum != -7 {
		t.Errorf("sum feature lost: feature=%v sum=%d", decoded.feature, decoded.sum)
	}
}

func TestDecodeNodeKeyMismatch(t *testing.T) {
	var cost costs.OperationCost
	n := newTreeNode(&cost, []byte("a"), Op{Kind: OpPut, Value: []byte("v")}, Basic)
	n.commitHashes(&cost)
	encoded, err := encodeNode(n)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := decodeNode([]byte("b"), encoded); err == nil {
		t.Fatal("key mismatch must fail decode")
	}
}

func TestVarintLen(t *testing.T) {
	tests := []struct {
		n    uint64
		want uint32
	}{
		{0, 1}, {1, 1}, {127, 1}, {128, 2}, {16383, 2}, {16384, 3},
	}
	for _, tt := range tests {
		if got := VarintLen(tt.n); got != tt.want {
			t.Errorf("VarintLen(%d): got %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestRecordCostPredictors(t *testing.T) {
	// The literal sizes the grove cost scenarios rest on: a 4-byte key
	// costs 37 (prefix 32 + key 4 + length byte), an empty-tree element (3
	// serialized bytes) costs 68 (3 + two hashes + length byte), and the
	// parent hook for a 4-byte key costs 39 (length byte + key + hash +
	// child heights).
	if got := KeyRecordCost(4); got != 37 {
		t.Errorf("KeyRecordCost(4): got %d, want 37", got)
	}
	if got := ValueRecordCost(3); got != 68 {
		t.Errorf("ValueRecordCost(3): got %d, want 68", got)
	}
	if got := ParentHookCost(4); got != 39 {
		t.Errorf("ParentHookCost(4): got %d, want 39", got)
	}
	if got := InsertRecordCost(4, 3); got != 144 {
		t.Errorf("InsertRecordCost(4, 3): got %d, want 144", got)
	}
	// The varint widens at the 128-byte boundary of the value record: a
	// 63-byte element still takes one length byte, a 64-byte one takes two.
	if got := ValueRecordCost(63); got != 128 {
		t.Errorf("ValueRecordCost(63): got %d, want 128", got)
	}
	if got := ValueRecordCost(64); got != 130 {
		t.Errorf("ValueRecordCost(64): got %d, want 130", got)
	}
}
