package grovedb

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestElementSerializeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		element *Element
	}{
		{"item", NewItem([]byte("payload"))},
		{"item with flags", NewItemWithFlags([]byte("payload"), []byte{0, 1})},
		{"empty item", NewItem(nil)},
		{"reference", NewReference([][]byte{[]byte("a"), []byte("b"), []byte("k")})},
		{"tree", EmptyTree()},
		{"tree with flags", EmptyTreeWithFlags([]byte{7})},
		{"tree with root key", &Element{Kind: KindTree, RootKey: []byte("rk")}},
		{"sum item", NewSumItem(-42)},
		{"sum tree", EmptySumTree()},
		{"sum tree with sum", &Element{Kind: KindSumTree, RootKey: []byte("x"), Sum: 1 << 40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.element.Serialize()
			decoded, err := DeserializeElement(encoded)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.element, decoded, cmp.Comparer(bytesEqual)); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func bytesEqual(a, b []byte) bool { return bytes.Equal(a, b) }

func TestElementSerializedSizes(t *testing.T) {
	// The cost scenarios rest on these exact sizes: an empty tree without
	// flags is three bytes (flags option, kind tag, root-key option).
	if got := len(EmptyTree().Serialize()); got != 3 {
		t.Errorf("empty tree: got %d bytes, want 3", got)
	}
	// An item is flags option + kind + length varint + payload.
	if got := len(NewItem(make([]byte, 32)).Serialize()); got != 35 {
		t.Errorf("32-byte item: got %d bytes, want 35", got)
	}
	if got := len(NewItemWithFlags([]byte("value1"), []byte{0}).Serialize()); got != 11 {
		t.Errorf("flagged item: got %d bytes, want 11", got)
	}
	// A sum item is flags option + kind + 8-byte big-endian weight.
	if got := len(NewSumItem(5).Serialize()); got != 10 {
		t.Errorf("sum item: got %d bytes, want 10", got)
	}
}

func TestElementDeserializeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"flags only", []byte{0}},
		{"unknown kind", []byte{0, 99}},
		{"truncated item", []byte{0, byte(KindItem), 10, 1, 2}},
		{"truncated sum", []byte{0, byte(KindSumItem), 1, 2, 3}},
		{"bad reference type", []byte{0, byte(KindReference), 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DeserializeElement(tt.data); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}
