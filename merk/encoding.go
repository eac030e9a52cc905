package merk

import (
	"encoding/binary"
	"fmt"

	"github.com/grovedb/go-grovedb/storage"
)

// Record layout.
//
// Link:  u8 keyLen | key | hash32 | u8 leftHeight | u8 rightHeight |
//        u8 hasSum | [u64 BE sum]
// Node:  u8 feature [| i64 BE own sum] | u8 leftPresent [| left link] |
//        u8 rightPresent [| right link] | uvarint valueLen | value |
//        valueHash32 | nodeHash32 | key
//
// The node's key closes the record: everything before it is self-delimiting,
// so the decoder takes the remainder as the key. Varints are unsigned LEB128
// (little-endian base 128); the aggregate is big-endian for cross-platform
// tie-break determinism.

const (
	featureTagBasic  = 0x00
	featureTagSummed = 0x01
)

// VarintLen returns the encoded length of n as an unsigned varint.
func VarintLen(n uint64) uint32 {
	length := uint32(1)
	for n >= 0x80 {
		n >>= 7
		length++
	}
	return length
}

// KeyRecordCost is the priced size of a node's backend key: the 32-byte
// subtree prefix, the user key, and the length byte required to hold it.
func KeyRecordCost(keyLen uint32) uint32 {
	return storage.PrefixSize + keyLen + VarintLen(uint64(storage.PrefixSize+keyLen))
}

// ValueRecordCost is the priced size of a node's stored value: the value
// bytes, the value hash and node hash, and the varint holding the total.
func ValueRecordCost(valueLen uint32) uint32 {
	return valueLen + 2*HashLength + VarintLen(uint64(valueLen)+2*HashLength)
}

// ParentHookCost is the priced size of the link bytes a parent carries to
// reference this node: key length byte, key, hash, and two child heights.
func ParentHookCost(keyLen uint32) uint32 {
	return 1 + keyLen + HashLength + 2
}

// LinkEncodingLength predicts the encoded size of a link without encoding
// it: fixed 36 bytes of overhead plus the key, plus 8 when a sum rides
// along.
func LinkEncodingLength(keyLen uint32, hasSum bool) uint32 {
	n := 1 + keyLen + HashLength + 2 + 1
	if hasSum {
		n += 8
	}
	return n
}

// InsertRecordCost predicts the full priced cost of inserting a fresh node:
// key record, value record and parent hook.
func InsertRecordCost(keyLen, valueLen uint32) uint32 {
	return KeyRecordCost(keyLen) + ValueRecordCost(valueLen) + ParentHookCost(keyLen)
}

// encodeLink appends the link encoding. Encoding a Modified link is a
// contract violation and panics; keys of 256 bytes or more fail.
func encodeLink(buf []byte, l Link) ([]byte, error) {
	if _, ok := l.(*ModifiedLink); ok {
		panic("merk: no encoding for modified link")
	}
	key := l.Key()
	if len(key) >= 256 {
		return nil, ErrKeyTooLong
	}
	hash := l.Hash()
	leftH, rightH := l.ChildHeights()
	buf = append(buf, byte(len(key)))
	buf = append(buf, key...)
	buf = append(buf, hash[:]...)
	buf = append(buf, leftH, rightH)
	if sum, ok := l.Sum(); ok {
		buf = append(buf, 1)
		buf = binary.BigEndian.AppendUint64(buf, uint64(sum))
	} else {
		buf = append(buf, 0)
	}
	return buf, nil
}

// decodeLink parses one link, returning it and the remaining input.
func decodeLink(data []byte) (Link, []byte, error) {
	if len(data) < 1 {
		return nil, nil, fmt.Errorf("%w: truncated link", ErrCorruptedData)
	}
	keyLen := int(data[0])
	data = data[1:]
	if len(data) < keyLen+HashLength+3 {
		return nil, nil, fmt.Errorf("%w: truncated link", ErrCorruptedData)
	}
	link := &ReferenceLink{key: append([]byte{}, data[:keyLen]...)}
	data = data[keyLen:]
	copy(link.hash[:], data[:HashLength])
	data = data[HashLength:]
	link.childHeights[0] = data[0]
	link.childHeights[1] = data[1]
	hasSum := data[2]
	data = data[3:]
	if hasSum != 0 {
		if len(data) < 8 {
			return nil, nil, fmt.Errorf("%w: truncated link sum", ErrCorruptedData)
		}
		link.sum = int64(binary.BigEndian.Uint64(data[:8]))
		link.hasSum = true
		data = data[8:]
	}
	return link, data, nil
}

// encodeNode serializes a node for storage.
func encodeNode(n *TreeNode) ([]byte, error) {
	if len(n.key) >= 256 {
		return nil, ErrKeyTooLong
	}
	buf := make([]byte, 0, encodedNodeSize(n))
	if n.feature == Summed {
		buf = append(buf, featureTagSummed)
		buf = binary.BigEndian.AppendUint64(buf, uint64(n.sum))
	} else {
		buf = append(buf, featureTagBasic)
	}
	var err error
	for _, l := range []Link{n.left, n.right} {
		if l == nil {
			buf = append(buf, 0)
			continue
		}
		buf = append(buf, 1)
		if buf, err = encodeLink(buf, l); err != nil {
			return nil, err
		}
	}
	buf = binary.AppendUvarint(buf, uint64(len(n.value)))
	buf = append(buf, n.value...)
	buf = append(buf, n.valueHash[:]...)
	buf = append(buf, n.nodeHash[:]...)
	buf = append(buf, n.key...)
	return buf, nil
}

// encodedNodeSize returns the exact byte size encodeNode will produce.
func encodedNodeSize(n *TreeNode) uint32 {
	size := uint32(1)
	if n.feature == Summed {
		size += 8
	}
	for _, l := range []Link{n.left, n.right} {
		size++
		if l == nil {
			continue
		}
		_, hasSum := l.Sum()
		size += LinkEncodingLength(uint32(len(l.Key())), hasSum)
	}
	size += VarintLen(uint64(len(n.value)))
	size += uint32(len(n.value)) + 2*HashLength
	size += uint32(len(n.key))
	return size
}

// DecodeNodeValue extracts the value bytes from an encoded node record
// without building the node. The grove layer uses it to inspect elements
// while clearing a subtree.
func DecodeNodeValue(data []byte) ([]byte, error) {
	n, err := decodeNode(nil, data)
	if err != nil {
		return nil, err
	}
	return n.value, nil
}

// decodeNode parses a stored record back into a node. Children come back as
// Reference links; the caller supplies the record's key so the trailing key
// bytes can be validated.
func decodeNode(key, data []byte) (*TreeNode, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty node record", ErrCorruptedData)
	}
	n := &TreeNode{kvDirty: true}
	switch data[0] {
	case featureTagBasic:
		n.feature = Basic
		data = data[1:]
	case featureTagSummed:
		n.feature = Summed
		if len(data) < 9 {
			return nil, fmt.Errorf("%w: truncated sum", ErrCorruptedData)
		}
		n.sum = int64(binary.BigEndian.Uint64(data[1:9]))
		data = data[9:]
	default:
		return nil, fmt.Errorf("%w: unknown feature tag %d", ErrCorruptedData, data[0])
	}
	for _, left := range []bool{true, false} {
		if len(data) < 1 {
			return nil, fmt.Errorf("%w: truncated node", ErrCorruptedData)
		}
		present := data[0]
		data = data[1:]
		if present == 0 {
			continue
		}
		link, rest, err := decodeLink(data)
		if err != nil {
			return nil, err
		}
		n.setChildLink(left, link)
		data = rest
	}
	valueLen, read := binary.Uvarint(data)
	if read <= 0 {
		return nil, fmt.Errorf("%w: bad value length", ErrCorruptedData)
	}
	data = data[read:]
	if uint64(len(data)) < valueLen+2*HashLength {
		return nil, fmt.Errorf("%w: truncated value", ErrCorruptedData)
	}
	n.value = append([]byte{}, data[:valueLen]...)
	data = data[valueLen:]
	copy(n.valueHash[:], data[:HashLength])
	data = data[HashLength:]
	copy(n.nodeHash[:], data[:HashLength])
	data = data[HashLength:]
	n.key = append([]byte{}, data...)
	if key != nil && string(n.key) != string(key) {
		return nil, fmt.Errorf("%w: node key mismatch", ErrCorruptedData)
	}
	n.oldValueLen = uint32(valueLen)
	return n, nil
}
