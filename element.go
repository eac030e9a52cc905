package grovedb

import (
	"encoding/binary"
	"fmt"
)

// ElementKind discriminates the value variants a subtree can hold.
type ElementKind uint8

const (
	// KindItem is an opaque byte payload.
	KindItem ElementKind = iota

	// KindReference is an indirection to another key under a computed path.
	KindReference

	// KindTree marks a key that opens a nested subtree.
	KindTree

	// KindSumItem is a signed weight participating in the sum rollup.
	KindSumItem

	// KindSumTree is a nested subtree carrying an aggregate.
	KindSumTree
)

// Element is the value stored under a key in any subtree.
//
// Tree and SumTree elements keep their serialized bytes constant: the child
// subtree's root hash is not embedded in the record but committed through
// the element's layered value hash, and the child's root key is tracked in
// the roots column family. This keeps parent rewrites on child mutation
// byte-stable.
type Element struct {
	Kind ElementKind

	// Value is the payload of an Item.
	Value []byte

	// RefPath addresses a Reference's target: path segments followed by the
	// target key as the final segment.
	RefPath [][]byte

	// RootKey optionally names a Tree/SumTree root node's key.
	RootKey []byte

	// Sum is a SumItem's weight or a SumTree's stored aggregate.
	Sum int64

	// Flags are caller-defined bytes available to cost-classification
	// callbacks.
	Flags []byte
}

// NewItem creates an Item element.
func NewItem(value []byte) *Element {
	return &Element{Kind: KindItem, Value: value}
}

// NewItemWithFlags creates an Item element with flags.
func NewItemWithFlags(value, flags []byte) *Element {
	return &Element{Kind: KindItem, Value: value, Flags: flags}
}

// NewReference creates a Reference element targeting the given absolute
// path; the final segment is the target key.
func NewReference(refPath [][]byte) *Element {
	return &Element{Kind: KindReference, RefPath: refPath}
}

// EmptyTree creates a Tree element for an empty subtree.
func EmptyTree() *Element {
	return &Element{Kind: KindTree}
}

// EmptyTreeWithFlags creates a Tree element with flags.
func EmptyTreeWithFlags(flags []byte) *Element {
	return &Element{Kind: KindTree, Flags: flags}
}

// NewSumItem creates a SumItem element with the given weight.
func NewSumItem(sum int64) *Element {
	return &Element{Kind: KindSumItem, Sum: sum}
}

// EmptySumTree creates a SumTree element for an empty sum subtree.
func EmptySumTree() *Element {
	return &Element{Kind: KindSumTree}
}

// IsTree reports whether the element opens a nested subtree.
func (e *Element) IsTree() bool {
	return e.Kind == KindTree || e.Kind == KindSumTree
}

// IsSumTree reports whether the element opens a sum subtree.
func (e *Element) IsSumTree() bool { return e.Kind == KindSumTree }

// SumValue returns the weight the element contributes to a sum tree.
func (e *Element) SumValue() int64 {
	if e.Kind == KindSumItem {
		return e.Sum
	}
	return 0
}

func appendOption(buf []byte, payload []byte) []byte {
	if payload == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	buf = binary.AppendUvarint(buf, uint64(len(payload)))
	return append(buf, payload...)
}

// Serialize encodes the element deterministically: flags option, kind tag,
// then the variant payload. Lengths are unsigned varints; aggregates are
// 8-byte big-endian.
func (e *Element) Serialize() []byte {
	buf := appendOption(nil, e.Flags)
	buf = append(buf, byte(e.Kind))
	switch e.Kind {
	case KindItem:
		buf = binary.AppendUvarint(buf, uint64(len(e.Value)))
		buf = append(buf, e.Value...)
	case KindReference:
		buf = append(buf, 0) // absolute path type
		buf = binary.AppendUvarint(buf, uint64(len(e.RefPath)))
		for _, segment := range e.RefPath {
			buf = binary.AppendUvarint(buf, uint64(len(segment)))
			buf = append(buf, segment...)
		}
	case KindTree:
		buf = appendOption(buf, e.RootKey)
	case KindSumItem:
		buf = binary.BigEndian.AppendUint64(buf, uint64(e.Sum))
	case KindSumTree:
		buf = appendOption(buf, e.RootKey)
		buf = binary.BigEndian.AppendUint64(buf, uint64(e.Sum))
	default:
		panic("grovedb: unknown element kind")
	}
	return buf
}

func readOption(data []byte) ([]byte, []byte, error) {
	if len(data) < 1 {
		return nil, nil, fmt.Errorf("%w: truncated option", ErrCorruptedData)
	}
	if data[0] == 0 {
		return nil, data[1:], nil
	}
	data = data[1:]
	length, read := binary.Uvarint(data)
	if read <= 0 || uint64(len(data)-read) < length {
		return nil, nil, fmt.Errorf("%w: truncated option payload", ErrCorruptedData)
	}
	data = data[read:]
	return append([]byte{}, data[:length]...), data[length:], nil
}

// DeserializeElement decodes an element record.
func DeserializeElement(data []byte) (*Element, error) {
	flags, rest, err := readOption(data)
	if err != nil {
		return nil, err
	}
	if len(rest) < 1 {
		return nil, fmt.Errorf("%w: missing element kind", ErrCorruptedData)
	}
	e := &Element{Kind: ElementKind(rest[0]), Flags: flags}
	rest = rest[1:]
	switch e.Kind {
	case KindItem:
		length, read := binary.Uvarint(rest)
		if read <= 0 || uint64(len(rest)-read) < length {
			return nil, fmt.Errorf("%w: truncated item", ErrCorruptedData)
		}
		rest = rest[read:]
		e.Value = append([]byte{}, rest[:length]...)
	case KindReference:
		if len(rest) < 1 || rest[0] != 0 {
			return nil, fmt.Errorf("%w: unknown reference path type", ErrCorruptedData)
		}
		rest = rest[1:]
		count, read := binary.Uvarint(rest)
		if read <= 0 {
			return nil, fmt.Errorf("%w: truncated reference", ErrCorruptedData)
		}
		rest = rest[read:]
		for i := uint64(0); i < count; i++ {
			length, read := binary.Uvarint(rest)
			if read <= 0 || uint64(len(rest)-read) < length {
				return nil, fmt.Errorf("%w: truncated reference segment", ErrCorruptedData)
			}
			rest = rest[read:]
			e.RefPath = append(e.RefPath, append([]byte{}, rest[:length]...))
			rest = rest[length:]
		}
	case KindTree:
		e.RootKey, _, err = readOption(rest)
		if err != nil {
			return nil, err
		}
	case KindSumItem:
		if len(rest) < 8 {
			return nil, fmt.Errorf("%w: truncated sum item", ErrCorruptedData)
		}
		e.Sum = int64(binary.BigEndian.Uint64(rest[:8]))
	case KindSumTree:
		e.RootKey, rest, err = readOption(rest)
		if err != nil {
			return nil, err
		}
		if len(rest) < 8 {
			return nil, fmt.Errorf("%w: truncated sum tree", ErrCorruptedData)
		}
		e.Sum = int64(binary.BigEndian.Uint64(rest[:8]))
	default:
		return nil, fmt.Errorf("%w: unknown element kind %d", ErrCorruptedData, e.Kind)
	}
	return e, nil
}
