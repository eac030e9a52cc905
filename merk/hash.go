// Package merk implements a persistent balanced Merkle-AVL tree over a
// prefixed storage context. Nodes carry a key-value hash and a node hash;
// children are held through typed links that may be pruned to key-only
// references and fetched back lazily.
package merk

import (
	"lukechampine.com/blake3"

	"github.com/grovedb/go-grovedb/costs"
)

// HashLength is the byte length of all tree hashes.
const HashLength = 32

// Hash is a BLAKE3-256 digest.
type Hash [HashLength]byte

// NullHash is the hash contributed by an absent link and the root hash of an
// empty tree.
var NullHash = Hash{}

// HashData hashes arbitrary bytes with the node-hash primitive, pricing one
// hash call. The grove layer uses it for root-leaf merkle leaves.
func HashData(cost *costs.OperationCost, data []byte) Hash {
	cost.AddHashCalls(1)
	return blake3.Sum256(data)
}

// CombineLayeredHash recomputes the layered value hash of value bytes over a
// child layer root, as stored for tree elements. Used for verification.
func CombineLayeredHash(cost *costs.OperationCost, value []byte, childRoot Hash) Hash {
	return layeredValueHash(cost, value, childRoot)
}

// valueHash hashes raw value bytes.
func valueHash(cost *costs.OperationCost, value []byte) Hash {
	cost.AddHashCalls(1)
	return blake3.Sum256(value)
}

// layeredValueHash hashes value bytes together with the root hash of the
// child layer they commit to, so a nested tree's state changes the parent
// record's value hash without changing its stored bytes.
func layeredValueHash(cost *costs.OperationCost, value []byte, childRoot Hash) Hash {
	cost.AddHashCalls(1)
	buf := make([]byte, 0, len(value)+HashLength)
	buf = append(buf, value...)
	buf = append(buf, childRoot[:]...)
	return blake3.Sum256(buf)
}

// kvHash computes H(H(key) || valueHash).
func kvHash(cost *costs.OperationCost, key []byte, vh Hash) Hash {
	cost.AddHashCalls(1)
	kh := blake3.Sum256(key)
	buf := make([]byte, 0, 2*HashLength)
	buf = append(buf, kh[:]...)
	buf = append(buf, vh[:]...)
	return blake3.Sum256(buf)
}

// nodeHash computes H(kvHash || leftHash || rightHash), with NullHash for
// absent children.
func nodeHash(cost *costs.OperationCost, kv, left, right Hash) Hash {
	cost.AddHashCalls(1)
	buf := make([]byte, 0, 3*HashLength)
	buf = append(buf, kv[:]...)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return blake3.Sum256(buf)
}
