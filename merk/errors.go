package merk

import "errors"

var (
	// ErrKeyNotFound is returned when getting or deleting a key the tree
	// does not contain.
	ErrKeyNotFound = errors.New("merk: key not found")

	// ErrUnsortedBatch is returned when a batch's keys are not strictly
	// ascending.
	ErrUnsortedBatch = errors.New("merk: batch keys out of order")

	// ErrDuplicateKey is returned when a batch contains the same key twice.
	ErrDuplicateKey = errors.New("merk: duplicate key in batch")

	// ErrKeyTooLong is returned when encoding a key of 256 bytes or more.
	ErrKeyTooLong = errors.New("merk: key length must be below 256")

	// ErrCorruptedData is returned when a stored record fails to decode.
	ErrCorruptedData = errors.New("merk: corrupted data")
)
