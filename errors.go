package grovedb

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPath means the path refers to a missing or non-tree element,
	// or a non-tree insert was attempted at the root.
	ErrInvalidPath = errors.New("grovedb: invalid path")

	// ErrCorruptedData means a stored record failed to decode or violated
	// an invariant.
	ErrCorruptedData = errors.New("grovedb: corrupted data")

	// ErrInvalidCodeExecution means an internal invariant was breached.
	ErrInvalidCodeExecution = errors.New("grovedb: invalid code execution")

	// ErrPathNotFound means path resolution missed a subtree.
	ErrPathNotFound = errors.New("grovedb: path not found")

	// ErrPathKeyNotFound means the path resolved but the key is absent.
	ErrPathKeyNotFound = errors.New("grovedb: path key not found")

	// ErrPathParentNotFound means an insert addressed a child of a subtree
	// that does not exist.
	ErrPathParentNotFound = errors.New("grovedb: path parent not found when adding")

	// ErrReferenceLimit means reference resolution exceeded the bounded hop
	// count.
	ErrReferenceLimit = errors.New("grovedb: reference limit reached")

	// ErrBatchConflict means a batch contains the same (path, key) twice.
	ErrBatchConflict = errors.New("grovedb: conflicting operations in batch")

	// ErrDeletingNonEmptyTree means a plain delete targeted a subtree that
	// still has records; DeleteTree clears it instead.
	ErrDeletingNonEmptyTree = errors.New("grovedb: deleting non-empty tree")
)

// StorageError wraps a backend failure.
type StorageError struct {
	Inner error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("grovedb: storage error: %v", e.Inner)
}

func (e *StorageError) Unwrap() error { return e.Inner }

// wrapStorage wraps any non-nil error in StorageError; nil passes through.
// The wrapped error stays reachable through errors.Is/As.
func wrapStorage(err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Inner: err}
}
