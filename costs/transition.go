package costs

// TransitionType classifies the storage effect of a single update so that
// flag callbacks can price it. It is derived from the byte deltas of the
// operation, not from the operation kind.
type TransitionType uint8

const (
	// TransitionNoOp is an update that changed nothing.
	TransitionNoOp TransitionType = iota

	// TransitionInsertNew added a record that did not exist before.
	TransitionInsertNew

	// TransitionUpdateSameSize replaced a record with one of equal size.
	TransitionUpdateSameSize

	// TransitionUpdateBiggerSize replaced a record with a larger one.
	TransitionUpdateBiggerSize

	// TransitionUpdateSmallerSize replaced a record with a smaller one.
	TransitionUpdateSmallerSize

	// TransitionDelete removed a record.
	TransitionDelete
)

// String implements fmt.Stringer.
func (t TransitionType) String() string {
	switch t {
	case TransitionNoOp:
		return "no-op"
	case TransitionInsertNew:
		return "insert-new"
	case TransitionUpdateSameSize:
		return "update-same-size"
	case TransitionUpdateBiggerSize:
		return "update-bigger-size"
	case TransitionUpdateSmallerSize:
		return "update-smaller-size"
	case TransitionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// TransitionType classifies the storage cost. Added bytes with nothing
// replaced is a fresh insert; added bytes on top of replaced bytes means
// the record grew; removed bytes alongside replaced bytes means it shrank;
// removed bytes alone is a delete.
func (s StorageCost) TransitionType() TransitionType {
	removed := uint32(0)
	if s.RemovedBytes != nil {
		removed = s.RemovedBytes.TotalRemovedBytes()
	}
	switch {
	case s.AddedBytes == 0 && s.ReplacedBytes == 0 && removed == 0:
		return TransitionNoOp
	case s.AddedBytes > 0 && s.ReplacedBytes == 0 && removed == 0:
		return TransitionInsertNew
	case s.AddedBytes > 0 && s.ReplacedBytes > 0:
		return TransitionUpdateBiggerSize
	case s.AddedBytes == 0 && s.ReplacedBytes > 0 && removed > 0:
		return TransitionUpdateSmallerSize
	case s.AddedBytes == 0 && s.ReplacedBytes > 0:
		return TransitionUpdateSameSize
	default:
		return TransitionDelete
	}
}
