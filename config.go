package grovedb

import "github.com/grovedb/go-grovedb/log"

// Config tunes engine behavior.
type Config struct {
	// ReferenceLimit bounds how many reference hops resolution will follow
	// before failing with ErrReferenceLimit.
	ReferenceLimit int

	// PruneDepth is the deepest tree level each Merk keeps in memory after
	// a commit; deeper nodes are demoted to key-only references.
	PruneDepth int

	// Logger receives engine diagnostics. Nil discards them.
	Logger *log.Logger
}

// DefaultConfig returns the engine defaults: ten reference hops, root plus
// immediate children retained, no logging.
func DefaultConfig() Config {
	return Config{
		ReferenceLimit: 10,
		PruneDepth:     1,
	}
}
