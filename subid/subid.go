// Package subid hands out small monotonically increasing identifiers
// used to tag a registration with the reactor (a ticker, a one-shot
// callback) so it can later be cancelled by value instead of by
// closure identity.
package subid

import "sync/atomic"

// ID identifies one subscription. The zero ID is never issued and can
// be used as a sentinel for "no subscription".
type ID uint64

var counter uint64

// New returns a fresh, process-unique ID.
func New() ID {
	return ID(atomic.AddUint64(&counter, 1))
}

// Valid reports whether id was ever issued by New.
func (id ID) Valid() bool {
	return id != 0
}
