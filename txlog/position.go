package txlog

import "fmt"

// LogPosition addresses a byte boundary in the transaction log stream.
// Positions order by version first, then by offset within the version.
type LogPosition struct {
	Version uint64
	Offset  uint64
}

// UnspecifiedPosition is the zero position, used when no position is known.
var UnspecifiedPosition = LogPosition{}

// Compare returns -1, 0 or 1 depending on whether p orders before, equal
// to or after o.
func (p LogPosition) Compare(o LogPosition) int {
	switch {
	case p.Version < o.Version:
		return -1
	case p.Version > o.Version:
		return 1
	case p.Offset < o.Offset:
		return -1
	case p.Offset > o.Offset:
		return 1
	default:
		return 0
	}
}

// Before reports whether p orders strictly before o.
func (p LogPosition) Before(o LogPosition) bool {
	return p.Compare(o) < 0
}

// Specified reports whether p holds a real position rather than the zero
// value.
func (p LogPosition) Specified() bool {
	return p != UnspecifiedPosition
}

func (p LogPosition) String() string {
	return fmt.Sprintf("LogPosition{version=%d, offset=%d}", p.Version, p.Offset)
}
