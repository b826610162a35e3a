package event

import "time"

// DisplayHintToken is the ioev word index spec.md §4.2 uses as the
// DISPLAYHINT merge key ("equal 8th ioev word (token)").
const DisplayHintToken = 7

// MergeDisplayHint implements the coalescing rule of spec.md §4.2's
// event coalescing table: non-zero fields from the newer event replace
// the older one's; strictly-negative fields fall through (keep old);
// zero timestamps are forced monotonic with the process clock.
func MergeDisplayHint(old, next *Event) Event {
	merged := *old
	for i := range next.IOEv {
		nv := next.IOEv[i].I
		switch {
		case nv < 0:
			// falls through: keep old value
		case nv != 0:
			merged.IOEv[i] = next.IOEv[i]
		default:
			// next is zero: only replace if old was also zero (both unset)
			if old.IOEv[i].I == 0 {
				merged.IOEv[i] = next.IOEv[i]
			}
		}
	}
	if next.Timestamp.IsZero() {
		merged.Timestamp = time.Now()
	} else {
		merged.Timestamp = next.Timestamp
	}
	return merged
}

// SameDisplayHintToken reports whether two DISPLAYHINT events share the
// merge token.
func SameDisplayHintToken(a, b *Event) bool {
	return a.IOEv[DisplayHintToken].I == b.IOEv[DisplayHintToken].I
}

// StepFrameID returns the id used by the STEPFRAME dedup rule
// (spec.md §4.2 step 6 "STEPFRAME: deduplicate against a pending one
// with the same id"), carried in ioev[0].
func StepFrameID(e *Event) int64 {
	return e.IOEv[0].I
}
