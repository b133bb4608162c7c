// Package filter implements the streaming suppression of injected debugger
// commands. The child's output is scanned for a hidden prefix; everything
// from the prefix through the next prompt occurrence is withheld from the
// user's terminal, all other bytes pass through untouched.
package filter

// Filter is an incremental byte-stream matcher. It holds at most
// len(hiddenPrefix) bytes while a partial prefix match spans a chunk
// boundary, so memory stays bounded regardless of input size.
//
// Not safe for concurrent use; the proxy loop is the only caller.
type Filter struct {
	hiddenPrefix []byte
	resumeMarker []byte

	// KMP failure tables: longest proper prefix of pattern[:i] that is
	// also a suffix, for each i.
	prefixFail []int
	markerFail []int

	suppressing bool
	matched     int    // bytes matched of the current pattern
	pending     []byte // withheld input, equals hiddenPrefix[:matched]
}

// New creates a Filter with the given sentinel patterns. Both patterns
// must be non-empty.
func New(hiddenPrefix, resumeMarker []byte) *Filter {
	if len(hiddenPrefix) == 0 || len(resumeMarker) == 0 {
		panic("filter: empty sentinel pattern")
	}
	return &Filter{
		hiddenPrefix: append([]byte(nil), hiddenPrefix...),
		resumeMarker: append([]byte(nil), resumeMarker...),
		prefixFail:   failureTable(hiddenPrefix),
		markerFail:   failureTable(resumeMarker),
		pending:      make([]byte, 0, len(hiddenPrefix)),
	}
}

// failureTable computes the KMP fallback table for pattern. fail[i] is the
// length of the longest proper prefix of pattern[:i] that is also its suffix.
func failureTable(pattern []byte) []int {
	fail := make([]int, len(pattern)+1)
	k := 0
	for i := 1; i < len(pattern); i++ {
		for k > 0 && pattern[i] != pattern[k] {
			k = fail[k]
		}
		if pattern[i] == pattern[k] {
			k++
		}
		fail[i+1] = k
	}
	return fail
}

// Feed consumes one chunk of child output and returns the bytes that may be
// shown to the user. A byte is only emitted once it cannot be part of a
// hidden prefix match still in progress; chunk boundaries never change what
// becomes visible.
func (f *Filter) Feed(chunk []byte) []byte {
	var out []byte
	for _, b := range chunk {
		if f.suppressing {
			f.feedSuppressed(b)
		} else {
			out = f.feedVisible(out, b)
		}
	}
	return out
}

// feedVisible advances the hidden-prefix matcher by one byte, appending any
// released bytes to out.
func (f *Filter) feedVisible(out []byte, b byte) []byte {
	for {
		if b == f.hiddenPrefix[f.matched] {
			f.pending = append(f.pending, b)
			f.matched++
			if f.matched == len(f.hiddenPrefix) {
				// Confirmed injected command: discard its echo and
				// hide everything up to the resume marker.
				f.pending = f.pending[:0]
				f.matched = 0
				f.suppressing = true
			}
			return out
		}
		if f.matched == 0 {
			return append(out, b)
		}
		// Mismatch with a partial match open. Fall back to the longest
		// prefix that is still viable and release the bytes that can no
		// longer belong to a match.
		k := f.prefixFail[f.matched]
		out = append(out, f.pending[:f.matched-k]...)
		f.pending = append(f.pending[:0], f.hiddenPrefix[:k]...)
		f.matched = k
	}
}

// feedSuppressed advances the resume-marker matcher by one byte. Suppressed
// bytes are discarded, never emitted; the marker itself is swallowed too.
func (f *Filter) feedSuppressed(b byte) {
	for {
		if b == f.resumeMarker[f.matched] {
			f.matched++
			if f.matched == len(f.resumeMarker) {
				f.suppressing = false
				f.matched = 0
			}
			return
		}
		if f.matched == 0 {
			return
		}
		f.matched = f.markerFail[f.matched]
	}
}

// Flush releases bytes withheld by an incomplete prefix match. The proxy
// calls it when the child has been silent for a while, so a partial prefix
// that will never complete does not hide real output forever. A confirmed
// suppressed region is not released: that output stays hidden until the
// resume marker arrives or the session ends.
func (f *Filter) Flush() []byte {
	if f.suppressing {
		// Nothing is provisionally withheld inside a hidden region, and
		// marker progress must survive the stall: the prompt may well be
		// the last thing printed before the child goes quiet.
		return nil
	}
	if f.matched == 0 {
		return nil
	}
	out := append([]byte(nil), f.pending[:f.matched]...)
	f.pending = f.pending[:0]
	f.matched = 0
	return out
}

// Suppressing reports whether the filter is inside a hidden region.
func (f *Filter) Suppressing() bool { return f.suppressing }
