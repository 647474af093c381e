package apng

import "bytes"

var animationControlMarker = []byte(typeACTL)

// IsAnimated reports whether data starts with the PNG signature and carries an
// acTL marker anywhere in the stream. It never fails; anything else is static.
func IsAnimated(data []byte) bool {
	return hasSignature(data) && bytes.Contains(data, animationControlMarker)
}

// HasFrameControl reports whether a PNG stream contains fcTL or fdAT chunks.
// The scan stops at the first unreadable chunk and reports what it saw so far.
func HasFrameControl(data []byte) bool {
	found := false
	_ = walk(data, func(c chunk) error {
		if c.typ == typeFCTL || c.typ == typeFDAT {
			found = true
			return errStopWalk
		}
		return nil
	})
	return found
}
