package util

// Clone returns a copy of b that shares no memory with it. Nil stays nil.
func Clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)), b...)
}

// Wipe zeroes each slice in place. Best effort only: the runtime may hold
// earlier copies.
func Wipe(bufs ...[]byte) {
	for _, b := range bufs {
		clear(b)
	}
}
