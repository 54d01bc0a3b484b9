package audio

// Discard consumes the remaining blocks of s until its channel closes and
// returns how many were dropped. A capture cycle that has been cancelled
// calls it so the device goroutine is never left blocked on a send.
func Discard(s CaptureStream) int {
	n := 0
	for range s.Buffers() {
		n++
	}
	return n
}
