package audio

import "testing"

type closedStream struct{ ch chan []float32 }

func (s closedStream) Buffers() <-chan []float32 { return s.ch }
func (closedStream) Err() error { return nil }
func (closedStream) Close() error { return nil }

func TestDiscard(t *testing.T) {
	t.Parallel()

	s := closedStream{ch: make(chan []float32, 3)}
	for range 3 {
		s.ch <- make([]float32, DefaultBufferSize)
	}
	close(s.ch)

	if got := Discard(s); got != 3 {
		t.Errorf("Discard = %d, want 3", got)
	}
	if got := Discard(s); got != 0 {
		t.Errorf("Discard on drained stream = %d, want 0", got)
	}
}
