package audio

import (
	"fmt"
	"log/slog"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler converts mono float samples from a capture device rate to the
// wire rate. When both rates match it passes samples through untouched.
//
// A Resampler keeps filter state between calls, so create one per listen
// cycle. It is safe for concurrent use, though callers normally feed it from
// a single goroutine.
type Resampler struct {
	src, dst int

	mu     sync.Mutex
	inner  resampling.Resampler
	warned sync.Once
}

// NewResampler creates a [Resampler] from srcRate to dstRate. Both rates must
// be positive.
func NewResampler(srcRate, dstRate int) (*Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: invalid resample rates %d -> %d", srcRate, dstRate)
	}
	r := &Resampler{src: srcRate, dst: dstRate}
	if srcRate == dstRate {
		return r, nil
	}
	inner, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}
	r.inner = inner
	return r, nil
}

// Passthrough reports whether the resampler leaves samples unchanged.
func (r *Resampler) Passthrough() bool {
	return r.inner == nil
}

// Process resamples one block of samples. The output length is roughly
// len(in)*dst/src and may vary slightly between calls while the filter fills.
func (r *Resampler) Process(in []float32) ([]float32, error) {
	if r.inner == nil {
		return in, nil
	}
	r.warned.Do(func() {
		slog.Debug("audio resampling capture input", "from", r.src, "to", r.dst)
	})

	buf := make([]float64, len(in))
	for i, s := range in {
		buf[i] = float64(s)
	}

	r.mu.Lock()
	out, err := r.inner.Process(buf)
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}

	res := make([]float32, len(out))
	for i, s := range out {
		res[i] = float32(s)
	}
	return res, nil
}
