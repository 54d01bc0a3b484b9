package audio

// Wire format constants for outbound microphone audio.
const (
	// WireSampleRate is the sample rate of every frame sent to the server.
	WireSampleRate = 16000

	// DefaultBufferSize is the number of samples per capture buffer.
	DefaultBufferSize = 4096
)
