package tts

import "strings"

// Emotion is the label attached to assistant text that selects voice
// rendering parameters. It never affects routing.
type Emotion string

const (
	EmotionDefault    Emotion = "default"
	EmotionCheerful   Emotion = "cheerful"
	EmotionExcited    Emotion = "excited"
	EmotionSad        Emotion = "sad"
	EmotionAngry      Emotion = "angry"
	EmotionFriendly   Emotion = "friendly"
	EmotionTerrified  Emotion = "terrified"
	EmotionWhispering Emotion = "whispering"
	EmotionShouting   Emotion = "shouting"
)

// Emotions lists every recognised emotion in declaration order.
var Emotions = []Emotion{
	EmotionDefault, EmotionCheerful, EmotionExcited, EmotionSad, EmotionAngry,
	EmotionFriendly, EmotionTerrified, EmotionWhispering, EmotionShouting,
}

// ParseEmotion normalises s. Empty input maps to [EmotionDefault]; unknown
// labels are kept as-is so they can still be forwarded to the server.
func ParseEmotion(s string) Emotion {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return EmotionDefault
	}
	return Emotion(s)
}

// IsKnown reports whether e is one of [Emotions].
func (e Emotion) IsKnown() bool {
	_, ok := prosodyTable[e]
	return ok
}

// Prosody is the (rate, pitch, volume) triple a local synthesizer applies.
// Each value is a multiplier around 1.0.
type Prosody struct {
	Rate   float64
	Pitch  float64
	Volume float64
}

// DefaultProsody is applied to unknown emotions.
var DefaultProsody = Prosody{Rate: 1.0, Pitch: 1.0, Volume: 1.0}

var prosodyTable = map[Emotion]Prosody{
	EmotionDefault:    DefaultProsody,
	EmotionCheerful:   {Rate: 1.1, Pitch: 1.2, Volume: 1.0},
	EmotionExcited:    {Rate: 1.2, Pitch: 1.3, Volume: 1.0},
	EmotionSad:        {Rate: 0.9, Pitch: 0.8, Volume: 0.8},
	EmotionAngry:      {Rate: 1.1, Pitch: 0.9, Volume: 1.0},
	EmotionFriendly:   {Rate: 1.0, Pitch: 1.1, Volume: 0.9},
	EmotionTerrified:  {Rate: 1.3, Pitch: 1.4, Volume: 0.9},
	EmotionWhispering: {Rate: 0.8, Pitch: 0.7, Volume: 0.5},
	EmotionShouting:   {Rate: 1.2, Pitch: 1.0, Volume: 1.0},
}

// ProsodyFor returns the prosody for e, or [DefaultProsody] if e is unknown.
func ProsodyFor(e Emotion) Prosody {
	if p, ok := prosodyTable[e]; ok {
		return p
	}
	return DefaultProsody
}

// Utterance is one unit of speech output.
type Utterance struct {
	// Text is the assistant text to speak.
	Text string

	// Emotion selects voice parameters.
	Emotion Emotion
}

// Voice describes a voice installed on a local synthesizer.
type Voice struct {
	// ID is the synthesizer-specific identifier passed back when speaking.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Language is the BCP-47 style tag reported by the synthesizer (e.g. "en-us").
	Language string
}

// IsEnglish reports whether the voice's language starts with "en-".
func (v Voice) IsEnglish() bool {
	return strings.HasPrefix(strings.ToLower(v.Language), "en-")
}
