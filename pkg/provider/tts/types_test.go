package tts_test

import (
	"testing"

	"github.com/MrWong99/tutorvox/pkg/provider/tts"
)

func TestProsodyFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		emotion tts.Emotion
		want    tts.Prosody
	}{
		{tts.EmotionDefault, tts.Prosody{Rate: 1.0, Pitch: 1.0, Volume: 1.0}},
		{tts.EmotionCheerful, tts.Prosody{Rate: 1.1, Pitch: 1.2, Volume: 1.0}},
		{tts.EmotionExcited, tts.Prosody{Rate: 1.2, Pitch: 1.3, Volume: 1.0}},
		{tts.EmotionSad, tts.Prosody{Rate: 0.9, Pitch: 0.8, Volume: 0.8}},
		{tts.EmotionAngry, tts.Prosody{Rate: 1.1, Pitch: 0.9, Volume: 1.0}},
		{tts.EmotionFriendly, tts.Prosody{Rate: 1.0, Pitch: 1.1, Volume: 0.9}},
		{tts.EmotionTerrified, tts.Prosody{Rate: 1.3, Pitch: 1.4, Volume: 0.9}},
		{tts.EmotionWhispering, tts.Prosody{Rate: 0.8, Pitch: 0.7, Volume: 0.5}},
		{tts.EmotionShouting, tts.Prosody{Rate: 1.2, Pitch: 1.0, Volume: 1.0}},
		{"sarcastic", tts.DefaultProsody},
		{"", tts.DefaultProsody},
	}
	for _, tc := range tests {
		if got := tts.ProsodyFor(tc.emotion); got != tc.want {
			t.Errorf("ProsodyFor(%q) = %+v, want %+v", tc.emotion, got, tc.want)
		}
	}
}

func TestParseEmotion(t *testing.T) {
	t.Parallel()
	if got := tts.ParseEmotion(""); got != tts.EmotionDefault {
		t.Errorf("ParseEmotion(\"\") = %q, want default", got)
	}
	if got := tts.ParseEmotion(" Friendly "); got != tts.EmotionFriendly {
		t.Errorf("ParseEmotion(\" Friendly \") = %q, want friendly", got)
	}
	if got := tts.ParseEmotion("curious"); got.IsKnown() {
		t.Errorf("ParseEmotion(\"curious\") should not be known")
	}
	for _, e := range tts.Emotions {
		if !e.IsKnown() {
			t.Errorf("%q should be known", e)
		}
	}
}

func TestVoiceIsEnglish(t *testing.T) {
	t.Parallel()
	if !(tts.Voice{Language: "en-US"}).IsEnglish() {
		t.Error("en-US should be English")
	}
	if (tts.Voice{Language: "en"}).IsEnglish() {
		t.Error("bare \"en\" does not match the en- prefix")
	}
	if (tts.Voice{Language: "de-de"}).IsEnglish() {
		t.Error("de-de should not be English")
	}
}

func TestStatusError(t *testing.T) {
	t.Parallel()
	err := &tts.StatusError{Op: "POST /synthesize_stream", Code: 500, Body: "boom"}
	want := "POST /synthesize_stream returned status 500: boom"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
