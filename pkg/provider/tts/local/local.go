// Package local provides the browser-equivalent fallback TTS backend: an
// on-host synthesizer (espeak-ng by default) driven through os/exec.
//
// The synthesizer writes a WAV stream to stdout which is handed to an
// audio.Player, so cancellation behaves the same way as for the remote
// backend. Each emotion maps to a fixed prosody triple (see
// [tts.ProsodyFor]) that is translated into espeak-ng rate, pitch and
// amplitude flags.
//
// When no voice is configured the first installed English voice is used;
// if none is installed the synthesizer default applies.
package local

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/tutorvox/pkg/audio"
	"github.com/MrWong99/tutorvox/pkg/provider/tts"
)

var _ tts.Backend = (*Provider)(nil)

const (
	// DefaultCommand is the synthesizer binary looked up on PATH.
	DefaultCommand = "espeak-ng"

	baseRate   = 175
	basePitch  = 50
	baseVolume = 100
	maxPitch   = 99
	maxVolume  = 200
)

// Runner executes name with args and returns its stdout. It exists so tests
// can replace the synthesizer process.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// execRunner runs the command with os/exec and returns stdout. Stderr is
// folded into the error on failure.
func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

// Option configures a Provider.
type Option func(*Provider)

// WithCommand overrides the synthesizer binary.
func WithCommand(name string) Option {
	return func(p *Provider) {
		if name != "" {
			p.command = name
		}
	}
}

// WithVoice pins the voice passed with -v. Disables English auto-selection.
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(p *Provider) {
		if r != nil {
			p.run = r
		}
	}
}

// WithLookPath replaces the PATH lookup used to detect the synthesizer.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(p *Provider) {
		if fn != nil {
			p.lookPath = fn
		}
	}
}

// Provider implements tts.Backend with a local synthesizer process.
type Provider struct {
	command  string
	voice    string
	player   audio.Player
	run      Runner
	lookPath func(string) (string, error)

	voiceOnce sync.Once
	resolved  string
}

// New creates a local Provider that plays through player.
func New(player audio.Player, opts ...Option) (*Provider, error) {
	if player == nil {
		return nil, errors.New("local tts: player must not be nil")
	}
	p := &Provider{
		command:  DefaultCommand,
		player:   player,
		run:      execRunner,
		lookPath: exec.LookPath,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements tts.Backend.
func (p *Provider) Name() string { return "local" }

// Available reports whether the synthesizer binary can be found.
func (p *Provider) Available() bool {
	_, err := p.lookPath(p.command)
	return err == nil
}

// Speak implements tts.Backend. It returns [tts.ErrUnsupported] when the
// synthesizer is not installed.
func (p *Provider) Speak(ctx context.Context, u tts.Utterance) error {
	if !p.Available() {
		return fmt.Errorf("local tts: %s: %w", p.command, tts.ErrUnsupported)
	}
	args := p.Args(u, p.selectVoice(ctx))
	wav, err := p.run(ctx, p.command, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("local tts: synthesize: %w", err)
	}
	if len(wav) == 0 {
		return fmt.Errorf("local tts: %w", tts.ErrEmptyAudio)
	}
	if err := p.player.Play(ctx, wav); err != nil {
		return fmt.Errorf("local tts: playback: %w", err)
	}
	return nil
}

// Args builds the synthesizer argument vector for u. voice may be empty.
func (p *Provider) Args(u tts.Utterance, voice string) []string {
	pr := tts.ProsodyFor(u.Emotion)
	args := []string{
		"--stdout",
		"-s", strconv.Itoa(int(baseRate * pr.Rate)),
		"-p", strconv.Itoa(clamp(int(basePitch*pr.Pitch), 0, maxPitch)),
		"-a", strconv.Itoa(clamp(int(baseVolume*pr.Volume), 0, maxVolume)),
	}
	if voice != "" {
		args = append(args, "-v", voice)
	}
	return append(args, "--", u.Text)
}

// Voices lists the voices installed on the synthesizer.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	if !p.Available() {
		return nil, fmt.Errorf("local tts: %s: %w", p.command, tts.ErrUnsupported)
	}
	out, err := p.run(ctx, p.command, "--voices")
	if err != nil {
		return nil, fmt.Errorf("local tts: list voices: %w", err)
	}
	return ParseVoices(out), nil
}

// selectVoice returns the configured voice or, once per Provider, the first
// English voice reported by the synthesizer.
func (p *Provider) selectVoice(ctx context.Context) string {
	if p.voice != "" {
		return p.voice
	}
	p.voiceOnce.Do(func() {
		voices, err := p.Voices(ctx)
		if err != nil {
			slog.Debug("local tts: voice discovery failed", "err", err)
			return
		}
		for _, v := range voices {
			if v.IsEnglish() {
				p.resolved = v.ID
				slog.Debug("local tts: selected voice", "voice", v.Name, "language", v.Language)
				return
			}
		}
	})
	return p.resolved
}

// ParseVoices parses the table printed by "espeak-ng --voices":
//
//	Pty Language       Age/Gender VoiceName          File          Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US
//
// The header line and malformed rows are skipped.
func ParseVoices(out []byte) []tts.Voice {
	var voices []tts.Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || fields[0] == "Pty" {
			continue
		}
		if _, err := strconv.Atoi(fields[0]); err != nil {
			continue
		}
		voices = append(voices, tts.Voice{
			ID:       fields[1],
			Name:     strings.ReplaceAll(fields[3], "_", " "),
			Language: fields[1],
		})
	}
	return voices
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
