package tts

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-tts/internal/voice"
	"github.com/loqalabs/loqa-tts/internal/waveform"
)

// mockRuneDuration approximates speaking speed for the silent mock voice.
const mockRuneDuration = 60 * time.Millisecond

type mockSynth struct {
	sampleRate int
	channels   int
}

// NewMockSynth returns a synthesizer that answers with silence sized by the
// text length.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *mockSynth) Synthesize(ctx context.Context, v voice.Voice, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrSynthesis)
	}
	rate := m.sampleRate
	if v.SampleRate > 0 {
		rate = v.SampleRate
	}
	d := time.Duration(utf8.RuneCountInString(text)) * mockRuneDuration
	return waveform.Silence(d, rate, 16, m.channels)
}
