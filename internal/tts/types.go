package tts

import (
	"context"
	"errors"

	"github.com/loqalabs/loqa-tts/internal/history"
	"github.com/loqalabs/loqa-tts/internal/voice"
)

var (
	// ErrSynthesis marks a synthesizer that produced no usable audio.
	ErrSynthesis = errors.New("synthesis failed")
	// ErrPlayback marks a local play command that could not start or exited non-zero.
	ErrPlayback = errors.New("playback failed")
)

// Synthesizer turns text into a WAV for voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, v voice.Voice, text string) ([]byte, error)
}

// Player plays a WAV on the local machine and returns once playback is done.
type Player interface {
	Play(ctx context.Context, wav []byte, lang string) error
}

// Journal receives one entry per finished say request.
type Journal interface {
	Record(ctx context.Context, e history.Entry) error
}

// Emitter publishes one outbound message. Messages are values of the
// protocol package: PlayBytes, PlaybackError, TTSError, SayFinished and Voices.
type Emitter func(msg any)

// Request outcomes stored in the journal besides the playback outcomes.
const (
	OutcomeLocal       = "local"
	OutcomeLocalFailed = "local_failed"
	OutcomeFailed      = "failed"
)
