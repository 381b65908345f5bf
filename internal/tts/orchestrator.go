package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-tts/internal/cache"
	"github.com/loqalabs/loqa-tts/internal/history"
	"github.com/loqalabs/loqa-tts/internal/playback"
	"github.com/loqalabs/loqa-tts/internal/protocol"
	"github.com/loqalabs/loqa-tts/internal/voice"
	"github.com/loqalabs/loqa-tts/internal/waveform"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const defaultSynthTimeout = 45 * time.Second

// Options configures an Orchestrator. Voices, Synth and Playback are
// required; a nil Cache disables caching and a nil Player selects remote
// playback over the bus.
type Options struct {
	Voices       *voice.Registry
	Synth        Synthesizer
	Cache        *cache.SentenceCache
	Playback     *playback.Coordinator
	Player       Player
	Journal      Journal
	Volume       *float64
	SynthTimeout time.Duration
	SiteIDs      []string
	Logger       *slog.Logger
	Meter        metric.Meter
	Tracer       trace.Tracer
}

// Orchestrator runs the say lifecycle: resolve the voice, fetch or
// synthesize audio, dispatch it, wait for playback and fill the cache.
type Orchestrator struct {
	voices       *voice.Registry
	synth        Synthesizer
	cache        *cache.SentenceCache
	playback     *playback.Coordinator
	player       Player
	journal      Journal
	volume       *float64
	synthTimeout time.Duration
	sites        map[string]struct{}
	log          *slog.Logger
	tracer       trace.Tracer
	metrics      *metrics
	newID        func() string
}

func NewOrchestrator(opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "tts-orchestrator"))

	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	timeout := opts.SynthTimeout
	if timeout <= 0 {
		timeout = defaultSynthTimeout
	}

	o := &Orchestrator{
		voices:       opts.Voices,
		synth:        opts.Synth,
		cache:        opts.Cache,
		playback:     opts.Playback,
		player:       opts.Player,
		journal:      opts.Journal,
		volume:       opts.Volume,
		synthTimeout: timeout,
		log:          log,
		tracer:       tracer,
		newID:        func() string { return uuid.NewString() },
	}
	if len(opts.SiteIDs) > 0 {
		o.sites = make(map[string]struct{}, len(opts.SiteIDs))
		for _, id := range opts.SiteIDs {
			o.sites[id] = struct{}{}
		}
	}
	o.metrics = newMetrics(meter, o.playback.Len, log)
	return o
}

// Handles reports whether requests for siteID are served by this instance.
func (o *Orchestrator) Handles(siteID string) bool {
	if o.sites == nil {
		return true
	}
	_, ok := o.sites[siteID]
	return ok
}

// Say runs one request to completion. Whatever happens, the last message
// passed to emit is a SayFinished carrying the request's ids.
func (o *Orchestrator) Say(ctx context.Context, req protocol.SayRequest, emit Emitter) {
	if req.ID == "" {
		req.ID = o.newID()
	}
	started := time.Now()
	entry := history.Entry{
		RequestID: req.ID,
		SiteID:    req.SiteID,
		SessionID: req.SessionID,
		Text:      req.Text,
		Outcome:   OutcomeFailed,
	}
	log := o.log.With(slog.String("request_id", req.ID), slog.String("site_id", req.SiteID))

	ctx, span := o.tracer.Start(ctx, "tts.say", trace.WithAttributes(
		attribute.String("tts.request_id", req.ID),
		attribute.String("tts.site_id", req.SiteID),
	))
	o.metrics.requests.Add(ctx, 1)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			o.fail(ctx, span, log, req, &entry, err, emit)
		}
		span.SetAttributes(attribute.String("tts.outcome", entry.Outcome))
		span.End()

		entry.Elapsed = time.Since(started)
		o.record(ctx, log, entry)

		emit(protocol.SayFinished{ID: req.ID, SiteID: req.SiteID, SessionID: req.SessionID})
		log.Debug("say finished", slog.String("outcome", entry.Outcome), slog.Duration("elapsed", entry.Elapsed))
	}()

	if err := o.say(ctx, log, req, &entry, emit); err != nil {
		o.fail(ctx, span, log, req, &entry, err, emit)
	}
}

func (o *Orchestrator) say(ctx context.Context, log *slog.Logger, req protocol.SayRequest, entry *history.Entry, emit Emitter) error {
	v, err := o.voices.Resolve(req.Lang)
	if err != nil {
		return err
	}
	entry.Voice = v.Name

	key := cache.Key(v.CacheID(), req.Text)
	data, fromCache := o.cache.Lookup(key)
	entry.FromCache = fromCache
	if fromCache {
		o.metrics.cacheHits.Add(ctx, 1)
		log.Debug("sentence cache hit", slog.String("key", key))
	} else {
		o.metrics.cacheMisses.Add(ctx, 1)
		if data, err = o.synthesize(ctx, v, req.Text); err != nil {
			return err
		}
	}

	dispatched := data
	if volume, ok := o.effectiveVolume(req); ok {
		dispatched = waveform.Scale(data, volume, log)
	}

	entry.Outcome = o.dispatch(ctx, log, req, v, dispatched, emit)

	if !fromCache {
		if err := o.cache.Store(key, data); err != nil {
			log.Warn("failed to cache sentence", slog.String("key", key), slogError(err))
		}
	}
	return nil
}

func (o *Orchestrator) synthesize(ctx context.Context, v voice.Voice, text string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, o.synthTimeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "tts.synthesize", trace.WithAttributes(attribute.String("tts.voice", v.Name)))
	defer span.End()

	start := time.Now()
	data, err := o.synth.Synthesize(ctx, v, text)
	o.metrics.synthesis.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("voice", v.Name)))
	if err != nil {
		if errors.Is(err, ErrSynthesis) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	if len(data) <= waveform.HeaderSize {
		return nil, fmt.Errorf("%w: no audio produced", ErrSynthesis)
	}
	return data, nil
}

func (o *Orchestrator) effectiveVolume(req protocol.SayRequest) (float64, bool) {
	switch {
	case req.Volume != nil:
		return *req.Volume, true
	case o.volume != nil:
		return *o.volume, true
	default:
		return 0, false
	}
}

// dispatch hands audio to the local player or to a remote one and returns
// the journal outcome.
func (o *Orchestrator) dispatch(ctx context.Context, log *slog.Logger, req protocol.SayRequest, v voice.Voice, wav []byte, emit Emitter) string {
	if o.player != nil {
		if err := o.player.Play(ctx, wav, playLang(req, v)); err != nil {
			log.Error("local playback failed", slogError(err))
			emit(protocol.PlaybackError{
				Error:     err.Error(),
				Context:   req.ID,
				SiteID:    req.SiteID,
				SessionID: req.SessionID,
			})
			return OutcomeLocalFailed
		}
		return OutcomeLocal
	}

	duration, err := waveform.EstimateDuration(wav)
	if err != nil {
		log.Warn("could not estimate audio duration", slogError(err))
		duration = 0
	}

	pending := o.playback.Register(req.ID)
	emit(protocol.PlayBytes{RequestID: req.ID, SiteID: req.SiteID, WAV: wav})

	outcome := o.playback.Wait(ctx, pending, o.playback.Timeout(duration))
	if outcome == playback.TimedOut {
		o.metrics.timeouts.Add(ctx, 1)
	}
	return outcome.String()
}

func playLang(req protocol.SayRequest, v voice.Voice) string {
	switch {
	case req.Lang != "":
		return req.Lang
	case v.Language != "":
		return v.Language
	default:
		return v.Name
	}
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, log *slog.Logger, req protocol.SayRequest, entry *history.Entry, err error, emit Emitter) {
	log.Error("say request failed", slogError(err))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	o.metrics.errors.Add(ctx, 1)

	entry.Outcome = OutcomeFailed
	entry.Error = err.Error()
	emit(protocol.TTSError{
		Error:     err.Error(),
		Context:   req.ID,
		SiteID:    req.SiteID,
		SessionID: req.SessionID,
	})
}

func (o *Orchestrator) record(ctx context.Context, log *slog.Logger, entry history.Entry) {
	if o.journal == nil {
		return
	}
	if err := o.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		log.Warn("failed to record history", slogError(err))
	}
}

// Voices answers a voice listing query with either a Voices or a TTSError.
func (o *Orchestrator) Voices(req protocol.GetVoices, emit Emitter) {
	voices, err := o.voices.List()
	if err != nil {
		o.log.Error("failed to list voices", slogError(err))
		emit(protocol.TTSError{Error: err.Error(), Context: req.ID, SiteID: req.SiteID})
		return
	}
	infos := make([]protocol.VoiceInfo, 0, len(voices))
	for _, v := range voices {
		infos = append(infos, protocol.VoiceInfo{
			VoiceID:     v.Name,
			Language:    v.Language,
			Description: v.ModelType,
		})
	}
	emit(protocol.Voices{Voices: infos, ID: req.ID, SiteID: req.SiteID})
}

// PlayFinished confirms a remote playback. It reports false for ids nobody
// is waiting on.
func (o *Orchestrator) PlayFinished(msg protocol.PlaybackFinished) bool {
	return o.playback.Finish(msg.ID)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
