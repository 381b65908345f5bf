package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-tts/internal/bus"
	"github.com/loqalabs/loqa-tts/internal/cache"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/history"
	"github.com/loqalabs/loqa-tts/internal/natsserver"
	"github.com/loqalabs/loqa-tts/internal/playback"
	"github.com/loqalabs/loqa-tts/internal/presence"
	"github.com/loqalabs/loqa-tts/internal/protocol"
	"github.com/loqalabs/loqa-tts/internal/tts"
	"github.com/loqalabs/loqa-tts/internal/voice"
)

// Version is reported by -version and in telemetry resources.
var Version = "0.1.0-dev"

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	nats     *natsserver.EmbeddedServer
	bus      *bus.Client
	voices   *voice.Registry
	journal  *history.Journal
	tts      *tts.Service
	presence *presence.Registry
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up, serves until ctx ends and then shuts
// everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.closeTelemetry()

	if err := r.startComponents(ctx); err != nil {
		r.stopComponents()
		return err
	}
	defer r.stopComponents()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/voices", r.handleVoices)
	mux.HandleFunc("/history", r.handleHistory)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("node_id", r.cfg.Node.ID))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	return nil
}

func (r *Runtime) startComponents(ctx context.Context) error {
	busCfg := r.cfg.Bus
	es, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	r.nats = es
	if es != nil {
		busCfg.Servers = []string{es.ClientURL()}
	}

	r.bus, err = bus.Connect(ctx, r.cfg.RuntimeName, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return err
	}

	defaultVoice := ""
	if r.cfg.TTS.Enabled {
		defaultVoice = r.cfg.TTS.DefaultVoice
	}
	r.voices, err = voice.NewRegistryFromConfig(r.cfg.Voices, defaultVoice)
	if err != nil {
		return fmt.Errorf("load voices: %w", err)
	}

	r.journal, err = history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}

	orch, err := buildOrchestrator(r.cfg, r.voices, r.journal, r.logger)
	if err != nil {
		return err
	}
	r.tts = tts.NewService(ctx, r.cfg.TTS, r.bus, orch, r.logger)
	if err := r.tts.Start(); err != nil {
		return fmt.Errorf("start tts service: %w", err)
	}

	caps := presence.VoiceCapabilities(r.announcedVoices())
	r.presence, err = presence.NewRegistry(ctx, r.cfg.Node, caps, r.bus, r.logger)
	if err != nil {
		return fmt.Errorf("start presence: %w", err)
	}
	return nil
}

// announcedVoices lists the voices advertised as node capabilities. A node
// without voices still announces itself, just with no tts.voice entries.
func (r *Runtime) announcedVoices() []voice.Voice {
	voices, err := r.voices.List()
	if errors.Is(err, voice.ErrNoVoices) {
		r.logger.Debug("no voices configured, announcing without voice capabilities")
		return nil
	}
	if err != nil {
		r.logger.Warn("failed to list voices for announcement", slog.String("error", err.Error()))
		return nil
	}
	return voices
}

func (r *Runtime) stopComponents() {
	if r.presence != nil {
		r.presence.Close()
	}
	if r.tts != nil {
		r.tts.Close()
	}
	if r.journal != nil {
		if err := r.journal.Close(); err != nil {
			r.logger.Warn("history close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.nats.Shutdown()
}

func (r *Runtime) closeTelemetry() {
	if r.tracerClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func buildOrchestrator(cfg config.Config, voices *voice.Registry, journal *history.Journal, logger *slog.Logger) (*tts.Orchestrator, error) {
	synth, err := buildSynth(cfg.TTS)
	if err != nil {
		return nil, err
	}
	sentences, err := cache.New(cfg.Cache.Dir, cfg.Cache.MemoryEntries, logger)
	if err != nil {
		return nil, err
	}
	var player tts.Player
	if cfg.TTS.PlayCommand != "" {
		p, err := tts.NewCommandPlayer(cfg.TTS.PlayCommand)
		if err != nil {
			return nil, err
		}
		player = p
	}
	return tts.NewOrchestrator(tts.Options{
		Voices:       voices,
		Synth:        synth,
		Cache:        sentences,
		Playback:     playback.NewCoordinator(time.Duration(cfg.TTS.FinishedSlackMS)*time.Millisecond, logger),
		Player:       player,
		Journal:      journal,
		Volume:       cfg.TTS.Volume,
		SynthTimeout: time.Duration(cfg.TTS.SynthTimeoutMS) * time.Millisecond,
		SiteIDs:      cfg.TTS.SiteIDs,
		Logger:       logger,
	}), nil
}

func buildSynth(cfg config.TTSConfig) (tts.Synthesizer, error) {
	switch cfg.Mode {
	case "exec":
		return tts.NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	case "mock", "":
		return tts.NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.bus.Healthy() && r.tts != nil && r.tts.Healthy() && r.presence != nil && r.presence.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleVoices(w http.ResponseWriter, _ *http.Request) {
	voices, err := r.voices.List()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	infos := make([]protocol.VoiceInfo, 0, len(voices))
	for _, v := range voices {
		infos = append(infos, protocol.VoiceInfo{VoiceID: v.Name, Language: v.Language, Description: v.ModelType})
	}
	writeJSON(w, http.StatusOK, protocol.Voices{Voices: infos})
}

func (r *Runtime) handleHistory(w http.ResponseWriter, req *http.Request) {
	limit := 0
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}
	entries, err := r.journal.List(req.Context(), req.URL.Query().Get("site_id"), limit)
	if err != nil {
		r.logger.Warn("history query failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
