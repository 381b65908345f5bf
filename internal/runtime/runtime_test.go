package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/history"
	"github.com/loqalabs/loqa-tts/internal/protocol"
	"github.com/loqalabs/loqa-tts/internal/voice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	cfg := config.Default()
	r := New(cfg, newLogger())

	var err error
	r.voices, err = voice.NewRegistryFromConfig([]config.VoiceConfig{
		{Name: "default"},
		{Name: "thorsten", Language: "de-de", ModelType: "glow_tts"},
	}, "default")
	require.NoError(t, err)

	r.journal, err = history.Open(context.Background(), config.HistoryConfig{
		Path:          filepath.Join(t.TempDir(), "history.db"),
		RetentionMode: history.RetentionSession,
	}, newLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.journal.Close() })
	return r
}

func TestHandleVoices(t *testing.T) {
	r := newTestRuntime(t)
	rec := httptest.NewRecorder()
	r.handleVoices(rec, httptest.NewRequest(http.MethodGet, "/voices", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body protocol.Voices
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Voices, 2)
	assert.Equal(t, "thorsten", body.Voices[1].VoiceID)
	assert.Equal(t, "glow_tts", body.Voices[1].Description)
}

func TestHandleHistory(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()
	require.NoError(t, r.journal.Record(ctx, history.Entry{RequestID: "a", SiteID: "kitchen", Outcome: "confirmed"}))
	require.NoError(t, r.journal.Record(ctx, history.Entry{RequestID: "b", SiteID: "office", Outcome: "failed"}))

	rec := httptest.NewRecorder()
	r.handleHistory(rec, httptest.NewRequest(http.MethodGet, "/history?site_id=kitchen&limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Entries []history.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "a", body.Entries[0].RequestID)

	rec = httptest.NewRecorder()
	r.handleHistory(rec, httptest.NewRequest(http.MethodGet, "/history?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReadyBeforeStart(t *testing.T) {
	r := newTestRuntime(t)
	rec := httptest.NewRecorder()
	r.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	r.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildSynth(t *testing.T) {
	synth, err := buildSynth(config.TTSConfig{Mode: "mock", SampleRate: 16000, Channels: 1})
	require.NoError(t, err)
	assert.NotNil(t, synth)

	_, err = buildSynth(config.TTSConfig{Mode: "exec", Command: ""})
	assert.Error(t, err)

	_, err = buildSynth(config.TTSConfig{Mode: "neural"})
	assert.Error(t, err)
}

func TestBuildOrchestratorRejectsBadPlayCommand(t *testing.T) {
	cfg := config.Default()
	cfg.TTS.PlayCommand = `aplay "unterminated`
	registry, err := voice.NewRegistryFromConfig(cfg.Voices, cfg.TTS.DefaultVoice)
	require.NoError(t, err)

	_, err = buildOrchestrator(cfg, registry, nil, newLogger())
	assert.Error(t, err)
}

func TestAnnouncedVoices(t *testing.T) {
	r := newTestRuntime(t)
	voices := r.announcedVoices()
	require.Len(t, voices, 2)

	var err error
	r.voices, err = voice.NewRegistry(nil, "")
	require.NoError(t, err)
	assert.Empty(t, r.announcedVoices())
}
