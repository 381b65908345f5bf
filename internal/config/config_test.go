package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.TTS.FinishedSlackMS != 250 {
		t.Fatalf("expected 250ms finished slack, got %d", cfg.TTS.FinishedSlackMS)
	}
	if cfg.TTS.Volume != nil {
		t.Fatalf("expected no default volume, got %v", *cfg.TTS.Volume)
	}
	if cfg.Cache.Dir != "" {
		t.Fatalf("expected caching disabled by default")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_TTS_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_TTS_BUS_USERNAME", "alice")
	t.Setenv("LOQA_TTS_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_TTS_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_TTS_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_TTS_NODE_ID", "test-node")
	t.Setenv("LOQA_TTS_HISTORY_PATH", "./tmp.db")
	t.Setenv("LOQA_TTS_HISTORY_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_TTS_HISTORY_MAX_ENTRIES", "123")
	t.Setenv("LOQA_TTS_CACHE_DIR", "/var/cache/loqa-tts")
	t.Setenv("LOQA_TTS_VOLUME", "0.5")
	t.Setenv("LOQA_TTS_PLAY_COMMAND", "aplay -q")
	t.Setenv("LOQA_TTS_SITE_IDS", "kitchen,office")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Node.ID != "test-node" {
		t.Fatalf("expected node id override")
	}
	if cfg.History.Path != "./tmp.db" || cfg.History.RetentionMode != "persistent" || cfg.History.MaxEntries != 123 {
		t.Fatalf("expected history overrides, got %+v", cfg.History)
	}
	if cfg.Cache.Dir != "/var/cache/loqa-tts" {
		t.Fatalf("expected cache dir override")
	}
	if cfg.TTS.Volume == nil || *cfg.TTS.Volume != 0.5 {
		t.Fatalf("expected volume override 0.5")
	}
	if cfg.TTS.PlayCommand != "aplay -q" {
		t.Fatalf("expected play command override")
	}
	if len(cfg.TTS.SiteIDs) != 2 || cfg.TTS.SiteIDs[1] != "office" {
		t.Fatalf("expected site ids override, got %v", cfg.TTS.SiteIDs)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa-tts.yaml")
	data := []byte(`
tts:
  default_voice: lessac
  volume: 0.8
  play_command: "aplay -q -t wav --voice {lang}"
voices:
  - name: lessac
    language: en-us
    model_type: glow_tts
    model_path: /models/lessac
    vocoder_type: hifi_gan
    vocoder_path: /models/hifi
  - name: thorsten
    language: de-de
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Voices) != 2 || cfg.Voices[0].ModelType != "glow_tts" {
		t.Fatalf("unexpected voices: %+v", cfg.Voices)
	}
	if cfg.TTS.Volume == nil || *cfg.TTS.Volume != 0.8 {
		t.Fatalf("expected volume 0.8")
	}
}

func TestValidateRejectsUnknownDefaultVoice(t *testing.T) {
	t.Setenv("LOQA_TTS_DEFAULT_VOICE", "missing")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown default voice")
	}
}

func TestValidateRejectsDuplicateVoices(t *testing.T) {
	cfg := Default()
	cfg.Voices = append(cfg.Voices, VoiceConfig{Name: "default"})
	if err := validate(cfg); err == nil {
		t.Fatal("expected duplicate voice error")
	}
}

func TestValidateExecNeedsCommand(t *testing.T) {
	cfg := Default()
	cfg.TTS.Mode = "exec"
	if err := validate(cfg); err == nil {
		t.Fatal("expected error for exec mode without command")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	t.Setenv("LOQA_TTS_TELEMETRY_LOG_LEVEL", "chatty")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}
