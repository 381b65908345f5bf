package protocol

import (
	"strings"
	"time"
)

// SayRequest asks the service to speak Text.
type SayRequest struct {
	ID        string   `json:"id,omitempty"`
	Text      string   `json:"text"`
	Lang      string   `json:"lang,omitempty"`
	Volume    *float64 `json:"volume,omitempty"`
	SiteID    string   `json:"site_id,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
}

// SayFinished closes out every SayRequest, whatever happened to it.
type SayFinished struct {
	ID        string `json:"id"`
	SiteID    string `json:"site_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// TTSError reports a failed say or voice listing request.
type TTSError struct {
	Error     string `json:"error"`
	Context   string `json:"context,omitempty"`
	SiteID    string `json:"site_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// PlayBytes carries a WAV to a remote audio player. On the wire the WAV is
// the raw message body and the ids live in the subject.
type PlayBytes struct {
	RequestID string `json:"request_id"`
	SiteID    string `json:"site_id"`
	WAV       []byte `json:"-"`
}

// PlaybackError reports a failed local play command.
type PlaybackError struct {
	Error     string `json:"error"`
	Context   string `json:"context,omitempty"`
	SiteID    string `json:"site_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// PlaybackFinished is sent by an audio player once a PlayBytes is done.
type PlaybackFinished struct {
	ID        string `json:"id"`
	SiteID    string `json:"site_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// GetVoices asks for the configured voices.
type GetVoices struct {
	ID     string `json:"id,omitempty"`
	SiteID string `json:"site_id,omitempty"`
}

// VoiceInfo is the minimal description of one voice.
type VoiceInfo struct {
	VoiceID     string `json:"voice_id"`
	Language    string `json:"language,omitempty"`
	Description string `json:"description,omitempty"`
}

// Voices answers GetVoices.
type Voices struct {
	Voices []VoiceInfo `json:"voices"`
	ID     string      `json:"id,omitempty"`
	SiteID string      `json:"site_id,omitempty"`
}

// Node presence messages.
type Capability struct {
	Name       string            `json:"name"`
	Tier       string            `json:"tier,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type NodeAnnounce struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

type NodeHeartbeat struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectSay           = "tts.say"
	SubjectSayFinished   = "tts.say.finished"
	SubjectTTSError      = "tts.error"
	SubjectGetVoices     = "tts.voices.get"
	SubjectVoices        = "tts.voices"
	SubjectPlaybackError = "audio.play.error"
	SubjectAudioServer   = "audio.server"
	SubjectNodeAnnounce  = "ctrl.node.announce"
	SubjectNodeHeartbeat = "ctrl.node.heartbeat"

	// SubjectPlayFinishedAll matches PlaybackFinished from every site.
	SubjectPlayFinishedAll = SubjectAudioServer + ".*.finished"

	// PlayBytes headers carry the unmodified ids; subject tokens are sanitized.
	HeaderRequestID = "Loqa-Request-Id"
	HeaderSiteID    = "Loqa-Site-Id"

	// DefaultSiteID is used in subjects when a request names no site.
	DefaultSiteID = "default"
)

// PlayBytesSubject is where the player for siteID receives audio:
// audio.server.<site>.play.<request>.
func PlayBytesSubject(siteID, requestID string) string {
	return SubjectAudioServer + "." + Token(siteOrDefault(siteID)) + ".play." + Token(requestID)
}

// PlayBytesWildcard matches every PlayBytes for one site.
func PlayBytesWildcard(siteID string) string {
	return SubjectAudioServer + "." + Token(siteOrDefault(siteID)) + ".play.*"
}

// PlayFinishedSubject is where the player for siteID confirms playback.
func PlayFinishedSubject(siteID string) string {
	return SubjectAudioServer + "." + Token(siteOrDefault(siteID)) + ".finished"
}

// HeartbeatSubject is the heartbeat subject of nodeID.
func HeartbeatSubject(nodeID string) string {
	return SubjectNodeHeartbeat + "." + Token(nodeID)
}

// ParsePlayBytesSubject extracts the site and request tokens.
func ParsePlayBytesSubject(subject string) (siteID, requestID string, ok bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 5 || parts[0]+"."+parts[1] != SubjectAudioServer || parts[3] != "play" {
		return "", "", false
	}
	return parts[2], parts[4], true
}

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

// Token makes value safe to use as a single subject token.
func Token(value string) string {
	if value == "" {
		return "_"
	}
	return tokenReplacer.Replace(value)
}

func siteOrDefault(siteID string) string {
	if siteID == "" {
		return DefaultSiteID
	}
	return siteID
}
