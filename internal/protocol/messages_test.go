package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlayBytesSubjectRoundTrip(t *testing.T) {
	subject := PlayBytesSubject("kitchen", "abc-123")
	assert.Equal(t, "audio.server.kitchen.play.abc-123", subject)

	site, request, ok := ParsePlayBytesSubject(subject)
	assert.True(t, ok)
	assert.Equal(t, "kitchen", site)
	assert.Equal(t, "abc-123", request)
}

func TestSubjectsSanitizeTokens(t *testing.T) {
	assert.Equal(t, "audio.server.default.play.a_b_c", PlayBytesSubject("", "a.b c"))
	assert.Equal(t, "audio.server.living_room.finished", PlayFinishedSubject("living.room"))
	assert.Equal(t, "ctrl.node.heartbeat.node_1", HeartbeatSubject("node*1"))
	assert.Equal(t, "_", Token(""))
}

func TestParsePlayBytesSubjectRejectsOtherSubjects(t *testing.T) {
	for _, subject := range []string{
		PlayFinishedSubject("kitchen"),
		SubjectPlaybackError,
		SubjectSay,
		"audio.server.kitchen.play",
	} {
		_, _, ok := ParsePlayBytesSubject(subject)
		assert.False(t, ok, subject)
	}
}
