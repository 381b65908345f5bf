package bus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func connectTestClient(t *testing.T, maxPayload int32) *Client {
	t.Helper()
	opts := test.DefaultTestOptions
	opts.Port = -1
	if maxPayload > 0 {
		opts.MaxPayload = maxPayload
	}
	srv := test.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	client, err := Connect(context.Background(), "bus-test", config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, newLogger())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestConnectRequiresServers(t *testing.T) {
	_, err := Connect(context.Background(), "bus-test", config.BusConfig{}, newLogger())
	assert.Error(t, err)
}

func TestPublishJSON(t *testing.T) {
	client := connectTestClient(t, 0)
	assert.True(t, client.Healthy())

	sub, err := client.Conn().SubscribeSync("test.json")
	require.NoError(t, err)

	require.NoError(t, client.PublishJSON("test.json", map[string]string{"id": "42"}))
	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, "42", decoded["id"])
}

func TestPublishMsgRejectsOversizedPayload(t *testing.T) {
	client := connectTestClient(t, 1024)

	msg := nats.NewMsg("test.big")
	msg.Data = make([]byte, 4096)
	err := client.PublishMsg(msg)
	assert.True(t, errors.Is(err, nats.ErrMaxPayload))
}
