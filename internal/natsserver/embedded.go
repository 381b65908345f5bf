package natsserver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

// MaxPayload leaves room for a few minutes of 16-bit mono audio in a single
// PlayBytes message.
const MaxPayload = 16 << 20

// EmbeddedServer runs a NATS server inside the process so a single binary
// can serve a small installation.
type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

// Start creates and starts the embedded server. It returns nil when the
// configuration points at an external bus.
func Start(cfg config.BusConfig, log *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Embedded {
		return nil, nil
	}
	log = log.With(slog.String("component", "nats-embedded"))

	opts := &server.Options{
		Host:       "0.0.0.0",
		Port:       cfg.Port,
		MaxPayload: MaxPayload,
		JetStream:  cfg.StoreDir != "",
		StoreDir:   cfg.StoreDir,
		NoSigs:     true,
	}
	if cfg.Token != "" {
		opts.Authorization = cfg.Token
	} else if cfg.Username != "" {
		opts.Username = cfg.Username
		opts.Password = cfg.Password
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server failed to start within 5 seconds")
	}

	log.Info("embedded NATS server started",
		slog.String("url", ns.ClientURL()),
		slog.String("store_dir", cfg.StoreDir))

	return &EmbeddedServer{
		ns:  ns,
		log: log,
	}, nil
}

// ClientURL is the address local clients connect to.
func (e *EmbeddedServer) ClientURL() string {
	return e.ns.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
