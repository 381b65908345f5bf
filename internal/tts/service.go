package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-tts/internal/bus"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service binds an Orchestrator to the bus.
type Service struct {
	cfg    config.TTSConfig
	bus    *bus.Client
	orch   *Orchestrator
	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewService(parent context.Context, cfg config.TTSConfig, busClient *bus.Client, orch *Orchestrator, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		orch:   orch,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "tts-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectSay, s.handleSay},
		{protocol.SubjectGetVoices, s.handleGetVoices},
		{protocol.SubjectPlayFinishedAll, s.handlePlayFinished},
	}
	var subs []*nats.Subscription
	for _, h := range handlers {
		sub, err := s.bus.Conn().Subscribe(h.subject, h.handler)
		if err != nil {
			drain(subs)
			return err
		}
		subs = append(subs, sub)
	}
	s.mu.Lock()
	s.subs = subs
	s.mu.Unlock()
	s.logger.Info("tts service listening", slog.Any("site_ids", s.cfg.SiteIDs))
	return nil
}

// Close stops intake, cancels in-flight waits and blocks until every
// request has emitted its SayFinished.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	drain(subs)
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	if !s.cfg.Enabled {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs) > 0
}

func drain(subs []*nats.Subscription) {
	for _, sub := range subs {
		_ = sub.Drain()
	}
}

func (s *Service) handleSay(msg *nats.Msg) {
	var req protocol.SayRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode say request", slogError(err))
		return
	}
	if !s.orch.Handles(req.SiteID) {
		s.logger.Debug("ignoring say request for other site", slog.String("site_id", req.SiteID))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.orch.Say(s.ctx, req, s.publish)
	}()
}

func (s *Service) handleGetVoices(msg *nats.Msg) {
	var req protocol.GetVoices
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.logger.Warn("failed to decode get voices request", slogError(err))
			return
		}
	}
	if !s.orch.Handles(req.SiteID) {
		return
	}
	s.orch.Voices(req, func(out any) {
		if msg.Reply == "" {
			s.publish(out)
			return
		}
		data, err := json.Marshal(out)
		if err != nil {
			s.logger.Warn("failed to marshal voices reply", slogError(err))
			return
		}
		if err := msg.Respond(data); err != nil {
			s.logger.Warn("failed to reply to get voices", slogError(err))
		}
	})
}

func (s *Service) handlePlayFinished(msg *nats.Msg) {
	var finished protocol.PlaybackFinished
	if err := json.Unmarshal(msg.Data, &finished); err != nil {
		s.logger.Warn("failed to decode play finished", slogError(err))
		return
	}
	if !s.orch.PlayFinished(finished) {
		s.logger.Debug("play finished for unknown request", slog.String("request_id", finished.ID))
	}
}

// publish is the Emitter used for every orchestrator output.
func (s *Service) publish(out any) {
	var (
		subject string
		err     error
	)
	switch m := out.(type) {
	case protocol.PlayBytes:
		subject = protocol.PlayBytesSubject(m.SiteID, m.RequestID)
		msg := nats.NewMsg(subject)
		msg.Header.Set(protocol.HeaderRequestID, m.RequestID)
		msg.Header.Set(protocol.HeaderSiteID, m.SiteID)
		msg.Data = m.WAV
		err = s.bus.PublishMsg(msg)
	case protocol.SayFinished:
		subject = protocol.SubjectSayFinished
		err = s.bus.PublishJSON(subject, m)
	case protocol.TTSError:
		subject = protocol.SubjectTTSError
		err = s.bus.PublishJSON(subject, m)
	case protocol.PlaybackError:
		subject = protocol.SubjectPlaybackError
		err = s.bus.PublishJSON(subject, m)
	case protocol.Voices:
		subject = protocol.SubjectVoices
		err = s.bus.PublishJSON(subject, m)
	default:
		s.logger.Warn("dropping unknown outbound message", slog.String("type", fmt.Sprintf("%T", out)))
		return
	}
	if err != nil {
		s.logger.Warn("failed to publish", slog.String("subject", subject), slogError(err))
	}
}
