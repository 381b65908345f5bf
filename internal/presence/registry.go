// Package presence announces this node and its voices on the control bus and
// tracks the other nodes it hears from.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-tts/internal/bus"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/protocol"
	"github.com/loqalabs/loqa-tts/internal/voice"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// CapabilityVoice is advertised once per configured voice.
const CapabilityVoice = "tts.voice"

type NodeInfo struct {
	ID           string                `json:"id"`
	Role         string                `json:"role"`
	Capabilities []protocol.Capability `json:"capabilities"`
	LastSeen     time.Time             `json:"last_seen"`
	Healthy      bool                  `json:"healthy"`
}

type Registry struct {
	cfg          config.NodeConfig
	capabilities []protocol.Capability
	log          *slog.Logger
	bus          *bus.Client
	clock        func() time.Time
	mu           sync.RWMutex
	nodes        map[string]*NodeInfo
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	subs         []*nats.Subscription
}

// VoiceCapabilities describes voices as bus capabilities.
func VoiceCapabilities(voices []voice.Voice) []protocol.Capability {
	caps := make([]protocol.Capability, 0, len(voices))
	for _, v := range voices {
		attrs := map[string]string{"voice": v.Name}
		if v.Language != "" {
			attrs["language"] = v.Language
		}
		if v.ModelType != "" {
			attrs["model_type"] = v.ModelType
		}
		caps = append(caps, protocol.Capability{Name: CapabilityVoice, Tier: "local", Attributes: attrs})
	}
	return caps
}

func NewRegistry(ctx context.Context, cfg config.NodeConfig, capabilities []protocol.Capability, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:          cfg,
		capabilities: capabilities,
		log:          log.With(slog.String("component", "presence")),
		bus:          busClient,
		clock:        time.Now,
		nodes:        make(map[string]*NodeInfo),
		cancel:       cancel,
	}

	if err := r.initMetrics(otel.Meter("github.com/loqalabs/loqa-tts/presence")); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		cancel()
		return nil, err
	}

	if cfg.Announce {
		if err := r.announce(); err != nil {
			r.log.Warn("failed to announce node", slog.String("error", err.Error()))
		}
		r.wg.Add(1)
		go r.runHeartbeat(ctx, time.Duration(cfg.HeartbeatInterval)*time.Millisecond)
	}
	r.wg.Add(1)
	go r.monitorHealth(ctx)

	return r, nil
}

func (r *Registry) Close() {
	r.cancel()
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	r.wg.Wait()
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectNodeAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectNodeHeartbeat+".*", r.handleHeartbeat)
	if err != nil {
		_ = announceSub.Drain()
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return nil
}

func (r *Registry) runHeartbeat(ctx context.Context, interval time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Registry) monitorHealth(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	msg := protocol.NodeAnnounce{
		NodeID:       r.cfg.ID,
		Role:         r.cfg.Role,
		Capabilities: r.capabilities,
		Timestamp:    r.clock().UTC(),
	}
	if err := r.bus.PublishJSON(protocol.SubjectNodeAnnounce, msg); err != nil {
		return err
	}
	r.updateNode(msg.NodeID, msg.Role, msg.Capabilities, msg.Timestamp)
	return nil
}

func (r *Registry) publishHeartbeat() error {
	msg := protocol.NodeHeartbeat{NodeID: r.cfg.ID, Timestamp: r.clock().UTC()}
	return r.bus.PublishJSON(protocol.HeartbeatSubject(r.cfg.ID), msg)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement protocol.NodeAnnounce
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.NodeID == "" {
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = r.clock().UTC()
	}
	r.updateNode(announcement.NodeID, announcement.Role, announcement.Capabilities, announcement.Timestamp)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.NodeHeartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.NodeID == "" {
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.clock().UTC()
	}
	r.updateNode(hb.NodeID, "", nil, hb.Timestamp)
}

func (r *Registry) updateNode(nodeID, role string, capabilities []protocol.Capability, timestamp time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		node = &NodeInfo{ID: nodeID}
		r.nodes[nodeID] = node
	}
	if role != "" {
		node.Role = role
	}
	if len(capabilities) > 0 {
		node.Capabilities = capabilities
	}
	node.LastSeen = timestamp
	node.Healthy = true
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	now := r.clock()
	for _, node := range r.nodes {
		if now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
		}
	}
}

// Healthy reports whether this node still hears its own heartbeat. A node
// that does not announce itself is always healthy.
func (r *Registry) Healthy() bool {
	if !r.cfg.Announce {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[r.cfg.ID]
	return ok && node.Healthy
}

// Nodes returns a snapshot of known nodes, optionally filtered.
func (r *Registry) Nodes(filter func(NodeInfo) bool) []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []NodeInfo
	for _, node := range r.nodes {
		n := *node
		n.Capabilities = append([]protocol.Capability(nil), node.Capabilities...)
		if filter == nil || filter(n) {
			results = append(results, n)
		}
	}
	return results
}

// WithCapability matches nodes advertising name.
func WithCapability(name string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		for _, c := range node.Capabilities {
			if c.Name == name {
				return true
			}
		}
		return false
	}
}

func (r *Registry) initMetrics(meter metric.Meter) error {
	nodes, err := meter.Int64ObservableGauge("loqa.presence.nodes", metric.WithDescription("Number of known nodes"))
	if err != nil {
		return err
	}
	caps, err := meter.Int64ObservableGauge("loqa.presence.capabilities", metric.WithDescription("Total advertised capabilities"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		n, c := r.snapshotCounts()
		obs.ObserveInt64(nodes, n)
		obs.ObserveInt64(caps, c)
		return nil
	}, nodes, caps)
	return err
}

func (r *Registry) snapshotCounts() (int64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var nodes, caps int64
	for _, node := range r.nodes {
		nodes++
		caps += int64(len(node.Capabilities))
	}
	return nodes, caps
}
