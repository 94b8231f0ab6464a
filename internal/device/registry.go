package device

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/speechlens/speechlens/internal/bus"
	"github.com/speechlens/speechlens/internal/config"
	"github.com/speechlens/speechlens/internal/protocol"
)

// Info describes one capture device known to the runtime.
type Info struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Attributes map[string]string `json:"attributes,omitempty"`
	LastSeen   time.Time         `json:"last_seen"`
	Online     bool              `json:"online"`
}

type announceMessage struct {
	DeviceID   string            `json:"device_id"`
	Kind       string            `json:"kind"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

type heartbeatMessage struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Registry tracks capture devices announcing themselves on the bus and
// sweeps them offline when heartbeats lapse.
type Registry struct {
	cfg    config.DevicesConfig
	log    *slog.Logger
	bus    *bus.Client
	mu     sync.RWMutex
	device map[string]*Info
	cancel context.CancelFunc
	subs   []*nats.Subscription
	clock  func() time.Time
}

func NewRegistry(ctx context.Context, cfg config.DevicesConfig, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:    cfg,
		log:    log.With(slog.String("component", "device-registry")),
		bus:    busClient,
		device: make(map[string]*Info),
		cancel: cancel,
		clock:  time.Now,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.cancel()
		return nil, err
	}

	go r.monitorLiveness(ctx)

	return r, nil
}

func (r *Registry) Close() {
	if r == nil {
		return
	}
	if r.cancel != nil {
		r.cancel()
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectDeviceAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectDeviceHeartbeatPrefix+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)

	return nil
}

func (r *Registry) monitorLiveness(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateLiveness()
		}
	}
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = r.clock().UTC()
	}
	r.updateDevice(announcement.DeviceID, announcement.Kind, announcement.Attributes, announcement.Timestamp)
	r.log.Info("capture device announced",
		slog.String("device_id", announcement.DeviceID),
		slog.String("kind", announcement.Kind))
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.clock().UTC()
	}
	r.updateDevice(hb.DeviceID, "", nil, hb.Timestamp)
}

func (r *Registry) updateDevice(deviceID, kind string, attributes map[string]string, timestamp time.Time) {
	if deviceID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.device[deviceID]
	if !ok {
		dev = &Info{ID: deviceID}
		r.device[deviceID] = dev
	}
	if kind != "" {
		dev.Kind = kind
	}
	if len(attributes) > 0 {
		dev.Attributes = attributes
	}
	dev.LastSeen = timestamp
	dev.Online = true
}

func (r *Registry) evaluateLiveness() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeoutMS) * time.Millisecond
	now := r.clock()
	for _, dev := range r.device {
		if dev.Online && now.Sub(dev.LastSeen) > timeout {
			dev.Online = false
			r.log.Info("capture device went offline", slog.String("device_id", dev.ID))
		}
	}
}

// AnyOnline reports whether at least one capture device is currently live.
func (r *Registry) AnyOnline() bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, dev := range r.device {
		if dev.Online {
			return true
		}
	}
	return false
}

// Query returns devices matching the filter; a nil filter matches all.
func (r *Registry) Query(filter func(Info) bool) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []Info
	for _, dev := range r.device {
		copy := *dev
		if filter == nil || filter(copy) {
			results = append(results, copy)
		}
	}
	return results
}

// WithKindFilter matches devices of one kind, e.g. "browser" or "mic".
func WithKindFilter(kind string) func(Info) bool {
	return func(dev Info) bool {
		return dev.Kind == kind
	}
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/speechlens/speechlens/runtime")
	known, err := meter.Int64ObservableGauge("speechlens.devices.known",
		metric.WithDescription("Number of capture devices ever seen"))
	if err != nil {
		return err
	}
	online, err := meter.Int64ObservableGauge("speechlens.devices.online",
		metric.WithDescription("Number of capture devices currently live"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		knownCount, onlineCount := r.snapshotCounts()
		obs.ObserveInt64(known, knownCount)
		obs.ObserveInt64(online, onlineCount)
		return nil
	}, known, online)
	return err
}

func (r *Registry) snapshotCounts() (int64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var known int64
	var online int64
	for _, dev := range r.device {
		known++
		if dev.Online {
			online++
		}
	}
	return known, online
}
