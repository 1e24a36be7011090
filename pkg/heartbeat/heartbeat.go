// Package heartbeat periodically records a liveness beat and refreshes the
// bot's presence, so an operator can tell a hung process from an idle one
// by inspecting the state store.
package heartbeat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"tavernbot/pkg/bus"
	"tavernbot/pkg/config"
	"tavernbot/pkg/gateway"
	"tavernbot/pkg/logger"
	"tavernbot/pkg/state"
)

const (
	beatKey         = "heartbeat"
	defaultInterval = 15 * time.Minute
)

// Beat is the liveness record written on each tick.
type Beat struct {
	At       time.Time         `json:"at"`
	Uptime   string            `json:"uptime"`
	Count    uint64            `json:"count"`
	BusStats map[string]uint64 `json:"busStats"`
}

// Service is the heartbeat ticker.
type Service struct {
	log      *logger.Logger
	cfg      *config.Config
	kv       state.KV
	bus      bus.Bus
	gw       gateway.Gateway
	interval time.Duration

	started time.Time
	count   uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates the heartbeat service.
func NewService(log *logger.Logger, cfg *config.Config, kv state.KV, b bus.Bus, gw gateway.Gateway) *Service {
	interval := defaultInterval
	if cfg.Heartbeat.IntervalMinutes > 0 {
		interval = time.Duration(cfg.Heartbeat.IntervalMinutes) * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		log:      log,
		cfg:      cfg,
		kv:       kv,
		bus:      b,
		gw:       gw,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the beat loop.
func (s *Service) Start(ctx context.Context) error {
	s.started = time.Now()
	s.log.Info("Heartbeat started", zap.Duration("interval", s.interval))

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop stops the beat loop.
func (s *Service) Stop(ctx context.Context) error {
	s.cancel()
	s.wg.Wait()
	s.log.Info("Heartbeat stopped")
	return nil
}

func (s *Service) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.beat(s.ctx)
		}
	}
}

// beat writes the liveness record and nudges the presence text, which
// Discord occasionally drops across gateway reconnects.
func (s *Service) beat(ctx context.Context) {
	s.count++

	record := Beat{
		At:       time.Now(),
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Count:    s.count,
		BusStats: s.bus.GetMetrics(),
	}
	if err := s.kv.Set(ctx, beatKey, record); err != nil {
		s.log.Warn("Failed to record heartbeat", zap.Error(err))
	}

	if presence := s.cfg.Bot.Presence; presence != "" && s.gw.BotID() != "" {
		if err := s.gw.SetPresence(ctx, presence); err != nil {
			s.log.Debug("Failed to refresh presence", zap.Error(err))
		}
	}

	s.log.Debug("Heartbeat",
		zap.Uint64("count", record.Count),
		zap.String("uptime", record.Uptime))
}

// LastBeat reads the most recent liveness record, if any.
func LastBeat(ctx context.Context, kv state.KV) (*Beat, bool, error) {
	raw, ok, err := kv.Get(ctx, beatKey)
	if err != nil || !ok {
		return nil, false, err
	}
	var b Beat
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, false, err
	}
	return &b, true, nil
}
