package advisory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"nabcore/pkg/configstore"
	"nabcore/pkg/feed/aqicn"
	"nabcore/pkg/protocol"
)

// ClientName is announced to the hub.
const ClientName = "advisory"

// ErrTokenRefused wraps a fetch the feed rejected for its credentials. The
// token is read from the runtime config file and is never cleared by the
// service; the operator replaces it there.
var ErrTokenRefused = errors.New("advisory token refused")

// Fetcher returns the current reading. *aqicn.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, loc *aqicn.Location) (aqicn.Reading, error)
}

// HubSender delivers packets to the hub. *satellite.Client implements it.
type HubSender interface {
	Send(p protocol.Packet) (string, error)
}

// Loop runs functions on the satellite's event loop.
type Loop interface {
	Submit(fn func(ctx context.Context)) bool
}

// Config holds Service configuration.
type Config struct {
	Interval time.Duration // feed poll (default 1h)
}

// Service is the advisory satellite's behavior. Its methods run on the
// satellite loop goroutine, which owns the state.
type Service struct {
	interval time.Duration
	store    configstore.Store
	feed     Fetcher
	hub      HubSender
	log      zerolog.Logger

	state State
}

// NewService creates a Service. Call Attach before the satellite runs.
func NewService(cfg Config, store configstore.Store, feed Fetcher, log zerolog.Logger) *Service {
	interval := cfg.Interval
	if interval == 0 {
		interval = time.Hour
	}
	return &Service{
		interval: interval,
		store:    store,
		feed:     feed,
		log:      log.With().Str("component", "advisory").Logger(),
		state:    State{}.Normalize(),
	}
}

// Attach sets the hub connection used for commands.
func (s *Service) Attach(hub HubSender) { s.hub = hub }

// State returns the in-memory state.
func (s *Service) State() State { return s.state }

// Load reads the persisted state. A missing record reads as defaults.
func (s *Service) Load(ctx context.Context) error {
	var st State
	err := s.store.Load(ctx, StateKey, &st)
	if err != nil && !errors.Is(err, configstore.ErrNotFound) {
		return fmt.Errorf("load advisory state: %w", err)
	}
	s.state = st.Normalize()
	return nil
}

// Run ticks the feed on the loop every Interval until ctx is cancelled.
// A failed tick is not retried before the next one.
func (s *Service) Run(ctx context.Context, loop Loop) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok := loop.Submit(func(ctx context.Context) {
				if _, err := s.Tick(ctx); err != nil {
					s.log.Warn().Err(err).Msg("advisory tick failed")
				}
			})
			if !ok {
				return
			}
		}
	}
}

// Tick fetches and classifies one reading and persists the level. On
// failure the state is left untouched.
func (s *Service) Tick(ctx context.Context) (int, error) {
	reading, err := s.fetch(ctx)
	if err != nil {
		return 0, err
	}
	level := Classify(reading.Metric(s.state.Metric))
	next := s.state
	next.LastLevel = &level
	next.LastCity = reading.City
	if err := s.save(ctx, next); err != nil {
		return 0, err
	}
	s.log.Info().Str("city", reading.City).Int("level", level).Msg("advisory level updated")
	return level, nil
}

// --- satellite.Handler ---

// OnConnect announces an idle mode with no subscriptions.
func (s *Service) OnConnect(_ context.Context) error {
	if s.hub == nil {
		return nil
	}
	_, err := s.hub.Send(protocol.ModePacket(ClientName, protocol.ModeIdle))
	return err
}

// OnPacket logs hub responses.
func (s *Service) OnPacket(_ context.Context, p protocol.Packet) {
	if p.Type == protocol.TypeResponse && p.Status == protocol.StatusError {
		s.log.Warn().Str("request_id", p.RequestID).Str("detail", p.Detail).Msg("hub rejected command")
	}
}

// OnReload re-reads the state and honours a pending perform request.
func (s *Service) OnReload(ctx context.Context) error {
	if err := s.Load(ctx); err != nil {
		return err
	}
	if !s.state.PerformRequested() {
		return nil
	}
	return s.PerformNow(ctx)
}

// PerformNow renders the current level once. It fetches a fresh reading
// when it can and otherwise uses the last level, or the worst level when
// none was ever observed. The request is cleared and persisted before the
// command goes out.
func (s *Service) PerformNow(ctx context.Context) error {
	next := s.state
	next.NextRunAt = nil
	next.NextRunKind = ""

	level := LevelWorst
	reading, err := s.fetch(ctx)
	switch {
	case err == nil:
		level = Classify(reading.Metric(s.state.Metric))
		next.LastLevel = &level
		next.LastCity = reading.City
	case s.state.LastLevel != nil:
		level = *s.state.LastLevel
		s.log.Warn().Err(err).Int("level", level).Msg("fetch failed, performing last level")
	default:
		s.log.Warn().Err(err).Msg("fetch failed and no level known, performing worst")
	}

	if err := s.save(ctx, next); err != nil {
		return fmt.Errorf("clear perform request: %w", err)
	}
	if s.hub == nil {
		return nil
	}
	if _, err := s.hub.Send(protocol.CommandPacket("", renderSequence(level, s.state.Visual)...)); err != nil {
		return fmt.Errorf("send advisory: %w", err)
	}
	return nil
}

func (s *Service) fetch(ctx context.Context) (aqicn.Reading, error) {
	reading, err := s.feed.Fetch(ctx, s.state.Location)
	var fe *protocol.FeedError
	if errors.As(err, &fe) && fe.Unauthorized {
		s.log.Error().Err(err).Msg("feed refused the token, update advisory.token in the config file")
		return reading, fmt.Errorf("%w: %w", ErrTokenRefused, err)
	}
	return reading, err
}

func (s *Service) save(ctx context.Context, next State) error {
	if err := s.store.Save(ctx, StateKey, next); err != nil {
		return fmt.Errorf("save advisory state: %w", err)
	}
	s.state = next
	return nil
}
