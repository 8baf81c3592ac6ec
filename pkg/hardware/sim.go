package hardware

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nabcore/pkg/protocol"
)

// SimConfig paces the simulated actuators.
type SimConfig struct {
	StepDuration  time.Duration // time per ear step (default 20ms)
	AudioDuration time.Duration // nominal clip length (default 1s)
}

func (c SimConfig) withDefaults() SimConfig {
	out := c
	if out.StepDuration == 0 {
		out.StepDuration = 20 * time.Millisecond
	}
	if out.AudioDuration == 0 {
		out.AudioDuration = time.Second
	}
	return out
}

// Sim stands in for the stepper, NeoPixel and sound drivers. It logs every
// actuation and takes roughly as long as the physical device would.
type Sim struct {
	cfg    SimConfig
	log    zerolog.Logger
	mu     sync.Mutex
	ears   Ears
	stop   chan struct{}
	events chan Event
}

// NewSim returns a simulated device with both ears at 0.
func NewSim(cfg SimConfig, log zerolog.Logger) *Sim {
	return &Sim{
		cfg:    cfg.withDefaults(),
		log:    log.With().Str("component", "hardware.sim").Logger(),
		stop:   make(chan struct{}, 1),
		events: make(chan Event, 16),
	}
}

// MoveEars implements IO. Each ear travels forward, the way the stepper
// does, so the duration depends on the forward distance modulo Steps.
func (s *Sim) MoveEars(ctx context.Context, target Ears) error {
	target = At(target.Left, target.Right)
	s.mu.Lock()
	from := s.ears
	s.mu.Unlock()

	steps := max(Wrap(target.Left-from.Left), Wrap(target.Right-from.Right))
	s.log.Debug().Int("left", target.Left).Int("right", target.Right).Int("steps", steps).Msg("move ears")
	if err := sleepCtx(ctx, time.Duration(steps)*s.cfg.StepDuration); err != nil {
		return err
	}
	s.mu.Lock()
	s.ears = target
	s.mu.Unlock()
	return nil
}

// EarPositions implements IO.
func (s *Sim) EarPositions(_ context.Context) (Ears, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ears, nil
}

// SetLEDs implements IO.
func (s *Sim) SetLEDs(pattern protocol.LEDPattern) error {
	slots := pattern.Slots()
	s.log.Debug().Strs("leds", slots[:]).Msg("set leds")
	return nil
}

// PlayAudio implements IO.
func (s *Sim) PlayAudio(ctx context.Context, clip string) error {
	s.log.Debug().Str("clip", clip).Msg("play audio")
	select {
	case <-s.stop:
	default:
	}
	timer := time.NewTimer(s.cfg.AudioDuration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stop:
		return nil
	case <-timer.C:
		return nil
	}
}

// StopAudio implements IO.
func (s *Sim) StopAudio() error {
	select {
	case s.stop <- struct{}{}:
	default:
	}
	return nil
}

// Events implements IO. The simulator never produces physical events.
func (s *Sim) Events() <-chan Event { return s.events }

// Close implements IO.
func (s *Sim) Close() error {
	s.log.Debug().Msg("close")
	return nil
}
