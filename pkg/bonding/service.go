package bonding

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"nabcore/pkg/configstore"
	"nabcore/pkg/feed/mastodon"
	"nabcore/pkg/protocol"
)

// ClientName is announced to the hub.
const ClientName = "bonding"

// Feed is the direct-message channel the peers talk over.
type Feed interface {
	DirectTimeline(ctx context.Context, sinceID string) ([]mastodon.Status, error)
	PostDirect(ctx context.Context, text string) error
}

// FeedFactory opens a feed session for an account.
type FeedFactory func(Account) (Feed, error)

// MastodonFeed is the production FeedFactory.
func MastodonFeed(acct Account) (Feed, error) {
	c, err := mastodon.New(mastodon.Config{Instance: acct.Instance, AccessToken: acct.AccessToken})
	if err != nil {
		return nil, err
	}
	return c, nil
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
	PollInterval time.Duration // direct timeline poll (default 30s)
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.PollInterval == 0 {
		out.PollInterval = 30 * time.Second
	}
	return out
}

// Service is the bonding satellite's behavior. Its methods run on the
// satellite loop goroutine, which owns the record.
type Service struct {
	cfg     Config
	store   configstore.Store
	hub     HubSender
	newFeed FeedFactory
	log     zerolog.Logger

	rec      Record
	feed     Feed
	token    string
	restored bool

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewService creates a Service. Call Attach before the satellite runs.
func NewService(cfg Config, store configstore.Store, newFeed FeedFactory, log zerolog.Logger) *Service {
	if newFeed == nil {
		newFeed = MastodonFeed
	}
	return &Service{
		cfg:     cfg.withDefaults(),
		store:   store,
		newFeed: newFeed,
		log:     log.With().Str("component", "bonding").Logger(),
		rec:     Record{State: StateNone},
		nowFunc: time.Now,
	}
}

// Attach sets the hub connection used for commands and mode packets.
func (s *Service) Attach(hub HubSender) { s.hub = hub }

// Record returns the in-memory record.
func (s *Service) Record() Record { return s.rec.clone() }

// Load reads the persisted record. A missing record reads as none.
func (s *Service) Load(ctx context.Context) error {
	var rec Record
	err := s.store.Load(ctx, RecordKey, &rec)
	if err != nil && !errors.Is(err, configstore.ErrNotFound) {
		return fmt.Errorf("load bonding record: %w", err)
	}
	s.rec = rec.Normalize()
	return nil
}

// Run polls the direct timeline on the loop every PollInterval until ctx
// is cancelled.
func (s *Service) Run(ctx context.Context, loop Loop) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !loop.Submit(s.Poll) {
				return
			}
		}
	}
}

// --- satellite.Handler ---

// OnConnect announces the mode and, on the first connection, restores the
// peer's last ear positions when married.
func (s *Service) OnConnect(_ context.Context) error {
	if err := s.announce(); err != nil {
		return err
	}
	if !s.restored {
		s.restored = true
		if s.rec.State == StateMarried && s.rec.PeerEars != nil {
			s.command(renderSequence(RenderPeerEars, *s.rec.PeerEars))
		}
	}
	return nil
}

// OnPacket forwards local ear movements to the peer while married.
func (s *Service) OnPacket(ctx context.Context, p protocol.Packet) {
	switch p.Type {
	case protocol.TypeEarsEvent:
		left, right, ok := p.EarPositions()
		if !ok || s.rec.State != StateMarried {
			return
		}
		ears := protocol.EarTarget{Left: left, Right: right}
		if err := s.save(ctx, OwnEars(s.rec, ears)); err != nil {
			s.log.Error().Err(err).Msg("persist shared ears")
			return
		}
		s.post(ctx, replyEars(s.rec.PeerHandle, ears))
	case protocol.TypeResponse:
		if p.Status == protocol.StatusError {
			s.log.Warn().Str("request_id", p.RequestID).Str("detail", p.Detail).Msg("hub rejected command")
		}
	case protocol.TypeModeLost:
		s.log.Info().Str("mode", string(p.Mode)).Msg("mode lost")
	}
}

// OnReload re-reads the record, re-derives the feed session, and applies a
// pending owner intent.
func (s *Service) OnReload(ctx context.Context) error {
	if err := s.Load(ctx); err != nil {
		return err
	}
	s.setupFeed(ctx)

	if s.rec.Intent == nil {
		return nil
	}
	intent := *s.rec.Intent
	cleared := s.rec.clone()
	cleared.Intent = nil
	next, effects, changed := ApplyIntent(cleared, intent, s.nowFunc())
	if !changed {
		s.log.Info().Str("intent", string(intent.Kind)).Str("state", string(s.rec.State)).Msg("intent does not apply, dropped")
	}
	if err := s.save(ctx, next); err != nil {
		return fmt.Errorf("apply intent %s: %w", intent.Kind, err)
	}
	s.apply(ctx, effects)
	return nil
}

// --- Feed ---

func (s *Service) setupFeed(ctx context.Context) {
	token := s.rec.Account.AccessToken
	if token == "" {
		s.closeFeed()
		return
	}
	if token != s.token {
		s.closeFeed()
	}
	if s.feed == nil {
		f, err := s.newFeed(s.rec.Account)
		if err != nil {
			s.feedFailed(ctx, err)
			return
		}
		s.feed = f
		s.token = token
		s.log.Info().Str("instance", s.rec.Account.Instance).Msg("feed session opened")
	}
	s.Poll(ctx)
}

func (s *Service) closeFeed() {
	if s.feed != nil {
		s.log.Info().Msg("feed session closed")
	}
	s.feed = nil
	s.token = ""
}

// Poll fetches direct statuses past the cursor and processes them as one
// batch. Loop only.
func (s *Service) Poll(ctx context.Context) {
	if s.feed == nil {
		return
	}
	since := ""
	if s.rec.Cursor.LastID > 0 {
		since = strconv.FormatInt(s.rec.Cursor.LastID, 10)
	}
	statuses, err := s.feed.DirectTimeline(ctx, since)
	if err != nil {
		s.feedFailed(ctx, err)
		return
	}
	if err := s.ProcessBatch(ctx, statuses); err != nil {
		s.log.Error().Err(err).Msg("process timeline")
	}
}

// feedFailed handles a feed error. An unauthorized credential is cleared
// and persisted so the owner is prompted to sign in again.
func (s *Service) feedFailed(ctx context.Context, err error) {
	var fe *protocol.FeedError
	if !errors.As(err, &fe) || !fe.Unauthorized {
		s.log.Warn().Err(err).Msg("feed error")
		return
	}
	s.log.Warn().Err(err).Msg("feed credential refused, clearing access token")
	s.closeFeed()
	next := s.rec.clone()
	next.Account.AccessToken = ""
	if err := s.save(ctx, next); err != nil {
		s.log.Error().Err(err).Msg("persist cleared token")
	}
}

// ProcessBatch applies statuses in order, skipping any at or behind the
// cursor. The cursor moves to the batch maximum once, after the last
// status.
func (s *Service) ProcessBatch(ctx context.Context, statuses []mastodon.Status) error {
	start := s.rec.Cursor
	cursor := start
	for _, st := range statuses {
		id, err := strconv.ParseInt(st.ID, 10, 64)
		if err != nil {
			s.log.Warn().Str("id", st.ID).Msg("status id is not numeric, skipping")
			continue
		}
		if start.Seen(id, st.CreatedAt) {
			continue
		}
		cursor = cursor.Advance(id, st.CreatedAt)

		msg, ok := s.message(st)
		if !ok {
			continue
		}
		if err := s.Handle(ctx, msg); err != nil {
			return err
		}
	}

	if cursor.LastID == s.rec.Cursor.LastID && cursor.LastDate.Equal(s.rec.Cursor.LastDate) {
		return nil
	}
	next := s.rec.clone()
	next.Cursor = cursor
	return s.save(ctx, next)
}

// message turns a status into a protocol message. Statuses that are not
// direct, are our own, or carry no marker are dropped.
func (s *Service) message(st mastodon.Status) (Message, bool) {
	if !st.Direct() {
		return Message{}, false
	}
	acct := s.rec.Account
	if st.Account.URL == "https://"+acct.Instance+"/@"+acct.Username {
		return Message{}, false
	}
	kind, ears, err := Decode(st.Content)
	if err != nil {
		if !errors.Is(err, ErrNoMarker) {
			s.log.Info().Err(err).Str("status", st.ID).Msg("ignoring status")
		}
		return Message{}, false
	}
	name := st.Account.DisplayName
	if name == "" {
		name = st.Account.Username
	}
	return Message{
		Kind:       kind,
		Sender:     NormalizeHandle(st.Account.Acct, acct.Instance),
		SenderName: name,
		At:         st.CreatedAt,
		Ears:       ears,
	}, true
}

// NormalizeHandle strips a leading @ and qualifies a bare user name with
// instance.
func NormalizeHandle(handle, instance string) string {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle != "" && !strings.Contains(handle, "@") && instance != "" {
		handle += "@" + instance
	}
	return handle
}

// Handle applies one message: transition, persist, then effects.
func (s *Service) Handle(ctx context.Context, msg Message) error {
	next, effects, changed := Transition(s.rec, msg)
	if changed {
		if err := s.save(ctx, next); err != nil {
			return err
		}
		s.log.Info().
			Str("kind", string(msg.Kind)).
			Str("from", msg.Sender).
			Str("state", string(next.State)).
			Msg("bonding transition")
	}
	s.apply(ctx, effects)
	return nil
}

// --- Effects ---

func (s *Service) apply(ctx context.Context, effects []Effect) {
	for _, e := range effects {
		switch e.Kind {
		case EffectReply:
			s.post(ctx, e)
		case EffectRender:
			s.command(renderSequence(e.Render, e.Ears))
		case EffectForward:
			if err := s.announce(); err != nil {
				s.log.Warn().Err(err).Bool("forward", e.Forward).Msg("update ear subscription")
			}
		}
	}
}

func (s *Service) post(ctx context.Context, e Effect) {
	if s.feed == nil {
		s.log.Warn().Str("to", e.To).Str("kind", string(e.Reply)).Msg("no feed session, reply dropped")
		return
	}
	if err := s.feed.PostDirect(ctx, Encode(e.To, e.Reply, e.Ears)); err != nil {
		s.feedFailed(ctx, err)
	}
}

// announce sends the mode packet matching the record: idle, subscribed to
// ears only while married.
func (s *Service) announce() error {
	if s.hub == nil {
		return nil
	}
	var events []string
	if s.rec.State == StateMarried {
		events = []string{protocol.EventEars}
	}
	_, err := s.hub.Send(protocol.ModePacket(ClientName, protocol.ModeIdle, events...))
	return err
}

func (s *Service) command(seq []protocol.Action) {
	if s.hub == nil || len(seq) == 0 {
		return
	}
	if _, err := s.hub.Send(protocol.CommandPacket("", seq...)); err != nil {
		s.log.Warn().Err(err).Msg("send command")
	}
}

// save persists rec and adopts it as current. The in-memory record only
// changes once the store has it.
func (s *Service) save(ctx context.Context, rec Record) error {
	if err := s.store.Save(ctx, RecordKey, rec); err != nil {
		return fmt.Errorf("save bonding record: %w", err)
	}
	s.rec = rec
	return nil
}
