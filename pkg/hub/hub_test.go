package hub //nolint:testpackage // white-box tests need access to unexported fields

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"nabcore/pkg/hardware"
	"nabcore/pkg/protocol"
)

func TestRun_BindFailureIsFatal(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "missing", "nab.sock")
	h := New(Config{SocketPath: sock}, hardware.NewMock(), nil, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Run(ctx); err == nil {
		t.Fatal("expected bind error for missing directory")
	}
}

func TestRun_RefusesActiveSocket(t *testing.T) {
	first := startHub(t, Config{}, hardware.NewMock(), nil)

	second := New(Config{SocketPath: first.sock}, hardware.NewMock(), nil, zerolog.Nop())
	err := second.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "served by another hub") {
		t.Fatalf("expected live socket error, got %v", err)
	}
}

func TestMode_InteractiveIsExclusive(t *testing.T) {
	r := startHub(t, Config{}, hardware.NewMock(), nil)
	a := dial(t, r.sock)
	b := dial(t, r.sock)

	if resp := a.setMode("alpha", protocol.ModeInteractive); resp.Status != protocol.StatusOK {
		t.Fatalf("alpha claim: %+v", resp)
	}
	resp := b.setMode("beta", protocol.ModeInteractive)
	if resp.Status != protocol.StatusError || !strings.Contains(resp.Detail, "already held") {
		t.Fatalf("beta claim should conflict, got %+v", resp)
	}
	if resp := b.setMode("beta", protocol.ModeAsleep); resp.Status != protocol.StatusError {
		t.Fatalf("asleep during interactive should conflict, got %+v", resp)
	}

	if resp := a.setMode("alpha", protocol.ModeIdle); resp.Status != protocol.StatusOK {
		t.Fatalf("alpha release: %+v", resp)
	}
	if resp := b.setMode("beta", protocol.ModeInteractive); resp.Status != protocol.StatusOK {
		t.Fatalf("beta claim after release: %+v", resp)
	}
	if s := r.Snapshot(); s.Mode != protocol.ModeInteractive || s.Holder == "" {
		t.Fatalf("snapshot = %+v", s)
	}
}

func TestMode_InteractivePreemptsSleeper(t *testing.T) {
	r := startHub(t, Config{}, hardware.NewMock(), nil)
	sleeper := dial(t, r.sock)
	claimer := dial(t, r.sock)

	if resp := sleeper.setMode("clock", protocol.ModeAsleep); resp.Status != protocol.StatusOK {
		t.Fatalf("sleep: %+v", resp)
	}
	if resp := claimer.setMode("tap", protocol.ModeInteractive); resp.Status != protocol.StatusOK {
		t.Fatalf("interactive over asleep: %+v", resp)
	}
	lost := sleeper.nextOf(protocol.TypeModeLost)
	if lost.Mode != protocol.ModeAsleep {
		t.Fatalf("mode_lost = %+v", lost)
	}
}

func TestMode_SleeperDisconnectReturnsToIdle(t *testing.T) {
	r := startHub(t, Config{}, hardware.NewMock(), nil)
	sleeper := dial(t, r.sock)
	if resp := sleeper.setMode("clock", protocol.ModeAsleep); resp.Status != protocol.StatusOK {
		t.Fatalf("sleep: %+v", resp)
	}
	_ = sleeper.nc.Close()

	waitFor(t, func() bool { return r.Snapshot().Mode == protocol.ModeIdle }, 2*time.Second)
}

func TestMode_GraceWindowReservesForSameClient(t *testing.T) {
	r := startHub(t, Config{GraceWindow: 500 * time.Millisecond}, hardware.NewMock(), nil)

	first := dial(t, r.sock)
	if resp := first.setMode("bonding", protocol.ModeInteractive); resp.Status != protocol.StatusOK {
		t.Fatalf("claim: %+v", resp)
	}
	_ = first.nc.Close()
	waitFor(t, func() bool { return r.Snapshot().Reserved }, 2*time.Second)

	other := dial(t, r.sock)
	resp := other.setMode("clock", protocol.ModeInteractive)
	if resp.Status != protocol.StatusError || !strings.Contains(resp.Detail, "reserved") {
		t.Fatalf("stranger claim in grace window: %+v", resp)
	}

	back := dial(t, r.sock)
	if resp := back.setMode("bonding", protocol.ModeInteractive); resp.Status != protocol.StatusOK {
		t.Fatalf("reconnect claim: %+v", resp)
	}
	if s := r.Snapshot(); s.Reserved || s.Mode != protocol.ModeInteractive {
		t.Fatalf("snapshot after reclaim = %+v", s)
	}
}

func TestMode_GraceWindowExpiresToIdle(t *testing.T) {
	r := startHub(t, Config{GraceWindow: 50 * time.Millisecond}, hardware.NewMock(), nil)

	holder := dial(t, r.sock)
	if resp := holder.setMode("bonding", protocol.ModeInteractive); resp.Status != protocol.StatusOK {
		t.Fatalf("claim: %+v", resp)
	}
	_ = holder.nc.Close()

	waitFor(t, func() bool {
		s := r.Snapshot()
		return s.Mode == protocol.ModeIdle && !s.Reserved
	}, 2*time.Second)

	other := dial(t, r.sock)
	if resp := other.setMode("clock", protocol.ModeInteractive); resp.Status != protocol.StatusOK {
		t.Fatalf("claim after grace: %+v", resp)
	}
}

func TestCommand_NonHolderMotionRejected(t *testing.T) {
	mock := hardware.NewMock()
	r := startHub(t, Config{}, mock, nil)
	holder := dial(t, r.sock)
	other := dial(t, r.sock)

	if resp := holder.setMode("bonding", protocol.ModeInteractive); resp.Status != protocol.StatusOK {
		t.Fatalf("claim: %+v", resp)
	}

	other.send(protocol.CommandPacket("move-1", ears(3, 4)))
	resp := other.nextOf(protocol.TypeResponse)
	if resp.RequestID != "move-1" || resp.Status != protocol.StatusError {
		t.Fatalf("motion from non-holder: %+v", resp)
	}

	other.send(protocol.CommandPacket("chime-1", audio("chime.mp3")))
	resp = other.nextOf(protocol.TypeResponse)
	if resp.RequestID != "chime-1" || resp.Status != protocol.StatusOK {
		t.Fatalf("audio from non-holder: %+v", resp)
	}

	holder.send(protocol.CommandPacket("move-2", ears(3, 4)))
	if resp := holder.nextOf(protocol.TypeResponse); resp.Status != protocol.StatusOK {
		t.Fatalf("motion from holder: %+v", resp)
	}
	if got, _ := mock.Current(); got != hardware.At(3, 4) {
		t.Fatalf("ears = %+v, want 3/4", got)
	}
}

func TestCommand_AsleepOnlySleeper(t *testing.T) {
	r := startHub(t, Config{}, hardware.NewMock(), nil)
	sleeper := dial(t, r.sock)
	other := dial(t, r.sock)

	if resp := sleeper.setMode("clock", protocol.ModeAsleep); resp.Status != protocol.StatusOK {
		t.Fatalf("sleep: %+v", resp)
	}
	other.send(protocol.CommandPacket("c1", audio("a.mp3")))
	if resp := other.nextOf(protocol.TypeResponse); resp.Status != protocol.StatusError {
		t.Fatalf("command while asleep: %+v", resp)
	}
	sleeper.send(protocol.CommandPacket("c2", audio("a.mp3")))
	if resp := sleeper.nextOf(protocol.TypeResponse); resp.Status != protocol.StatusOK {
		t.Fatalf("sleeper command: %+v", resp)
	}
}

func TestCommand_FIFOAcrossConnections(t *testing.T) {
	mock := hardware.NewMock()
	mock.SetDurations(0, 30*time.Millisecond)
	r := startHub(t, Config{}, mock, nil)
	a := dial(t, r.sock)
	b := dial(t, r.sock)

	a.send(protocol.CommandPacket("a1", audio("one.mp3", "two.mp3")))
	waitFor(t, func() bool { return slices.Contains(mock.Calls(), "play(one.mp3)") }, 2*time.Second)
	b.send(protocol.CommandPacket("b1", audio("three.mp3")))

	if resp := a.nextOf(protocol.TypeResponse); resp.Status != protocol.StatusOK {
		t.Fatalf("a1: %+v", resp)
	}
	if resp := b.nextOf(protocol.TypeResponse); resp.Status != protocol.StatusOK {
		t.Fatalf("b1: %+v", resp)
	}
	want := []string{"one.mp3", "two.mp3", "three.mp3"}
	if got := mock.Played(); !slices.Equal(got, want) {
		t.Fatalf("played = %v, want %v", got, want)
	}
}

func TestCommand_ReleaseCancelsQueued(t *testing.T) {
	mock := hardware.NewMock()
	mock.SetDurations(0, 150*time.Millisecond)
	r := startHub(t, Config{}, mock, nil)
	holder := dial(t, r.sock)

	if resp := holder.setMode("bonding", protocol.ModeInteractive); resp.Status != protocol.StatusOK {
		t.Fatalf("claim: %+v", resp)
	}
	holder.send(protocol.CommandPacket("first", audio("a.mp3"), audio("b.mp3")))
	holder.send(protocol.CommandPacket("second", audio("c.mp3")))
	waitFor(t, func() bool { return slices.Contains(mock.Calls(), "play(a.mp3)") }, 2*time.Second)

	holder.send(protocol.ModePacket("bonding", protocol.ModeIdle))

	got := map[string]protocol.Packet{}
	for len(got) < 2 {
		p := holder.nextOf(protocol.TypeResponse)
		if p.RequestID == "first" || p.RequestID == "second" {
			got[p.RequestID] = p
		}
	}
	for _, id := range []string{"first", "second"} {
		if got[id].Status != protocol.StatusError || got[id].Detail != "cancelled" {
			t.Errorf("%s = %+v, want cancelled", id, got[id])
		}
	}
	waitFor(t, func() bool { return !r.Snapshot().Running }, 2*time.Second)
	if played := mock.Played(); !slices.Equal(played, []string{"a.mp3"}) {
		t.Fatalf("played = %v, want only the in-flight clip", played)
	}
}

func TestBroadcast_EarsAndAudioToSubscribers(t *testing.T) {
	mock := hardware.NewMock()
	r := startHub(t, Config{}, mock, nil)
	first := dial(t, r.sock)
	second := dial(t, r.sock)
	quiet := dial(t, r.sock)

	first.setMode("bonding", protocol.ModeIdle, protocol.EventEars, protocol.EventAudio)
	second.setMode("clock", protocol.ModeIdle, protocol.EventEars)
	quiet.setMode("weather", protocol.ModeIdle)

	mock.Turn(2, 5)
	for _, c := range []*testClient{first, second} {
		ev := c.nextOf(protocol.TypeEarsEvent)
		if l, rr, _ := ev.EarPositions(); l != 2 || rr != 5 {
			t.Fatalf("ears event = %d/%d", l, rr)
		}
	}

	quiet.send(protocol.CommandPacket("q", audio("ding.mp3")))
	if ev := first.nextOf(protocol.TypeAudioEvent); ev.Clip != "ding.mp3" {
		t.Fatalf("audio event = %+v", ev)
	}
	if resp := quiet.nextOf(protocol.TypeResponse); resp.Status != protocol.StatusOK {
		t.Fatalf("quiet command: %+v", resp)
	}
	second.expectSilence(100 * time.Millisecond)
}

func TestBroadcast_StalledSubscriberDoesNotStarveOthers(t *testing.T) {
	h := New(Config{OutboxSize: 2}, hardware.NewMock(), nil, zerolog.Nop())
	stalled := &conn{id: "stalled", out: make(chan []byte, h.cfg.OutboxSize), log: zerolog.Nop()}
	live := &conn{id: "live", out: make(chan []byte, 32), log: zerolog.Nop()}
	for _, c := range []*conn{stalled, live} {
		h.conns[c.id] = c
		h.subscribe(c.id, []string{protocol.EventEars})
	}

	for i := range 10 {
		h.broadcast(protocol.EventEars, protocol.EarsEvent(i, i))
	}

	if n := len(stalled.out); n != h.cfg.OutboxSize {
		t.Fatalf("stalled queue = %d, want %d", n, h.cfg.OutboxSize)
	}
	if n := len(live.out); n != 10 {
		t.Fatalf("live queue = %d, want every event", n)
	}
	for i := range 10 {
		p, err := protocol.Decode(<-live.out)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if l, _, _ := p.EarPositions(); l != i {
			t.Fatalf("event %d has left=%d", i, l)
		}
	}
}

func TestSubscribe_KeepsRegistrationOrder(t *testing.T) {
	h := New(Config{}, hardware.NewMock(), nil, zerolog.Nop())

	h.subscribe("c1", []string{protocol.EventEars})
	h.subscribe("c2", []string{protocol.EventEars, protocol.EventButton})
	h.subscribe("c3", []string{protocol.EventEars})
	h.subscribe("c1", []string{protocol.EventEars, protocol.EventButton})

	if got := h.subs[protocol.EventEars]; !slices.Equal(got, []string{"c1", "c2", "c3"}) {
		t.Fatalf("ears order = %v", got)
	}
	if got := h.subs[protocol.EventButton]; !slices.Equal(got, []string{"c2", "c1"}) {
		t.Fatalf("button order = %v", got)
	}

	h.unsubscribeAll("c2")
	if got := h.subs[protocol.EventEars]; !slices.Equal(got, []string{"c1", "c3"}) {
		t.Fatalf("ears after unsubscribe = %v", got)
	}
}

func TestMalformedPacketKeepsConnection(t *testing.T) {
	r := startHub(t, Config{}, hardware.NewMock(), nil)
	c := dial(t, r.sock)

	c.sendRaw("this is not json\n")
	c.sendRaw(`{"type":"mode","mode":"sideways"}` + "\n")
	c.sendRaw(`{"type":"ears_event","left":1,"right":2}` + "\n")

	if resp := c.setMode("clock", protocol.ModeIdle); resp.Status != protocol.StatusOK {
		t.Fatalf("mode after garbage: %+v", resp)
	}
}

func TestShutdown_DrainsQueue(t *testing.T) {
	mock := hardware.NewMock()
	mock.SetDurations(0, 50*time.Millisecond)
	r := startHub(t, Config{}, mock, nil)
	c := dial(t, r.sock)

	c.send(protocol.CommandPacket("x", audio("one.mp3"), audio("two.mp3")))
	waitFor(t, func() bool { return slices.Contains(mock.Calls(), "play(one.mp3)") }, 2*time.Second)
	r.stop(t)

	if got := mock.Played(); !slices.Equal(got, []string{"one.mp3", "two.mp3"}) {
		t.Fatalf("played = %v, want full sequence drained", got)
	}
}

func TestShutdown_TimeoutStopsAudio(t *testing.T) {
	mock := hardware.NewMock()
	mock.SetDurations(0, 10*time.Second)
	r := startHub(t, Config{ShutdownTimeout: 50 * time.Millisecond}, mock, nil)
	c := dial(t, r.sock)

	c.send(protocol.CommandPacket("x", audio("long.mp3")))
	waitFor(t, func() bool { return slices.Contains(mock.Calls(), "play(long.mp3)") }, 2*time.Second)
	r.stop(t)

	if !slices.Contains(mock.Calls(), "stop_audio()") {
		t.Fatalf("calls = %v, want stop_audio()", mock.Calls())
	}
	if got := mock.Played(); len(got) != 0 {
		t.Fatalf("played = %v, want clip interrupted", got)
	}
}

func TestRun_ReadsEarPositionsAtStartup(t *testing.T) {
	mock := hardware.NewMock()
	startHub(t, Config{}, mock, nil)
	if !slices.Contains(mock.Calls(), "ear_positions()") {
		t.Fatalf("calls = %v", mock.Calls())
	}
}

func TestEventLog_RecordsLifecycle(t *testing.T) {
	db := openTestDB(t)
	r := startHub(t, Config{}, hardware.NewMock(), db)
	c := dial(t, r.sock)
	c.setMode("clock", protocol.ModeAsleep)
	_ = c.nc.Close()
	waitFor(t, func() bool { return r.Snapshot().Connections == 0 }, 2*time.Second)
	r.stop(t)

	for _, typ := range []string{"hub_start", "connect", "mode_change", "disconnect"} {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM events WHERE type = ?`, typ).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", typ, err)
		}
		if n == 0 {
			t.Errorf("no %s event logged", typ)
		}
	}
	var client string
	if err := db.QueryRow(`SELECT client FROM events WHERE type = 'disconnect'`).Scan(&client); err != nil {
		t.Fatalf("disconnect row: %v", err)
	}
	if client != "clock" {
		t.Fatalf("disconnect client = %q", client)
	}
}
