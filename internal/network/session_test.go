package network

import (
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/blockcraft/internal/config"
	"github.com/annel0/blockcraft/internal/protocol"
	"github.com/annel0/blockcraft/internal/vec"
	"github.com/annel0/blockcraft/internal/world"
)

// offlineServer сервер без слушателя и тикового цикла
func offlineServer(t *testing.T) *Server {
	t.Helper()
	return offlineServerWith(t, testConfig())
}

func offlineServerWith(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	w := world.New(0, world.NewFlatGenerator(nil))
	srv, err := New(cfg, w, Deps{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	return srv
}

// pipeSession активная сессия поверх net.Pipe; все, что пишет сервер, читается и выбрасывается
func pipeSession(t *testing.T, srv *Server, name string) *Session {
	t.Helper()
	server, client := net.Pipe()
	go io.Copy(io.Discard, client)
	t.Cleanup(func() { client.Close() })

	conn := protocol.NewConn(server, time.Second, time.Second)
	s := srv.newSession(conn, name)
	srv.startWriter(s)
	t.Cleanup(func() { s.out.close() })
	srv.sessionsMu.Lock()
	srv.sessions[s.EntityID] = s
	s.joined = true
	srv.sessionsMu.Unlock()
	return s
}

// stalledSession сессия, клиент которой ничего не читает
func stalledSession(t *testing.T, srv *Server, name string) (*Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })

	conn := protocol.NewConn(server, time.Second, time.Minute)
	s := srv.newSession(conn, name)
	srv.startWriter(s)
	srv.sessionsMu.Lock()
	srv.sessions[s.EntityID] = s
	s.joined = true
	srv.sessionsMu.Unlock()
	return s, client
}

func TestStalledClientDoesNotBlockTick(t *testing.T) {
	cfg := testConfig()
	cfg.Server.OutboundQueue = 64
	cfg.Server.WriteTimeout = time.Minute
	srv := offlineServerWith(t, cfg)
	slow, _ := stalledSession(t, srv, "Slow")
	fast := pipeSession(t, srv, "Fast")

	start := time.Now()
	for i := 0; i < 3*cfg.Server.OutboundQueue; i++ {
		srv.sendMessage(slow, "tick")
	}
	srv.sendMessage(fast, "tick")
	srv.tick()
	assert.Less(t, time.Since(start), 500*time.Millisecond, "запись в сеть не выполняется тиковым циклом")

	assert.True(t, slow.Removed())
	assert.False(t, fast.Removed())
	assert.Equal(t, 1, srv.SessionCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.Disconnects.WithLabelValues(causeOverflow)))
}

func TestDisconnectFlushesQueuedFrames(t *testing.T) {
	srv := offlineServer(t)
	s, client := stalledSession(t, srv, "Alice")

	srv.sendMessage(s, "last words")
	srv.Disconnect(s, "bye")

	peer := protocol.NewConn(client, time.Second, time.Second)
	payload, err := peer.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, byte(0x02), payload[0], "сначала сообщение чата")

	payload, err = peer.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, byte(0x40), payload[0], "затем Disconnect")

	// после очереди писатель закрывает соединение
	_, err = peer.ReadFrame()
	assert.ErrorIs(t, err, protocol.ErrConnClosed)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	srv := offlineServer(t)
	quits := 0
	srv.On(EventPlayerQuit, func(*Server, *Event) { quits++ })

	alice := pipeSession(t, srv, "Alice")
	pipeSession(t, srv, "Bob")

	srv.Disconnect(alice, "bye")
	srv.Disconnect(alice, "again")
	srv.disconnect(alice, "", causeTransport)

	assert.True(t, alice.Removed())
	assert.Equal(t, 1, srv.SessionCount())
	assert.Equal(t, 1, srv.scheduler.Pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.Disconnects.WithLabelValues(causeKick)))
	assert.Zero(t, testutil.ToFloat64(srv.metrics.Disconnects.WithLabelValues(causeTransport)))

	srv.tick()
	srv.bgWG.Wait()
	assert.Equal(t, 1, quits)
	assert.Zero(t, srv.scheduler.Pending())
}

func TestSendToRemovedSessionIsNoop(t *testing.T) {
	srv := offlineServer(t)
	s := pipeSession(t, srv, "Alice")
	srv.Disconnect(s, "")

	before := testutil.ToFloat64(srv.metrics.PacketsOut.WithLabelValues("play"))
	assert.False(t, srv.send(s, &protocol.KeepAlive{Nonce: 1}))
	assert.Equal(t, before, testutil.ToFloat64(srv.metrics.PacketsOut.WithLabelValues("play")))
}

func TestHangupMarkerDisconnectsOnTick(t *testing.T) {
	srv := offlineServer(t)
	s := pipeSession(t, srv, "Alice")

	s.inbound.push(&protocol.ChatMessage{Message: "/tps"})
	s.inbound.hangup("", causeDecode)
	srv.tick()

	assert.True(t, s.Removed())
	assert.Zero(t, srv.SessionCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.Disconnects.WithLabelValues(causeDecode)))
}

func TestClientSettingsClampsViewDistance(t *testing.T) {
	cfg := testConfig()
	cfg.Server.ViewDistance = 10
	srv := offlineServerWith(t, cfg)
	s := pipeSession(t, srv, "Alice")
	h := &playHandler{srv: srv, s: s}

	tests := []struct {
		requested int8
		want      int
	}{
		{requested: 32, want: 10},
		{requested: 0, want: minViewDistance},
		{requested: -5, want: minViewDistance},
		{requested: 7, want: 7},
		{requested: 10, want: 10},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.requested), func(t *testing.T) {
			h.HandleClientSettings(&protocol.ClientSettings{Locale: "ru_RU", ViewDistance: tt.requested})
			assert.Equal(t, tt.want, s.ViewDistance)
			assert.Equal(t, "ru_RU", s.Locale)
		})
	}
}

func TestClientSettingsResetsLoadedArea(t *testing.T) {
	cfg := testConfig()
	cfg.Server.ViewDistance = 6
	srv := offlineServerWith(t, cfg)
	s := pipeSession(t, srv, "Alice")
	h := &playHandler{srv: srv, s: s}

	center := vec.ChunkPos{}
	s.loadedCenter = &center
	h.HandleClientSettings(&protocol.ClientSettings{ViewDistance: 6})
	assert.NotNil(t, s.loadedCenter, "дальность не изменилась")

	h.HandleClientSettings(&protocol.ClientSettings{ViewDistance: 3})
	assert.Equal(t, 3, s.ViewDistance)
	assert.Nil(t, s.loadedCenter)
}

func TestPlayStateHandlers(t *testing.T) {
	srv := offlineServer(t)
	s := pipeSession(t, srv, "Alice")
	h := &playHandler{srv: srv, s: s}

	h.HandlePositionAndLook(&protocol.PlayerPositionAndLook{X: 1, FeetY: 10, HeadY: 11.62, Z: 2, Yaw: 45, Pitch: 10, OnGround: true})
	assert.Equal(t, vec.Vec3Float{X: 1, Y: 11.62, Z: 2}, s.Position)
	assert.Equal(t, float32(45), s.Yaw)
	assert.True(t, s.OnGround)
	assert.True(t, s.moved)

	h.HandlePlayer(&protocol.Player{OnGround: false})
	assert.False(t, s.OnGround)

	h.HandleEntityAction(&protocol.EntityAction{EntityID: s.EntityID, Action: protocol.ActionCrouch})
	h.HandleEntityAction(&protocol.EntityAction{EntityID: s.EntityID, Action: protocol.ActionStartSprint})
	assert.True(t, s.Crouching)
	assert.True(t, s.Sprinting)
	h.HandleEntityAction(&protocol.EntityAction{EntityID: s.EntityID, Action: protocol.ActionUncrouch})
	assert.False(t, s.Crouching)

	h.HandleAnimation(&protocol.Animation{EntityID: s.EntityID, Animation: 1})
	assert.Equal(t, int8(1), s.LastAnimation)

	h.HandlePluginMessage(&protocol.PluginMessage{Channel: "MC|Brand", Data: []byte("vanilla")})
	assert.Equal(t, "vanilla", s.Brand)
}

func TestDiggingIgnoresAirAndMissingColumns(t *testing.T) {
	srv := offlineServer(t)
	srv.world.GenerateRegion(vec.ChunkPos{}, 1)
	s := pipeSession(t, srv, "Alice")
	h := &playHandler{srv: srv, s: s}

	fired := 0
	srv.On(EventBlockBreak, func(*Server, *Event) { fired++ })

	h.HandleDigging(&protocol.PlayerDigging{Status: protocol.DiggingFinished, X: 1, Y: 100, Z: 1})
	h.HandleDigging(&protocol.PlayerDigging{Status: protocol.DiggingFinished, X: 1000, Y: 4, Z: 1000})
	h.HandleDigging(&protocol.PlayerDigging{Status: protocol.DiggingCancelled, X: 1, Y: 4, Z: 1})
	assert.Zero(t, fired)

	h.HandleDigging(&protocol.PlayerDigging{Status: protocol.DiggingStarted, X: 1, Y: 4, Z: 1})
	assert.Equal(t, 1, fired, "в творческом режиме блок ломается сразу")

	b, err := srv.world.GetBlock(vec.Vec3{X: 1, Y: 4, Z: 1})
	require.NoError(t, err)
	assert.True(t, b.IsAir())
}

func TestCancelledEventStopsChain(t *testing.T) {
	srv := offlineServer(t)
	s := pipeSession(t, srv, "Alice")

	var order []string
	srv.handlers[EventChat] = nil
	srv.On(EventChat, func(_ *Server, ev *Event) {
		order = append(order, "first")
		ev.Cancelled = true
	})
	srv.On(EventChat, func(*Server, *Event) { order = append(order, "second") })

	srv.fire(&Event{Kind: EventChat, Session: s, Message: "x"})
	assert.Equal(t, []string{"first"}, order)
}

func TestStatusSampleIsCapped(t *testing.T) {
	srv := offlineServer(t)
	for i := 0; i < maxStatusSample+3; i++ {
		pipeSession(t, srv, fmt.Sprintf("p%d", i))
	}
	srv.publishSnapshot()

	doc := srv.Status()
	assert.Equal(t, maxStatusSample+3, doc.Players.Online)
	assert.Len(t, doc.Players.Sample, maxStatusSample)
	assert.Equal(t, srv.cfg.MOTD, doc.Description.Text)
}

func TestMeasureTPS(t *testing.T) {
	srv := offlineServer(t)
	assert.Equal(t, 20.0, srv.measureTPS())

	start := time.Now()
	for i := 0; i < tpsWindow+5; i++ {
		srv.recordTickTime(start.Add(time.Duration(i) * 100 * time.Millisecond))
	}
	assert.Len(t, srv.tickTimes, tpsWindow)
	assert.InDelta(t, 10.0, srv.measureTPS(), 0.01)

	srv.tickTimes = nil
	for i := 0; i < tpsWindow; i++ {
		srv.recordTickTime(start.Add(time.Duration(i) * time.Millisecond))
	}
	assert.Equal(t, 20.0, srv.measureTPS(), "не выше номинальной частоты")
}
