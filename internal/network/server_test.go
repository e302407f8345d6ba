package network

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/blockcraft/internal/config"
	"github.com/annel0/blockcraft/internal/eventbus"
	"github.com/annel0/blockcraft/internal/protocol"
	"github.com/annel0/blockcraft/internal/storage"
	"github.com/annel0/blockcraft/internal/vec"
	"github.com/annel0/blockcraft/internal/world"
	"github.com/annel0/blockcraft/internal/world/block"
)

const waitFor = 3 * time.Second

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ReadTimeout = 50 * time.Millisecond
	cfg.Server.WriteTimeout = time.Second
	cfg.Server.ViewDistance = 2
	cfg.World.Autosave = 0
	return cfg
}

// newTestServer сервер на плоском мире со спавном на траве
func newTestServer(t *testing.T, cfg *config.Config, deps Deps) *Server {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.NewRegistry()
	}

	w := world.New(0, world.NewFlatGenerator(nil))
	w.GenerateRegion(vec.ChunkPos{}, 1)
	w.Spawn = vec.Vec3{X: 0, Y: 5, Z: 0}

	srv, err := New(cfg, w, deps)
	require.NoError(t, err)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	return srv
}

// startServer запускает тиковый цикл. Возвращаемая функция останавливает сервер
// и отдает результат Run; она же вызывается при завершении теста.
func startServer(t *testing.T, srv *Server) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	var once sync.Once
	var result error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case result = <-done:
			case <-time.After(10 * time.Second):
				t.Error("сервер не остановился")
			}
		})
		return result
	}
	t.Cleanup(func() { stop() })
	return stop
}

type testClient struct {
	t    *testing.T
	conn *protocol.Conn
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()
	nc, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	c := &testClient{t: t, conn: protocol.NewConn(nc, waitFor, time.Second)}
	t.Cleanup(func() { c.conn.Close() })
	return c
}

func (c *testClient) send(p protocol.Packet) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WritePacket(p))
}

func (c *testClient) next() (int32, *protocol.Reader) {
	c.t.Helper()
	payload, err := c.conn.ReadFrame()
	require.NoError(c.t, err)
	r := protocol.NewReader(payload)
	id, err := r.ReadVarInt()
	require.NoError(c.t, err)
	return id, r
}

// expect пропускает пакеты до первого с id p и декодирует его в p
func (c *testClient) expect(p protocol.Packet) {
	c.t.Helper()
	for i := 0; i < 500; i++ {
		id, r := c.next()
		if id == p.ID() {
			require.NoError(c.t, p.Load(r))
			return
		}
	}
	c.t.Fatalf("пакет 0x%02X так и не пришел", p.ID())
}

// expectChat ждет сообщение чата с заданным текстом
func (c *testClient) expectChat(text string) {
	c.t.Helper()
	want := protocol.ChatJSON(text)
	for i := 0; i < 50; i++ {
		var msg protocol.ClientboundChat
		c.expect(&msg)
		if msg.JSON == want {
			return
		}
	}
	c.t.Fatalf("сообщение %q так и не пришло", text)
}

func (c *testClient) handshake(next int32, version int32) {
	c.send(&protocol.Handshake{ProtocolVersion: version, Address: "localhost", Port: 25565, NextState: next})
}

// login проходит вход и возвращает LoginSuccess и JoinGame
func (c *testClient) login(name string) (protocol.LoginSuccess, protocol.JoinGame) {
	c.t.Helper()
	c.handshake(2, 5)
	c.send(&protocol.LoginStart{Name: name})

	var success protocol.LoginSuccess
	c.expect(&success)
	var join protocol.JoinGame
	c.expect(&join)
	return success, join
}

// loginRejected ожидает отказ во входе
func (c *testClient) loginRejected(name string, version int32) string {
	c.t.Helper()
	c.handshake(2, version)
	c.send(&protocol.LoginStart{Name: name})

	id, r := c.next()
	require.Equal(c.t, int32(0x00), id)
	var reject protocol.LoginDisconnect
	require.NoError(c.t, reject.Load(r))
	return reject.Reason
}

func waitSessions(t *testing.T, srv *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return srv.SessionCount() == n }, waitFor, 10*time.Millisecond)
}

func TestStatusExchange(t *testing.T) {
	srv := newTestServer(t, nil, Deps{})
	startServer(t, srv)

	c := dial(t, srv)
	c.handshake(1, 5)
	c.send(&protocol.StatusRequest{})

	var resp protocol.StatusResponse
	c.expect(&resp)
	var doc protocol.StatusDocument
	require.NoError(t, json.Unmarshal([]byte(resp.JSON), &doc))
	assert.Equal(t, "1.7.10", doc.Version.Name)
	assert.Equal(t, 5, doc.Version.Protocol)
	assert.Equal(t, 20, doc.Players.Max)
	assert.Zero(t, doc.Players.Online)

	c.send(&protocol.StatusPing{Time: 12345})
	var pong protocol.StatusPong
	c.expect(&pong)
	assert.Equal(t, int64(12345), pong.Time)

	_, err := c.conn.ReadFrame()
	assert.ErrorIs(t, err, protocol.ErrConnClosed)
}

func TestLoginAndJoin(t *testing.T) {
	srv := newTestServer(t, nil, Deps{})
	startServer(t, srv)

	c := dial(t, srv)
	success, join := c.login("Alice")
	assert.Equal(t, "Alice", success.Name)
	_, err := uuid.Parse(success.UUID)
	assert.NoError(t, err)
	assert.Equal(t, uint8(1), join.Gamemode)
	assert.Equal(t, "flat", join.LevelType)

	var spawn protocol.SpawnPosition
	c.expect(&spawn)
	assert.Equal(t, int32(5), spawn.Y)

	var pos protocol.ClientboundPositionAndLook
	c.expect(&pos)
	assert.InDelta(t, 0.5, pos.X, 1e-9)
	assert.InDelta(t, 5+eyeHeight, pos.Y, 1e-9)
	assert.InDelta(t, 0.5, pos.Z, 1e-9)

	// первой отправляется колонка под игроком
	var bulk protocol.MapChunkBulk
	c.expect(&bulk)
	require.Len(t, bulk.Columns, 1)
	assert.Equal(t, int32(0), bulk.Columns[0].X)
	assert.Equal(t, int32(0), bulk.Columns[0].Z)
	assert.NotZero(t, bulk.Columns[0].PrimaryBitmap)

	waitSessions(t, srv, 1)
	sessions := srv.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "Alice", sessions[0].Name)
	assert.Equal(t, join.EntityID, sessions[0].EntityID)
	assert.Equal(t, success.UUID, sessions[0].UUID.String())

	require.Eventually(t, func() bool {
		snap := srv.Snapshot()
		return len(snap.Players) == 1 && snap.Players[0].Name == "Alice"
	}, waitFor, 10*time.Millisecond)
}

func TestLoginStreamsWholeViewArea(t *testing.T) {
	srv := newTestServer(t, nil, Deps{})
	startServer(t, srv)

	c := dial(t, srv)
	c.login("Alice")

	// дальность 2: квадрат 5x5 колонок, каждая ровно один раз
	seen := make(map[vec.ChunkPos]bool)
	for len(seen) < 25 {
		var bulk protocol.MapChunkBulk
		c.expect(&bulk)
		for _, m := range bulk.Columns {
			pos := vec.ChunkPos{X: m.X, Z: m.Z}
			assert.False(t, seen[pos], "колонка %v отправлена повторно", pos)
			assert.LessOrEqual(t, pos.ChebyshevDistance(vec.ChunkPos{}), int32(2))
			seen[pos] = true
		}
	}
}

func TestLoginRejections(t *testing.T) {
	srv := newTestServer(t, nil, Deps{})
	startServer(t, srv)

	alice := dial(t, srv)
	alice.login("Alice")
	waitSessions(t, srv, 1)

	tests := []struct {
		name    string
		player  string
		version int32
		reason  string
	}{
		{"invalid characters", "bad name!", 5, "Invalid username"},
		{"too long", "abcdefghijklmnopq", 5, "Invalid username"},
		{"duplicate name", "alice", 5, "You are already logged in"},
		{"old client", "Bob", 4, "Outdated client! Please use 1.7.10"},
		{"new client", "Bob", 47, "Outdated server! I'm still on 1.7.10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := dial(t, srv)
			reason := c.loginRejected(tt.player, tt.version)
			assert.Equal(t, protocol.ChatJSON(tt.reason), reason)
		})
	}
	assert.Equal(t, 1, srv.SessionCount())
}

func TestServerFull(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxPlayers = 1
	srv := newTestServer(t, cfg, Deps{})
	startServer(t, srv)

	dial(t, srv).login("Alice")
	waitSessions(t, srv, 1)

	reason := dial(t, srv).loginRejected("Bob", 5)
	assert.Equal(t, protocol.ChatJSON("The server is full!"), reason)
}

func TestTwoPlayersSeeEachOther(t *testing.T) {
	srv := newTestServer(t, nil, Deps{})
	startServer(t, srv)

	alice := dial(t, srv)
	_, aliceJoin := alice.login("Alice")
	waitSessions(t, srv, 1)

	bob := dial(t, srv)
	_, bobJoin := bob.login("Bob")
	assert.NotEqual(t, aliceJoin.EntityID, bobJoin.EntityID)

	var spawned protocol.SpawnPlayer
	alice.expect(&spawned)
	assert.Equal(t, "Bob", spawned.Name)
	assert.Equal(t, bobJoin.EntityID, spawned.EntityID)
	assert.InDelta(t, 5*32, spawned.Y, 1, "сущность стоит ногами на спавне")

	var listed protocol.PlayerListItem
	bob.expect(&listed)
	bob.expect(&spawned)
	assert.Equal(t, "Alice", spawned.Name)

	bob.expectChat("Bob joined the game")
	waitSessions(t, srv, 2)

	alice.send(&protocol.ChatMessage{Message: "  hello  "})
	bob.expectChat("[Alice] hello")
	alice.expectChat("[Alice] hello")

	alice.send(&protocol.ChatMessage{Message: "/list"})
	alice.expectChat("Online (2): Alice, Bob")

	// Bob уходит: Alice видит уход из списка и удаление сущности
	bob.conn.Close()
	var destroyed protocol.DestroyEntities
	alice.expect(&destroyed)
	assert.Equal(t, []int32{bobJoin.EntityID}, destroyed.EntityIDs)
	alice.expectChat("Bob left the game")
	waitSessions(t, srv, 1)
}

func TestMovementBroadcast(t *testing.T) {
	srv := newTestServer(t, nil, Deps{})
	startServer(t, srv)

	alice := dial(t, srv)
	alice.login("Alice")
	waitSessions(t, srv, 1)
	bob := dial(t, srv)
	_, bobJoin := bob.login("Bob")
	waitSessions(t, srv, 2)

	bob.send(&protocol.PlayerPositionAndLook{X: 3.5, FeetY: 5, HeadY: 5 + eyeHeight, Z: 2.5, Yaw: 90, OnGround: true})

	for {
		var tp protocol.EntityTeleport
		alice.expect(&tp)
		if tp.EntityID != bobJoin.EntityID {
			continue
		}
		assert.Equal(t, protocol.FixedPoint(3.5), tp.X)
		assert.InDelta(t, 5*32, tp.Y, 1)
		assert.Equal(t, protocol.FixedPoint(2.5), tp.Z)
		assert.Equal(t, protocol.Angle(90), tp.Yaw)
		return
	}
}

func TestBlockBreak(t *testing.T) {
	srv := newTestServer(t, nil, Deps{})
	broken := make(chan world.Block, 4)
	srv.On(EventBlockBreak, func(srv *Server, ev *Event) {
		b, err := srv.World().GetBlock(ev.Pos)
		if assert.NoError(t, err) {
			broken <- b
		}
	})
	startServer(t, srv)

	alice := dial(t, srv)
	alice.login("Alice")
	waitSessions(t, srv, 1)
	bob := dial(t, srv)
	bob.login("Bob")
	waitSessions(t, srv, 2)

	alice.send(&protocol.PlayerDigging{Status: protocol.DiggingFinished, X: 1, Y: 4, Z: 1, Face: 1})

	select {
	case b := <-broken:
		assert.True(t, b.IsAir())
	case <-time.After(waitFor):
		t.Fatal("событие разрушения не пришло")
	}

	var change protocol.BlockChange
	bob.expect(&change)
	assert.Equal(t, int32(1), change.X)
	assert.Equal(t, uint8(4), change.Y)
	assert.Equal(t, int32(1), change.Z)
	assert.Zero(t, change.BlockID)

	// бедрок не ломается: клиенту возвращается прежний блок
	alice.send(&protocol.PlayerDigging{Status: protocol.DiggingFinished, X: 1, Y: 0, Z: 1, Face: 1})
	alice.expect(&change)
	assert.Equal(t, uint8(0), change.Y)
	assert.Equal(t, int32(block.BedrockBlockID), change.BlockID)
	assert.Empty(t, broken)
}

func TestUnknownPlayPacketDisconnects(t *testing.T) {
	srv := newTestServer(t, nil, Deps{})
	startServer(t, srv)

	c := dial(t, srv)
	c.login("Alice")
	waitSessions(t, srv, 1)

	require.NoError(t, c.conn.WriteFrame([]byte{0x7E}))

	var disc protocol.Disconnect
	c.expect(&disc)
	assert.Equal(t, protocol.ChatJSON("Unknown packet id: 0x7E"), disc.Reason)
	waitSessions(t, srv, 0)
}

func TestKeepAliveExchange(t *testing.T) {
	cfg := testConfig()
	cfg.Server.KeepAliveInterval = 2
	srv := newTestServer(t, cfg, Deps{})
	startServer(t, srv)

	c := dial(t, srv)
	c.login("Alice")

	var ping protocol.KeepAlive
	c.expect(&ping)
	require.NotZero(t, ping.Nonce)
	c.send(&protocol.KeepAlive{Nonce: ping.Nonce})

	var second protocol.KeepAlive
	c.expect(&second)
	c.send(&protocol.KeepAlive{Nonce: second.Nonce ^ 0x5A5A})

	var disc protocol.Disconnect
	c.expect(&disc)
	assert.Equal(t, protocol.ChatJSON("KeepAliveID is incorrect"), disc.Reason)
	waitSessions(t, srv, 0)
}

func TestKeepAliveTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Server.KeepAliveInterval = 1
	cfg.Server.KeepAliveTimeout = 3
	srv := newTestServer(t, cfg, Deps{})
	startServer(t, srv)

	c := dial(t, srv)
	c.login("Alice")

	var disc protocol.Disconnect
	c.expect(&disc)
	assert.Equal(t, protocol.ChatJSON("Timed out"), disc.Reason)
}

func TestHandlerPanicDisconnectsOnlySender(t *testing.T) {
	srv := newTestServer(t, nil, Deps{})
	srv.On(EventChat, func(_ *Server, ev *Event) {
		if ev.Message == "boom" {
			panic("boom")
		}
	})
	startServer(t, srv)

	alice := dial(t, srv)
	alice.login("Alice")
	waitSessions(t, srv, 1)
	bob := dial(t, srv)
	bob.login("Bob")
	waitSessions(t, srv, 2)

	alice.send(&protocol.ChatMessage{Message: "boom"})

	var disc protocol.Disconnect
	alice.expect(&disc)
	assert.Equal(t, protocol.ChatJSON("Internal server error"), disc.Reason)
	waitSessions(t, srv, 1)
	assert.Equal(t, "Bob", srv.Sessions()[0].Name)
}

func TestEventsExportedToBus(t *testing.T) {
	bus := eventbus.NewMemoryBus(64)
	t.Cleanup(func() { bus.Close() })

	got := make(chan *eventbus.Envelope, 8)
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{
		Types: []string{eventbus.TypePlayerJoin, eventbus.TypeChatMessage},
	}, func(_ context.Context, ev *eventbus.Envelope) {
		got <- ev
	})
	require.NoError(t, err)

	srv := newTestServer(t, nil, Deps{Bus: bus})
	startServer(t, srv)

	c := dial(t, srv)
	c.login("Alice")
	waitSessions(t, srv, 1)
	c.send(&protocol.ChatMessage{Message: "hi"})

	recv := func() *eventbus.Envelope {
		select {
		case ev := <-got:
			return ev
		case <-time.After(waitFor):
			t.Fatal("событие не опубликовано")
			return nil
		}
	}

	join := recv()
	assert.Equal(t, eventbus.TypePlayerJoin, join.EventType)
	assert.Equal(t, eventSource, join.Source)
	var player playerPayload
	require.NoError(t, join.Decode(&player))
	assert.Equal(t, "Alice", player.Name)

	chat := recv()
	assert.Equal(t, eventbus.TypeChatMessage, chat.EventType)
	var msg chatPayload
	require.NoError(t, chat.Decode(&msg))
	assert.Equal(t, chatPayload{Player: "Alice", Message: "hi"}, msg)
}

func TestShutdownSavesWorldAndPositions(t *testing.T) {
	store, err := storage.NewFileWorldStore(filepath.Join(t.TempDir(), "world.json"))
	require.NoError(t, err)
	defer store.Close()
	positions := storage.NewMemoryPositionRepo()

	srv := newTestServer(t, nil, Deps{Store: store, Positions: positions})
	stop := startServer(t, srv)

	c := dial(t, srv)
	c.login("Alice")
	waitSessions(t, srv, 1)
	c.send(&protocol.PlayerPosition{X: 7.5, FeetY: 5, HeadY: 5 + eyeHeight, Z: -3.5, OnGround: true})
	require.Eventually(t, func() bool {
		snap := srv.Snapshot()
		return len(snap.Players) == 1 && snap.Players[0].X == 7.5
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, stop())

	var disc protocol.Disconnect
	c.expect(&disc)
	assert.Equal(t, protocol.ChatJSON("Server closed"), disc.Reason)

	assert.FileExists(t, store.Path())
	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, srv.World().ColumnCount(), saved.ColumnCount())

	pos, found, err := positions.Load(context.Background(), "Alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, vec.Vec3Float{X: 7.5, Y: 5 + eyeHeight, Z: -3.5}, pos.Position)
}

func TestLoginRestoresSavedPosition(t *testing.T) {
	positions := storage.NewMemoryPositionRepo()
	require.NoError(t, positions.Save(context.Background(), "Alice", storage.PlayerPosition{
		Position: vec.Vec3Float{X: 100.5, Y: 70, Z: -40.5},
		Yaw:      180,
	}))

	srv := newTestServer(t, nil, Deps{Positions: positions})
	startServer(t, srv)

	c := dial(t, srv)
	c.login("Alice")

	var pos protocol.ClientboundPositionAndLook
	c.expect(&pos)
	assert.Equal(t, 100.5, pos.X)
	assert.Equal(t, 70.0, pos.Y)
	assert.Equal(t, -40.5, pos.Z)
	assert.Equal(t, float32(180), pos.Yaw)

	// первая колонка под сохраненной позицией
	var bulk protocol.MapChunkBulk
	c.expect(&bulk)
	assert.Equal(t, int32(6), bulk.Columns[0].X)
	assert.Equal(t, int32(-3), bulk.Columns[0].Z)
}

func TestRunTwice(t *testing.T) {
	srv := newTestServer(t, nil, Deps{})
	stop := startServer(t, srv)

	require.Eventually(t, func() bool { return srv.Snapshot().Tick > 0 }, waitFor, 5*time.Millisecond)
	assert.ErrorIs(t, srv.Run(context.Background()), ErrAlreadyRunning)
	assert.NoError(t, stop())
}

func TestShutdownWithHalfSentFrame(t *testing.T) {
	srv := newTestServer(t, nil, Deps{})
	stop := startServer(t, srv)

	nc, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	defer nc.Close()

	// заявлена длина 5, тело не приходит
	_, err = nc.Write([]byte{0x05})
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- stop() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("остановка ждет недочитанный кадр")
	}

	srv.sessionsMu.Lock()
	assert.Empty(t, srv.early)
	srv.sessionsMu.Unlock()

	_ = nc.SetReadDeadline(time.Now().Add(time.Second))
	_, err = nc.Read(make([]byte, 1))
	assert.Error(t, err, "соединение закрыто сервером")
}
