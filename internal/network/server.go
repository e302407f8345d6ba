package network

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/blockcraft/internal/config"
	"github.com/annel0/blockcraft/internal/eventbus"
	"github.com/annel0/blockcraft/internal/logging"
	"github.com/annel0/blockcraft/internal/protocol"
	"github.com/annel0/blockcraft/internal/scheduler"
	"github.com/annel0/blockcraft/internal/storage"
	"github.com/annel0/blockcraft/internal/world"
)

const (
	// eventSource поле Source конвертов в шине
	eventSource = "blockcraft"
	// exportQueueSize очередь между тиковым циклом и шиной событий
	exportQueueSize = 256
	// tpsWindow число тиков для оценки TPS
	tpsWindow = 20
	// maxStatusSample игроков в ответе на status
	maxStatusSample = 12
	// eyeHeight высота глаз над ногами
	eyeHeight = 1.62
	// backgroundTimeout ограничение на сохранение позиции игрока
	backgroundTimeout = 5 * time.Second
)

// ErrAlreadyRunning повторный вызов Run
var ErrAlreadyRunning = errors.New("network: сервер уже запущен")

// Deps внешние зависимости сервера. Нулевые поля отключают соответствующую функцию.
type Deps struct {
	Store      storage.WorldStore
	Positions  storage.PositionRepo
	Bus        eventbus.EventBus
	Registerer prometheus.Registerer
}

// deferredTask отложенная задача тикового цикла с явными данными
type deferredTask struct {
	kind    taskKind
	session *Session
	reason  string
}

type taskKind uint8

const (
	taskQuit taskKind = iota
)

// Server игровой сервер: прием соединений, вход игроков и тиковый цикл.
//
// Тиковый цикл (Run) единственный, кто изменяет мир и игровое состояние сессий.
// Горутины-читатели только декодируют пакеты и кладут их в очередь сессии.
type Server struct {
	cfg      config.ServerConfig
	autosave time.Duration

	world     *world.World
	store     storage.WorldStore
	positions storage.PositionRepo
	metrics   *Metrics
	log       *logging.Logger
	gameLog   *logging.Logger

	handlers  [eventKindCount][]EventHandler
	scheduler *scheduler.Scheduler[deferredTask]
	nonce     func() int32
	favicon   string

	listener   net.Listener
	acceptDone chan struct{}
	closing    atomic.Bool
	running    atomic.Bool

	// реестр сессий: активные, ожидающие регистрации и имена в процессе входа
	sessionsMu sync.Mutex
	sessions   map[int32]*Session
	pending    []*Session
	logins     map[string]struct{}
	// соединения до входа в play, shutdown закрывает их сам
	early map[*protocol.Conn]struct{}

	connWG sync.WaitGroup
	bgWG   sync.WaitGroup

	bus        eventbus.EventBus
	exports    chan *eventbus.Envelope
	exportDone chan struct{}

	// состояние тикового цикла
	tickCount uint64
	tickTimes []time.Time
	lastSave  time.Time
	saving    atomic.Bool

	snapshot atomic.Pointer[Snapshot]
}

// New создает сервер поверх загруженного мира
func New(cfg *config.Config, w *world.World, deps Deps) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if w == nil {
		return nil, errors.New("network: мир не задан")
	}

	metrics, err := NewMetrics(deps.Registerer)
	if err != nil {
		return nil, fmt.Errorf("регистрация метрик: %w", err)
	}

	positions := deps.Positions
	if positions == nil {
		positions = storage.NewMemoryPositionRepo()
	}

	srv := &Server{
		cfg:       cfg.Server,
		autosave:  cfg.World.Autosave,
		world:     w,
		store:     deps.Store,
		positions: positions,
		metrics:   metrics,
		log:       logging.GetNetworkLogger(),
		gameLog:   logging.GetGameLogger(),
		scheduler: scheduler.New[deferredTask](),
		nonce:     randomNonce,
		sessions:  make(map[int32]*Session),
		logins:    make(map[string]struct{}),
		early:     make(map[*protocol.Conn]struct{}),
		bus:       deps.Bus,
		lastSave:  time.Now(),
	}
	if srv.cfg.TickRate <= 0 {
		srv.cfg.TickRate = 20
	}
	// без таймаута чтения читатель не заметит остановку сервера до входа в play
	if srv.cfg.ReadTimeout <= 0 {
		srv.cfg.ReadTimeout = time.Second
	}
	if srv.cfg.OutboundQueue <= 0 {
		srv.cfg.OutboundQueue = defaultOutboundQueue
	}
	if srv.cfg.InboundQueue <= 0 {
		srv.cfg.InboundQueue = defaultInboundQueue
	}
	if srv.cfg.KeepAliveInterval <= 0 {
		srv.cfg.KeepAliveInterval = 100
	}
	if srv.cfg.KeepAliveTimeout <= 0 {
		srv.cfg.KeepAliveTimeout = 600
	}
	if srv.cfg.ViewDistance < minViewDistance {
		srv.cfg.ViewDistance = minViewDistance
	}
	if srv.cfg.FaviconPath != "" {
		srv.favicon = loadFavicon(srv.cfg.FaviconPath, srv.log)
	}
	if srv.bus != nil {
		srv.exports = make(chan *eventbus.Envelope, exportQueueSize)
		srv.exportDone = make(chan struct{})
		go srv.runExports()
	}

	srv.registerDefaultHandlers()
	srv.publishSnapshot()
	return srv, nil
}

// loadFavicon читает PNG и возвращает data URL для status
func loadFavicon(path string, log *logging.Logger) string {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("favicon %s: %v", path, err)
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

// World мир сервера. Изменять его можно только из обработчиков событий.
func (srv *Server) World() *world.World {
	return srv.world
}

// Listen открывает TCP слушатель и запускает прием соединений
func (srv *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv.listener = ln
	srv.acceptDone = make(chan struct{})
	go srv.acceptLoop(ln)

	srv.log.Info("🎮 Игровой сервер слушает %s", ln.Addr())
	return nil
}

// Addr адрес слушателя или nil до Listen
func (srv *Server) Addr() net.Addr {
	if srv.listener == nil {
		return nil
	}
	return srv.listener.Addr()
}

func (srv *Server) acceptLoop(ln net.Listener) {
	defer close(srv.acceptDone)
	for {
		nc, err := ln.Accept()
		if err != nil {
			if srv.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			srv.log.Warn("accept: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		conn := protocol.NewConn(nc, srv.cfg.ReadTimeout, srv.cfg.WriteTimeout)
		if !srv.trackEarly(conn) {
			conn.Close()
			continue
		}

		srv.connWG.Add(1)
		go srv.handleConn(conn)
	}
}

// trackEarly запоминает соединение до входа в play. false, если сервер уже останавливается.
func (srv *Server) trackEarly(conn *protocol.Conn) bool {
	srv.sessionsMu.Lock()
	defer srv.sessionsMu.Unlock()
	if srv.closing.Load() {
		return false
	}
	srv.early[conn] = struct{}{}
	return true
}

func (srv *Server) untrackEarly(conn *protocol.Conn) {
	srv.sessionsMu.Lock()
	delete(srv.early, conn)
	srv.sessionsMu.Unlock()
}

// Run выполняет тиковый цикл до отмены ctx, затем останавливает сервер:
// закрывает слушатель, отключает игроков и сохраняет мир.
func (srv *Server) Run(ctx context.Context) error {
	if !srv.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	period := time.Second / time.Duration(srv.cfg.TickRate)
	timer := time.NewTimer(period)
	timer.Stop()

	srv.log.Info("⏱ Тиковый цикл запущен: %d тиков/с", srv.cfg.TickRate)
	for {
		start := time.Now()
		srv.tick()
		elapsed := time.Since(start)
		srv.metrics.TickDuration.Observe(elapsed.Seconds())

		wait := period - elapsed
		if wait < 0 {
			srv.metrics.TickOverruns.Inc()
			srv.log.Warn("тик %d занял %v при периоде %v", srv.tickCount, elapsed, period)
			wait = 0
		}

		timer.Reset(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return srv.shutdown()
		case <-timer.C:
		}
	}
}

// tick один шаг игрового цикла
func (srv *Server) tick() {
	srv.tickCount++
	srv.recordTickTime(time.Now())

	srv.registerPending()

	for _, s := range srv.Sessions() {
		srv.advanceKeepAlive(s)
		if s.Removed() {
			continue
		}
		srv.drainInbound(s)
		if s.Removed() {
			continue
		}
		if s.moved {
			srv.broadcastMovement(s)
			s.moved = false
		}
		srv.loadChunks(s)
	}

	srv.scheduler.Advance(srv.runTask)
	srv.maybeAutosave()
	srv.publishSnapshot()
}

// registerPending переводит вошедших игроков в активные и выполняет вход в мир
func (srv *Server) registerPending() {
	srv.sessionsMu.Lock()
	pending := srv.pending
	srv.pending = nil
	joined := make([]*Session, 0, len(pending))
	for _, s := range pending {
		if s.Removed() {
			continue
		}
		srv.sessions[s.EntityID] = s
		s.joined = true
		joined = append(joined, s)
	}
	active := len(srv.sessions)
	srv.sessionsMu.Unlock()

	srv.metrics.ActiveSessions.Set(float64(active))
	for _, s := range joined {
		srv.join(s)
	}
}

// join последовательность входа: точка спавна, позиция, список игроков, сущности
func (srv *Server) join(s *Session) {
	spawn := srv.world.Spawn
	srv.send(s, &protocol.SpawnPosition{X: int32(spawn.X), Y: int32(spawn.Y), Z: int32(spawn.Z)})
	srv.send(s, &protocol.ClientboundPositionAndLook{
		X: s.Position.X, Y: s.Position.Y, Z: s.Position.Z,
		Yaw: s.Yaw, Pitch: s.Pitch,
	})

	srv.broadcast(&protocol.PlayerListItem{Name: s.Name, Online: true}, nil)
	self := spawnPlayer(s)
	for _, other := range srv.Sessions() {
		if other == s {
			continue
		}
		srv.send(s, &protocol.PlayerListItem{Name: other.Name, Online: true})
		srv.send(s, spawnPlayer(other))
		srv.send(other, self)
	}

	srv.log.Info("👤 %s (%s, entity %d) вошел с %s", s.Name, s.UUID, s.EntityID, s.RemoteAddr())
	srv.fire(&Event{Kind: EventPlayerJoin, Session: s})
}

func spawnPlayer(s *Session) *protocol.SpawnPlayer {
	return &protocol.SpawnPlayer{
		EntityID: s.EntityID,
		UUID:     s.UUID.String(),
		Name:     s.Name,
		X:        protocol.FixedPoint(s.Position.X),
		Y:        protocol.FixedPoint(s.Position.Y - eyeHeight),
		Z:        protocol.FixedPoint(s.Position.Z),
		Yaw:      protocol.Angle(s.Yaw),
		Pitch:    protocol.Angle(s.Pitch),
		Metadata: protocol.HumanMetadata(20),
	}
}

func (srv *Server) broadcastMovement(s *Session) {
	srv.broadcastNear(&protocol.EntityTeleport{
		EntityID: s.EntityID,
		X:        protocol.FixedPoint(s.Position.X),
		Y:        protocol.FixedPoint(s.Position.Y - eyeHeight),
		Z:        protocol.FixedPoint(s.Position.Z),
		Yaw:      protocol.Angle(s.Yaw),
		Pitch:    protocol.Angle(s.Pitch),
	}, s.Position, s)
}

func (srv *Server) advanceKeepAlive(s *Session) {
	switch s.keepalive.tick(srv.cfg.KeepAliveTimeout, srv.nonce) {
	case keepAlivePing:
		srv.send(s, &protocol.KeepAlive{Nonce: s.keepalive.nonce})
	case keepAliveTimeout:
		srv.disconnect(s, "Timed out", causeTimeout)
	}
}

// drainInbound применяет все накопленные пакеты сессии по порядку
func (srv *Server) drainInbound(s *Session) {
	for _, item := range s.inbound.drain() {
		if s.Removed() {
			return
		}
		if item.hangup {
			srv.disconnect(s, item.reason, item.cause)
			return
		}
		srv.apply(s, item.packet)
	}
}

// apply вызывает обработчик пакета. Паника отключает только эту сессию.
func (srv *Server) apply(s *Session, p protocol.PlayPacket) {
	defer func() {
		if r := recover(); r != nil {
			srv.log.Error("паника при обработке %T от %s: %v\n%s", p, s.Name, r, debug.Stack())
			srv.disconnect(s, "Internal server error", causeInternal)
		}
	}()
	p.Apply(&playHandler{srv: srv, s: s})
}

// Disconnect отключает игрока с причиной. Безопасен из любой горутины,
// повторный вызов ничего не делает.
func (srv *Server) Disconnect(s *Session, reason string) {
	srv.disconnect(s, reason, causeKick)
}

func (srv *Server) disconnect(s *Session, reason, cause string) {
	if !s.removed.CompareAndSwap(false, true) {
		return
	}

	if reason != "" {
		// соединение может быть уже разорвано, причина отправляется без гарантий
		if ok, _ := s.out.offer(protocol.EncodePacket(&protocol.Disconnect{Reason: protocol.ChatJSON(reason)})); !ok {
			srv.log.Debug("Disconnect для %s не поставлен в очередь", s.Name)
		}
	}
	srv.closeOutbound(s)

	srv.sessionsMu.Lock()
	if srv.sessions[s.EntityID] == s {
		delete(srv.sessions, s.EntityID)
	}
	joined := s.joined
	active := len(srv.sessions)
	srv.sessionsMu.Unlock()

	srv.metrics.ActiveSessions.Set(float64(active))
	srv.metrics.Disconnects.WithLabelValues(cause).Inc()
	if cause == causeTransport {
		srv.log.Debug("%s (%s) отключился", s.Name, s.RemoteAddr())
	} else {
		srv.log.Info("🚪 %s отключен (%s): %s", s.Name, cause, reason)
	}

	if joined {
		if reason == "" {
			reason = cause
		}
		srv.scheduler.Schedule(1, deferredTask{kind: taskQuit, session: s, reason: reason})
	}
}

// runTask выполняет отложенную задачу в тиковом цикле
func (srv *Server) runTask(t deferredTask) {
	defer func() {
		if r := recover(); r != nil {
			srv.log.Error("паника в отложенной задаче %d: %v\n%s", t.kind, r, debug.Stack())
		}
	}()

	switch t.kind {
	case taskQuit:
		s := t.session
		srv.broadcast(&protocol.PlayerListItem{Name: s.Name, Online: false}, nil)
		srv.broadcast(&protocol.DestroyEntities{EntityIDs: []int32{s.EntityID}}, nil)
		srv.savePosition(s)
		srv.fire(&Event{Kind: EventPlayerQuit, Session: s, Reason: t.reason})
	}
}

// savePosition сохраняет последнюю позицию игрока в фоне
func (srv *Server) savePosition(s *Session) {
	pos := storage.PlayerPosition{
		Position:  s.Position,
		Yaw:       s.Yaw,
		Pitch:     s.Pitch,
		UpdatedAt: time.Now().UTC(),
	}
	name := s.Name

	srv.bgWG.Add(1)
	go func() {
		defer srv.bgWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		if err := srv.positions.Save(ctx, name, pos); err != nil {
			srv.log.Warn("сохранение позиции %s: %v", name, err)
		}
	}()
}

// Sessions активные сессии, упорядоченные по id сущности
func (srv *Server) Sessions() []*Session {
	srv.sessionsMu.Lock()
	list := make([]*Session, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		list = append(list, s)
	}
	srv.sessionsMu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].EntityID < list[j].EntityID })
	return list
}

// SessionCount число активных сессий
func (srv *Server) SessionCount() int {
	srv.sessionsMu.Lock()
	defer srv.sessionsMu.Unlock()
	return len(srv.sessions)
}

func (srv *Server) recordTickTime(now time.Time) {
	if len(srv.tickTimes) == tpsWindow {
		copy(srv.tickTimes, srv.tickTimes[1:])
		srv.tickTimes = srv.tickTimes[:tpsWindow-1]
	}
	srv.tickTimes = append(srv.tickTimes, now)
}

// measureTPS средняя частота тиков по последнему окну, не выше номинальной
func (srv *Server) measureTPS() float64 {
	n := len(srv.tickTimes)
	if n < 2 {
		return float64(srv.cfg.TickRate)
	}
	span := srv.tickTimes[n-1].Sub(srv.tickTimes[0]).Seconds()
	if span <= 0 {
		return float64(srv.cfg.TickRate)
	}
	tps := float64(n-1) / span
	if tps > float64(srv.cfg.TickRate) {
		tps = float64(srv.cfg.TickRate)
	}
	return tps
}

// maybeAutosave отдает копию мира на сохранение в фоне.
// Если предыдущее сохранение еще идет, текущее пропускается.
func (srv *Server) maybeAutosave() {
	if srv.store == nil || srv.autosave <= 0 || time.Since(srv.lastSave) < srv.autosave {
		return
	}
	srv.lastSave = time.Now()

	if !srv.saving.CompareAndSwap(false, true) {
		srv.log.Warn("автосохранение пропущено: предыдущее еще выполняется")
		srv.metrics.Autosaves.WithLabelValues("skipped").Inc()
		return
	}

	clone := srv.world.Clone()
	srv.bgWG.Add(1)
	go func() {
		defer srv.bgWG.Done()
		defer srv.saving.Store(false)

		start := time.Now()
		if err := srv.store.Save(context.Background(), clone); err != nil {
			srv.log.Error("автосохранение: %v", err)
			srv.metrics.Autosaves.WithLabelValues("error").Inc()
			return
		}
		srv.metrics.Autosaves.WithLabelValues("ok").Inc()
		srv.log.Info("💾 Мир сохранен: %d колонок за %v", clone.ColumnCount(), time.Since(start))
	}()
}

// runExports публикует события в шину вне тикового цикла
func (srv *Server) runExports() {
	defer close(srv.exportDone)
	for env := range srv.exports {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := srv.bus.Publish(ctx, env); err != nil {
			srv.log.Debug("публикация %s: %v", env.EventType, err)
			srv.metrics.EventsDropped.Inc()
		}
		cancel()
	}
}

// shutdown останавливает сервер после выхода из тикового цикла
func (srv *Server) shutdown() error {
	srv.closing.Store(true)
	if srv.listener != nil {
		srv.listener.Close()
		<-srv.acceptDone
	}

	srv.sessionsMu.Lock()
	all := make([]*Session, 0, len(srv.sessions)+len(srv.pending))
	for _, s := range srv.sessions {
		all = append(all, s)
	}
	all = append(all, srv.pending...)
	srv.pending = nil
	early := make([]*protocol.Conn, 0, len(srv.early))
	for conn := range srv.early {
		early = append(early, conn)
	}
	srv.sessionsMu.Unlock()

	// читатели, застрявшие в handshake или login, получат ErrConnClosed
	for _, conn := range early {
		conn.Close()
	}
	for _, s := range all {
		srv.disconnect(s, "Server closed", causeShutdown)
	}
	// задачи выхода, запланированные выше
	srv.scheduler.Advance(srv.runTask)

	srv.connWG.Wait()
	if srv.exports != nil {
		close(srv.exports)
		<-srv.exportDone
	}
	srv.bgWG.Wait()
	srv.publishSnapshot()

	if srv.store == nil {
		srv.log.Info("🛑 Сервер остановлен")
		return nil
	}
	start := time.Now()
	if err := srv.store.Save(context.Background(), srv.world); err != nil {
		return fmt.Errorf("финальное сохранение мира: %w", err)
	}
	srv.log.Info("🛑 Сервер остановлен, мир сохранен за %v", time.Since(start))
	return nil
}
