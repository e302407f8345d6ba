package network

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/blockcraft/internal/protocol"
	"github.com/annel0/blockcraft/internal/vec"
)

// Session игрок в фазе play.
// Поля игрового состояния изменяет только тиковый цикл. Идентичность (UUID, имя,
// id сущности) задается при входе и дальше не меняется.
type Session struct {
	UUID     uuid.UUID
	Name     string
	EntityID int32

	Position  vec.Vec3Float
	Yaw       float32
	Pitch     float32
	OnGround  bool
	Crouching bool
	Sprinting bool

	Locale        string
	Brand         string
	ViewDistance  int
	LastAnimation int8

	conn      *protocol.Conn
	inbound   inboundQueue
	out       *outboundQueue
	writing   atomic.Bool
	keepalive keepAlive

	// колонки, уже отправленные клиенту
	sent map[vec.ChunkPos]struct{}
	// центр, для которого все колонки в радиусе уже отправлены
	loadedCenter *vec.ChunkPos
	moved        bool

	// joined защищен Server.sessionsMu
	joined  bool
	removed atomic.Bool
}

func (srv *Server) newSession(conn *protocol.Conn, name string) *Session {
	return &Session{
		UUID:         uuid.New(),
		Name:         name,
		EntityID:     srv.world.NextEntityID(),
		ViewDistance: srv.cfg.ViewDistance,
		conn:         conn,
		inbound:      inboundQueue{limit: srv.cfg.InboundQueue},
		out:          newOutboundQueue(srv.cfg.OutboundQueue),
		keepalive:    newKeepAlive(srv.cfg.KeepAliveInterval),
		sent:         make(map[vec.ChunkPos]struct{}),
	}
}

// RemoteAddr адрес клиента
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr()
}

// Removed сообщает, что сессия уже отключена
func (s *Session) Removed() bool {
	return s.removed.Load()
}

// HasColumn отправлялась ли клиенту колонка
func (s *Session) HasColumn(pos vec.ChunkPos) bool {
	_, ok := s.sent[pos]
	return ok
}

// send ставит пакет в очередь отправки сессии. Тиковый цикл не ждет сеть:
// переполненная очередь отключает игрока, ошибку записи замечает писатель.
func (srv *Server) send(s *Session, p protocol.Packet) bool {
	return srv.sendRaw(s, protocol.EncodePacket(p))
}

func (srv *Server) sendRaw(s *Session, payload []byte) bool {
	if s.removed.Load() {
		return false
	}
	ok, full := s.out.offer(payload)
	if full {
		srv.log.Warn("очередь отправки %s переполнена (%d кадров)", s.Name, cap(s.out.frames))
		srv.disconnect(s, "", causeOverflow)
		return false
	}
	if !ok {
		return false
	}
	srv.metrics.PacketsOut.WithLabelValues(protocol.StatePlay.String()).Inc()
	return true
}

// startWriter запускает горутину-писатель сессии
func (srv *Server) startWriter(s *Session) {
	s.writing.Store(true)
	srv.connWG.Add(1)
	go srv.writeLoop(s)
}

// writeLoop отправляет кадры из очереди по порядку. Соединение закрывается,
// когда очередь закрыта и отправлена или запись не удалась.
func (srv *Server) writeLoop(s *Session) {
	defer srv.connWG.Done()
	defer s.conn.Close()

	for payload := range s.out.frames {
		if err := s.conn.WriteFrame(payload); err != nil {
			srv.log.Debug("запись в %s (%s): %v", s.Name, s.RemoteAddr(), err)
			srv.disconnect(s, "", causeTransport)
			break
		}
	}
	for range s.out.frames {
	}
}

// closeOutbound закрывает очередь отправки. Если писатель не успеет отправить
// остаток за WriteTimeout, соединение закрывается принудительно.
func (srv *Server) closeOutbound(s *Session) {
	s.out.close()
	if !s.writing.Load() {
		s.conn.Close()
		return
	}
	grace := srv.cfg.WriteTimeout
	if grace <= 0 {
		grace = time.Second
	}
	conn := s.conn
	time.AfterFunc(grace, func() { conn.Close() })
}

// broadcast отправляет пакет всем активным сессиям, кроме except
func (srv *Server) broadcast(p protocol.Packet, except *Session) {
	payload := protocol.EncodePacket(p)
	for _, s := range srv.Sessions() {
		if s != except {
			srv.sendRaw(s, payload)
		}
	}
}

// broadcastNear отправляет пакет сессиям, для которых точка в пределах горизонтальной
// дальности видимости (в блоках)
func (srv *Server) broadcastNear(p protocol.Packet, origin vec.Vec3Float, except *Session) {
	payload := protocol.EncodePacket(p)
	for _, s := range srv.Sessions() {
		if s == except {
			continue
		}
		if s.Position.HorizontalDistance(origin) <= float64(s.ViewDistance*16) {
			srv.sendRaw(s, payload)
		}
	}
}

// sendMessage системное сообщение одному игроку
func (srv *Server) sendMessage(s *Session, text string) {
	srv.send(s, &protocol.ClientboundChat{JSON: protocol.ChatJSON(text)})
}
