package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/annel0/blockcraft/internal/protocol"
	"github.com/annel0/blockcraft/internal/storage"
	"github.com/annel0/blockcraft/internal/vec"
)

// loginTimeout время на handshake, status и login до перехода в play
const loginTimeout = 30 * time.Second

var validName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// handleConn горутина-читатель соединения: handshake, затем status или login и play
func (srv *Server) handleConn(conn *protocol.Conn) {
	defer srv.connWG.Done()
	defer srv.untrackEarly(conn)

	// до play ни один кадр, даже начатый, не читается дольше loginTimeout
	deadline := time.Now().Add(loginTimeout)
	conn.SetDeadlineLimit(deadline)

	p, err := srv.readEarly(conn, protocol.StateHandshake, deadline)
	if err != nil {
		conn.Close()
		return
	}
	hs := p.(*protocol.Handshake)

	next, err := hs.Target()
	if err != nil {
		srv.log.Debug("%s: handshake next state %d: %v", conn.RemoteAddr(), hs.NextState, err)
		conn.Close()
		return
	}

	switch next {
	case protocol.StateStatus:
		srv.serveStatus(conn, deadline)
		conn.Close()
	case protocol.StateLogin:
		s := srv.serveLogin(conn, hs, deadline)
		if s == nil {
			conn.Close()
			return
		}
		conn.SetDeadlineLimit(time.Time{})
		srv.readPlay(s)
	}
}

// readEarly читает пакет до входа в play. Таймауты чтения повторяются до deadline.
func (srv *Server) readEarly(conn *protocol.Conn, state protocol.State, deadline time.Time) (protocol.Packet, error) {
	for {
		p, raw, err := conn.ReadPacket(state)
		if err == nil {
			srv.metrics.PacketsIn.WithLabelValues(state.String()).Inc()
			return p, nil
		}

		var unknown *protocol.UnknownPacketError
		switch {
		case errors.Is(err, protocol.ErrTimeout):
			if srv.closing.Load() || time.Now().After(deadline) {
				srv.log.Debug("%s: нет данных в фазе %s", conn.RemoteAddr(), state)
				return nil, err
			}
			continue
		case errors.Is(err, protocol.ErrFrameTimeout):
			srv.log.Debug("%s: кадр не дочитан в фазе %s", conn.RemoteAddr(), state)
		case errors.As(err, &unknown):
			srv.log.Debug("%s: %v", conn.RemoteAddr(), err)
		case errors.Is(err, protocol.ErrConnClosed):
			srv.log.Debug("%s: соединение закрыто в фазе %s", conn.RemoteAddr(), state)
		default:
			srv.log.LogProtocolError(conn.RemoteAddr(), err, raw)
		}
		return nil, err
	}
}

// serveStatus отвечает на StatusRequest и Ping, после Pong соединение закрывается
func (srv *Server) serveStatus(conn *protocol.Conn, deadline time.Time) {
	for {
		p, err := srv.readEarly(conn, protocol.StateStatus, deadline)
		if err != nil {
			return
		}

		switch p := p.(type) {
		case *protocol.StatusRequest:
			doc, err := json.Marshal(srv.Status())
			if err != nil {
				srv.log.Error("status документ: %v", err)
				return
			}
			if !srv.writeEarly(conn, protocol.StateStatus, &protocol.StatusResponse{JSON: string(doc)}) {
				return
			}
		case *protocol.StatusPing:
			srv.writeEarly(conn, protocol.StateStatus, &protocol.StatusPong{Time: p.Time})
			return
		}
	}
}

func (srv *Server) writeEarly(conn *protocol.Conn, state protocol.State, p protocol.Packet) bool {
	if err := conn.WritePacket(p); err != nil {
		srv.log.Debug("%s: запись %T: %v", conn.RemoteAddr(), p, err)
		return false
	}
	srv.metrics.PacketsOut.WithLabelValues(state.String()).Inc()
	return true
}

// rejectLogin отправляет отказ во входе, ошибка записи игнорируется
func (srv *Server) rejectLogin(conn *protocol.Conn, reason string) {
	srv.log.Info("вход с %s отклонен: %s", conn.RemoteAddr(), reason)
	srv.writeEarly(conn, protocol.StateLogin, &protocol.LoginDisconnect{Reason: protocol.ChatJSON(reason)})
}

// serveLogin выполняет вход и ставит сессию в очередь регистрации тиковым циклом.
// Возвращает nil, если вход не состоялся.
func (srv *Server) serveLogin(conn *protocol.Conn, hs *protocol.Handshake, deadline time.Time) *Session {
	p, err := srv.readEarly(conn, protocol.StateLogin, deadline)
	if err != nil {
		var unknown *protocol.UnknownPacketError
		if errors.As(err, &unknown) {
			srv.rejectLogin(conn, fmt.Sprintf("Unknown packet id: 0x%02X", unknown.ID))
		}
		return nil
	}
	name := p.(*protocol.LoginStart).Name

	if int(hs.ProtocolVersion) != srv.cfg.ProtocolVersion {
		if int(hs.ProtocolVersion) < srv.cfg.ProtocolVersion {
			srv.rejectLogin(conn, "Outdated client! Please use "+srv.cfg.VersionName)
		} else {
			srv.rejectLogin(conn, "Outdated server! I'm still on "+srv.cfg.VersionName)
		}
		return nil
	}
	if len(name) == 0 || len(name) > storage.MaxPlayerNameLength || !validName.MatchString(name) {
		srv.rejectLogin(conn, "Invalid username")
		return nil
	}

	key := strings.ToLower(name)
	if reason := srv.reserveName(key); reason != "" {
		srv.rejectLogin(conn, reason)
		return nil
	}
	defer srv.releaseName(key)

	s := srv.newSession(conn, name)
	srv.restorePosition(s)

	if !srv.writeEarly(conn, protocol.StateLogin, &protocol.LoginSuccess{UUID: s.UUID.String(), Name: name}) {
		return nil
	}
	join := &protocol.JoinGame{
		EntityID:   s.EntityID,
		Gamemode:   uint8(srv.cfg.Gamemode),
		Dimension:  srv.world.Dimension,
		Difficulty: uint8(srv.cfg.Difficulty),
		MaxPlayers: uint8(srv.cfg.MaxPlayers),
		LevelType:  srv.cfg.LevelType,
	}
	if !srv.writeEarly(conn, protocol.StatePlay, join) {
		return nil
	}

	srv.sessionsMu.Lock()
	if srv.closing.Load() {
		srv.sessionsMu.Unlock()
		_ = conn.WritePacket(&protocol.Disconnect{Reason: protocol.ChatJSON("Server closed")})
		return nil
	}
	srv.pending = append(srv.pending, s)
	delete(srv.early, conn)
	srv.startWriter(s)
	srv.sessionsMu.Unlock()

	srv.log.Debug("%s вошел, ожидает регистрации", name)
	return s
}

// reserveName проверяет лимит игроков и уникальность имени и резервирует имя.
// Возвращает причину отказа или пустую строку.
func (srv *Server) reserveName(key string) string {
	srv.sessionsMu.Lock()
	defer srv.sessionsMu.Unlock()

	if srv.closing.Load() {
		return "Server closed"
	}
	if len(srv.sessions)+len(srv.pending)+len(srv.logins) >= srv.cfg.MaxPlayers {
		return "The server is full!"
	}
	if _, ok := srv.logins[key]; ok {
		return "You are already logged in"
	}
	for _, s := range srv.sessions {
		if strings.ToLower(s.Name) == key {
			return "You are already logged in"
		}
	}
	for _, s := range srv.pending {
		if !s.Removed() && strings.ToLower(s.Name) == key {
			return "You are already logged in"
		}
	}
	srv.logins[key] = struct{}{}
	return ""
}

func (srv *Server) releaseName(key string) {
	srv.sessionsMu.Lock()
	delete(srv.logins, key)
	srv.sessionsMu.Unlock()
}

// restorePosition берет сохраненную позицию игрока или точку спавна мира
func (srv *Server) restorePosition(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()

	saved, found, err := srv.positions.Load(ctx, s.Name)
	if err != nil {
		srv.log.Warn("загрузка позиции %s: %v", s.Name, err)
	}
	if found {
		s.Position = saved.Position
		s.Yaw = saved.Yaw
		s.Pitch = saved.Pitch
		return
	}

	spawn := srv.world.Spawn
	s.Position = vec.Vec3Float{
		X: float64(spawn.X) + 0.5,
		Y: float64(spawn.Y) + eyeHeight,
		Z: float64(spawn.Z) + 0.5,
	}
}

// readPlay цикл чтения в фазе play: декодированные пакеты уходят в очередь сессии,
// любая ошибка превращается в маркер обрыва.
func (srv *Server) readPlay(s *Session) {
	for {
		p, raw, err := s.conn.ReadPacket(protocol.StatePlay)
		if err == nil {
			pp, ok := p.(protocol.PlayPacket)
			if !ok {
				s.inbound.hangup("Internal server error", causeInternal)
				return
			}
			srv.metrics.PacketsIn.WithLabelValues(protocol.StatePlay.String()).Inc()
			if !s.inbound.push(pp) {
				return
			}
			continue
		}

		var unknown *protocol.UnknownPacketError
		switch {
		case errors.Is(err, protocol.ErrTimeout):
			if s.Removed() {
				return
			}
			continue
		case errors.Is(err, protocol.ErrFrameTimeout):
			s.inbound.hangup("Timed out", causeTimeout)
		case errors.As(err, &unknown):
			s.inbound.hangup(fmt.Sprintf("Unknown packet id: 0x%02X", unknown.ID), causeProtocol)
		case errors.Is(err, protocol.ErrConnClosed):
			s.inbound.hangup("", causeTransport)
		default:
			srv.log.LogProtocolError(s.RemoteAddr(), err, raw)
			s.inbound.hangup("", causeDecode)
		}
		return
	}
}
