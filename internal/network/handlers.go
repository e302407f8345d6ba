package network

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/annel0/blockcraft/internal/protocol"
	"github.com/annel0/blockcraft/internal/vec"
	"github.com/annel0/blockcraft/internal/world"
)

// maxChatLength длина сообщения, которую принимает клиент 1.7
const maxChatLength = 100

// gamemodeCreative в творческом режиме клиент ломает блок сразу, без статуса finished
const gamemodeCreative = 1

// playHandler обрабатывает пакеты одной сессии.
// Создается на каждый пакет в тиковом цикле.
type playHandler struct {
	srv *Server
	s   *Session
}

var _ protocol.PlayHandler = (*playHandler)(nil)

func (h *playHandler) HandleKeepAlive(p *protocol.KeepAlive) {
	if !h.s.keepalive.echo(p.Nonce, h.srv.cfg.KeepAliveInterval) {
		h.srv.disconnect(h.s, "KeepAliveID is incorrect", causeProtocol)
	}
}

func (h *playHandler) HandleChat(p *protocol.ChatMessage) {
	msg := strings.TrimSpace(p.Message)
	if msg == "" {
		return
	}
	if len([]rune(msg)) > maxChatLength {
		msg = string([]rune(msg)[:maxChatLength])
	}
	if strings.HasPrefix(msg, "/") {
		h.command(msg[1:])
		return
	}
	h.srv.fire(&Event{Kind: EventChat, Session: h.s, Message: msg})
}

// command ответ на команду уходит только отправителю
func (h *playHandler) command(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch strings.ToLower(fields[0]) {
	case "list":
		sessions := h.srv.Sessions()
		names := make([]string, 0, len(sessions))
		for _, s := range sessions {
			names = append(names, s.Name)
		}
		sort.Strings(names)
		h.srv.sendMessage(h.s, fmt.Sprintf("Online (%d): %s", len(names), strings.Join(names, ", ")))
	case "tps":
		h.srv.sendMessage(h.s, fmt.Sprintf("TPS: %.1f", h.srv.TPS()))
	default:
		h.srv.sendMessage(h.s, "Unknown command: /"+fields[0])
	}
}

func (h *playHandler) HandlePlayer(p *protocol.Player) {
	h.s.OnGround = p.OnGround
}

// позиция сессии - голова игрока
func (h *playHandler) HandlePosition(p *protocol.PlayerPosition) {
	h.s.Position = vec.Vec3Float{X: p.X, Y: p.HeadY, Z: p.Z}
	h.s.OnGround = p.OnGround
	h.s.moved = true
}

func (h *playHandler) HandleLook(p *protocol.PlayerLook) {
	h.s.Yaw = p.Yaw
	h.s.Pitch = p.Pitch
	h.s.OnGround = p.OnGround
	h.s.moved = true
}

func (h *playHandler) HandlePositionAndLook(p *protocol.PlayerPositionAndLook) {
	h.s.Position = vec.Vec3Float{X: p.X, Y: p.HeadY, Z: p.Z}
	h.s.Yaw = p.Yaw
	h.s.Pitch = p.Pitch
	h.s.OnGround = p.OnGround
	h.s.moved = true
}

func (h *playHandler) HandleDigging(p *protocol.PlayerDigging) {
	finished := p.Status == protocol.DiggingFinished ||
		(p.Status == protocol.DiggingStarted && h.srv.cfg.Gamemode == gamemodeCreative)
	if !finished {
		return
	}

	pos := vec.Vec3{X: int(p.X), Y: int(p.Y), Z: int(p.Z)}
	b, err := h.srv.world.GetBlock(pos)
	if errors.Is(err, world.ErrColumnNotLoaded) {
		h.srv.log.Debug("%s копает в незагруженной колонке %v", h.s.Name, pos)
		return
	}
	if b.IsAir() {
		return
	}
	h.srv.fire(&Event{Kind: EventBlockBreak, Session: h.s, Pos: pos, Block: b})
}

func (h *playHandler) HandleAnimation(p *protocol.Animation) {
	h.s.LastAnimation = p.Animation
}

func (h *playHandler) HandleEntityAction(p *protocol.EntityAction) {
	switch p.Action {
	case protocol.ActionCrouch:
		h.s.Crouching = true
	case protocol.ActionUncrouch:
		h.s.Crouching = false
	case protocol.ActionStartSprint:
		h.s.Sprinting = true
	case protocol.ActionStopSprint:
		h.s.Sprinting = false
	}
}

func (h *playHandler) HandleClientSettings(p *protocol.ClientSettings) {
	h.s.Locale = p.Locale
	vd := int(p.ViewDistance)
	if vd < minViewDistance {
		vd = minViewDistance
	}
	if vd > h.srv.cfg.ViewDistance {
		vd = h.srv.cfg.ViewDistance
	}
	if vd != h.s.ViewDistance {
		h.s.ViewDistance = vd
		h.s.loadedCenter = nil
	}
}

func (h *playHandler) HandlePluginMessage(p *protocol.PluginMessage) {
	h.srv.log.Debug("plugin message от %s: %s (%d байт)", h.s.Name, p.Channel, len(p.Data))
	if p.Channel == "MC|Brand" {
		h.s.Brand = string(p.Data)
	}
}
