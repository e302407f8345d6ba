package network

import (
	"fmt"

	"github.com/annel0/blockcraft/internal/eventbus"
	"github.com/annel0/blockcraft/internal/protocol"
	"github.com/annel0/blockcraft/internal/vec"
	"github.com/annel0/blockcraft/internal/world"
	"github.com/annel0/blockcraft/internal/world/block"
)

// EventKind вид игрового события
type EventKind uint8

const (
	EventPlayerJoin EventKind = iota
	EventPlayerQuit
	EventBlockBreak
	EventChat
	eventKindCount
)

func (k EventKind) String() string {
	switch k {
	case EventPlayerJoin:
		return eventbus.TypePlayerJoin
	case EventPlayerQuit:
		return eventbus.TypePlayerQuit
	case EventBlockBreak:
		return eventbus.TypeBlockBreak
	case EventChat:
		return eventbus.TypeChatMessage
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// Event данные события. Заполнены только поля, относящиеся к виду.
type Event struct {
	Kind    EventKind
	Session *Session

	// EventBlockBreak
	Pos   vec.Vec3
	Block world.Block

	// EventChat
	Message string

	// EventPlayerQuit
	Reason string

	// Cancelled прерывает цепочку: следующие обработчики не вызываются
	Cancelled bool
}

// EventHandler обработчик события. Вызывается только из тикового цикла.
type EventHandler func(srv *Server, ev *Event)

// On добавляет обработчик в конец цепочки вида события.
// Регистрировать обработчики нужно до запуска Run.
func (srv *Server) On(kind EventKind, h EventHandler) {
	srv.handlers[kind] = append(srv.handlers[kind], h)
}

func (srv *Server) fire(ev *Event) {
	for _, h := range srv.handlers[ev.Kind] {
		h(srv, ev)
		if ev.Cancelled {
			return
		}
	}
}

// registerDefaultHandlers стандартное поведение сервера; экспорт в шину последним
func (srv *Server) registerDefaultHandlers() {
	srv.On(EventPlayerJoin, announceJoin)
	srv.On(EventPlayerQuit, announceQuit)
	srv.On(EventBlockBreak, breakBlock)
	srv.On(EventChat, broadcastChat)

	for kind := EventKind(0); kind < eventKindCount; kind++ {
		srv.On(kind, exportEvent)
	}
}

func announceJoin(srv *Server, ev *Event) {
	srv.broadcast(&protocol.ClientboundChat{JSON: protocol.ChatJSON(ev.Session.Name + " joined the game")}, nil)
}

func announceQuit(srv *Server, ev *Event) {
	srv.broadcast(&protocol.ClientboundChat{JSON: protocol.ChatJSON(ev.Session.Name + " left the game")}, nil)
}

// breakBlock заменяет блок воздухом и рассылает изменение соседям.
// Неразрушаемый блок возвращается клиенту, событие отменяется.
func breakBlock(srv *Server, ev *Event) {
	s := ev.Session
	if !block.IsBreakable(ev.Block.ID) {
		srv.send(s, blockChange(ev.Pos, ev.Block))
		ev.Cancelled = true
		return
	}

	srv.world.SetBlock(ev.Pos, world.Air)
	srv.broadcastNear(blockChange(ev.Pos, world.Air), ev.Pos.Float(), s)
	srv.gameLog.Debug("%s сломал %s в %v", s.Name, ev.Block.Name(), ev.Pos)
}

func blockChange(pos vec.Vec3, b world.Block) *protocol.BlockChange {
	return &protocol.BlockChange{
		X:       int32(pos.X),
		Y:       uint8(pos.Y),
		Z:       int32(pos.Z),
		BlockID: int32(b.ID),
		Meta:    b.Meta,
	}
}

func broadcastChat(srv *Server, ev *Event) {
	line := fmt.Sprintf("[%s] %s", ev.Session.Name, ev.Message)
	srv.gameLog.Info("[chat] %s", line)
	srv.broadcast(&protocol.ClientboundChat{JSON: protocol.ChatJSON(line)}, nil)
}

// Полезная нагрузка событий в шине
type playerPayload struct {
	Name     string `json:"name"`
	UUID     string `json:"uuid"`
	EntityID int32  `json:"entity_id"`
	Reason   string `json:"reason,omitempty"`
}

type blockBreakPayload struct {
	Player  string `json:"player"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Z       int    `json:"z"`
	BlockID uint8  `json:"block_id"`
	Block   string `json:"block"`
}

type chatPayload struct {
	Player  string `json:"player"`
	Message string `json:"message"`
}

// exportEvent ставит конверт в очередь экспорта. Тиковый цикл не ждет шину:
// при полной очереди событие отбрасывается.
func exportEvent(srv *Server, ev *Event) {
	if srv.exports == nil {
		return
	}

	var payload interface{}
	priority := eventbus.PriorityNormal
	s := ev.Session
	switch ev.Kind {
	case EventPlayerJoin, EventPlayerQuit:
		payload = playerPayload{Name: s.Name, UUID: s.UUID.String(), EntityID: s.EntityID, Reason: ev.Reason}
	case EventBlockBreak:
		payload = blockBreakPayload{
			Player: s.Name, X: ev.Pos.X, Y: ev.Pos.Y, Z: ev.Pos.Z,
			BlockID: uint8(ev.Block.ID), Block: ev.Block.Name(),
		}
	case EventChat:
		payload = chatPayload{Player: s.Name, Message: ev.Message}
		priority = eventbus.PriorityLow
	default:
		return
	}

	env, err := eventbus.NewEnvelope(eventSource, ev.Kind.String(), priority, payload)
	if err != nil {
		srv.log.Warn("событие %s: %v", ev.Kind, err)
		return
	}
	select {
	case srv.exports <- env:
	default:
		srv.metrics.EventsDropped.Inc()
	}
}
