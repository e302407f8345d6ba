package protocol

import (
	"errors"
	"fmt"
)

// State фаза протокола соединения
type State uint8

const (
	StateHandshake State = iota
	StateStatus
	StateLogin
	StatePlay
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateStatus:
		return "status"
	case StateLogin:
		return "login"
	case StatePlay:
		return "play"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ErrInvalidNextState handshake запросил фазу, отличную от status/login
var ErrInvalidNextState = errors.New("invalid next state")

// UnknownPacketError id пакета отсутствует в таблице текущей фазы
type UnknownPacketError struct {
	State State
	ID    int32
}

func (e *UnknownPacketError) Error() string {
	return fmt.Sprintf("unknown packet id 0x%02X in state %s", e.ID, e.State)
}

// Packet пакет протокола. Load и Encode симметричны: входящие пакеты сервер
// только загружает, исходящие только кодирует, но обе операции есть у всех типов.
// Для входящих id ищется по таблице фазы, исходящие выбирает отправитель.
type Packet interface {
	ID() int32
	Load(r *Reader) error
	Encode(w *Writer)
}

// PlayPacket входящий пакет фазы play. Apply вызывается только из тикового цикла
// и передает пакет соответствующему методу обработчика.
type PlayPacket interface {
	Packet
	Apply(h PlayHandler)
}

// PlayHandler обработчик пакетов play, привязанный к паре (сессия, сервер)
type PlayHandler interface {
	HandleKeepAlive(p *KeepAlive)
	HandleChat(p *ChatMessage)
	HandlePlayer(p *Player)
	HandlePosition(p *PlayerPosition)
	HandleLook(p *PlayerLook)
	HandlePositionAndLook(p *PlayerPositionAndLook)
	HandleDigging(p *PlayerDigging)
	HandleAnimation(p *Animation)
	HandleEntityAction(p *EntityAction)
	HandleClientSettings(p *ClientSettings)
	HandlePluginMessage(p *PluginMessage)
}

type packetTable map[int32]func() Packet

var registry = map[State]packetTable{
	StateHandshake: {
		0x00: func() Packet { return &Handshake{} },
	},
	StateStatus: {
		0x00: func() Packet { return &StatusRequest{} },
		0x01: func() Packet { return &StatusPing{} },
	},
	StateLogin: {
		0x00: func() Packet { return &LoginStart{} },
	},
	StatePlay: {
		0x00: func() Packet { return &KeepAlive{} },
		0x01: func() Packet { return &ChatMessage{} },
		0x03: func() Packet { return &Player{} },
		0x04: func() Packet { return &PlayerPosition{} },
		0x05: func() Packet { return &PlayerLook{} },
		0x06: func() Packet { return &PlayerPositionAndLook{} },
		0x07: func() Packet { return &PlayerDigging{} },
		0x0A: func() Packet { return &Animation{} },
		0x0B: func() Packet { return &EntityAction{} },
		0x15: func() Packet { return &ClientSettings{} },
		0x17: func() Packet { return &PluginMessage{} },
	},
}

// Known сообщает, зарегистрирован ли id в фазе
func Known(state State, id int32) bool {
	_, ok := registry[state][id]
	return ok
}

// DecodePacket читает id из payload, находит тип по таблице фазы и загружает поля.
// Лишние байты в конце кадра не считаются ошибкой.
func DecodePacket(state State, payload []byte) (Packet, error) {
	r := NewReader(payload)
	id, err := r.ReadVarInt()
	if err != nil {
		return nil, fmt.Errorf("packet id: %w", err)
	}

	ctor, ok := registry[state][id]
	if !ok {
		return nil, &UnknownPacketError{State: state, ID: id}
	}

	p := ctor()
	if err := p.Load(r); err != nil {
		return nil, fmt.Errorf("decode %T: %w", p, err)
	}
	return p, nil
}

// EncodePacket собирает payload исходящего пакета: varint(id) || поля
func EncodePacket(p Packet) []byte {
	w := NewWriter(64)
	w.WriteVarInt(p.ID())
	p.Encode(w)
	return w.Bytes()
}
