package protocol

import (
	"fmt"

	pk "github.com/Tnze/go-mc/net/packet"
)

// Входящие пакеты фазы play. Все поля в порядке следования на проводе.

// KeepAlive эхо nonce от клиента. Сервер отправляет пакет той же формы.
type KeepAlive struct {
	Nonce int32
}

func (*KeepAlive) ID() int32 { return 0x00 }

func (p *KeepAlive) Load(r *Reader) error { return r.Decode((*pk.Int)(&p.Nonce)) }
func (p *KeepAlive) Encode(w *Writer)     { w.Put(pk.Int(p.Nonce)) }
func (p *KeepAlive) Apply(h PlayHandler)  { h.HandleKeepAlive(p) }

type ChatMessage struct {
	Message string
}

func (*ChatMessage) ID() int32 { return 0x01 }

func (p *ChatMessage) Load(r *Reader) error { return r.Decode((*String)(&p.Message)) }
func (p *ChatMessage) Encode(w *Writer)     { w.Put(String(p.Message)) }
func (p *ChatMessage) Apply(h PlayHandler)  { h.HandleChat(p) }

// Player только флаг "на земле"
type Player struct {
	OnGround bool
}

func (*Player) ID() int32 { return 0x03 }

func (p *Player) Load(r *Reader) error { return r.Decode((*pk.Boolean)(&p.OnGround)) }
func (p *Player) Encode(w *Writer)     { w.Put(pk.Boolean(p.OnGround)) }
func (p *Player) Apply(h PlayHandler)  { h.HandlePlayer(p) }

// PlayerPosition позиция: FeetY это ноги, HeadY глаза
type PlayerPosition struct {
	X, FeetY, HeadY, Z float64
	OnGround           bool
}

func (*PlayerPosition) ID() int32 { return 0x04 }

func (p *PlayerPosition) Load(r *Reader) error {
	return r.Decode(pk.Tuple{
		(*pk.Double)(&p.X),
		(*pk.Double)(&p.FeetY),
		(*pk.Double)(&p.HeadY),
		(*pk.Double)(&p.Z),
		(*pk.Boolean)(&p.OnGround),
	})
}

func (p *PlayerPosition) Encode(w *Writer) {
	w.Put(pk.Tuple{
		pk.Double(p.X),
		pk.Double(p.FeetY),
		pk.Double(p.HeadY),
		pk.Double(p.Z),
		pk.Boolean(p.OnGround),
	})
}

func (p *PlayerPosition) Apply(h PlayHandler) { h.HandlePosition(p) }

type PlayerLook struct {
	Yaw, Pitch float32
	OnGround   bool
}

func (*PlayerLook) ID() int32 { return 0x05 }

func (p *PlayerLook) Load(r *Reader) error {
	return r.Decode(pk.Tuple{
		(*pk.Float)(&p.Yaw),
		(*pk.Float)(&p.Pitch),
		(*pk.Boolean)(&p.OnGround),
	})
}

func (p *PlayerLook) Encode(w *Writer) {
	w.Put(pk.Tuple{pk.Float(p.Yaw), pk.Float(p.Pitch), pk.Boolean(p.OnGround)})
}

func (p *PlayerLook) Apply(h PlayHandler) { h.HandleLook(p) }

type PlayerPositionAndLook struct {
	X, FeetY, HeadY, Z float64
	Yaw, Pitch         float32
	OnGround           bool
}

func (*PlayerPositionAndLook) ID() int32 { return 0x06 }

func (p *PlayerPositionAndLook) Load(r *Reader) error {
	return r.Decode(pk.Tuple{
		(*pk.Double)(&p.X),
		(*pk.Double)(&p.FeetY),
		(*pk.Double)(&p.HeadY),
		(*pk.Double)(&p.Z),
		(*pk.Float)(&p.Yaw),
		(*pk.Float)(&p.Pitch),
		(*pk.Boolean)(&p.OnGround),
	})
}

func (p *PlayerPositionAndLook) Encode(w *Writer) {
	w.Put(pk.Tuple{
		pk.Double(p.X),
		pk.Double(p.FeetY),
		pk.Double(p.HeadY),
		pk.Double(p.Z),
		pk.Float(p.Yaw),
		pk.Float(p.Pitch),
		pk.Boolean(p.OnGround),
	})
}

func (p *PlayerPositionAndLook) Apply(h PlayHandler) { h.HandlePositionAndLook(p) }

// Статусы PlayerDigging
const (
	DiggingStarted   int8 = 0
	DiggingCancelled int8 = 1
	DiggingFinished  int8 = 2
)

type PlayerDigging struct {
	Status int8
	X      int32
	Y      uint8
	Z      int32
	Face   int8
}

func (*PlayerDigging) ID() int32 { return 0x07 }

func (p *PlayerDigging) Load(r *Reader) error {
	return r.Decode(pk.Tuple{
		(*pk.Byte)(&p.Status),
		(*pk.Int)(&p.X),
		(*pk.UnsignedByte)(&p.Y),
		(*pk.Int)(&p.Z),
		(*pk.Byte)(&p.Face),
	})
}

func (p *PlayerDigging) Encode(w *Writer) {
	w.Put(pk.Tuple{
		pk.Byte(p.Status),
		pk.Int(p.X),
		pk.UnsignedByte(p.Y),
		pk.Int(p.Z),
		pk.Byte(p.Face),
	})
}

func (p *PlayerDigging) Apply(h PlayHandler) { h.HandleDigging(p) }

type Animation struct {
	EntityID  int32
	Animation int8
}

func (*Animation) ID() int32 { return 0x0A }

func (p *Animation) Load(r *Reader) error {
	return r.Decode(pk.Tuple{(*pk.Int)(&p.EntityID), (*pk.Byte)(&p.Animation)})
}

func (p *Animation) Encode(w *Writer) {
	w.Put(pk.Tuple{pk.Int(p.EntityID), pk.Byte(p.Animation)})
}

func (p *Animation) Apply(h PlayHandler) { h.HandleAnimation(p) }

// Действия EntityAction
const (
	ActionCrouch      int8 = 1
	ActionUncrouch    int8 = 2
	ActionLeaveBed    int8 = 3
	ActionStartSprint int8 = 4
	ActionStopSprint  int8 = 5
)

type EntityAction struct {
	EntityID  int32
	Action    int8
	JumpBoost int32
}

func (*EntityAction) ID() int32 { return 0x0B }

func (p *EntityAction) Load(r *Reader) error {
	return r.Decode(pk.Tuple{
		(*pk.Int)(&p.EntityID),
		(*pk.Byte)(&p.Action),
		(*pk.Int)(&p.JumpBoost),
	})
}

func (p *EntityAction) Encode(w *Writer) {
	w.Put(pk.Tuple{pk.Int(p.EntityID), pk.Byte(p.Action), pk.Int(p.JumpBoost)})
}

func (p *EntityAction) Apply(h PlayHandler) { h.HandleEntityAction(p) }

type ClientSettings struct {
	Locale       string
	ViewDistance int8
	ChatFlags    int8
	ChatColors   bool
	Difficulty   int8
	ShowCape     bool
}

func (*ClientSettings) ID() int32 { return 0x15 }

func (p *ClientSettings) Load(r *Reader) error {
	return r.Decode(pk.Tuple{
		(*String)(&p.Locale),
		(*pk.Byte)(&p.ViewDistance),
		(*pk.Byte)(&p.ChatFlags),
		(*pk.Boolean)(&p.ChatColors),
		(*pk.Byte)(&p.Difficulty),
		(*pk.Boolean)(&p.ShowCape),
	})
}

func (p *ClientSettings) Encode(w *Writer) {
	w.Put(pk.Tuple{
		String(p.Locale),
		pk.Byte(p.ViewDistance),
		pk.Byte(p.ChatFlags),
		pk.Boolean(p.ChatColors),
		pk.Byte(p.Difficulty),
		pk.Boolean(p.ShowCape),
	})
}

func (p *ClientSettings) Apply(h PlayHandler) { h.HandleClientSettings(p) }

// PluginMessage данные канала с явной длиной i16
type PluginMessage struct {
	Channel string
	Data    []byte
}

func (*PluginMessage) ID() int32 { return 0x17 }

func (p *PluginMessage) Load(r *Reader) error {
	var n pk.Short
	if err := r.Decode(pk.Tuple{(*String)(&p.Channel), &n}); err != nil {
		return err
	}
	data, err := r.ReadBytes(int(n))
	if err != nil {
		return fmt.Errorf("plugin message data: %w", err)
	}
	p.Data = data
	return nil
}

func (p *PluginMessage) Encode(w *Writer) {
	w.Put(pk.Tuple{String(p.Channel), pk.Short(len(p.Data))})
	w.WriteBytes(p.Data)
}

func (p *PluginMessage) Apply(h PlayHandler) { h.HandlePluginMessage(p) }
