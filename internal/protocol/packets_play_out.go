package protocol

import (
	"fmt"
	"io"
	"math"

	pk "github.com/Tnze/go-mc/net/packet"
)

// Исходящие пакеты фазы play

type JoinGame struct {
	EntityID   int32
	Gamemode   uint8
	Dimension  int8
	Difficulty uint8
	MaxPlayers uint8
	LevelType  string
}

func (*JoinGame) ID() int32 { return 0x01 }

func (p *JoinGame) Load(r *Reader) error {
	return r.Decode(pk.Tuple{
		(*pk.Int)(&p.EntityID),
		(*pk.UnsignedByte)(&p.Gamemode),
		(*pk.Byte)(&p.Dimension),
		(*pk.UnsignedByte)(&p.Difficulty),
		(*pk.UnsignedByte)(&p.MaxPlayers),
		(*String)(&p.LevelType),
	})
}

func (p *JoinGame) Encode(w *Writer) {
	w.Put(pk.Tuple{
		pk.Int(p.EntityID),
		pk.UnsignedByte(p.Gamemode),
		pk.Byte(p.Dimension),
		pk.UnsignedByte(p.Difficulty),
		pk.UnsignedByte(p.MaxPlayers),
		String(p.LevelType),
	})
}

// ClientboundChat сообщение чата в виде JSON компонента
type ClientboundChat struct {
	JSON string
}

func (*ClientboundChat) ID() int32 { return 0x02 }

func (p *ClientboundChat) Load(r *Reader) error { return r.Decode((*String)(&p.JSON)) }
func (p *ClientboundChat) Encode(w *Writer)     { w.Put(String(p.JSON)) }

type SpawnPosition struct {
	X, Y, Z int32
}

func (*SpawnPosition) ID() int32 { return 0x05 }

func (p *SpawnPosition) Load(r *Reader) error {
	return r.Decode(pk.Tuple{(*pk.Int)(&p.X), (*pk.Int)(&p.Y), (*pk.Int)(&p.Z)})
}

func (p *SpawnPosition) Encode(w *Writer) {
	w.Put(pk.Tuple{pk.Int(p.X), pk.Int(p.Y), pk.Int(p.Z)})
}

// ClientboundPositionAndLook телепортирует клиента. Y это позиция глаз.
type ClientboundPositionAndLook struct {
	X, Y, Z    float64
	Yaw, Pitch float32
	OnGround   bool
}

func (*ClientboundPositionAndLook) ID() int32 { return 0x08 }

func (p *ClientboundPositionAndLook) Load(r *Reader) error {
	return r.Decode(pk.Tuple{
		(*pk.Double)(&p.X),
		(*pk.Double)(&p.Y),
		(*pk.Double)(&p.Z),
		(*pk.Float)(&p.Yaw),
		(*pk.Float)(&p.Pitch),
		(*pk.Boolean)(&p.OnGround),
	})
}

func (p *ClientboundPositionAndLook) Encode(w *Writer) {
	w.Put(pk.Tuple{
		pk.Double(p.X),
		pk.Double(p.Y),
		pk.Double(p.Z),
		pk.Float(p.Yaw),
		pk.Float(p.Pitch),
		pk.Boolean(p.OnGround),
	})
}

// SpawnPlayer показывает другого игрока. Координаты в fixed-point (x32).
type SpawnPlayer struct {
	EntityID    int32
	UUID        string
	Name        string
	X, Y, Z     int32
	Yaw, Pitch  int8
	CurrentItem int16
	Metadata    Metadata
}

func (*SpawnPlayer) ID() int32 { return 0x0C }

func (p *SpawnPlayer) Load(r *Reader) error {
	var props VarInt
	if err := r.Decode(pk.Tuple{(*VarInt)(&p.EntityID), (*String)(&p.UUID), (*String)(&p.Name), &props}); err != nil {
		return err
	}
	for i := VarInt(0); i < props; i++ {
		// name, value, signature
		var name, value, signature String
		if err := r.Decode(pk.Tuple{&name, &value, &signature}); err != nil {
			return err
		}
	}
	err := r.Decode(pk.Tuple{
		(*pk.Int)(&p.X),
		(*pk.Int)(&p.Y),
		(*pk.Int)(&p.Z),
		(*pk.Byte)(&p.Yaw),
		(*pk.Byte)(&p.Pitch),
		(*pk.Short)(&p.CurrentItem),
	})
	if err != nil {
		return err
	}
	return p.Metadata.Load(r)
}

func (p *SpawnPlayer) Encode(w *Writer) {
	w.Put(pk.Tuple{
		VarInt(p.EntityID),
		String(p.UUID),
		String(p.Name),
		VarInt(0), // свойства профиля (скины) не передаются
		pk.Int(p.X),
		pk.Int(p.Y),
		pk.Int(p.Z),
		pk.Byte(p.Yaw),
		pk.Byte(p.Pitch),
		pk.Short(p.CurrentItem),
	})
	p.Metadata.Encode(w)
}

type DestroyEntities struct {
	EntityIDs []int32
}

func (*DestroyEntities) ID() int32 { return 0x13 }

func (p *DestroyEntities) Load(r *Reader) error {
	var n pk.UnsignedByte
	if err := r.Decode(&n); err != nil {
		return err
	}
	p.EntityIDs = make([]int32, n)
	for i := range p.EntityIDs {
		if err := r.Decode((*pk.Int)(&p.EntityIDs[i])); err != nil {
			return err
		}
	}
	return nil
}

func (p *DestroyEntities) Encode(w *Writer) {
	w.Put(pk.UnsignedByte(len(p.EntityIDs)))
	for _, id := range p.EntityIDs {
		w.Put(pk.Int(id))
	}
}

type EntityTeleport struct {
	EntityID   int32
	X, Y, Z    int32
	Yaw, Pitch int8
}

func (*EntityTeleport) ID() int32 { return 0x18 }

func (p *EntityTeleport) Load(r *Reader) error {
	return r.Decode(pk.Tuple{
		(*pk.Int)(&p.EntityID),
		(*pk.Int)(&p.X),
		(*pk.Int)(&p.Y),
		(*pk.Int)(&p.Z),
		(*pk.Byte)(&p.Yaw),
		(*pk.Byte)(&p.Pitch),
	})
}

func (p *EntityTeleport) Encode(w *Writer) {
	w.Put(pk.Tuple{
		pk.Int(p.EntityID),
		pk.Int(p.X),
		pk.Int(p.Y),
		pk.Int(p.Z),
		pk.Byte(p.Yaw),
		pk.Byte(p.Pitch),
	})
}

type BlockChange struct {
	X       int32
	Y       uint8
	Z       int32
	BlockID int32
	Meta    uint8
}

func (*BlockChange) ID() int32 { return 0x23 }

func (p *BlockChange) Load(r *Reader) error {
	return r.Decode(pk.Tuple{
		(*pk.Int)(&p.X),
		(*pk.UnsignedByte)(&p.Y),
		(*pk.Int)(&p.Z),
		(*VarInt)(&p.BlockID),
		(*pk.UnsignedByte)(&p.Meta),
	})
}

func (p *BlockChange) Encode(w *Writer) {
	w.Put(pk.Tuple{
		pk.Int(p.X),
		pk.UnsignedByte(p.Y),
		pk.Int(p.Z),
		VarInt(p.BlockID),
		pk.UnsignedByte(p.Meta),
	})
}

// ChunkMeta заголовок колонки в MapChunkBulk
type ChunkMeta struct {
	X, Z          int32
	PrimaryBitmap uint16
	AddBitmap     uint16
}

func (m *ChunkMeta) ReadFrom(r io.Reader) (int64, error) {
	return pk.Tuple{
		(*pk.Int)(&m.X),
		(*pk.Int)(&m.Z),
		(*pk.UnsignedShort)(&m.PrimaryBitmap),
		(*pk.UnsignedShort)(&m.AddBitmap),
	}.ReadFrom(r)
}

func (m ChunkMeta) WriteTo(w io.Writer) (int64, error) {
	return pk.Tuple{
		pk.Int(m.X),
		pk.Int(m.Z),
		pk.UnsignedShort(m.PrimaryBitmap),
		pk.UnsignedShort(m.AddBitmap),
	}.WriteTo(w)
}

// MapChunkBulk одна или несколько колонок с общим сжатым буфером
type MapChunkBulk struct {
	SkyLight bool
	Data     []byte
	Columns  []ChunkMeta
}

func (*MapChunkBulk) ID() int32 { return 0x26 }

func (p *MapChunkBulk) Load(r *Reader) error {
	var (
		count pk.Short
		size  pk.Int
	)
	if err := r.Decode(pk.Tuple{&count, &size, (*pk.Boolean)(&p.SkyLight)}); err != nil {
		return err
	}
	data, err := r.ReadBytes(int(size))
	if err != nil {
		return fmt.Errorf("chunk data: %w", err)
	}
	p.Data = data
	if count < 0 {
		return fmt.Errorf("column count %d: %w", count, ErrNegativeSize)
	}
	p.Columns = make([]ChunkMeta, count)
	for i := range p.Columns {
		if err := r.Decode(&p.Columns[i]); err != nil {
			return err
		}
	}
	return nil
}

func (p *MapChunkBulk) Encode(w *Writer) {
	w.Put(pk.Tuple{
		pk.Short(len(p.Columns)),
		pk.Int(len(p.Data)),
		pk.Boolean(p.SkyLight),
	})
	w.WriteBytes(p.Data)
	for _, c := range p.Columns {
		w.Put(c)
	}
}

type PlayerListItem struct {
	Name   string
	Online bool
	Ping   int16
}

func (*PlayerListItem) ID() int32 { return 0x38 }

func (p *PlayerListItem) Load(r *Reader) error {
	return r.Decode(pk.Tuple{(*String)(&p.Name), (*pk.Boolean)(&p.Online), (*pk.Short)(&p.Ping)})
}

func (p *PlayerListItem) Encode(w *Writer) {
	w.Put(pk.Tuple{String(p.Name), pk.Boolean(p.Online), pk.Short(p.Ping)})
}

// Disconnect причина в JSON, после пакета сервер закрывает соединение
type Disconnect struct {
	Reason string
}

func (*Disconnect) ID() int32 { return 0x40 }

func (p *Disconnect) Load(r *Reader) error { return r.Decode((*String)(&p.Reason)) }
func (p *Disconnect) Encode(w *Writer)     { w.Put(String(p.Reason)) }

// FixedPoint переводит координату в формат x32, используемый пакетами сущностей
func FixedPoint(v float64) int32 {
	return int32(math.Floor(v * 32))
}

// Angle переводит градусы в 1/256 оборота. Угол любого знака и величины
// сначала приводится к [0, 360).
func Angle(deg float32) int8 {
	d := math.Mod(float64(deg), 360)
	if d < 0 {
		d += 360
	}
	return int8(uint8(int(d * 256 / 360)))
}
