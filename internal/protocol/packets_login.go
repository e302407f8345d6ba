package protocol

import (
	"encoding/json"

	"github.com/Tnze/go-mc/chat"
	pk "github.com/Tnze/go-mc/net/packet"
)

// --- Handshake ---

// Handshake первый пакет любого соединения
type Handshake struct {
	ProtocolVersion int32
	Address         string
	Port            uint16
	NextState       int32
}

func (*Handshake) ID() int32 { return 0x00 }

func (p *Handshake) Load(r *Reader) error {
	return r.Decode(pk.Tuple{
		(*VarInt)(&p.ProtocolVersion),
		(*String)(&p.Address),
		(*pk.UnsignedShort)(&p.Port),
		(*VarInt)(&p.NextState),
	})
}

func (p *Handshake) Encode(w *Writer) {
	w.Put(pk.Tuple{
		VarInt(p.ProtocolVersion),
		String(p.Address),
		pk.UnsignedShort(p.Port),
		VarInt(p.NextState),
	})
}

// Target фаза, в которую переходит соединение после handshake
func (p *Handshake) Target() (State, error) {
	switch p.NextState {
	case 1:
		return StateStatus, nil
	case 2:
		return StateLogin, nil
	default:
		return StateHandshake, ErrInvalidNextState
	}
}

// --- Status ---

type StatusRequest struct{}

func (*StatusRequest) ID() int32          { return 0x00 }
func (*StatusRequest) Load(*Reader) error { return nil }
func (*StatusRequest) Encode(*Writer)     {}

// StatusResponse JSON документ статуса сервера
type StatusResponse struct {
	JSON string
}

func (*StatusResponse) ID() int32 { return 0x00 }

func (p *StatusResponse) Load(r *Reader) error {
	return r.Decode((*String)(&p.JSON))
}

func (p *StatusResponse) Encode(w *Writer) { w.Put(String(p.JSON)) }

// StatusPing запрос пинга: клиентская метка времени
type StatusPing struct {
	Time int64
}

func (*StatusPing) ID() int32 { return 0x01 }

func (p *StatusPing) Load(r *Reader) error {
	return r.Decode((*pk.Long)(&p.Time))
}

func (p *StatusPing) Encode(w *Writer) { w.Put(pk.Long(p.Time)) }

// StatusPong ответ на пинг с той же меткой
type StatusPong struct {
	Time int64
}

func (*StatusPong) ID() int32 { return 0x01 }

func (p *StatusPong) Load(r *Reader) error {
	return r.Decode((*pk.Long)(&p.Time))
}

func (p *StatusPong) Encode(w *Writer) { w.Put(pk.Long(p.Time)) }

// StatusDocument содержимое StatusResponse
type StatusDocument struct {
	Version     StatusVersion `json:"version"`
	Players     StatusPlayers `json:"players"`
	Description chat.Message  `json:"description"`
	Favicon     string        `json:"favicon"`
}

type StatusVersion struct {
	Name     string `json:"name"`
	Protocol int    `json:"protocol"`
}

type StatusPlayers struct {
	Max    int            `json:"max"`
	Online int            `json:"online"`
	Sample []StatusSample `json:"sample"`
}

type StatusSample struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// --- Login ---

// LoginStart клиент сообщает имя игрока
type LoginStart struct {
	Name string
}

func (*LoginStart) ID() int32 { return 0x00 }

func (p *LoginStart) Load(r *Reader) error {
	return r.Decode((*String)(&p.Name))
}

func (p *LoginStart) Encode(w *Writer) { w.Put(String(p.Name)) }

// LoginSuccess UUID в текстовом виде с дефисами
type LoginSuccess struct {
	UUID string
	Name string
}

func (*LoginSuccess) ID() int32 { return 0x02 }

func (p *LoginSuccess) Load(r *Reader) error {
	return r.Decode(pk.Tuple{(*String)(&p.UUID), (*String)(&p.Name)})
}

func (p *LoginSuccess) Encode(w *Writer) {
	w.Put(pk.Tuple{String(p.UUID), String(p.Name)})
}

// LoginDisconnect отказ во входе, причина в JSON
type LoginDisconnect struct {
	Reason string
}

func (*LoginDisconnect) ID() int32 { return 0x00 }

func (p *LoginDisconnect) Load(r *Reader) error {
	return r.Decode((*String)(&p.Reason))
}

func (p *LoginDisconnect) Encode(w *Writer) { w.Put(String(p.Reason)) }

// ChatJSON сериализует простой текст в JSON компонент
func ChatJSON(text string) string {
	data, _ := json.Marshal(chat.Text(text))
	return string(data)
}
