package network

import (
	"time"

	"github.com/Tnze/go-mc/chat"

	"github.com/annel0/blockcraft/internal/protocol"
)

// PlayerInfo игрок в снимке состояния
type PlayerInfo struct {
	Name     string  `json:"name"`
	UUID     string  `json:"uuid"`
	EntityID int32   `json:"entity_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
}

// Snapshot неизменяемый снимок состояния сервера на конец тика.
// Читается из REST и status без доступа к живым сессиям.
type Snapshot struct {
	Tick      uint64       `json:"tick"`
	TPS       float64      `json:"tps"`
	Dimension int8         `json:"dimension"`
	Columns   int          `json:"columns"`
	Players   []PlayerInfo `json:"players"`
	TakenAt   time.Time    `json:"taken_at"`
}

// publishSnapshot вызывается только из тикового цикла (или до его запуска)
func (srv *Server) publishSnapshot() {
	sessions := srv.Sessions()
	players := make([]PlayerInfo, 0, len(sessions))
	for _, s := range sessions {
		players = append(players, PlayerInfo{
			Name:     s.Name,
			UUID:     s.UUID.String(),
			EntityID: s.EntityID,
			X:        s.Position.X,
			Y:        s.Position.Y,
			Z:        s.Position.Z,
		})
	}

	srv.snapshot.Store(&Snapshot{
		Tick:      srv.tickCount,
		TPS:       srv.measureTPS(),
		Dimension: srv.world.Dimension,
		Columns:   srv.world.ColumnCount(),
		Players:   players,
		TakenAt:   time.Now().UTC(),
	})
}

// Snapshot последний опубликованный снимок. Безопасен из любой горутины.
func (srv *Server) Snapshot() *Snapshot {
	return srv.snapshot.Load()
}

// TPS измеренная частота тиков
func (srv *Server) TPS() float64 {
	return srv.Snapshot().TPS
}

// Status документ ответа на status запрос
func (srv *Server) Status() protocol.StatusDocument {
	snap := srv.Snapshot()

	sample := make([]protocol.StatusSample, 0, maxStatusSample)
	for _, p := range snap.Players {
		if len(sample) == maxStatusSample {
			break
		}
		sample = append(sample, protocol.StatusSample{Name: p.Name, ID: p.UUID})
	}

	return protocol.StatusDocument{
		Version: protocol.StatusVersion{
			Name:     srv.cfg.VersionName,
			Protocol: srv.cfg.ProtocolVersion,
		},
		Players: protocol.StatusPlayers{
			Max:    srv.cfg.MaxPlayers,
			Online: len(snap.Players),
			Sample: sample,
		},
		Description: chat.Text(srv.cfg.MOTD),
		Favicon:     srv.favicon,
	}
}
