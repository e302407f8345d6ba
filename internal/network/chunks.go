package network

import (
	"github.com/annel0/blockcraft/internal/vec"
)

// minViewDistance нижняя граница дальности видимости клиента (в колонках)
const minViewDistance = 2

// ringScan обходит колонки вокруг center кольцами возрастающего радиуса до radius
// включительно. Внутри кольца порядок по X, затем по Z. visit возвращает false,
// чтобы остановить обход.
func ringScan(center vec.ChunkPos, radius int, visit func(vec.ChunkPos) bool) {
	if !visit(center) {
		return
	}
	for r := int32(1); r <= int32(radius); r++ {
		for dx := -r; dx <= r; dx++ {
			if dx == -r || dx == r {
				for dz := -r; dz <= r; dz++ {
					if !visit(vec.ChunkPos{X: center.X + dx, Z: center.Z + dz}) {
						return
					}
				}
				continue
			}
			// внутренние столбцы кольца: только верхняя и нижняя клетка
			if !visit(vec.ChunkPos{X: center.X + dx, Z: center.Z - r}) {
				return
			}
			if !visit(vec.ChunkPos{X: center.X + dx, Z: center.Z + r}) {
				return
			}
		}
	}
}

// nextColumn первая неотправленная колонка в порядке обхода
func nextColumn(s *Session) (vec.ChunkPos, bool) {
	var found vec.ChunkPos
	ok := false
	ringScan(s.Position.Chunk(), s.ViewDistance, func(pos vec.ChunkPos) bool {
		if s.HasColumn(pos) {
			return true
		}
		found, ok = pos, true
		return false
	})
	return found, ok
}

// loadChunks отправляет сессии не более одной новой колонки за тик
func (srv *Server) loadChunks(s *Session) {
	center := s.Position.Chunk()
	if s.loadedCenter != nil && *s.loadedCenter == center {
		return
	}

	pos, ok := nextColumn(s)
	if !ok {
		s.loadedCenter = &center
		return
	}

	wc, err := srv.world.ToWireColumn(pos.X, pos.Z)
	if err != nil {
		// колонку не повторяем, иначе ошибка будет возникать каждый тик
		srv.log.Error("сериализация колонки %v для %s: %v", pos, s.Name, err)
		s.sent[pos] = struct{}{}
		return
	}
	if !srv.send(s, wc.Packet()) {
		return
	}
	s.sent[pos] = struct{}{}
	srv.metrics.ChunksSent.Inc()
	srv.log.LogChunkData(s.Name, pos.X, pos.Z, wc.Sections(), len(wc.Data))
}
