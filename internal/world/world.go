package world

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/annel0/blockcraft/internal/vec"
)

// ErrColumnNotLoaded колонка с запрошенным блоком отсутствует в мире
var ErrColumnNotLoaded = errors.New("column not loaded")

// firstEntityID первый выдаваемый ID сущности
const firstEntityID = 1000

// Generator заполняет отсутствующую колонку. Вызывается не более одного раза
// на колонку и может записывать блоки только через World.SetBlock.
type Generator interface {
	GenerateColumn(w *World, cx, cz int32)
}

// World разреженный набор колонок одного измерения.
//
// Мир не синхронизирован: изменяет его только игровой цикл. Для чтения из других
// горутин используется копия, полученная через Clone.
type World struct {
	Dimension int8
	Spawn     vec.Vec3

	columns   map[vec.ChunkPos]*Column
	generator Generator

	nextEntityID *atomic.Int32
}

// New создаёт пустой мир. gen может быть nil, тогда новые колонки остаются пустыми.
func New(dimension int8, gen Generator) *World {
	w := &World{
		Dimension:    dimension,
		Spawn:        vec.Vec3{X: 0, Y: 64, Z: 0},
		columns:      make(map[vec.ChunkPos]*Column),
		generator:    gen,
		nextEntityID: new(atomic.Int32),
	}
	w.nextEntityID.Store(firstEntityID - 1)
	return w
}

// SetGenerator заменяет генератор для ещё не созданных колонок
func (w *World) SetGenerator(gen Generator) {
	w.generator = gen
}

// NextEntityID выдаёт уникальный ID сущности. Безопасен для вызова из любой горутины.
func (w *World) NextEntityID() int32 {
	return w.nextEntityID.Add(1)
}

// ChunkExists возвращает true, если колонка (cx, cz) присутствует
func (w *World) ChunkExists(cx, cz int32) bool {
	_, ok := w.columns[vec.ChunkPos{X: cx, Z: cz}]
	return ok
}

// Column возвращает колонку или nil
func (w *World) Column(cx, cz int32) *Column {
	return w.columns[vec.ChunkPos{X: cx, Z: cz}]
}

// PutColumn вставляет или заменяет колонку, используется при загрузке мира
func (w *World) PutColumn(c *Column) {
	w.columns[c.Pos] = c
}

// ColumnCount количество загруженных колонок
func (w *World) ColumnCount() int {
	return len(w.columns)
}

// Columns возвращает колонки, упорядоченные по X, затем по Z
func (w *World) Columns() []*Column {
	out := make([]*Column, 0, len(w.columns))
	for _, c := range w.columns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pos.X != out[j].Pos.X {
			return out[i].Pos.X < out[j].Pos.X
		}
		return out[i].Pos.Z < out[j].Pos.Z
	})
	return out
}

// GetBlock возвращает блок в мировых координатах.
// Если колонка отсутствует, возвращается ErrColumnNotLoaded.
func (w *World) GetBlock(pos vec.Vec3) (Block, error) {
	c, ok := w.columns[pos.Chunk()]
	if !ok {
		return Air, fmt.Errorf("block %d,%d,%d: %w", pos.X, pos.Y, pos.Z, ErrColumnNotLoaded)
	}
	x, y, z := pos.Local()
	return c.GetBlock(x, y, z), nil
}

// SetBlock записывает блок, при необходимости создавая колонку и секцию.
// Координата y вне 0..255 молча игнорируется.
func (w *World) SetBlock(pos vec.Vec3, b Block) {
	if pos.Y < 0 || pos.Y >= ColumnHeight {
		return
	}
	cp := pos.Chunk()
	c, ok := w.columns[cp]
	if !ok {
		c = NewColumn(cp)
		w.columns[cp] = c
	}
	x, y, z := pos.Local()
	c.SetBlock(x, y, z, b)
}

// EnsureColumn возвращает колонку, генерируя её при первом обращении.
// После вызова колонка всегда существует, даже если генератор ничего не записал.
func (w *World) EnsureColumn(cx, cz int32) *Column {
	pos := vec.ChunkPos{X: cx, Z: cz}
	if c, ok := w.columns[pos]; ok {
		return c
	}
	if w.generator != nil {
		w.generator.GenerateColumn(w, cx, cz)
	}
	c, ok := w.columns[pos]
	if !ok {
		c = NewColumn(pos)
		w.columns[pos] = c
	}
	return c
}

// GenerateRegion создаёт колонки center-radius .. center+radius-1 по обеим осям
func (w *World) GenerateRegion(center vec.ChunkPos, radius int32) int {
	generated := 0
	for cx := center.X - radius; cx < center.X+radius; cx++ {
		for cz := center.Z - radius; cz < center.Z+radius; cz++ {
			if !w.ChunkExists(cx, cz) {
				w.EnsureColumn(cx, cz)
				generated++
			}
		}
	}
	return generated
}

// ToWireColumn генерирует колонку при необходимости и сериализует её
func (w *World) ToWireColumn(cx, cz int32) (*WireColumn, error) {
	return w.EnsureColumn(cx, cz).Serialize()
}

// Clone глубокая копия мира для фонового сохранения и снимков.
// Счётчик ID сущностей общий с исходным миром.
func (w *World) Clone() *World {
	out := &World{
		Dimension:    w.Dimension,
		Spawn:        w.Spawn,
		columns:      make(map[vec.ChunkPos]*Column, len(w.columns)),
		generator:    w.generator,
		nextEntityID: w.nextEntityID,
	}
	for pos, c := range w.columns {
		out.columns[pos] = c.Clone()
	}
	return out
}
