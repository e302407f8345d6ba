package world

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"sync"

	"github.com/klauspost/compress/zlib"

	"github.com/annel0/blockcraft/internal/protocol"
)

// Освещение не рассчитывается: все блоки получают постоянные значения
const (
	DefaultBlockLight uint8 = 8
	DefaultSkyLight   uint8 = 15
)

// Размеры плоскостей одной секции в несжатом буфере
const (
	blockPlaneSize  = SectionVolume
	nibblePlaneSize = SectionVolume / 2
	biomePlaneSize  = SectionVolume / SectionSize
	sectionWireSize = blockPlaneSize + 3*nibblePlaneSize + biomePlaneSize
)

// ErrBitmapMismatch число сериализованных секций не совпало с битовой маской
var ErrBitmapMismatch = errors.New("section bitmap does not match serialized sections")

// WireColumn колонка в формате MapChunkBulk: заголовок и сжатые данные
type WireColumn struct {
	X, Z          int32
	PrimaryBitmap uint16
	AddBitmap     uint16
	Data          []byte // zlib
	RawSize       int
}

// Meta заголовок колонки для пакета
func (wc *WireColumn) Meta() protocol.ChunkMeta {
	return protocol.ChunkMeta{
		X:             wc.X,
		Z:             wc.Z,
		PrimaryBitmap: wc.PrimaryBitmap,
		AddBitmap:     wc.AddBitmap,
	}
}

// Packet пакет MapChunkBulk с одной колонкой
func (wc *WireColumn) Packet() *protocol.MapChunkBulk {
	return &protocol.MapChunkBulk{
		SkyLight: true,
		Data:     wc.Data,
		Columns:  []protocol.ChunkMeta{wc.Meta()},
	}
}

// Sections количество секций по битовой маске
func (wc *WireColumn) Sections() int {
	return bits.OnesCount16(wc.PrimaryBitmap)
}

// Serialize кодирует колонку. Результат детерминирован для одинакового содержимого.
func (c *Column) Serialize() (*WireColumn, error) {
	bitmap := c.PrimaryBitmap()
	raw, written := encodeSections(&c.sections, c.Biome)
	if bits.OnesCount16(bitmap) != written {
		return nil, fmt.Errorf("column %d,%d: bitmap %016b, %d sections: %w",
			c.Pos.X, c.Pos.Z, bitmap, written, ErrBitmapMismatch)
	}

	data, err := compress(raw)
	if err != nil {
		return nil, fmt.Errorf("column %d,%d: %w", c.Pos.X, c.Pos.Z, err)
	}

	return &WireColumn{
		X:             c.Pos.X,
		Z:             c.Pos.Z,
		PrimaryBitmap: bitmap,
		Data:          data,
		RawSize:       len(raw),
	}, nil
}

// encodeSections пишет плоскости всех присутствующих секций снизу вверх:
// типы блоков, метаданные, свет блоков, свет неба, add (пусто), биомы.
func encodeSections(sections *[SectionsPerColumn]*Section, biome uint8) ([]byte, int) {
	present := make([]*Section, 0, SectionsPerColumn)
	for _, s := range sections {
		if s != nil {
			present = append(present, s)
		}
	}

	n := len(present)
	raw := make([]byte, 0, n*sectionWireSize)

	for _, s := range present {
		for _, id := range s.blocks {
			raw = append(raw, byte(id))
		}
	}
	for _, s := range present {
		for i := 0; i < SectionVolume; i += 2 {
			raw = append(raw, protocol.PackNibbles(s.meta[i], s.meta[i+1]))
		}
	}

	blockLight := protocol.PackNibbles(DefaultBlockLight, DefaultBlockLight)
	skyLight := protocol.PackNibbles(DefaultSkyLight, DefaultSkyLight)
	raw = appendRepeat(raw, blockLight, n*nibblePlaneSize)
	raw = appendRepeat(raw, skyLight, n*nibblePlaneSize)

	// биом пишется один раз на каждые 16 блоков обхода
	raw = appendRepeat(raw, biome, n*biomePlaneSize)

	return raw, n
}

func appendRepeat(dst []byte, b byte, n int) []byte {
	for i := 0; i < n; i++ {
		dst = append(dst, b)
	}
	return dst
}

var zlibWriters = sync.Pool{
	New: func() interface{} { return zlib.NewWriter(nil) },
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlibWriters.Get().(*zlib.Writer)
	defer zlibWriters.Put(zw)

	zw.Reset(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("zlib write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress распаковывает данные колонки, используется утилитами и тестами
func Decompress(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zlib reader: %w", err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
