package world

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/blockcraft/internal/vec"
	"github.com/annel0/blockcraft/internal/world/block"
)

func TestSerialize_LayoutAndBitmap(t *testing.T) {
	w := New(0, nil)
	set := func(x, y, z int, b Block) { w.SetBlock(vec.Vec3{X: x, Y: y, Z: z}, b) }

	set(0, 0, 0, Block{ID: block.StoneBlockID, Meta: 3})
	set(1, 0, 0, Block{ID: block.DirtBlockID, Meta: 5})
	set(0, 0, 1, NewBlock(block.GrassBlockID))
	set(0, 1, 0, NewBlock(block.SandBlockID))
	set(0, 200, 0, NewBlock(block.GlassBlockID))

	wc, err := w.ToWireColumn(0, 0)
	require.NoError(t, err)

	assert.Equal(t, uint16(1|1<<12), wc.PrimaryBitmap)
	assert.Equal(t, uint16(0), wc.AddBitmap)
	assert.Equal(t, 2, wc.Sections())
	assert.Equal(t, 2*sectionWireSize, wc.RawSize)

	raw, err := Decompress(wc.Data)
	require.NoError(t, err)
	require.Len(t, raw, wc.RawSize)

	// типы блоков в порядке y, z, x
	assert.Equal(t, byte(block.StoneBlockID), raw[0])
	assert.Equal(t, byte(block.DirtBlockID), raw[1])
	assert.Equal(t, byte(block.GrassBlockID), raw[16])
	assert.Equal(t, byte(block.SandBlockID), raw[256])
	// вторая секция (y=192..207) начинается сразу за первой
	assert.Equal(t, byte(block.GlassBlockID), raw[SectionVolume+8*256])

	// метаданные: первый блок в старшем полубайте
	metaStart := 2 * blockPlaneSize
	assert.Equal(t, byte(0x35), raw[metaStart])
	assert.Equal(t, byte(0x00), raw[metaStart+1])

	lightStart := metaStart + 2*nibblePlaneSize
	assert.Equal(t, bytes.Repeat([]byte{0x88}, 2*nibblePlaneSize), raw[lightStart:lightStart+2*nibblePlaneSize])

	skyStart := lightStart + 2*nibblePlaneSize
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 2*nibblePlaneSize), raw[skyStart:skyStart+2*nibblePlaneSize])

	biomeStart := skyStart + 2*nibblePlaneSize
	assert.Equal(t, bytes.Repeat([]byte{DefaultBiome}, 2*biomePlaneSize), raw[biomeStart:])
}

func TestSerialize_PacketHeader(t *testing.T) {
	w := New(0, nil)
	w.SetBlock(vec.Vec3{X: -20, Y: 3, Z: 40}, NewBlock(block.StoneBlockID))

	wc, err := w.ToWireColumn(-2, 2)
	require.NoError(t, err)

	p := wc.Packet()
	assert.True(t, p.SkyLight)
	require.Len(t, p.Columns, 1)
	assert.Equal(t, int32(-2), p.Columns[0].X)
	assert.Equal(t, int32(2), p.Columns[0].Z)
	assert.Equal(t, uint16(1), p.Columns[0].PrimaryBitmap)
	assert.Equal(t, wc.Data, p.Data)
}

func TestSerialize_Deterministic(t *testing.T) {
	a := New(0, NewNoiseGenerator(1234))
	b := New(0, NewNoiseGenerator(1234))

	for _, pos := range []vec.ChunkPos{{X: 0, Z: 0}, {X: -3, Z: 7}} {
		wa, err := a.ToWireColumn(pos.X, pos.Z)
		require.NoError(t, err)
		wb, err := b.ToWireColumn(pos.X, pos.Z)
		require.NoError(t, err)

		assert.Equal(t, wa.PrimaryBitmap, wb.PrimaryBitmap)
		assert.Equal(t, wa.Data, wb.Data)
	}

	// повторная сериализация той же колонки даёт те же байты
	first, err := a.ToWireColumn(0, 0)
	require.NoError(t, err)
	second, err := a.ToWireColumn(0, 0)
	require.NoError(t, err)
	assert.Equal(t, first.Data, second.Data)
}
