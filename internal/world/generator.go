package world

import (
	"fmt"
	"math/rand"

	"github.com/annel0/blockcraft/internal/util"
	"github.com/annel0/blockcraft/internal/vec"
	"github.com/annel0/blockcraft/internal/world/block"
)

// Идентификаторы биомов в формате протокола
const (
	BiomeOcean     uint8 = 0
	BiomePlains    uint8 = 1
	BiomeDesert    uint8 = 2
	BiomeMountains uint8 = 3
	BiomeForest    uint8 = 4
)

// Layer слой плоского мира
type Layer struct {
	Block     block.BlockID
	Thickness int
}

// DefaultFlatLayers бедрок, три слоя земли и трава на y=4
var DefaultFlatLayers = []Layer{
	{Block: block.BedrockBlockID, Thickness: 1},
	{Block: block.DirtBlockID, Thickness: 3},
	{Block: block.GrassBlockID, Thickness: 1},
}

// FlatGenerator заполняет каждую колонку одинаковыми горизонтальными слоями
type FlatGenerator struct {
	Layers []Layer
}

// NewFlatGenerator создаёт плоский генератор, nil означает DefaultFlatLayers
func NewFlatGenerator(layers []Layer) *FlatGenerator {
	if len(layers) == 0 {
		layers = DefaultFlatLayers
	}
	return &FlatGenerator{Layers: layers}
}

// Height высота поверхности: y первого свободного блока
func (g *FlatGenerator) Height() int {
	h := 0
	for _, l := range g.Layers {
		h += l.Thickness
	}
	return h
}

func (g *FlatGenerator) GenerateColumn(w *World, cx, cz int32) {
	origin := vec.ChunkPos{X: cx, Z: cz}.BlockOrigin()
	for x := 0; x < SectionSize; x++ {
		for z := 0; z < SectionSize; z++ {
			y := 0
			for _, l := range g.Layers {
				for i := 0; i < l.Thickness; i++ {
					w.SetBlock(origin.Add(vec.Vec3{X: x, Y: y, Z: z}), NewBlock(l.Block))
					y++
				}
			}
		}
	}
	if c := w.Column(cx, cz); c != nil {
		c.Biome = BiomePlains
	}
}

// Пороги шума биомов
const (
	desertMax   = 0.35
	forestStart = 0.65
)

// NoiseGenerator генерирует ландшафт по карте высот из шума Перлина
type NoiseGenerator struct {
	Seed          int64
	NoiseScale    float64 // Масштаб основного шума (высота)
	BiomeScale    float64 // Масштаб шума биомов
	BaseHeight    int
	Amplitude     int
	SeaLevel      int
	ForestDensity float64 // Шанс дерева на блок леса

	height *util.Noise2D
	biome  *util.Noise2D
}

// NewNoiseGenerator создаёт генератор с настройками по умолчанию
func NewNoiseGenerator(seed int64) *NoiseGenerator {
	return &NoiseGenerator{
		Seed:          seed,
		NoiseScale:    0.02,
		BiomeScale:    0.005,
		BaseHeight:    40,
		Amplitude:     40,
		SeaLevel:      56,
		ForestDensity: 0.02,
		height:        util.NewNoise2D(seed),
		biome:         util.NewNoise2D(seed + 42),
	}
}

// SurfaceHeight высота верхнего твердого блока в мировых координатах x, z
func (g *NoiseGenerator) SurfaceHeight(x, z int) int {
	n := g.height.At(float64(x)*g.NoiseScale, float64(z)*g.NoiseScale)
	h := g.BaseHeight + int(n*float64(g.Amplitude))
	if h >= ColumnHeight {
		h = ColumnHeight - 1
	}
	return h
}

func (g *NoiseGenerator) biomeAt(x, z, surface int) uint8 {
	if surface < g.SeaLevel {
		return BiomeOcean
	}
	if surface > g.BaseHeight+g.Amplitude*3/4 {
		return BiomeMountains
	}
	v := g.biome.At(float64(x)*g.BiomeScale, float64(z)*g.BiomeScale)
	switch {
	case v < desertMax:
		return BiomeDesert
	case v > forestStart:
		return BiomeForest
	}
	return BiomePlains
}

func (g *NoiseGenerator) GenerateColumn(w *World, cx, cz int32) {
	origin := vec.ChunkPos{X: cx, Z: cz}.BlockOrigin()

	// отдельный генератор случайных чисел на колонку для детерминированности
	rng := rand.New(rand.NewSource(g.Seed + int64(cx)*341873128712 + int64(cz)*132897987541))

	center := g.SurfaceHeight(origin.X+8, origin.Z+8)
	columnBiome := g.biomeAt(origin.X+8, origin.Z+8, center)

	for x := 0; x < SectionSize; x++ {
		for z := 0; z < SectionSize; z++ {
			wx, wz := origin.X+x, origin.Z+z
			surface := g.SurfaceHeight(wx, wz)
			biome := g.biomeAt(wx, wz, surface)

			top, filler := g.surfaceBlocks(biome, surface)
			for y := 0; y <= surface; y++ {
				id := block.StoneBlockID
				switch {
				case y == 0:
					id = block.BedrockBlockID
				case y == surface:
					id = top
				case y >= surface-3:
					id = filler
				}
				w.SetBlock(vec.Vec3{X: wx, Y: y, Z: wz}, NewBlock(id))
			}
			for y := surface + 1; y <= g.SeaLevel; y++ {
				w.SetBlock(vec.Vec3{X: wx, Y: y, Z: wz}, NewBlock(block.WaterBlockID))
			}

			// деревья только внутри колонки, чтобы не создавать соседние
			if biome == BiomeForest && x >= 2 && x <= 13 && z >= 2 && z <= 13 &&
				rng.Float64() < g.ForestDensity*5 {
				g.placeTree(w, vec.Vec3{X: wx, Y: surface + 1, Z: wz}, rng)
			} else if biome == BiomePlains && x >= 2 && x <= 13 && z >= 2 && z <= 13 &&
				rng.Float64() < g.ForestDensity {
				g.placeTree(w, vec.Vec3{X: wx, Y: surface + 1, Z: wz}, rng)
			}
		}
	}

	if c := w.Column(cx, cz); c != nil {
		c.Biome = columnBiome
	}
}

func (g *NoiseGenerator) surfaceBlocks(biome uint8, surface int) (top, filler block.BlockID) {
	switch {
	case biome == BiomeDesert:
		return block.SandBlockID, block.SandBlockID
	case biome == BiomeMountains:
		return block.StoneBlockID, block.StoneBlockID
	case surface <= g.SeaLevel:
		return block.GravelBlockID, block.DirtBlockID
	}
	return block.GrassBlockID, block.DirtBlockID
}

// placeTree ставит ствол высотой 4-6 блоков и крону 3x3
func (g *NoiseGenerator) placeTree(w *World, base vec.Vec3, rng *rand.Rand) {
	height := 4 + rng.Intn(3)
	if base.Y+height+1 >= ColumnHeight {
		return
	}
	for dy := 0; dy < height; dy++ {
		w.SetBlock(base.Add(vec.Vec3{Y: dy}), NewBlock(block.LogBlockID))
	}
	top := base.Add(vec.Vec3{Y: height})
	for dx := -1; dx <= 1; dx++ {
		for dz := -1; dz <= 1; dz++ {
			for dy := -1; dy <= 0; dy++ {
				pos := top.Add(vec.Vec3{X: dx, Y: dy, Z: dz})
				if b, err := w.GetBlock(pos); err == nil && b.IsAir() {
					w.SetBlock(pos, NewBlock(block.LeavesBlockID))
				}
			}
		}
	}
	w.SetBlock(top.Add(vec.Vec3{Y: 1}), NewBlock(block.LeavesBlockID))
}

// NewGenerator создаёт генератор по имени из конфигурации: "flat" или "noise"
func NewGenerator(kind string, seed int64) (Generator, error) {
	switch kind {
	case "", "flat":
		return NewFlatGenerator(nil), nil
	case "noise":
		return NewNoiseGenerator(seed), nil
	default:
		return nil, fmt.Errorf("unknown generator %q", kind)
	}
}

// SurfaceSpawn возвращает позицию над самым высоким блоком в точке (x, z).
// Колонка генерируется при необходимости.
func (w *World) SurfaceSpawn(x, z int) vec.Vec3 {
	pos := vec.Vec3{X: x, Z: z}
	cp := pos.Chunk()
	c := w.EnsureColumn(cp.X, cp.Z)
	lx, _, lz := pos.Local()
	return vec.Vec3{X: x, Y: c.HighestBlock(lx, lz) + 1, Z: z}
}
