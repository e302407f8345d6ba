package world

import (
	"errors"
	"fmt"

	"github.com/annel0/blockcraft/internal/vec"
	"github.com/annel0/blockcraft/internal/world/block"
)

// Размеры секций и колонок
const (
	SectionSize       = 16
	SectionVolume     = SectionSize * SectionSize * SectionSize
	SectionsPerColumn = 16
	ColumnHeight      = SectionSize * SectionsPerColumn

	// DefaultBiome равнины
	DefaultBiome uint8 = 1
)

// sectionIndex порядок y, z, x совпадает с порядком обхода при сериализации
func sectionIndex(x, y, z int) int {
	return y<<8 | z<<4 | x
}

// Section куб 16x16x16 блоков
type Section struct {
	blocks [SectionVolume]block.BlockID
	meta   [SectionVolume]uint8
	solid  int // количество не-воздушных блоков
}

// Get возвращает блок по локальным координатам 0..15
func (s *Section) Get(x, y, z int) Block {
	i := sectionIndex(x, y, z)
	return Block{ID: s.blocks[i], Meta: s.meta[i]}
}

// Set записывает блок по локальным координатам 0..15
func (s *Section) Set(x, y, z int, b Block) {
	i := sectionIndex(x, y, z)
	wasAir := s.blocks[i] == block.AirBlockID
	s.blocks[i] = b.ID
	s.meta[i] = b.Meta & 0x0F

	switch {
	case wasAir && !b.IsAir():
		s.solid++
	case !wasAir && b.IsAir():
		s.solid--
	}
}

// ErrSectionSize неверная длина сырых данных секции
var ErrSectionSize = errors.New("invalid section data size")

// Raw возвращает копии массивов типов и метаданных в порядке y, z, x
func (s *Section) Raw() (blocks, meta []byte) {
	blocks = make([]byte, SectionVolume)
	meta = make([]byte, SectionVolume)
	for i := 0; i < SectionVolume; i++ {
		blocks[i] = byte(s.blocks[i])
		meta[i] = s.meta[i]
	}
	return blocks, meta
}

// SectionFromRaw восстанавливает секцию из результата Raw
func SectionFromRaw(blocks, meta []byte) (*Section, error) {
	if len(blocks) != SectionVolume || len(meta) != SectionVolume {
		return nil, fmt.Errorf("blocks=%d meta=%d: %w", len(blocks), len(meta), ErrSectionSize)
	}
	s := &Section{}
	for i := 0; i < SectionVolume; i++ {
		s.blocks[i] = block.BlockID(blocks[i])
		s.meta[i] = meta[i] & 0x0F
		if blocks[i] != byte(block.AirBlockID) {
			s.solid++
		}
	}
	return s, nil
}

// NonAir количество не-воздушных блоков в секции
func (s *Section) NonAir() int {
	return s.solid
}

// Column вертикальная колонка из 16 секций. Отсутствующая секция целиком из воздуха.
type Column struct {
	Pos      vec.ChunkPos
	Biome    uint8
	sections [SectionsPerColumn]*Section
}

// NewColumn создаёт пустую колонку
func NewColumn(pos vec.ChunkPos) *Column {
	return &Column{Pos: pos, Biome: DefaultBiome}
}

// Section возвращает секцию по индексу или nil
func (c *Column) Section(i int) *Section {
	if i < 0 || i >= SectionsPerColumn {
		return nil
	}
	return c.sections[i]
}

// SetSection заменяет секцию целиком, nil удаляет её
func (c *Column) SetSection(i int, s *Section) {
	if i < 0 || i >= SectionsPerColumn {
		return
	}
	c.sections[i] = s
}

// SectionCount количество присутствующих секций
func (c *Column) SectionCount() int {
	n := 0
	for _, s := range c.sections {
		if s != nil {
			n++
		}
	}
	return n
}

// PrimaryBitmap бит i установлен, если секция i присутствует
func (c *Column) PrimaryBitmap() uint16 {
	var bitmap uint16
	for i, s := range c.sections {
		if s != nil {
			bitmap |= 1 << uint(i)
		}
	}
	return bitmap
}

// GetBlock возвращает блок по локальным x,z (0..15) и мировой y.
// Вне 0..255 и в отсутствующих секциях возвращается воздух.
func (c *Column) GetBlock(x, y, z int) Block {
	if y < 0 || y >= ColumnHeight {
		return Air
	}
	s := c.sections[y>>4]
	if s == nil {
		return Air
	}
	return s.Get(x, y&0xF, z)
}

// SetBlock записывает блок, создавая секцию при необходимости.
// Координата y вне 0..255 игнорируется.
func (c *Column) SetBlock(x, y, z int, b Block) {
	if y < 0 || y >= ColumnHeight {
		return
	}
	s := c.sections[y>>4]
	if s == nil {
		s = &Section{}
		c.sections[y>>4] = s
	}
	s.Set(x, y&0xF, z, b)
}

// HighestBlock возвращает y самого верхнего не-воздушного блока или -1
func (c *Column) HighestBlock(x, z int) int {
	for i := SectionsPerColumn - 1; i >= 0; i-- {
		s := c.sections[i]
		if s == nil || s.solid == 0 {
			continue
		}
		for y := SectionSize - 1; y >= 0; y-- {
			if !s.Get(x, y, z).IsAir() {
				return i<<4 | y
			}
		}
	}
	return -1
}

// Clone глубокая копия колонки
func (c *Column) Clone() *Column {
	out := &Column{Pos: c.Pos, Biome: c.Biome}
	for i, s := range c.sections {
		if s != nil {
			cp := *s
			out.sections[i] = &cp
		}
	}
	return out
}
