package world

import (
	"github.com/annel0/blockcraft/internal/world/block"
)

// Block представляет собой блок в игровом мире
type Block struct {
	ID   block.BlockID // Идентификатор типа блока
	Meta uint8         // Метаданные (4 бита на проводе)
}

// Air пустой блок
var Air = Block{ID: block.AirBlockID}

// NewBlock создаёт блок с нулевыми метаданными
func NewBlock(id block.BlockID) Block {
	return Block{ID: id}
}

// IsAir возвращает true для пустого блока
func (b Block) IsAir() bool {
	return b.ID == block.AirBlockID
}

// Name возвращает имя типа блока из регистра
func (b Block) Name() string {
	return block.Name(b.ID)
}
