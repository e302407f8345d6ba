package block

import "sort"

// BlockID идентификатор типа блока в формате протокола (один байт)
type BlockID uint8

// Константы ID блоков
const (
	AirBlockID         BlockID = 0
	StoneBlockID       BlockID = 1
	GrassBlockID       BlockID = 2
	DirtBlockID        BlockID = 3
	CobblestoneBlockID BlockID = 4
	PlanksBlockID      BlockID = 5
	BedrockBlockID     BlockID = 7
	WaterBlockID       BlockID = 9 // стоячая вода
	SandBlockID        BlockID = 12
	GravelBlockID      BlockID = 13
	LogBlockID         BlockID = 17
	LeavesBlockID      BlockID = 18
	GlassBlockID       BlockID = 20
)

// Info описывает свойства типа блока
type Info struct {
	Name      string
	Solid     bool
	Breakable bool
}

var registry = make(map[BlockID]Info)

func init() {
	Register(AirBlockID, Info{Name: "air"})
	Register(StoneBlockID, Info{Name: "stone", Solid: true, Breakable: true})
	Register(GrassBlockID, Info{Name: "grass", Solid: true, Breakable: true})
	Register(DirtBlockID, Info{Name: "dirt", Solid: true, Breakable: true})
	Register(CobblestoneBlockID, Info{Name: "cobblestone", Solid: true, Breakable: true})
	Register(PlanksBlockID, Info{Name: "planks", Solid: true, Breakable: true})
	Register(BedrockBlockID, Info{Name: "bedrock", Solid: true})
	Register(WaterBlockID, Info{Name: "water"})
	Register(SandBlockID, Info{Name: "sand", Solid: true, Breakable: true})
	Register(GravelBlockID, Info{Name: "gravel", Solid: true, Breakable: true})
	Register(LogBlockID, Info{Name: "log", Solid: true, Breakable: true})
	Register(LeavesBlockID, Info{Name: "leaves", Solid: true, Breakable: true})
	Register(GlassBlockID, Info{Name: "glass", Solid: true, Breakable: true})
}

// Register добавляет описание блока в регистр
func Register(id BlockID, info Info) {
	registry[id] = info
}

// Get возвращает описание для указанного ID
func Get(id BlockID) (Info, bool) {
	info, exists := registry[id]
	return info, exists
}

// IsValidBlockID проверяет, является ли ID известным типом блока
func IsValidBlockID(id BlockID) bool {
	_, exists := registry[id]
	return exists
}

// IsBreakable возвращает true, если блок можно сломать.
// Неизвестные блоки считаются ломаемыми.
func IsBreakable(id BlockID) bool {
	info, exists := registry[id]
	if !exists {
		return true
	}
	return info.Breakable
}

// Name возвращает имя блока или "unknown"
func Name(id BlockID) string {
	if info, ok := registry[id]; ok {
		return info.Name
	}
	return "unknown"
}

// IDs возвращает зарегистрированные ID по возрастанию
func IDs() []BlockID {
	ids := make([]BlockID, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
