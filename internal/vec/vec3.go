package vec

// Vec3 целочисленная позиция блока в мире
type Vec3 struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Chunk возвращает колонку, которой принадлежит блок (деление на 16 с округлением вниз)
func (v Vec3) Chunk() ChunkPos {
	return ChunkPos{X: int32(v.X >> 4), Z: int32(v.Z >> 4)}
}

// Local возвращает координаты внутри колонки: x,z в 0..15, y без изменений
func (v Vec3) Local() (x, y, z int) {
	return v.X & 0xF, v.Y, v.Z & 0xF
}

// ManhattanDistance полное манхэттенское расстояние
func (v Vec3) ManhattanDistance(other Vec3) int {
	return absInt(v.X-other.X) + absInt(v.Y-other.Y) + absInt(v.Z-other.Z)
}

// HorizontalDistance манхэттенское расстояние только по X/Z
func (v Vec3) HorizontalDistance(other Vec3) int {
	return absInt(v.X-other.X) + absInt(v.Z-other.Z)
}

// Float переводит позицию блока в позицию сущности
func (v Vec3) Float() Vec3Float {
	return Vec3Float{X: float64(v.X), Y: float64(v.Y), Z: float64(v.Z)}
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
