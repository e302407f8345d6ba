package vec

import "math"

// Vec3Float позиция сущности с дробными координатами
type Vec3Float struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Block возвращает блок, в котором находится точка
func (v Vec3Float) Block() Vec3 {
	return Vec3{
		X: int(math.Floor(v.X)),
		Y: int(math.Floor(v.Y)),
		Z: int(math.Floor(v.Z)),
	}
}

// Chunk возвращает колонку, в которой находится точка
func (v Vec3Float) Chunk() ChunkPos {
	return v.Block().Chunk()
}

// ManhattanDistance полное манхэттенское расстояние
func (v Vec3Float) ManhattanDistance(other Vec3Float) float64 {
	return math.Abs(v.X-other.X) + math.Abs(v.Y-other.Y) + math.Abs(v.Z-other.Z)
}

// HorizontalDistance манхэттенское расстояние без учета высоты
func (v Vec3Float) HorizontalDistance(other Vec3Float) float64 {
	return math.Abs(v.X-other.X) + math.Abs(v.Z-other.Z)
}

// Sub вычитает вектор
func (v Vec3Float) Sub(other Vec3Float) Vec3Float {
	return Vec3Float{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}
