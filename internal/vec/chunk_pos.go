package vec

// ChunkPos координаты колонки чанков (по 16 блоков по X и Z)
type ChunkPos struct {
	X, Z int32
}

// BlockOrigin возвращает мировые координаты угла колонки с минимальными X/Z
func (c ChunkPos) BlockOrigin() Vec3 {
	return Vec3{X: int(c.X) << 4, Y: 0, Z: int(c.Z) << 4}
}

// ChebyshevDistance расстояние "квадратом" в колонках, используется при сканировании
// области видимости игрока.
func (c ChunkPos) ChebyshevDistance(other ChunkPos) int32 {
	dx := abs32(c.X - other.X)
	dz := abs32(c.Z - other.Z)
	if dx > dz {
		return dx
	}
	return dz
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
