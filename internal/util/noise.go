package util

import (
	"github.com/aquilax/go-perlin"
)

// Параметры шума Перлина
const (
	perlinAlpha   = 2.0 // Сглаживание шума
	perlinBeta    = 2.0 // Частота шума
	perlinOctaves = 3   // Количество октав
)

// Noise2D двумерный шум Перлина с фиксированным сидом.
// После создания только читается и безопасен для конкурентного использования.
type Noise2D struct {
	seed int64
	p    *perlin.Perlin
}

// NewNoise2D создаёт генератор шума для указанного сида
func NewNoise2D(seed int64) *Noise2D {
	return &Noise2D{
		seed: seed,
		p:    perlin.NewPerlin(perlinAlpha, perlinBeta, perlinOctaves, seed),
	}
}

// Seed возвращает сид генератора
func (n *Noise2D) Seed() int64 {
	return n.seed
}

// At возвращает значение шума для указанных координат (от 0 до 1)
func (n *Noise2D) At(x, y float64) float64 {
	v := (n.p.Noise2D(x, y) + 1.0) / 2.0
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
