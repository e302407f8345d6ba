package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/annel0/blockcraft/internal/vec"
)

// MaxPlayerNameLength ограничение длины ника в протоколе
const MaxPlayerNameLength = 16

// ErrPositionNotFound позиция для игрока не сохранялась
var ErrPositionNotFound = errors.New("позиция не найдена")

// PlayerPosition последняя позиция игрока. Y это высота глаз, как в пакетах движения клиента.
type PlayerPosition struct {
	Position  vec.Vec3Float `json:"position"`
	Yaw       float32       `json:"yaw"`
	Pitch     float32       `json:"pitch"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// PositionRepo определяет интерфейс для сохранения и загрузки позиций игроков.
// Позиции привязаны к нику: сервер работает в offline-режиме и UUID
// генерируется заново при каждом входе.
type PositionRepo interface {
	// Save сохраняет позицию игрока в хранилище.
	Save(ctx context.Context, name string, pos PlayerPosition) error

	// Load загружает позицию игрока. Второе значение false, если игрок входит впервые.
	Load(ctx context.Context, name string) (PlayerPosition, bool, error)

	// Delete удаляет сохраненную позицию игрока.
	// Возвращает ErrPositionNotFound, если позиции не было.
	Delete(ctx context.Context, name string) error

	// BatchSave сохраняет позиции нескольких игроков одновременно (для автосохранения).
	BatchSave(ctx context.Context, positions map[string]PlayerPosition) error

	Close() error
}

func validateName(name string) error {
	if name == "" || len(name) > MaxPlayerNameLength {
		return fmt.Errorf("недействительный ник %q", name)
	}
	return nil
}

func validatePosition(name string, pos PlayerPosition) error {
	for _, v := range []float64{pos.Position.X, pos.Position.Y, pos.Position.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("недействительная позиция для %s: %+v", name, pos.Position)
		}
	}
	return nil
}

func validateBatch(positions map[string]PlayerPosition) error {
	for name, pos := range positions {
		if err := validateName(name); err != nil {
			return err
		}
		if err := validatePosition(name, pos); err != nil {
			return err
		}
	}
	return nil
}
