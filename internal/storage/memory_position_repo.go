package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryPositionRepo хранит позиции в памяти процесса, после рестарта они теряются.
// Бэкенд по умолчанию.
type MemoryPositionRepo struct {
	mu        sync.RWMutex
	positions map[string]PlayerPosition
}

func NewMemoryPositionRepo() *MemoryPositionRepo {
	return &MemoryPositionRepo{positions: make(map[string]PlayerPosition)}
}

func (r *MemoryPositionRepo) Save(ctx context.Context, name string, pos PlayerPosition) error {
	return r.BatchSave(ctx, map[string]PlayerPosition{name: pos})
}

func (r *MemoryPositionRepo) Load(ctx context.Context, name string) (PlayerPosition, bool, error) {
	if err := ctx.Err(); err != nil {
		return PlayerPosition{}, false, err
	}
	if err := validateName(name); err != nil {
		return PlayerPosition{}, false, err
	}

	r.mu.RLock()
	pos, ok := r.positions[name]
	r.mu.RUnlock()
	return pos, ok, nil
}

func (r *MemoryPositionRepo) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.positions[name]; !ok {
		return fmt.Errorf("%s: %w", name, ErrPositionNotFound)
	}
	delete(r.positions, name)
	return nil
}

// BatchSave проверяет все позиции до записи: при ошибке не сохраняется ни одна
func (r *MemoryPositionRepo) BatchSave(ctx context.Context, positions map[string]PlayerPosition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}
	if err := validateBatch(positions); err != nil {
		return err
	}

	now := time.Now().UTC()
	r.mu.Lock()
	for name, pos := range positions {
		if pos.UpdatedAt.IsZero() {
			pos.UpdatedAt = now
		}
		r.positions[name] = pos
	}
	r.mu.Unlock()
	return nil
}

// Count число сохраненных игроков
func (r *MemoryPositionRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.positions)
}

func (r *MemoryPositionRepo) Clear() {
	r.mu.Lock()
	clear(r.positions)
	r.mu.Unlock()
}

func (r *MemoryPositionRepo) Close() error { return nil }
