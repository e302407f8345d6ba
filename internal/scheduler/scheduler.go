// Package scheduler реализует одноразовые отложенные задачи, измеряемые в тиках.
//
// Scheduler не вызывает колбэки сам: игровой цикл вызывает Advance один раз за тик,
// поэтому задачи выполняются в той же горутине, что и остальная игровая логика.
// Schedule и Cancel безопасны для вызова из любой горутины.
package scheduler

import (
	"sort"
	"sync"
)

// Task запланированная задача с явными данными вместо замыкания
type Task[T any] struct {
	ID      uint64
	Due     uint64
	Payload T
}

// Scheduler очередь одноразовых задач
type Scheduler[T any] struct {
	mu     sync.Mutex
	tick   uint64
	nextID uint64
	tasks  []Task[T]
}

// New создаёт пустой планировщик
func New[T any]() *Scheduler[T] {
	return &Scheduler[T]{}
}

// Schedule планирует задачу через delay тиков. Задача с delay 0 или 1
// выполняется на ближайшем Advance.
func (s *Scheduler[T]) Schedule(delay uint64, payload T) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if delay == 0 {
		delay = 1
	}
	s.nextID++
	s.tasks = append(s.tasks, Task[T]{ID: s.nextID, Due: s.tick + delay, Payload: payload})
	return s.nextID
}

// Cancel отменяет задачу. Возвращает false, если задача уже выполнена или не найдена.
func (s *Scheduler[T]) Cancel(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.tasks {
		if t.ID == id {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return true
		}
	}
	return false
}

// Advance переводит часы на один тик и выполняет наступившие задачи в порядке
// срока, затем планирования. Колбэк вызывается без удержания блокировки, поэтому
// может планировать новые задачи; они выполнятся не раньше следующего тика.
func (s *Scheduler[T]) Advance(fire func(T)) int {
	s.mu.Lock()
	s.tick++
	var due []Task[T]
	kept := s.tasks[:0]
	for _, t := range s.tasks {
		if t.Due <= s.tick {
			due = append(due, t)
		} else {
			kept = append(kept, t)
		}
	}
	// обнуляем хвост, чтобы не держать ссылки на выполненные задачи
	for i := len(kept); i < len(s.tasks); i++ {
		s.tasks[i] = Task[T]{}
	}
	s.tasks = kept
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].Due != due[j].Due {
			return due[i].Due < due[j].Due
		}
		return due[i].ID < due[j].ID
	})
	for _, t := range due {
		fire(t.Payload)
	}
	return len(due)
}

// Pending количество ожидающих задач
func (s *Scheduler[T]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Tick текущее значение часов
func (s *Scheduler[T]) Tick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}
