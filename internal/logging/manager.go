package logging

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

// Component имя подсистемы сервера, у каждой свой файл логов
type Component string

const (
	ComponentServer  Component = "server"
	ComponentNetwork Component = "network"
	ComponentGame    Component = "game"
	ComponentStorage Component = "storage"
	ComponentAPI     Component = "api"
)

// LoggerManager раздает логгеры подсистем. Логгер создается при первом обращении,
// если файл открыть не удалось, подсистема пишет только в консоль.
type LoggerManager struct {
	mu       sync.Mutex
	loggers  map[Component]*Logger
	fallback map[Component]bool
}

var (
	manager     *LoggerManager
	managerOnce sync.Once
)

// GetLoggerManager глобальный менеджер логгеров процесса
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		manager = newLoggerManager()
	})
	return manager
}

func newLoggerManager() *LoggerManager {
	return &LoggerManager{
		loggers:  make(map[Component]*Logger),
		fallback: make(map[Component]bool),
	}
}

// Logger возвращает логгер подсистемы
func (lm *LoggerManager) Logger(c Component) *Logger {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if l, ok := lm.loggers[c]; ok {
		return l
	}

	l, err := NewLogger(string(c))
	if err != nil {
		Warn("логгер %s без файла: %v", c, err)
		l = NewConsoleLogger(string(c), os.Stdout)
		lm.fallback[c] = true
	}
	lm.loggers[c] = l
	return l
}

// ConsoleOnly сообщает, что подсистема осталась без файла логов
func (lm *LoggerManager) ConsoleOnly(c Component) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.fallback[c]
}

// SetLevels меняет пороги у всех уже созданных логгеров
func (lm *LoggerManager) SetLevels(console, file LogLevel) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for _, l := range lm.loggers {
		l.SetLevels(console, file)
	}
}

// Components подсистемы, для которых уже создан логгер
func (lm *LoggerManager) Components() []Component {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	out := make([]Component, 0, len(lm.loggers))
	for c := range lm.loggers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CloseAll закрывает файлы всех подсистем. Следующий вызов Logger откроет новый файл.
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var errs []error
	for c, l := range lm.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("логгер %s: %w", c, err))
		}
	}
	lm.loggers = make(map[Component]*Logger)
	lm.fallback = make(map[Component]bool)
	return errors.Join(errs...)
}

func GetNetworkLogger() *Logger { return GetLoggerManager().Logger(ComponentNetwork) }
func GetServerLogger() *Logger  { return GetLoggerManager().Logger(ComponentServer) }
func GetGameLogger() *Logger    { return GetLoggerManager().Logger(ComponentGame) }
func GetStorageLogger() *Logger { return GetLoggerManager().Logger(ComponentStorage) }
func GetAPILogger() *Logger     { return GetLoggerManager().Logger(ComponentAPI) }
