package logging

import (
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из конфигурации ("debug", "INFO"...).
// Неизвестные значения превращаются в INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TRACE
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger пишет сообщения компонента в консоль и (опционально) в файл
type Logger struct {
	mu              sync.Mutex
	component       string
	consoleLogger   *log.Logger
	fileLogger      *log.Logger
	file            *os.File
	minConsoleLevel LogLevel
	minFileLevel    LogLevel
}

var (
	logDir          = "logs"
	consoleLevel    = INFO
	fileLevel       = DEBUG
	defaultLoggerMu sync.RWMutex
	defaultLogger   = NewConsoleLogger("", os.Stdout)
)

// Configure задаёт каталог логов и уровни по умолчанию для новых логгеров.
func Configure(dir string, console, file LogLevel) {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()

	if dir != "" {
		logDir = dir
	}
	consoleLevel = console
	fileLevel = file
	defaultLogger.SetLevels(console, file)
}

// NewConsoleLogger создает логгер без файла. Используется в тестах и как fallback.
func NewConsoleLogger(component string, w io.Writer) *Logger {
	return &Logger{
		component:       component,
		consoleLogger:   log.New(w, "", log.LstdFlags),
		minConsoleLevel: consoleLevel,
		minFileLevel:    ERROR,
	}
}

// NewLogger создает логгер компонента с файлом logs/<component>_<timestamp>.log
func NewLogger(component string) (*Logger, error) {
	defaultLoggerMu.RLock()
	dir, cLevel, fLevel := logDir, consoleLevel, fileLevel
	defaultLoggerMu.RUnlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории %s: %w", dir, err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join(dir, fmt.Sprintf("%s_%s.log", component, timestamp))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания файла логов: %w", err)
	}

	return &Logger{
		component:       component,
		consoleLogger:   log.New(os.Stdout, "", log.LstdFlags),
		fileLogger:      log.New(file, "", log.LstdFlags),
		file:            file,
		minConsoleLevel: cLevel,
		minFileLevel:    fLevel,
	}, nil
}

// Close закрывает файл логов, если он был открыт
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.fileLogger = nil
	return err
}

// SetLevels меняет пороги вывода
func (l *Logger) SetLevels(console, file LogLevel) {
	l.mu.Lock()
	l.minConsoleLevel = console
	l.minFileLevel = file
	l.mu.Unlock()
}

func (l *Logger) logf(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var message string
	if l.component != "" {
		message = fmt.Sprintf("[%s] [%s] %s", level, l.component, fmt.Sprintf(format, args...))
	} else {
		message = fmt.Sprintf("[%s] %s", level, fmt.Sprintf(format, args...))
	}

	if l.fileLogger != nil && level >= l.minFileLevel {
		l.fileLogger.Println(message)
	}
	if l.consoleLogger != nil && level >= l.minConsoleLevel {
		l.consoleLogger.Println(message)
	}
}

func (l *Logger) Trace(format string, args ...interface{}) { l.logf(TRACE, format, args...) }
func (l *Logger) Debug(format string, args ...interface{}) { l.logf(DEBUG, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.logf(INFO, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.logf(WARN, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.logf(ERROR, format, args...) }

// InitDefaultLogger заменяет глобальный логгер на логгер с файлом
func InitDefaultLogger(component string) error {
	logger, err := NewLogger(component)
	if err != nil {
		return err
	}

	defaultLoggerMu.Lock()
	defaultLogger = logger
	defaultLoggerMu.Unlock()
	return nil
}

// CloseDefaultLogger закрывает глобальный логгер
func CloseDefaultLogger() {
	Default().Close()
}

// Default возвращает глобальный логгер
func Default() *Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

func Trace(format string, args ...interface{}) { Default().logf(TRACE, format, args...) }
func Debug(format string, args ...interface{}) { Default().logf(DEBUG, format, args...) }
func Info(format string, args ...interface{})  { Default().logf(INFO, format, args...) }
func Warn(format string, args ...interface{})  { Default().logf(WARN, format, args...) }
func Error(format string, args ...interface{}) { Default().logf(ERROR, format, args...) }

// HexDump создает hex дамп данных (не более 256 байт)
func HexDump(data []byte) string {
	if len(data) == 0 {
		return "No data"
	}

	size := len(data)
	if size > 256 {
		size = 256
	}

	return hex.Dump(data[:size])
}

// LogProtocolError логирует ошибку декодирования кадра вместе с его содержимым
func (l *Logger) LogProtocolError(remote string, err error, payload []byte) {
	l.Debug("Protocol error from %s: %v", remote, err)
	if len(payload) > 0 {
		l.Trace("Raw frame (%d bytes):\n%s", len(payload), HexDump(payload))
	}
}

// LogChunkData логирует отправку колонки клиенту
func (l *Logger) LogChunkData(player string, chunkX, chunkZ int32, sections int, size int) {
	l.Trace("Chunk data sent to %s: column(%d,%d) sections=%d compressed=%dB",
		player, chunkX, chunkZ, sections, size)
}
