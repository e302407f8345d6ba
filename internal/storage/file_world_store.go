package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/annel0/blockcraft/internal/logging"
	"github.com/annel0/blockcraft/internal/world"
)

// FileWorldStore хранит мир в одном JSON файле с резервной копией <path>.backup.
//
// Сохранение пишет <path>.tmp, переименовывает текущий файл в .backup и затем
// переименовывает .tmp в основной. Загрузка откатывается на .backup, если основной
// файл отсутствует или повреждён, и возвращает пустой мир, если копий нет.
type FileWorldStore struct {
	path   string
	mu     sync.Mutex
	closed bool
	log    *logging.Logger
}

// NewFileWorldStore создаёт хранилище и каталог для файла мира
func NewFileWorldStore(path string) (*FileWorldStore, error) {
	if path == "" {
		return nil, errors.New("не указан путь к файлу мира")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("не удалось создать каталог мира: %w", err)
	}
	return &FileWorldStore{
		path: path,
		log:  logging.GetStorageLogger(),
	}, nil
}

// Path основной файл мира
func (s *FileWorldStore) Path() string { return s.path }

func (s *FileWorldStore) backupPath() string { return s.path + ".backup" }
func (s *FileWorldStore) tmpPath() string    { return s.path + ".tmp" }

// Load читает мир с откатом на резервную копию
func (s *FileWorldStore) Load(ctx context.Context) (*world.World, error) {
	ctx, span := startSpan(ctx, "world.load", "file")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	// не больше двух попыток: основной файл, затем резервная копия
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !fileExists(s.path) {
			if !fileExists(s.backupPath()) {
				s.log.Info("Файл мира %s не найден, создаётся пустой мир", s.path)
				return world.New(0, nil), nil
			}
			s.log.Warn("Основной файл мира отсутствует, используется резервная копия")
			if err := os.Rename(s.backupPath(), s.path); err != nil {
				return nil, fmt.Errorf("не удалось восстановить резервную копию: %w", err)
			}
		}

		w, err := readWorldFile(s.path)
		if err == nil {
			s.log.Info("Мир загружен из %s: %d колонок", s.path, w.ColumnCount())
			return w, nil
		}

		s.log.Error("Не удалось прочитать мир %s: %v", s.path, err)
		if !fileExists(s.backupPath()) {
			// иначе следующий Save переименует мусор в .backup
			if err := os.Remove(s.path); err != nil {
				return nil, fmt.Errorf("не удалось удалить повреждённый файл мира: %w", err)
			}
			s.log.Warn("Резервной копии нет, повреждённый файл удалён, создаётся пустой мир")
			return world.New(0, nil), nil
		}
		s.log.Info("Найдена резервная копия, повторная попытка")
		if err := os.Remove(s.path); err != nil {
			return nil, fmt.Errorf("не удалось удалить повреждённый файл мира: %w", err)
		}
	}

	s.log.Warn("Резервная копия тоже повреждена, создаётся пустой мир")
	return world.New(0, nil), nil
}

// Save атомарно заменяет файл мира, предыдущая версия остаётся в .backup
func (s *FileWorldStore) Save(ctx context.Context, w *world.World) error {
	ctx, span := startSpan(ctx, "world.save", "file")
	defer span.End()

	doc := encodeWorld(w)
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("ошибка сериализации мира: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if err := os.WriteFile(s.tmpPath(), data, 0o644); err != nil {
		return fmt.Errorf("ошибка записи %s: %w", s.tmpPath(), err)
	}
	if fileExists(s.path) {
		if err := os.Rename(s.path, s.backupPath()); err != nil {
			return fmt.Errorf("ошибка создания резервной копии: %w", err)
		}
	}
	if err := os.Rename(s.tmpPath(), s.path); err != nil {
		return fmt.Errorf("ошибка замены файла мира: %w", err)
	}

	s.log.Debug("Мир сохранён в %s: %d колонок, %d байт", s.path, len(doc.Columns), len(data))
	return nil
}

// Close запрещает дальнейшие операции
func (s *FileWorldStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func readWorldFile(path string) (*world.World, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc worldDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("ошибка разбора JSON: %w", err)
	}
	return decodeWorld(&doc)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
