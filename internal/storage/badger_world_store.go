package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/klauspost/compress/zstd"

	"github.com/annel0/blockcraft/internal/logging"
	"github.com/annel0/blockcraft/internal/world"
)

const (
	columnKeyPrefix = "column:"
	worldMetaKey    = "meta:world"
)

// worldMeta параметры мира без колонок
type worldMeta struct {
	Version   int  `json:"version"`
	Dimension int8 `json:"dimension"`
	SpawnX    int  `json:"spawn_x"`
	SpawnY    int  `json:"spawn_y"`
	SpawnZ    int  `json:"spawn_z"`
	Columns   int  `json:"columns"`
}

// BadgerWorldStore хранит каждую колонку отдельным ключом column:<x>:<z>,
// значение это JSON колонки, сжатый zstd.
type BadgerWorldStore struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool

	enc *zstd.Encoder
	dec *zstd.Decoder
	log *logging.Logger
}

// NewBadgerWorldStore открывает базу в каталоге dbPath
func NewBadgerWorldStore(dbPath string) (*BadgerWorldStore, error) {
	return openBadger(badger.DefaultOptions(dbPath), dbPath)
}

// NewInMemoryBadgerWorldStore базу без файлов, используется в тестах
func NewInMemoryBadgerWorldStore() (*BadgerWorldStore, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true), ":memory:")
}

func openBadger(opts badger.Options, dbPath string) (*BadgerWorldStore, error) {
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	return &BadgerWorldStore{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
		enc:     enc,
		dec:     dec,
		log:     logging.GetStorageLogger(),
	}, nil
}

func columnKey(x, z int32) []byte {
	return []byte(columnKeyPrefix + strconv.Itoa(int(x)) + ":" + strconv.Itoa(int(z)))
}

func parseColumnKey(key string) (x, z int32, err error) {
	parts := strings.Split(strings.TrimPrefix(key, columnKeyPrefix), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("некорректный ключ колонки %q", key)
	}
	xi, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("ключ %q: %w", key, err)
	}
	zi, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("ключ %q: %w", key, err)
	}
	return int32(xi), int32(zi), nil
}

// Save записывает все колонки одной транзакцией (WriteBatch) и удаляет
// колонки, которых больше нет в мире.
func (s *BadgerWorldStore) Save(ctx context.Context, w *world.World) error {
	ctx, span := startSpan(ctx, "world.save", "badger")
	defer span.End()

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if !s.isReady {
		return ErrStoreClosed
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	keep := make(map[string]struct{}, w.ColumnCount())
	for _, c := range w.Columns() {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(encodeColumn(c))
		if err != nil {
			return fmt.Errorf("ошибка сериализации колонки %d,%d: %w", c.Pos.X, c.Pos.Z, err)
		}
		key := columnKey(c.Pos.X, c.Pos.Z)
		keep[string(key)] = struct{}{}
		if err := wb.Set(key, s.enc.EncodeAll(data, nil)); err != nil {
			return fmt.Errorf("ошибка записи колонки: %w", err)
		}
	}

	stale, err := s.staleColumnKeys(keep)
	if err != nil {
		return err
	}
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("ошибка удаления колонки: %w", err)
		}
	}

	meta, err := json.Marshal(worldMeta{
		Version:   worldFormatVersion,
		Dimension: w.Dimension,
		SpawnX:    w.Spawn.X,
		SpawnY:    w.Spawn.Y,
		SpawnZ:    w.Spawn.Z,
		Columns:   w.ColumnCount(),
	})
	if err != nil {
		return fmt.Errorf("ошибка сериализации параметров мира: %w", err)
	}
	if err := wb.Set([]byte(worldMetaKey), meta); err != nil {
		return fmt.Errorf("ошибка записи параметров мира: %w", err)
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	s.log.Debug("Мир сохранён в BadgerDB: %d колонок, удалено %d", w.ColumnCount(), len(stale))
	return nil
}

func (s *BadgerWorldStore) staleColumnKeys(keep map[string]struct{}) ([][]byte, error) {
	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(columnKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if _, ok := keep[string(key)]; !ok {
				stale = append(stale, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ключей BadgerDB: %w", err)
	}
	return stale, nil
}

// Load собирает мир из всех сохранённых колонок. Пустая база даёт пустой мир.
func (s *BadgerWorldStore) Load(ctx context.Context) (*world.World, error) {
	ctx, span := startSpan(ctx, "world.load", "badger")
	defer span.End()

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if !s.isReady {
		return nil, ErrStoreClosed
	}

	w := world.New(0, nil)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(worldMetaKey))
		switch {
		case err == badger.ErrKeyNotFound:
		case err != nil:
			return err
		default:
			var meta worldMeta
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &meta) }); err != nil {
				return fmt.Errorf("ошибка чтения параметров мира: %w", err)
			}
			w.Dimension = meta.Dimension
			w.Spawn.X, w.Spawn.Y, w.Spawn.Z = meta.SpawnX, meta.SpawnY, meta.SpawnZ
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(columnKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.Key())
			if _, _, err := parseColumnKey(key); err != nil {
				s.log.Warn("Пропущен ключ: %v", err)
				continue
			}

			var rec columnRecord
			err := item.Value(func(val []byte) error {
				raw, err := s.dec.DecodeAll(val, nil)
				if err != nil {
					return fmt.Errorf("zstd: %w", err)
				}
				return json.Unmarshal(raw, &rec)
			})
			if err != nil {
				return fmt.Errorf("ключ %s: %w", key, err)
			}

			c, err := decodeColumn(rec)
			if err != nil {
				return err
			}
			w.PutColumn(c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	s.log.Info("Мир загружен из BadgerDB %s: %d колонок", s.dbPath, w.ColumnCount())
	return w, nil
}

// Close закрывает хранилище данных
func (s *BadgerWorldStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isReady {
		return nil
	}

	s.isReady = false
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}
