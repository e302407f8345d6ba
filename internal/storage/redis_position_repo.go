package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/blockcraft/internal/logging"
)

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr      string        // Адрес Redis сервера
	Password  string        // Пароль (пустой если не требуется)
	DB        int           // Номер базы данных
	KeyPrefix string        // Префикс для ключей
	TTL       time.Duration // Время жизни записей, 0 без ограничения
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "blockcraft:pos:",
		TTL:       24 * time.Hour,
	}
}

// RedisPositionRepo хранит позиции игроков в Redis как JSON под ключом <prefix><ник>
type RedisPositionRepo struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	log       *logging.Logger
}

// NewRedisPositionRepo подключается к Redis и проверяет соединение
func NewRedisPositionRepo(ctx context.Context, cfg RedisConfig) (*RedisPositionRepo, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultRedisConfig().Addr
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultRedisConfig().KeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	repo := NewRedisPositionRepoWithClient(client, cfg.KeyPrefix, cfg.TTL)
	repo.log.Info("🔴 Connected to Redis at %s", cfg.Addr)
	return repo, nil
}

// NewRedisPositionRepoWithClient использует готовый клиент
func NewRedisPositionRepoWithClient(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisPositionRepo {
	return &RedisPositionRepo{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		log:       logging.GetStorageLogger(),
	}
}

func (r *RedisPositionRepo) key(name string) string {
	return r.keyPrefix + name
}

func (r *RedisPositionRepo) Save(ctx context.Context, name string, pos PlayerPosition) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := validatePosition(name, pos); err != nil {
		return err
	}
	if pos.UpdatedAt.IsZero() {
		pos.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}
	if err := r.client.Set(ctx, r.key(name), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save position for %s: %w", name, err)
	}
	return nil
}

func (r *RedisPositionRepo) Load(ctx context.Context, name string) (PlayerPosition, bool, error) {
	if err := validateName(name); err != nil {
		return PlayerPosition{}, false, err
	}

	data, err := r.client.Get(ctx, r.key(name)).Bytes()
	if err == redis.Nil {
		return PlayerPosition{}, false, nil
	} else if err != nil {
		return PlayerPosition{}, false, fmt.Errorf("failed to get position: %w", err)
	}

	var pos PlayerPosition
	if err := json.Unmarshal(data, &pos); err != nil {
		return PlayerPosition{}, false, fmt.Errorf("failed to unmarshal position: %w", err)
	}
	return pos, true, nil
}

func (r *RedisPositionRepo) Delete(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	n, err := r.client.Del(ctx, r.key(name)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", name, ErrPositionNotFound)
	}
	return nil
}

// BatchSave записывает позиции одним пайплайном
func (r *RedisPositionRepo) BatchSave(ctx context.Context, positions map[string]PlayerPosition) error {
	if len(positions) == 0 {
		return nil
	}
	if err := validateBatch(positions); err != nil {
		return err
	}

	now := time.Now().UTC()
	pipe := r.client.Pipeline()
	for name, pos := range positions {
		if pos.UpdatedAt.IsZero() {
			pos.UpdatedAt = now
		}
		data, err := json.Marshal(pos)
		if err != nil {
			return fmt.Errorf("failed to marshal position for %s: %w", name, err)
		}
		pipe.Set(ctx, r.key(name), data, r.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	r.log.Debug("💾 Flushed %d positions to Redis", len(positions))
	return nil
}

func (r *RedisPositionRepo) Close() error {
	return r.client.Close()
}
