package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Поддерживаемые диалекты SQL
const (
	DialectMySQL  = "mysql"
	DialectSQLite = "sqlite"
)

// sqlDialect запросы, различающиеся между MySQL/MariaDB и SQLite
type sqlDialect struct {
	createTable string
	upsert      string
}

var dialects = map[string]sqlDialect{
	DialectMySQL: {
		createTable: `
			CREATE TABLE IF NOT EXISTS player_positions (
				name       VARCHAR(16) PRIMARY KEY,
				x          DOUBLE      NOT NULL,
				y          DOUBLE      NOT NULL,
				z          DOUBLE      NOT NULL,
				yaw        FLOAT       NOT NULL DEFAULT 0,
				pitch      FLOAT       NOT NULL DEFAULT 0,
				updated_at BIGINT      NOT NULL,
				INDEX idx_updated_at (updated_at)
			) ENGINE=InnoDB`,
		upsert: `
			INSERT INTO player_positions (name, x, y, z, yaw, pitch, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				x = VALUES(x),
				y = VALUES(y),
				z = VALUES(z),
				yaw = VALUES(yaw),
				pitch = VALUES(pitch),
				updated_at = VALUES(updated_at)`,
	},
	DialectSQLite: {
		createTable: `
			CREATE TABLE IF NOT EXISTS player_positions (
				name       TEXT    PRIMARY KEY,
				x          REAL    NOT NULL,
				y          REAL    NOT NULL,
				z          REAL    NOT NULL,
				yaw        REAL    NOT NULL DEFAULT 0,
				pitch      REAL    NOT NULL DEFAULT 0,
				updated_at INTEGER NOT NULL
			)`,
		upsert: `
			INSERT INTO player_positions (name, x, y, z, yaw, pitch, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				x = excluded.x,
				y = excluded.y,
				z = excluded.z,
				yaw = excluded.yaw,
				pitch = excluded.pitch,
				updated_at = excluded.updated_at`,
	},
}

// SQLPositionRepo реализует PositionRepo поверх database/sql.
// Использует таблицу player_positions; диалект mysql для MariaDB/MySQL,
// sqlite для встроенной базы (modernc.org/sqlite, без cgo).
type SQLPositionRepo struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewSQLPositionRepo открывает базу и создает таблицу, если она не существует.
//
// Параметры:
//
//	dialect - "mysql" или "sqlite"
//	dsn - строка подключения (user:pass@tcp(host:port)/dbname или путь к файлу)
func NewSQLPositionRepo(ctx context.Context, dialect, dsn string) (*SQLPositionRepo, error) {
	d, ok := dialects[dialect]
	if !ok {
		return nil, fmt.Errorf("неизвестный SQL диалект %q", dialect)
	}

	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть базу %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// sqlite не поддерживает параллельную запись из нескольких соединений
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с %s: %w", dialect, err)
	}

	if _, err := db.ExecContext(ctx, d.createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка создания таблицы player_positions: %w", err)
	}

	return &SQLPositionRepo{db: db, dialect: d}, nil
}

func upsertArgs(name string, pos PlayerPosition) []interface{} {
	updated := pos.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return []interface{}{
		name, pos.Position.X, pos.Position.Y, pos.Position.Z,
		pos.Yaw, pos.Pitch, updated.UnixMilli(),
	}
}

func (r *SQLPositionRepo) Save(ctx context.Context, name string, pos PlayerPosition) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := validatePosition(name, pos); err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, r.dialect.upsert, upsertArgs(name, pos)...); err != nil {
		return fmt.Errorf("ошибка сохранения позиции для %s: %w", name, err)
	}
	return nil
}

func (r *SQLPositionRepo) Load(ctx context.Context, name string) (PlayerPosition, bool, error) {
	if err := validateName(name); err != nil {
		return PlayerPosition{}, false, err
	}

	query := `SELECT x, y, z, yaw, pitch, updated_at FROM player_positions WHERE name = ?`

	var pos PlayerPosition
	var updated int64
	err := r.db.QueryRowContext(ctx, query, name).Scan(
		&pos.Position.X, &pos.Position.Y, &pos.Position.Z, &pos.Yaw, &pos.Pitch, &updated,
	)
	if err == sql.ErrNoRows {
		// Позиция не найдена - первый вход игрока
		return PlayerPosition{}, false, nil
	}
	if err != nil {
		return PlayerPosition{}, false, fmt.Errorf("ошибка загрузки позиции для %s: %w", name, err)
	}
	pos.UpdatedAt = time.UnixMilli(updated).UTC()
	return pos, true, nil
}

func (r *SQLPositionRepo) Delete(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM player_positions WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("ошибка удаления позиции для %s: %w", name, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения количества затронутых строк: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", name, ErrPositionNotFound)
	}
	return nil
}

// BatchSave сохраняет позиции нескольких игроков в одной транзакции.
func (r *SQLPositionRepo) BatchSave(ctx context.Context, positions map[string]PlayerPosition) error {
	if len(positions) == 0 {
		return nil
	}
	if err := validateBatch(positions); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback() // Откат в случае ошибки

	stmt, err := tx.PrepareContext(ctx, r.dialect.upsert)
	if err != nil {
		return fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	defer stmt.Close()

	for name, pos := range positions {
		if _, err := stmt.ExecContext(ctx, upsertArgs(name, pos)...); err != nil {
			return fmt.Errorf("ошибка сохранения позиции для %s в batch: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// Close закрывает соединение с базой данных.
func (r *SQLPositionRepo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
