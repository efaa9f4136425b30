package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magic-lib/go-plat-utils/conv"

	_ "github.com/go-sql-driver/mysql"
)

// SQLPersisterConfig xxx
type SQLPersisterConfig struct {
	DSN         string
	SqlDB       *sql.DB
	TableName   string `json:"table_name"`
	Namespace   string `json:"namespace"`
	SkipMigrate bool   `json:"skip_migrate"` // 表已经存在时不执行建表
}

// SQLPersister 基于 MySQL 保存玩家数据，每个 key 一行
type SQLPersister[V any] struct {
	db        *sql.DB
	tableName string
	namespace string
}

// NewSQLPersister 创建 MySQL 持久化实例
func NewSQLPersister[V any](cfg *SQLPersisterConfig) (*SQLPersister[V], error) {
	if cfg == nil {
		return nil, errors.New("backend: sql config is required")
	}
	if cfg.SqlDB == nil && cfg.DSN != "" {
		sqlDB, err := sql.Open("mysql", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("backend: open mysql: %w", err)
		}
		cfg.SqlDB = sqlDB
	}
	if cfg.SqlDB == nil || cfg.TableName == "" {
		return nil, errors.New("backend: sql db and table name are required")
	}

	if !cfg.SkipMigrate {
		createTableSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			namespace VARCHAR(50) NOT NULL,
			save_key VARCHAR(255) NOT NULL,
			payload JSON NOT NULL,
			create_time DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			update_time DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (namespace,save_key) USING BTREE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_0900_bin;
	`, cfg.TableName)
		if _, err := cfg.SqlDB.Exec(createTableSQL); err != nil {
			return nil, fmt.Errorf("backend: create table %s: %w", cfg.TableName, err)
		}
	}

	return &SQLPersister[V]{
		db:        cfg.SqlDB,
		tableName: cfg.TableName,
		namespace: cfg.Namespace,
	}, nil
}

// Persist 插入或更新 key 对应的数据
func (p *SQLPersister[V]) Persist(ctx context.Context, key string, payload V) error {
	upsertSQL := fmt.Sprintf(`INSERT INTO %s (namespace, save_key, payload) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE payload = VALUES(payload), update_time = CURRENT_TIMESTAMP`, p.tableName)
	if _, err := p.db.ExecContext(ctx, upsertSQL, p.namespace, key, conv.String(payload)); err != nil {
		return fmt.Errorf("backend: save %q: %w", key, err)
	}
	return nil
}

// Load 读取 key 对应的数据，不存在时返回 false
func (p *SQLPersister[V]) Load(ctx context.Context, key string) (V, bool, error) {
	var (
		zero     V
		valueStr string
	)
	querySQL := fmt.Sprintf(`SELECT payload FROM %s WHERE namespace = ? AND save_key = ? LIMIT 1`, p.tableName)
	err := p.db.QueryRowContext(ctx, querySQL, p.namespace, key).Scan(&valueStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("backend: load %q: %w", key, err)
	}
	val, err := decode[V](valueStr)
	if err != nil {
		return zero, false, err
	}
	return val, true, nil
}

// Delete xxx
func (p *SQLPersister[V]) Delete(ctx context.Context, key string) (bool, error) {
	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE namespace = ? AND save_key = ?", p.tableName)
	result, err := p.db.ExecContext(ctx, deleteSQL, p.namespace, key)
	if err != nil {
		return false, fmt.Errorf("backend: delete %q: %w", key, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}
