package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/magic-lib/go-plat-utils/conv"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultGormTable = "save_entries"

// saveRow 一个玩家一行
type saveRow struct {
	Namespace string    `gorm:"column:namespace;primaryKey;size:50"`
	SaveKey   string    `gorm:"column:save_key;primaryKey;size:255"`
	Payload   string    `gorm:"column:payload;type:json"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// GormPersisterConfig xxx
type GormPersisterConfig struct {
	DSN         string
	DB          *gorm.DB
	TableName   string `json:"table_name"`
	Namespace   string `json:"namespace"`
	AutoMigrate bool   `json:"auto_migrate"`
}

// GormPersister 基于 gorm 保存玩家数据
type GormPersister[V any] struct {
	db        *gorm.DB
	tableName string
	namespace string
}

// NewGormPersister xxx
func NewGormPersister[V any](cfg *GormPersisterConfig) (*GormPersister[V], error) {
	if cfg == nil {
		return nil, errors.New("backend: gorm config is required")
	}
	if cfg.DB == nil {
		if cfg.DSN == "" {
			return nil, errors.New("backend: gorm db or dsn is required")
		}
		db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{SkipDefaultTransaction: true})
		if err != nil {
			return nil, fmt.Errorf("backend: open gorm: %w", err)
		}
		cfg.DB = db
	}
	if cfg.TableName == "" {
		cfg.TableName = defaultGormTable
	}
	if cfg.AutoMigrate {
		if err := cfg.DB.Table(cfg.TableName).AutoMigrate(&saveRow{}); err != nil {
			return nil, fmt.Errorf("backend: migrate %s: %w", cfg.TableName, err)
		}
	}
	return &GormPersister[V]{
		db:        cfg.DB,
		tableName: cfg.TableName,
		namespace: cfg.Namespace,
	}, nil
}

// Persist 插入或更新
func (p *GormPersister[V]) Persist(ctx context.Context, key string, payload V) error {
	row := &saveRow{
		Namespace: p.namespace,
		SaveKey:   key,
		Payload:   conv.String(payload),
		UpdatedAt: time.Now(),
	}
	err := p.db.WithContext(ctx).Table(p.tableName).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "save_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("backend: gorm save %q: %w", key, err)
	}
	return nil
}

// Load 不存在时返回 false
func (p *GormPersister[V]) Load(ctx context.Context, key string) (V, bool, error) {
	var (
		zero V
		row  saveRow
	)
	err := p.db.WithContext(ctx).Table(p.tableName).
		Where("namespace = ? AND save_key = ?", p.namespace, key).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("backend: gorm load %q: %w", key, err)
	}
	val, err := decode[V](row.Payload)
	if err != nil {
		return zero, false, err
	}
	return val, true, nil
}
