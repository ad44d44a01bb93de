package xstamp

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// scanBatch 每批从数据库读取的记录数。
const scanBatch = 256

// entryRow 是 cache_entries 表的行结构。
type entryRow struct {
	ID        string `gorm:"primaryKey"`
	URL       string `gorm:"not null"`
	Timestamp int64  `gorm:"not null;index:idx_cache_ts,priority:2"`
	CacheName string `gorm:"column:cache_name;not null;index:idx_cache_ts,priority:1"`
}

func (entryRow) TableName() string { return "cache_entries" }

// SQLiteOption SQLite 索引配置选项。
type SQLiteOption func(*sqliteOptions)

type sqliteOptions struct {
	logger logger.Interface
}

// WithGormLogger 设置 gorm 日志器，默认静默。
func WithGormLogger(l logger.Interface) SQLiteOption {
	return func(o *sqliteOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewSQLite 打开（必要时创建）path 处的 SQLite 数据库并迁移表结构。
// path 为 ":memory:" 时使用内存数据库。
func NewSQLite(path string, opts ...SQLiteOption) (Index, error) {
	o := &sqliteOptions{logger: logger.Default.LogMode(logger.Silent)}
	for _, opt := range opts {
		opt(o)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: o.logger})
	if err != nil {
		return nil, fmt.Errorf("xstamp: open sqlite %q: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("xstamp: sqlite handle: %w", err)
	}
	// SQLite 单写者；单连接也保证 :memory: 数据库在所有调用间共享
	sqlDB.SetMaxOpenConns(1)

	idx, err := NewSQLiteFromDB(db)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	idx.(*sqliteIndex).owned = true
	return idx, nil
}

// NewSQLiteFromDB 基于已有的 gorm 连接创建索引并迁移表结构。
// 连接的生命周期由调用方管理。
func NewSQLiteFromDB(db *gorm.DB) (Index, error) {
	if db == nil {
		return nil, ErrNilClient
	}
	if err := db.AutoMigrate(&entryRow{}); err != nil {
		return nil, fmt.Errorf("xstamp: migrate: %w", err)
	}
	return &sqliteIndex{db: db}, nil
}

type sqliteIndex struct {
	db    *gorm.DB
	owned bool
}

func (s *sqliteIndex) Get(ctx context.Context, id string) (Record, bool, error) {
	var row entryRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("xstamp: get %q: %w", id, err)
	}
	return row.record(), true, nil
}

func (s *sqliteIndex) Put(ctx context.Context, rec Record) error {
	if rec.ID == "" || rec.CacheName == "" {
		return ErrInvalidRecord
	}
	row := entryRow{ID: rec.ID, URL: rec.URL, Timestamp: rec.Timestamp, CacheName: rec.CacheName}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("xstamp: put %q: %w", rec.ID, err)
	}
	return nil
}

func (s *sqliteIndex) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&entryRow{}).Error; err != nil {
		return fmt.Errorf("xstamp: delete %q: %w", id, err)
	}
	return nil
}

// Scan 以 (timestamp, id) 为游标分批读取，不使用 OFFSET。
func (s *sqliteIndex) Scan(ctx context.Context, cacheName string, fn func(Record) bool) error {
	var (
		cursor *entryRow
		rows   []entryRow
	)
	for {
		q := s.db.WithContext(ctx).Where("cache_name = ?", cacheName)
		if cursor != nil {
			q = q.Where("(timestamp < ? OR (timestamp = ? AND id < ?))", cursor.Timestamp, cursor.Timestamp, cursor.ID)
		}
		rows = rows[:0]
		if err := q.Order("timestamp DESC, id DESC").Limit(scanBatch).Find(&rows).Error; err != nil {
			return fmt.Errorf("xstamp: scan %q: %w", cacheName, err)
		}
		for i := range rows {
			if !fn(rows[i].record()) {
				return nil
			}
		}
		if len(rows) < scanBatch {
			return nil
		}
		last := rows[len(rows)-1]
		cursor = &last
	}
}

func (s *sqliteIndex) Close() error {
	if !s.owned {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r entryRow) record() Record {
	return Record{ID: r.ID, URL: r.URL, Timestamp: r.Timestamp, CacheName: r.CacheName}
}
