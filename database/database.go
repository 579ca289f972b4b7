// Package database 提供数据库连接和管理功能
// 该包负责处理与数据库相关的所有操作，包括：
// - 按驱动建立数据库连接（MySQL、PostgreSQL、SQLite）
// - 连接池的配置
// - 数据库迁移
// - 提供全局数据库实例
package database

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"payment_recon/models"
)

// DB 全局数据库连接实例，供命令行工具使用
var DB *gorm.DB

// GetDB 返回数据库连接实例
func GetDB() *gorm.DB {
	return DB
}

// SetDB 设置数据库连接
// 主要用于测试场景，允许注入其他数据库连接
func SetDB(newDB *gorm.DB) {
	DB = newDB
}

// Config 数据库连接配置
type Config struct {
	Driver   string // mysql, postgres, sqlite
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	Path     string // sqlite 文件路径
	Debug    bool   // 输出全部SQL
}

// zerologWriter 将GORM日志转发到zerolog
type zerologWriter struct {
	log zerolog.Logger
}

func (w zerologWriter) Printf(format string, args ...interface{}) {
	w.log.Info().Msgf(format, args...)
}

// NewGormLogger 创建写入zerolog的GORM日志器
func NewGormLogger(debug bool) logger.Interface {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	return logger.New(
		zerologWriter{log: log.Logger.With().Str("component", "gorm").Logger()},
		logger.Config{
			SlowThreshold:             time.Second, // 慢查询阈值
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true, // 忽略记录未找到的错误
			Colorful:                  false,
		},
	)
}

// Init 建立连接并设置全局实例
func Init(cfg Config) (*gorm.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	DB = db
	return db, nil
}

// Open 按配置的驱动建立数据库连接并配置连接池
func Open(cfg Config) (*gorm.DB, error) {
	gormConfig := &gorm.Config{Logger: NewGormLogger(cfg.Debug)}

	var (
		db  *gorm.DB
		err error
	)

	switch cfg.Driver {
	case "mysql":
		db, err = openMySQL(cfg, gormConfig)
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name)
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = OpenSQLite(cfg.Path, gormConfig)
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("无法连接到数据库: %w", err)
	}

	if cfg.Driver != "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("无法获取底层数据库连接: %w", err)
		}
		// 这些参数需要根据实际负载情况调整
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(time.Hour)
		sqlDB.SetConnMaxIdleTime(30 * time.Minute)
	}

	log.Info().Str("driver", cfg.Driver).Str("database", cfg.Name).Msg("数据库已成功连接")
	return db, nil
}

// openMySQL 先连接服务器创建数据库（如果不存在），再连接目标库
func openMySQL(cfg Config, gormConfig *gorm.Config) (*gorm.DB, error) {
	dsnWithoutDB := fmt.Sprintf("%s:%s@tcp(%s:%s)/?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User, cfg.Password, cfg.Host, cfg.Port)

	tempDB, err := gorm.Open(mysql.Open(dsnWithoutDB), &gorm.Config{Logger: gormConfig.Logger})
	if err != nil {
		return nil, fmt.Errorf("连接MySQL服务器失败: %w", err)
	}
	createDBSQL := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", cfg.Name)
	if err := tempDB.Exec(createDBSQL).Error; err != nil {
		return nil, fmt.Errorf("创建数据库失败: %w", err)
	}
	if sqlDB, err := tempDB.DB(); err == nil {
		sqlDB.Close()
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local&collation=utf8mb4_unicode_ci",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, err
	}
	return db.Set("gorm:table_options", "ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci"), nil
}

// OpenSQLite 打开SQLite数据库
// SQLite同一时刻只允许一个写者，连接数限制为1，事务在连接池层面串行
func OpenSQLite(path string, gormConfig *gorm.Config) (*gorm.DB, error) {
	if gormConfig == nil {
		gormConfig = &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	}
	db, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=on&_busy_timeout=5000"), gormConfig)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return db, nil
}

// Migrate 执行数据库迁移
// 需要迁移的模型按照依赖关系排序
func Migrate(db *gorm.DB) error {
	log.Info().Msg("开始数据库迁移...")

	err := db.AutoMigrate(
		&models.SaleTeam{},
		&models.User{},
		&models.UserToken{},
		&models.ImportBatch{},
		&models.Payment{},
		&models.Invoice{},
		&models.InvoiceLine{},
		&models.AuditLog{},
	)
	if err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}

	log.Info().Msg("数据库迁移成功")
	return nil
}
