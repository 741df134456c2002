package database

import (
	"fmt"

	"github.com/blues/pes/internal/config"
	"github.com/blues/pes/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Init 连接 PostgreSQL 并自动迁移
func Init(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := Open(postgres.Open(dsn))
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Open 使用指定驱动打开连接
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 禁用 GORM 的默认日志输出
		NamingStrategy: &schema.NamingStrategy{
			SingularTable: true, // 禁用复数表名
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Migrate 自动迁移所有表
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.ProjectModel{},
		&model.BidModel{},
		&model.DeliveryModel{},
		&model.DisputeModel{},
		&model.PayoutModel{},
		&model.RefundRecordModel{},
		&model.EscrowRecordModel{},
		&model.ProjectEventModel{},
		&model.PostingCreditModel{},
		&model.PayoutProfileModel{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
