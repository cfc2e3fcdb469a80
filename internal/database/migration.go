package database

import (
	"fmt"

	"github.com/wfunc/probability-game/internal/errors"
	"github.com/wfunc/probability-game/internal/logger"
	"github.com/wfunc/probability-game/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models 需要迁移的模型
func Models() []interface{} {
	return []interface{}{
		&models.Student{},
		&models.GameRecord{},
	}
}

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New(errors.ErrDatabaseConnect, "数据库未初始化")
	}

	// sqlite 文件库用锁文件避免多个进程同时迁移
	if dbPath := sqliteFilePath(db); dbPath != "" {
		CleanupStaleLocks(dbPath)
		lockFile, err := acquireMigrationLock(dbPath)
		if err != nil {
			logger.Error("无法获取迁移锁", zap.Error(err))
			return err
		}
		defer releaseMigrationLock(lockFile)
	}

	logger.Info("开始数据库迁移...")

	for _, model := range Models() {
		if err := db.AutoMigrate(model); err != nil {
			logger.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return errors.Wrapf(err, errors.ErrDatabaseQuery, "迁移 %T 失败", model)
		}
		logger.Debug("迁移成功", zap.String("model", fmt.Sprintf("%T", model)))
	}

	createIndexes(db)

	logger.Info("数据库迁移完成")
	return nil
}

// createIndexes 创建排行榜使用的复合索引
func createIndexes(db *gorm.DB) {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_game_records_ranking ON game_records(best_record DESC, total_attempts ASC)",
	}
	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			// mysql 不支持 IF NOT EXISTS，索引已存在时也会报错
			logger.Warn("创建索引失败", zap.String("index", idx), zap.Error(err))
		}
	}
}
