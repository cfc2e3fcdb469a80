package repository

import (
	"context"

	"github.com/wfunc/probability-game/internal/game"
	"github.com/wfunc/probability-game/internal/models"
	"gorm.io/gorm"
)

// 排行榜条数
const (
	DefaultRankingLimit = 10
	MaxRankingLimit     = 100
)

// NormalizeLimit 修正排行榜条数：<=0 取默认值，超过上限取上限
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultRankingLimit
	}
	if limit > MaxRankingLimit {
		return MaxRankingLimit
	}
	return limit
}

// UpdateFunc 在事务内修改记录，返回错误时不写入任何数据
type UpdateFunc func(rec *models.GameRecord) error

// GameStateStore 学生游戏状态存储
type GameStateStore interface {
	// UpsertOnLogin 首次登录创建初始记录；升级为教师时提升次数；其余情况保持不变
	UpsertOnLogin(ctx context.Context, studentID, name string, isTeacher bool) (*models.GameRecord, error)
	// Find 查找记录，不存在返回 ErrNotFound
	Find(ctx context.Context, studentID string) (*models.GameRecord, error)
	// Update 对单个学号做原子的读改写
	Update(ctx context.Context, studentID string, fn UpdateFunc) (*models.GameRecord, error)
	// ApplyPlayResult 用游玩结果覆盖可变字段
	ApplyPlayResult(ctx context.Context, studentID string, next *models.GameRecord) (*models.GameRecord, error)
	// Reset 恢复初始状态
	Reset(ctx context.Context, studentID string) (*models.GameRecord, error)
	// GetStats 个人统计，无记录时返回默认值
	GetStats(ctx context.Context, studentID string) (*models.Stats, error)
	// GetHistory 最近记录（新的在前），无记录时返回空切片
	GetHistory(ctx context.Context, studentID string) ([]models.HistoryEntry, error)
	// GetRanking 按最佳记录降序、总次数升序排列，只包含超过基准余额的学生
	GetRanking(ctx context.Context, limit int) ([]models.RankingEntry, error)
	// RefillAttempts 给学生增加次数
	RefillAttempts(ctx context.Context, studentID string, attempts int) (*models.GameRecord, error)
	// RefillAllStudents 把所有学生的剩余次数补到 budget，返回受影响的行数
	RefillAllStudents(ctx context.Context, budget int) (int64, error)
	// GetGlobalStats 全局统计
	GetGlobalStats(ctx context.Context) (*models.GlobalStats, error)
	// Ping 健康检查
	Ping(ctx context.Context) error
	// Rules 当前规则
	Rules() game.Rules
	// SetRules 热更新规则
	SetRules(rules game.Rules)
}

// BaseRepository 基础仓储接口
type BaseRepository interface {
	// GetDB 获取数据库实例
	GetDB() *gorm.DB
}

// BaseRepo 基础仓储实现
type BaseRepo struct {
	db *gorm.DB
}

// NewBaseRepo 创建基础仓储
func NewBaseRepo(db *gorm.DB) *BaseRepo {
	return &BaseRepo{db: db}
}

// GetDB 获取数据库实例
func (r *BaseRepo) GetDB() *gorm.DB {
	return r.db
}

// WithTx 使用事务
func (r *BaseRepo) WithTx(tx *gorm.DB) *BaseRepo {
	return &BaseRepo{db: tx}
}

// Transaction 执行事务
func (r *BaseRepo) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}
