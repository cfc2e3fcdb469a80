package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wfunc/probability-game/internal/database"
	apperrors "github.com/wfunc/probability-game/internal/errors"
	"github.com/wfunc/probability-game/internal/game"
	"github.com/wfunc/probability-game/internal/logger"
	"github.com/wfunc/probability-game/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const gameRecordTable = "game_records"

// rulesHolder 规则可被热更新，读写加锁
type rulesHolder struct {
	mu    sync.RWMutex
	rules game.Rules
}

func (h *rulesHolder) Rules() game.Rules {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rules
}

func (h *rulesHolder) SetRules(rules game.Rules) {
	h.mu.Lock()
	h.rules = rules
	h.mu.Unlock()
}

// gameStateRepo 基于 gorm 的游戏状态存储
type gameStateRepo struct {
	*BaseRepo
	rulesHolder
}

// NewGameStateRepository 创建关系型数据库存储
func NewGameStateRepository(db *gorm.DB, rules game.Rules) GameStateStore {
	return &gameStateRepo{
		BaseRepo:    NewBaseRepo(db),
		rulesHolder: rulesHolder{rules: rules},
	}
}

func notFound(studentID string) error {
	return apperrors.New(apperrors.ErrNotFound, "学号: "+studentID)
}

// lockForUpdate 行锁读取；sqlite 驱动忽略锁子句，依赖单连接串行
func lockForUpdate(tx *gorm.DB, studentID string) (*models.GameRecord, error) {
	var rec models.GameRecord
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("student_id = ?", studentID).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(studentID)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	if rec.RecentHistory == nil {
		rec.RecentHistory = datatypes.JSONSlice[models.HistoryEntry]{}
	}
	return &rec, nil
}

// saveMutable 写回可变字段，零值也要写入
func saveMutable(tx *gorm.DB, rec *models.GameRecord) error {
	rec.UpdatedAt = time.Now()
	err := tx.Model(&models.GameRecord{}).
		Where("student_id = ?", rec.StudentID).
		Updates(map[string]interface{}{
			"is_teacher":          rec.IsTeacher,
			"balance":             rec.Balance,
			"success_probability": rec.SuccessProbability,
			"remaining_attempts":  rec.RemainingAttempts,
			"total_attempts":      rec.TotalAttempts,
			"success_count":       rec.SuccessCount,
			"failure_count":       rec.FailureCount,
			"best_record":         rec.BestRecord,
			"recent_history":      rec.RecentHistory,
			"last_played_at":      rec.LastPlayedAt,
			"updated_at":          rec.UpdatedAt,
		}).Error
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate)
	}
	return nil
}

// UpsertOnLogin 登录时创建或升级记录
func (r *gameStateRepo) UpsertOnLogin(ctx context.Context, studentID, name string, isTeacher bool) (*models.GameRecord, error) {
	rules := r.Rules()
	var result *models.GameRecord

	err := r.Transaction(ctx, func(tx *gorm.DB) error {
		if err := upsertStudent(tx, studentID, name); err != nil {
			return err
		}

		// 并发首次登录时只有一个插入生效
		initial := rules.NewRecord(studentID, isTeacher)
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(initial).Error; err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
		}

		rec, err := lockForUpdate(tx, studentID)
		if err != nil {
			return err
		}
		if isTeacher && rules.PromoteToTeacher(rec) {
			if err := saveMutable(tx, rec); err != nil {
				return err
			}
		}
		result = rec
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTransaction)
	}
	return result, nil
}

// Find 查找记录
func (r *gameStateRepo) Find(ctx context.Context, studentID string) (*models.GameRecord, error) {
	var rec models.GameRecord
	err := r.db.WithContext(ctx).Where("student_id = ?", studentID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(studentID)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	if rec.RecentHistory == nil {
		rec.RecentHistory = datatypes.JSONSlice[models.HistoryEntry]{}
	}
	return &rec, nil
}

// Update 在一个事务内锁定、修改并写回
func (r *gameStateRepo) Update(ctx context.Context, studentID string, fn UpdateFunc) (rec *models.GameRecord, err error) {
	start := time.Now()
	defer func() {
		logger.LogDatabaseOperation("update", gameRecordTable, time.Since(start), ignoreExpected(err))
	}()

	err = r.Transaction(ctx, func(tx *gorm.DB) error {
		current, err := lockForUpdate(tx, studentID)
		if err != nil {
			return err
		}
		if err := fn(current); err != nil {
			return err
		}
		// 学号不可修改
		current.StudentID = studentID
		if err := saveMutable(tx, current); err != nil {
			return err
		}
		rec = current
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTransaction)
	}
	return rec, nil
}

// ignoreExpected 业务上预期的错误不记为数据库失败
func ignoreExpected(err error) error {
	switch apperrors.GetCode(err) {
	case apperrors.ErrNotFound, apperrors.ErrNoAttemptsRemaining, apperrors.ErrInvalidParam:
		return nil
	}
	return err
}

// ApplyPlayResult 写入游玩结果
func (r *gameStateRepo) ApplyPlayResult(ctx context.Context, studentID string, next *models.GameRecord) (*models.GameRecord, error) {
	rules := r.Rules()
	return r.Update(ctx, studentID, func(rec *models.GameRecord) error {
		return applyPlayResult(rules, rec, next)
	})
}

// Reset 恢复初始状态
func (r *gameStateRepo) Reset(ctx context.Context, studentID string) (*models.GameRecord, error) {
	rules := r.Rules()
	return r.Update(ctx, studentID, func(rec *models.GameRecord) error {
		rules.ResetRecord(rec)
		return nil
	})
}

// GetStats 个人统计
func (r *gameStateRepo) GetStats(ctx context.Context, studentID string) (*models.Stats, error) {
	rec, err := r.Find(ctx, studentID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return r.Rules().EmptyStats(), nil
		}
		return nil, err
	}
	return rec.Stats(), nil
}

// GetHistory 最近记录
func (r *gameStateRepo) GetHistory(ctx context.Context, studentID string) ([]models.HistoryEntry, error) {
	rec, err := r.Find(ctx, studentID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return []models.HistoryEntry{}, nil
		}
		return nil, err
	}
	return rec.History(), nil
}

// GetRanking 排行榜
func (r *gameStateRepo) GetRanking(ctx context.Context, limit int) ([]models.RankingEntry, error) {
	limit = NormalizeLimit(limit)
	baseline := r.Rules().BaselineBalance

	var rows []models.RankingEntry
	err := r.db.WithContext(ctx).
		Table(gameRecordTable+" AS g").
		Select("g.student_id, COALESCE(s.name, '') AS name, g.best_record, g.total_attempts, g.success_count").
		Joins("LEFT JOIN students s ON s.student_id = g.student_id").
		Where("g.best_record > ?", baseline).
		Order("g.best_record DESC, g.total_attempts ASC, g.student_id ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}

	for i := range rows {
		rows[i].Rank = i + 1
	}
	if rows == nil {
		rows = []models.RankingEntry{}
	}
	return rows, nil
}

// RefillAttempts 增加剩余次数
func (r *gameStateRepo) RefillAttempts(ctx context.Context, studentID string, attempts int) (*models.GameRecord, error) {
	if attempts <= 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidParam, "补充次数必须大于0: %d", attempts)
	}
	return r.Update(ctx, studentID, func(rec *models.GameRecord) error {
		refill(rec, attempts)
		return nil
	})
}

// RefillAllStudents 批量补充学生次数，教师不受影响
func (r *gameStateRepo) RefillAllStudents(ctx context.Context, budget int) (int64, error) {
	if budget <= 0 {
		return 0, apperrors.Newf(apperrors.ErrInvalidParam, "次数必须大于0: %d", budget)
	}
	start := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.GameRecord{}).
		Where("is_teacher = ? AND remaining_attempts < ?", false, budget).
		Updates(map[string]interface{}{
			"remaining_attempts": budget,
			"updated_at":         time.Now(),
		})
	logger.LogDatabaseOperation("refill_all", gameRecordTable, time.Since(start), result.Error)
	if result.Error != nil {
		return 0, apperrors.Wrap(result.Error, apperrors.ErrDatabaseUpdate)
	}
	return result.RowsAffected, nil
}

// GetGlobalStats 全局统计
func (r *gameStateRepo) GetGlobalStats(ctx context.Context) (*models.GlobalStats, error) {
	var row struct {
		TotalPlayers   int64
		TotalGames     int64
		TotalSuccesses int64
		TotalFailures  int64
		HighestRecord  int64
		AverageRecord  float64
	}
	err := r.db.WithContext(ctx).
		Model(&models.GameRecord{}).
		Select(`COUNT(*) AS total_players,
			COALESCE(SUM(total_attempts), 0) AS total_games,
			COALESCE(SUM(success_count), 0) AS total_successes,
			COALESCE(SUM(failure_count), 0) AS total_failures,
			COALESCE(MAX(best_record), 0) AS highest_record,
			COALESCE(AVG(best_record), 0) AS average_record`).
		Scan(&row).Error
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return &models.GlobalStats{
		TotalPlayers:   row.TotalPlayers,
		TotalGames:     row.TotalGames,
		TotalSuccesses: row.TotalSuccesses,
		TotalFailures:  row.TotalFailures,
		HighestRecord:  row.HighestRecord,
		AverageRecord:  row.AverageRecord,
	}, nil
}

// Ping 健康检查
func (r *gameStateRepo) Ping(ctx context.Context) error {
	return database.Ping(ctx, r.db)
}
