package repository

import (
	apperrors "github.com/wfunc/probability-game/internal/errors"
	"github.com/wfunc/probability-game/internal/game"
	"github.com/wfunc/probability-game/internal/models"
	"gorm.io/datatypes"
)

// applyPlayResult 把 next 的可变字段写入 rec，同时保证存储层不变量
func applyPlayResult(rules game.Rules, rec, next *models.GameRecord) error {
	if next == nil {
		return apperrors.New(apperrors.ErrInvalidParam, "游玩结果为空")
	}

	rec.Balance = next.Balance
	rec.SuccessProbability = rules.ClampProbability(next.SuccessProbability)
	rec.RemainingAttempts = next.RemainingAttempts
	if rec.RemainingAttempts < 0 {
		rec.RemainingAttempts = 0
	}
	rec.TotalAttempts = next.TotalAttempts
	rec.SuccessCount = next.SuccessCount
	rec.FailureCount = next.FailureCount
	if next.BestRecord > rec.BestRecord {
		rec.BestRecord = next.BestRecord
	}

	history := next.RecentHistory
	if len(history) > rules.HistoryCap {
		history = history[:rules.HistoryCap]
	}
	rec.RecentHistory = make(datatypes.JSONSlice[models.HistoryEntry], len(history))
	copy(rec.RecentHistory, history)

	if next.LastPlayedAt != nil {
		t := *next.LastPlayedAt
		rec.LastPlayedAt = &t
	}
	return nil
}

// refill 给学生增加次数，教师次数不变
func refill(rec *models.GameRecord, attempts int) {
	if rec.IsTeacher {
		return
	}
	rec.RemainingAttempts += attempts
}
