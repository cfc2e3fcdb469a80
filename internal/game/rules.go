package game

import (
	"fmt"
	"time"

	"github.com/wfunc/probability-game/internal/errors"
	"github.com/wfunc/probability-game/internal/models"
	"gorm.io/datatypes"
)

// DecayPolicy 成功后概率衰减策略
type DecayPolicy string

const (
	// DecayHalving 成功后概率减半（向下取整）
	DecayHalving DecayPolicy = "halving"
	// DecayFlatStep 成功后概率减去固定步长
	DecayFlatStep DecayPolicy = "flat_step"
)

// MaxProbability 概率上限（百分比），输掉或中奖后概率恢复到该值
const MaxProbability = 100

// Rules 游戏规则配置
type Rules struct {
	BaselineBalance      int64       `mapstructure:"baseline_balance" json:"baselineBalance"`
	WinThreshold         int64       `mapstructure:"win_threshold" json:"winThreshold"`
	ProbabilityDecay     DecayPolicy `mapstructure:"probability_decay" json:"probabilityDecay"`
	DecayStep            int         `mapstructure:"decay_step" json:"decayStep"` // 仅 flat_step 使用
	ProbabilityFloor     int         `mapstructure:"probability_floor" json:"probabilityFloor"`
	HistoryCap           int         `mapstructure:"history_cap" json:"historyCap"`
	StudentAttemptBudget int         `mapstructure:"student_attempt_budget" json:"studentAttemptBudget"`
	TeacherAttemptBudget int         `mapstructure:"teacher_attempt_budget" json:"teacherAttemptBudget"`
}

// DefaultRules 默认规则
func DefaultRules() Rules {
	return Rules{
		BaselineBalance:      100,
		WinThreshold:         6000,
		ProbabilityDecay:     DecayHalving,
		DecayStep:            5,
		ProbabilityFloor:     1,
		HistoryCap:           20,
		StudentAttemptBudget: 5,
		TeacherAttemptBudget: 999999,
	}
}

// Validate 校验规则
func (r Rules) Validate() error {
	switch {
	case r.BaselineBalance <= 0:
		return errors.Newf(errors.ErrInvalidRules, "baseline_balance 必须大于0: %d", r.BaselineBalance)
	case r.WinThreshold <= r.BaselineBalance:
		return errors.Newf(errors.ErrInvalidRules, "win_threshold(%d) 必须大于 baseline_balance(%d)", r.WinThreshold, r.BaselineBalance)
	case r.ProbabilityFloor < 1 || r.ProbabilityFloor > MaxProbability:
		return errors.Newf(errors.ErrInvalidRules, "probability_floor 必须在1-100之间: %d", r.ProbabilityFloor)
	case r.HistoryCap < 1:
		return errors.Newf(errors.ErrInvalidRules, "history_cap 必须大于0: %d", r.HistoryCap)
	case r.StudentAttemptBudget < 1:
		return errors.Newf(errors.ErrInvalidRules, "student_attempt_budget 必须大于0: %d", r.StudentAttemptBudget)
	case r.TeacherAttemptBudget < r.StudentAttemptBudget:
		return errors.Newf(errors.ErrInvalidRules, "teacher_attempt_budget(%d) 不能小于 student_attempt_budget(%d)", r.TeacherAttemptBudget, r.StudentAttemptBudget)
	}

	switch r.ProbabilityDecay {
	case DecayHalving:
	case DecayFlatStep:
		if r.DecayStep < 1 {
			return errors.Newf(errors.ErrInvalidRules, "flat_step 策略的 decay_step 必须大于0: %d", r.DecayStep)
		}
	default:
		return errors.Newf(errors.ErrInvalidRules, "未知的概率衰减策略: %q", r.ProbabilityDecay)
	}
	return nil
}

// String 便于日志输出
func (r Rules) String() string {
	return fmt.Sprintf("baseline=%d win=%d decay=%s step=%d floor=%d cap=%d budget=%d/%d",
		r.BaselineBalance, r.WinThreshold, r.ProbabilityDecay, r.DecayStep,
		r.ProbabilityFloor, r.HistoryCap, r.StudentAttemptBudget, r.TeacherAttemptBudget)
}

// AttemptBudget 返回账号的初始次数
func (r Rules) AttemptBudget(isTeacher bool) int {
	if isTeacher {
		return r.TeacherAttemptBudget
	}
	return r.StudentAttemptBudget
}

// Decay 计算成功后的新概率
func (r Rules) Decay(probability int) int {
	var next int
	if r.ProbabilityDecay == DecayFlatStep {
		next = probability - r.DecayStep
	} else {
		next = probability / 2
	}
	if next < r.ProbabilityFloor {
		next = r.ProbabilityFloor
	}
	return next
}

// ClampProbability 把概率限制在 [floor, 100]
func (r Rules) ClampProbability(probability int) int {
	if probability > MaxProbability {
		return MaxProbability
	}
	if probability < r.ProbabilityFloor {
		return r.ProbabilityFloor
	}
	return probability
}

// NewRecord 创建初始游戏记录
func (r Rules) NewRecord(studentID string, isTeacher bool) *models.GameRecord {
	return &models.GameRecord{
		StudentID:          studentID,
		IsTeacher:          isTeacher,
		Balance:            r.BaselineBalance,
		SuccessProbability: MaxProbability,
		RemainingAttempts:  r.AttemptBudget(isTeacher),
		BestRecord:         r.BaselineBalance,
		RecentHistory:      datatypes.JSONSlice[models.HistoryEntry]{},
	}
}

// ResetRecord 把记录恢复到初始状态，保留学号与教师标记
func (r Rules) ResetRecord(rec *models.GameRecord) {
	rec.Balance = r.BaselineBalance
	rec.SuccessProbability = MaxProbability
	rec.RemainingAttempts = r.AttemptBudget(rec.IsTeacher)
	rec.TotalAttempts = 0
	rec.SuccessCount = 0
	rec.FailureCount = 0
	rec.BestRecord = r.BaselineBalance
	rec.RecentHistory = datatypes.JSONSlice[models.HistoryEntry]{}
	rec.LastPlayedAt = nil
}

// PromoteToTeacher 账号升级为教师时提升次数；已是教师返回false
func (r Rules) PromoteToTeacher(rec *models.GameRecord) bool {
	if rec.IsTeacher {
		return false
	}
	rec.IsTeacher = true
	rec.RemainingAttempts = r.TeacherAttemptBudget
	return true
}

// EmptyStats 无记录时的默认统计
func (r Rules) EmptyStats() *models.Stats {
	return &models.Stats{BestRecord: r.BaselineBalance}
}

func appendHistory(history datatypes.JSONSlice[models.HistoryEntry], entry models.HistoryEntry, cap int) datatypes.JSONSlice[models.HistoryEntry] {
	n := len(history) + 1
	if n > cap {
		n = cap
	}
	next := make(datatypes.JSONSlice[models.HistoryEntry], 0, n)
	next = append(next, entry)
	for _, h := range history {
		if len(next) >= cap {
			break
		}
		next = append(next, h)
	}
	return next
}

func utcNow() time.Time {
	return time.Now().UTC()
}
