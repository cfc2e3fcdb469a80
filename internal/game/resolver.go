package game

import (
	"sync"
	"time"

	"github.com/wfunc/probability-game/internal/errors"
	"github.com/wfunc/probability-game/internal/models"
)

// Outcome 一次游玩的结果
type Outcome struct {
	Success           bool    `json:"success"`
	Win               bool    `json:"win"`
	NewBalance        int64   `json:"newBalance"`
	NewProbability    int     `json:"newProbability"`
	RemainingAttempts int     `json:"remainingAttempts"`
	Roll              float64 `json:"-"`
}

// Resolver 根据当前状态和一次随机抽样计算下一状态
type Resolver struct {
	mu     sync.RWMutex
	rules  Rules
	roller Roller
	now    func() time.Time
}

// Option 解析器选项
type Option func(*Resolver)

// WithRoller 指定随机源
func WithRoller(roller Roller) Option {
	return func(r *Resolver) {
		r.roller = roller
	}
}

// WithClock 指定时钟
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver 创建解析器
func NewResolver(rules Rules, opts ...Option) (*Resolver, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	r := &Resolver{
		rules:  rules,
		roller: NewCryptoRoller(),
		now:    utcNow,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Rules 当前规则
func (r *Resolver) Rules() Rules {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rules
}

// SetRules 热更新规则，对之后的游玩生效
func (r *Resolver) SetRules(rules Rules) error {
	if err := rules.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.rules = rules
	r.mu.Unlock()
	return nil
}

// Resolve 计算一次游玩。rec 不会被修改，返回新的记录副本。
func (r *Resolver) Resolve(rec *models.GameRecord) (*Outcome, *models.GameRecord, error) {
	if rec == nil {
		return nil, nil, errors.New(errors.ErrInvalidState, "游戏记录为空")
	}
	if !rec.IsTeacher && rec.RemainingAttempts <= 0 {
		return nil, nil, errors.New(errors.ErrNoAttemptsRemaining)
	}

	rules := r.Rules()
	now := r.now()
	next := rec.Clone()

	probability := rules.ClampProbability(rec.SuccessProbability)
	roll := r.roller.Roll()
	success := roll < float64(probability)

	var win bool
	if success {
		next.Balance = rec.Balance * 2
		next.SuccessProbability = rules.Decay(probability)
		if next.Balance >= rules.WinThreshold {
			win = true
			next.Balance = rules.BaselineBalance
			next.SuccessProbability = MaxProbability
		}
	} else {
		next.Balance = rules.BaselineBalance
		next.SuccessProbability = MaxProbability
		if !rec.IsTeacher {
			next.RemainingAttempts = rec.RemainingAttempts - 1
		}
	}

	switch {
	case win:
		if rules.WinThreshold > next.BestRecord {
			next.BestRecord = rules.WinThreshold
		}
	case success:
		if next.Balance > next.BestRecord {
			next.BestRecord = next.Balance
		}
	}

	entry := models.HistoryEntry{
		Timestamp:   now,
		Success:     success,
		Win:         win,
		OldBalance:  rec.Balance,
		NewBalance:  next.Balance,
		Probability: probability,
	}
	next.RecentHistory = appendHistory(rec.RecentHistory, entry, rules.HistoryCap)

	next.TotalAttempts++
	if success {
		next.SuccessCount++
	} else {
		next.FailureCount++
	}
	next.LastPlayedAt = &now

	return &Outcome{
		Success:           success,
		Win:               win,
		NewBalance:        next.Balance,
		NewProbability:    next.SuccessProbability,
		RemainingAttempts: next.RemainingAttempts,
		Roll:              roll,
	}, next, nil
}
