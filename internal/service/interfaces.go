package service

import (
	"context"

	"github.com/wfunc/probability-game/internal/game"
	"github.com/wfunc/probability-game/internal/models"
)

// GameService 游戏服务接口
type GameService interface {
	// 登录与游玩
	Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error)
	Play(ctx context.Context, req *PlayRequest) (*PlayResponse, error)

	// 查询
	Stats(ctx context.Context, studentID string) (*models.Stats, error)
	History(ctx context.Context, studentID string) ([]models.HistoryEntry, error)
	Ranking(ctx context.Context, limit int) ([]models.RankingEntry, error)

	// 状态维护
	Reset(ctx context.Context, studentID string) (*models.GameRecord, error)
	Refill(ctx context.Context, studentID string, attempts int) (*models.GameRecord, error)
	RefillAll(ctx context.Context, budget int) (int64, error)
	GlobalStats(ctx context.Context) (*models.GlobalStats, error)

	// 运维
	Health(ctx context.Context) error
	Rules() game.Rules
	SetRules(rules game.Rules) error
}

// Publisher 事件推送
type Publisher interface {
	Publish(eventType string, data interface{})
}

// 推送事件类型
const (
	EventPlayResult    = "play_result"
	EventGameWin       = "game_win"
	EventRankingUpdate = "ranking_update"
	EventReset         = "reset"
)

// NopPublisher 不推送任何事件
type NopPublisher struct{}

// Publish 丢弃事件
func (NopPublisher) Publish(string, interface{}) {}

// LoginRequest 登录请求
type LoginRequest struct {
	StudentID string `json:"studentId" binding:"required,studentid"`
	Name      string `json:"name" binding:"omitempty,max=100"`
	IsTeacher bool   `json:"isTeacher"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	IsTeacher         bool               `json:"isTeacher"`
	RemainingAttempts int                `json:"remainingAttempts"`
	GameState         *models.GameRecord `json:"gameState"`
	Role              string             `json:"role"`
	Token             string             `json:"token,omitempty"`
	ExpiresIn         int64              `json:"expiresIn,omitempty"`
}

// PlayRequest 游玩请求，余额与概率为客户端持有的状态
type PlayRequest struct {
	StudentID          string `json:"studentId" binding:"required,studentid"`
	CurrentBalance     *int64 `json:"currentBalance" binding:"omitempty,min=0"`
	CurrentProbability *int   `json:"currentProbability" binding:"omitempty,min=0,max=100"`
	// CurrentMoney 旧版客户端字段，同 CurrentBalance
	CurrentMoney *int64 `json:"currentMoney,omitempty" binding:"omitempty,min=0"`
}

// ClientBalance 客户端上报的余额
func (r *PlayRequest) ClientBalance() *int64 {
	if r.CurrentBalance != nil {
		return r.CurrentBalance
	}
	return r.CurrentMoney
}

// PlayResponse 游玩响应
type PlayResponse struct {
	Result    *game.Outcome      `json:"result"`
	GameState *models.GameRecord `json:"-"`
}

// PlayEvent 游玩事件
type PlayEvent struct {
	StudentID  string        `json:"studentId"`
	OldBalance int64         `json:"oldBalance"`
	Outcome    *game.Outcome `json:"outcome"`
	BestRecord int64         `json:"bestRecord"`
}

// ResetEvent 重置事件
type ResetEvent struct {
	StudentID string `json:"studentId"`
}

// Subject 事件所属学号
func (e *PlayEvent) Subject() string { return e.StudentID }

// Subject 事件所属学号
func (e *ResetEvent) Subject() string { return e.StudentID }
