package models

import (
	"time"

	"gorm.io/datatypes"
)

// GameRecord 学生游戏状态表（每个学号一行）
type GameRecord struct {
	StudentID          string                            `gorm:"primaryKey;size:64" json:"studentId"`
	IsTeacher          bool                              `gorm:"not null;default:false" json:"isTeacher"`
	Balance            int64                             `gorm:"not null" json:"balance"`
	SuccessProbability int                               `gorm:"not null" json:"successProbability"`
	RemainingAttempts  int                               `gorm:"not null" json:"remainingAttempts"`
	TotalAttempts      int                               `gorm:"not null;default:0" json:"totalAttempts"`
	SuccessCount       int                               `gorm:"not null;default:0" json:"successCount"`
	FailureCount       int                               `gorm:"not null;default:0" json:"failureCount"`
	BestRecord         int64                             `gorm:"not null;index" json:"bestRecord"`
	RecentHistory      datatypes.JSONSlice[HistoryEntry] `json:"recentHistory"` // 最新的在前
	LastPlayedAt       *time.Time                        `json:"lastPlayedAt,omitempty"`
	CreatedAt          time.Time                         `json:"createdAt"`
	UpdatedAt          time.Time                         `json:"updatedAt"`
}

// TableName 指定表名
func (GameRecord) TableName() string {
	return "game_records"
}

// HistoryEntry 单次游戏记录
type HistoryEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Success     bool      `json:"success"`
	Win         bool      `json:"win"`
	OldBalance  int64     `json:"oldBalance"`
	NewBalance  int64     `json:"newBalance"`
	Probability int       `json:"probability"`
}

// Clone 深拷贝，历史记录不与原对象共享底层数组
func (r *GameRecord) Clone() *GameRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.RecentHistory = make(datatypes.JSONSlice[HistoryEntry], len(r.RecentHistory))
	copy(c.RecentHistory, r.RecentHistory)
	if r.LastPlayedAt != nil {
		t := *r.LastPlayedAt
		c.LastPlayedAt = &t
	}
	return &c
}

// Stats 统计投影
func (r *GameRecord) Stats() *Stats {
	return &Stats{
		TotalAttempts: r.TotalAttempts,
		SuccessCount:  r.SuccessCount,
		FailureCount:  r.FailureCount,
		BestRecord:    r.BestRecord,
	}
}

// History 返回历史记录的副本，空时返回空切片而不是nil
func (r *GameRecord) History() []HistoryEntry {
	history := make([]HistoryEntry, len(r.RecentHistory))
	copy(history, r.RecentHistory)
	return history
}
