package models

// Stats 个人统计
type Stats struct {
	TotalAttempts int   `json:"totalAttempts"`
	SuccessCount  int   `json:"successCount"`
	FailureCount  int   `json:"failureCount"`
	BestRecord    int64 `json:"bestRecord"`
}

// RankingEntry 排行榜条目
type RankingEntry struct {
	Rank          int    `json:"rank"`
	StudentID     string `json:"studentId"`
	Name          string `json:"name"`
	BestRecord    int64  `json:"bestRecord"`
	TotalAttempts int    `json:"totalAttempts"`
	SuccessCount  int    `json:"successCount"`
}

// GlobalStats 全局统计（管理员）
type GlobalStats struct {
	TotalPlayers   int64   `json:"totalPlayers"`
	TotalGames     int64   `json:"totalGames"`
	TotalSuccesses int64   `json:"totalSuccesses"`
	TotalFailures  int64   `json:"totalFailures"`
	HighestRecord  int64   `json:"highestRecord"`
	AverageRecord  float64 `json:"averageRecord"`
}
