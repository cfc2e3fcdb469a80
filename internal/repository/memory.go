package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/wfunc/probability-game/internal/errors"
	"github.com/wfunc/probability-game/internal/game"
	"github.com/wfunc/probability-game/internal/models"
)

// MemoryStore 内存存储，用于测试和无数据库的本地模式
type MemoryStore struct {
	rulesHolder

	mu       sync.RWMutex
	records  map[string]*models.GameRecord
	students map[string]string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewMemoryStore 创建内存存储
func NewMemoryStore(rules game.Rules) *MemoryStore {
	return &MemoryStore{
		rulesHolder: rulesHolder{rules: rules},
		records:     make(map[string]*models.GameRecord),
		students:    make(map[string]string),
		locks:       make(map[string]*sync.Mutex),
	}
}

// studentLock 每个学号一把锁，不同学号互不阻塞
func (s *MemoryStore) studentLock(studentID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[studentID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[studentID] = l
	}
	return l
}

func (s *MemoryStore) load(studentID string) (*models.GameRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[studentID]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

func (s *MemoryStore) store(rec *models.GameRecord) {
	s.mu.Lock()
	s.records[rec.StudentID] = rec.Clone()
	s.mu.Unlock()
}

// UpsertOnLogin 登录时创建或升级记录
func (s *MemoryStore) UpsertOnLogin(ctx context.Context, studentID, name string, isTeacher bool) (*models.GameRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCanceled)
	}
	l := s.studentLock(studentID)
	l.Lock()
	defer l.Unlock()

	rules := s.Rules()

	s.mu.Lock()
	if _, ok := s.students[studentID]; !ok || name != "" {
		s.students[studentID] = name
	}
	s.mu.Unlock()

	rec, ok := s.load(studentID)
	if !ok {
		now := time.Now()
		rec = rules.NewRecord(studentID, isTeacher)
		rec.CreatedAt = now
		rec.UpdatedAt = now
		s.store(rec)
		return rec, nil
	}
	if isTeacher && rules.PromoteToTeacher(rec) {
		rec.UpdatedAt = time.Now()
		s.store(rec)
	}
	return rec, nil
}

// Find 查找记录
func (s *MemoryStore) Find(ctx context.Context, studentID string) (*models.GameRecord, error) {
	rec, ok := s.load(studentID)
	if !ok {
		return nil, notFound(studentID)
	}
	return rec, nil
}

// Update 持有学号锁完成读改写，fn 出错时不写入
func (s *MemoryStore) Update(ctx context.Context, studentID string, fn UpdateFunc) (*models.GameRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCanceled)
	}
	l := s.studentLock(studentID)
	l.Lock()
	defer l.Unlock()

	rec, ok := s.load(studentID)
	if !ok {
		return nil, notFound(studentID)
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.StudentID = studentID
	rec.UpdatedAt = time.Now()
	s.store(rec)
	return rec, nil
}

// ApplyPlayResult 写入游玩结果
func (s *MemoryStore) ApplyPlayResult(ctx context.Context, studentID string, next *models.GameRecord) (*models.GameRecord, error) {
	rules := s.Rules()
	return s.Update(ctx, studentID, func(rec *models.GameRecord) error {
		return applyPlayResult(rules, rec, next)
	})
}

// Reset 恢复初始状态
func (s *MemoryStore) Reset(ctx context.Context, studentID string) (*models.GameRecord, error) {
	rules := s.Rules()
	return s.Update(ctx, studentID, func(rec *models.GameRecord) error {
		rules.ResetRecord(rec)
		return nil
	})
}

// GetStats 个人统计
func (s *MemoryStore) GetStats(ctx context.Context, studentID string) (*models.Stats, error) {
	rec, ok := s.load(studentID)
	if !ok {
		return s.Rules().EmptyStats(), nil
	}
	return rec.Stats(), nil
}

// GetHistory 最近记录
func (s *MemoryStore) GetHistory(ctx context.Context, studentID string) ([]models.HistoryEntry, error) {
	rec, ok := s.load(studentID)
	if !ok {
		return []models.HistoryEntry{}, nil
	}
	return rec.History(), nil
}

// GetRanking 排行榜
func (s *MemoryStore) GetRanking(ctx context.Context, limit int) ([]models.RankingEntry, error) {
	limit = NormalizeLimit(limit)
	baseline := s.Rules().BaselineBalance

	s.mu.RLock()
	entries := make([]models.RankingEntry, 0, len(s.records))
	for id, rec := range s.records {
		if rec.BestRecord <= baseline {
			continue
		}
		entries = append(entries, models.RankingEntry{
			StudentID:     id,
			Name:          s.students[id],
			BestRecord:    rec.BestRecord,
			TotalAttempts: rec.TotalAttempts,
			SuccessCount:  rec.SuccessCount,
		})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.BestRecord != b.BestRecord {
			return a.BestRecord > b.BestRecord
		}
		if a.TotalAttempts != b.TotalAttempts {
			return a.TotalAttempts < b.TotalAttempts
		}
		return a.StudentID < b.StudentID
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// RefillAttempts 增加剩余次数
func (s *MemoryStore) RefillAttempts(ctx context.Context, studentID string, attempts int) (*models.GameRecord, error) {
	if attempts <= 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidParam, "补充次数必须大于0: %d", attempts)
	}
	return s.Update(ctx, studentID, func(rec *models.GameRecord) error {
		refill(rec, attempts)
		return nil
	})
}

// RefillAllStudents 批量补充学生次数
func (s *MemoryStore) RefillAllStudents(ctx context.Context, budget int) (int64, error) {
	if budget <= 0 {
		return 0, apperrors.Newf(apperrors.ErrInvalidParam, "次数必须大于0: %d", budget)
	}

	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var affected int64
	for _, id := range ids {
		_, err := s.Update(ctx, id, func(rec *models.GameRecord) error {
			if rec.IsTeacher || rec.RemainingAttempts >= budget {
				return errSkip
			}
			rec.RemainingAttempts = budget
			return nil
		})
		switch {
		case err == nil:
			affected++
		case err == errSkip:
		default:
			return affected, err
		}
	}
	return affected, nil
}

// errSkip 批量更新时跳过当前记录
var errSkip = apperrors.New(apperrors.ErrInvalidState, "skip")

// GetGlobalStats 全局统计
func (s *MemoryStore) GetGlobalStats(ctx context.Context) (*models.GlobalStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.GlobalStats{TotalPlayers: int64(len(s.records))}
	var sum int64
	for _, rec := range s.records {
		stats.TotalGames += int64(rec.TotalAttempts)
		stats.TotalSuccesses += int64(rec.SuccessCount)
		stats.TotalFailures += int64(rec.FailureCount)
		if rec.BestRecord > stats.HighestRecord {
			stats.HighestRecord = rec.BestRecord
		}
		sum += rec.BestRecord
	}
	if stats.TotalPlayers > 0 {
		stats.AverageRecord = float64(sum) / float64(stats.TotalPlayers)
	}
	return stats, nil
}

// Ping 内存存储总是可用
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
