package service

import (
	"context"
	"strings"

	apperrors "github.com/wfunc/probability-game/internal/errors"
	"github.com/wfunc/probability-game/internal/game"
	"github.com/wfunc/probability-game/internal/logger"
	"github.com/wfunc/probability-game/internal/models"
	"github.com/wfunc/probability-game/internal/repository"
	"github.com/wfunc/probability-game/internal/utils"
	"go.uber.org/zap"
)

// gameService 游戏服务实现
type gameService struct {
	store      repository.GameStateStore
	resolver   *game.Resolver
	config     *Config
	jwtManager *utils.JWTManager
	publisher  Publisher
	log        *zap.Logger
}

// NewGameService 创建游戏服务
func NewGameService(
	store repository.GameStateStore,
	config *Config,
	jwtManager *utils.JWTManager,
	log *zap.Logger,
) (GameService, error) {
	opts := []game.Option{}
	if config.Roller != nil {
		opts = append(opts, game.WithRoller(config.Roller))
	}
	resolver, err := game.NewResolver(config.Game.Rules, opts...)
	if err != nil {
		return nil, err
	}
	store.SetRules(config.Game.Rules)

	publisher := config.Publisher
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if log == nil {
		log = logger.GetModuleLogger(logger.ModuleGame)
	}

	return &gameService{
		store:      store,
		resolver:   resolver,
		config:     config,
		jwtManager: jwtManager,
		publisher:  publisher,
		log:        log,
	}, nil
}

func normalizeID(studentID string) (string, error) {
	id := strings.TrimSpace(studentID)
	if id == "" {
		return "", apperrors.New(apperrors.ErrInvalidParam, "学号不能为空")
	}
	return id, nil
}

// Login 登录：首次创建记录，教师身份只升不降
func (s *gameService) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	if req == nil {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "请求为空")
	}
	studentID, err := normalizeID(req.StudentID)
	if err != nil {
		return nil, err
	}

	isTeacher := req.IsTeacher || s.config.Game.IsTeacherID(studentID)
	rec, err := s.store.UpsertOnLogin(ctx, studentID, strings.TrimSpace(req.Name), isTeacher)
	if err != nil {
		s.log.Error("登录失败", zap.String("student_id", studentID), zap.Error(err))
		return nil, err
	}

	resp := &LoginResponse{
		IsTeacher:         rec.IsTeacher,
		RemainingAttempts: rec.RemainingAttempts,
		GameState:         rec,
	}

	// 自报的教师身份只影响次数，管理权限只授予教师名单
	resp.Role = utils.RoleFor(s.config.Game.IsTeacherID(studentID))
	if s.jwtManager != nil {
		token, err := s.jwtManager.GenerateToken(studentID, resp.Role)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrAuthentication, "生成令牌失败")
		}
		resp.Token = token
		resp.ExpiresIn = int64(s.jwtManager.Expiry().Seconds())
	}

	s.log.Info("用户登录",
		zap.String("student_id", studentID),
		zap.Bool("is_teacher", rec.IsTeacher),
		zap.String("role", resp.Role),
		zap.Int("remaining_attempts", rec.RemainingAttempts),
	)
	return resp, nil
}

// Play 在存储事务内读取、计算并写回一次游玩
func (s *gameService) Play(ctx context.Context, req *PlayRequest) (*PlayResponse, error) {
	if req == nil {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "请求为空")
	}
	studentID, err := normalizeID(req.StudentID)
	if err != nil {
		return nil, err
	}

	var (
		outcome     *game.Outcome
		oldBalance  int64
		oldBest     int64
		probability int
	)

	rec, err := s.store.Update(ctx, studentID, func(rec *models.GameRecord) error {
		s.applyClientState(rec, req)

		oldBalance = rec.Balance
		oldBest = rec.BestRecord
		probability = s.resolver.Rules().ClampProbability(rec.SuccessProbability)

		out, next, err := s.resolver.Resolve(rec)
		if err != nil {
			return err
		}
		outcome = out
		*rec = *next
		return nil
	})
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrNoAttemptsRemaining) && !apperrors.Is(err, apperrors.ErrNotFound) {
			s.log.Error("游玩失败", zap.String("student_id", studentID), zap.Error(err))
		}
		return nil, err
	}

	logger.LogPlayEvent(studentID, outcome.Success, outcome.Win, oldBalance, outcome.NewBalance, probability, outcome.RemainingAttempts)
	s.publishPlay(ctx, rec, oldBalance, oldBest, outcome)

	return &PlayResponse{Result: outcome, GameState: rec}, nil
}

// applyClientState 处理客户端上报的余额与概率
func (s *gameService) applyClientState(rec *models.GameRecord, req *PlayRequest) {
	clientBalance := req.ClientBalance()
	if s.config.Game.TrustClientState {
		if clientBalance != nil {
			rec.Balance = *clientBalance
		}
		if req.CurrentProbability != nil {
			rec.SuccessProbability = s.resolver.Rules().ClampProbability(*req.CurrentProbability)
		}
		return
	}

	balanceMismatch := clientBalance != nil && *clientBalance != rec.Balance
	probabilityMismatch := req.CurrentProbability != nil && *req.CurrentProbability != rec.SuccessProbability
	if balanceMismatch || probabilityMismatch {
		fields := []zap.Field{
			zap.String("student_id", rec.StudentID),
			zap.Int64("server_balance", rec.Balance),
			zap.Int("server_probability", rec.SuccessProbability),
		}
		if clientBalance != nil {
			fields = append(fields, zap.Int64("client_balance", *clientBalance))
		}
		if req.CurrentProbability != nil {
			fields = append(fields, zap.Int("client_probability", *req.CurrentProbability))
		}
		s.log.Warn("客户端状态与服务端不一致，以服务端为准", fields...)
	}
}

func (s *gameService) publishPlay(ctx context.Context, rec *models.GameRecord, oldBalance, oldBest int64, outcome *game.Outcome) {
	event := &PlayEvent{
		StudentID:  rec.StudentID,
		OldBalance: oldBalance,
		Outcome:    outcome,
		BestRecord: rec.BestRecord,
	}
	s.publisher.Publish(EventPlayResult, event)
	if outcome.Win {
		s.publisher.Publish(EventGameWin, event)
	}

	if rec.BestRecord > oldBest && rec.BestRecord > s.resolver.Rules().BaselineBalance {
		ranking, err := s.store.GetRanking(ctx, repository.DefaultRankingLimit)
		if err != nil {
			s.log.Warn("获取排行榜失败", zap.Error(err))
			return
		}
		s.publisher.Publish(EventRankingUpdate, ranking)
	}
}

// Stats 个人统计
func (s *gameService) Stats(ctx context.Context, studentID string) (*models.Stats, error) {
	id, err := normalizeID(studentID)
	if err != nil {
		return nil, err
	}
	return s.store.GetStats(ctx, id)
}

// History 最近记录
func (s *gameService) History(ctx context.Context, studentID string) ([]models.HistoryEntry, error) {
	id, err := normalizeID(studentID)
	if err != nil {
		return nil, err
	}
	return s.store.GetHistory(ctx, id)
}

// Ranking 排行榜
func (s *gameService) Ranking(ctx context.Context, limit int) ([]models.RankingEntry, error) {
	return s.store.GetRanking(ctx, limit)
}

// Reset 重置个人状态
func (s *gameService) Reset(ctx context.Context, studentID string) (*models.GameRecord, error) {
	id, err := normalizeID(studentID)
	if err != nil {
		return nil, err
	}
	rec, err := s.store.Reset(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("重置游戏状态", zap.String("student_id", id))
	s.publisher.Publish(EventReset, &ResetEvent{StudentID: id})
	return rec, nil
}

// Refill 补充剩余次数
func (s *gameService) Refill(ctx context.Context, studentID string, attempts int) (*models.GameRecord, error) {
	id, err := normalizeID(studentID)
	if err != nil {
		return nil, err
	}
	rec, err := s.store.RefillAttempts(ctx, id, attempts)
	if err != nil {
		return nil, err
	}
	s.log.Info("补充次数",
		zap.String("student_id", id),
		zap.Int("attempts", attempts),
		zap.Int("remaining_attempts", rec.RemainingAttempts),
	)
	return rec, nil
}

// RefillAll 把所有学生的次数补到 budget，0 表示使用规则中的学生次数
func (s *gameService) RefillAll(ctx context.Context, budget int) (int64, error) {
	if budget == 0 {
		budget = s.resolver.Rules().StudentAttemptBudget
	}
	return s.store.RefillAllStudents(ctx, budget)
}

// GlobalStats 全局统计
func (s *gameService) GlobalStats(ctx context.Context) (*models.GlobalStats, error) {
	return s.store.GetGlobalStats(ctx)
}

// Health 存储健康检查
func (s *gameService) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Rules 当前规则
func (s *gameService) Rules() game.Rules {
	return s.resolver.Rules()
}

// SetRules 热更新规则
func (s *gameService) SetRules(rules game.Rules) error {
	if err := s.resolver.SetRules(rules); err != nil {
		return err
	}
	s.store.SetRules(rules)
	s.log.Info("游戏规则已更新", zap.Stringer("rules", rules))
	return nil
}
