package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	apperrors "github.com/wfunc/probability-game/internal/errors"
	"github.com/wfunc/probability-game/internal/game"
	"github.com/wfunc/probability-game/internal/repository"
	"github.com/wfunc/probability-game/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// recordingPublisher 记录推送的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(eventType string, _ interface{}) {
	p.mu.Lock()
	p.events = append(p.events, eventType)
	p.mu.Unlock()
}

func (p *recordingPublisher) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// GameServiceTestSuite 游戏服务测试套件
type GameServiceTestSuite struct {
	suite.Suite
	useDB     bool
	db        *gorm.DB
	store     repository.GameStateStore
	roller    *game.FixedRoller
	publisher *recordingPublisher
	services  *Services
	svc       GameService
	ctx       context.Context
}

func (suite *GameServiceTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.roller = game.NewFixedRoller(0)
	suite.publisher = &recordingPublisher{}

	rules := game.DefaultRules()
	if suite.useDB {
		suite.db = repository.SetupTestDB()
		suite.store = repository.NewGameStateRepository(suite.db, rules)
	} else {
		suite.store = repository.NewMemoryStore(rules)
	}

	config := DefaultConfig()
	config.Roller = suite.roller
	config.Publisher = suite.publisher

	services, err := NewServices(suite.store, config, zap.NewNop())
	suite.Require().NoError(err)
	suite.services = services
	suite.svc = services.Game
}

func (suite *GameServiceTestSuite) TearDownTest() {
	if suite.db != nil {
		repository.CleanupTestDB(suite.db)
		suite.db = nil
	}
}

// setRolls 指定之后的随机数序列
func (suite *GameServiceTestSuite) setRolls(values ...float64) {
	suite.roller.Reset(values...)
}

func (suite *GameServiceTestSuite) login(id string, teacher bool) *LoginResponse {
	resp, err := suite.svc.Login(suite.ctx, &LoginRequest{StudentID: id, Name: "名字" + id, IsTeacher: teacher})
	suite.Require().NoError(err)
	return resp
}

func (suite *GameServiceTestSuite) play(id string) (*PlayResponse, error) {
	return suite.svc.Play(suite.ctx, &PlayRequest{StudentID: id})
}

// 测试登录返回初始状态与令牌
func (suite *GameServiceTestSuite) TestLogin() {
	resp := suite.login("s1", false)
	suite.False(resp.IsTeacher)
	suite.Equal(5, resp.RemainingAttempts)
	suite.Equal(int64(100), resp.GameState.Balance)
	suite.Equal(100, resp.GameState.SuccessProbability)
	suite.NotEmpty(resp.Token)
	suite.Greater(resp.ExpiresIn, int64(0))

	claims, err := suite.services.JWTManager.ValidateToken(resp.Token)
	suite.Require().NoError(err)
	suite.Equal("s1", claims.StudentID)
	suite.Equal(utils.RoleStudent, claims.Role)
}

// 测试空学号
func (suite *GameServiceTestSuite) TestLoginEmptyID() {
	_, err := suite.svc.Login(suite.ctx, &LoginRequest{StudentID: "  "})
	suite.True(apperrors.Is(err, apperrors.ErrInvalidParam))

	_, err = suite.svc.Login(suite.ctx, nil)
	suite.True(apperrors.Is(err, apperrors.ErrInvalidParam))
}

// 测试教师名单中的学号自动成为教师
func (suite *GameServiceTestSuite) TestLoginTeacherFromList() {
	resp := suite.login("Teacher", false)
	suite.True(resp.IsTeacher)
	suite.Equal(999999, resp.RemainingAttempts)

	claims, err := suite.services.JWTManager.ValidateToken(resp.Token)
	suite.Require().NoError(err)
	suite.True(claims.IsTeacher())
	suite.Equal(utils.RoleTeacher, resp.Role)
}

// 测试自报教师只获得教师次数，不获得管理角色
func (suite *GameServiceTestSuite) TestLoginSelfDeclaredTeacherRole() {
	resp := suite.login("random_kid", true)
	suite.True(resp.IsTeacher)
	suite.Equal(999999, resp.RemainingAttempts)
	suite.Equal(utils.RoleStudent, resp.Role)

	claims, err := suite.services.JWTManager.ValidateToken(resp.Token)
	suite.Require().NoError(err)
	suite.False(claims.IsTeacher())
	suite.Equal(utils.RoleStudent, claims.Role)
}

// 测试教师身份只升不降
func (suite *GameServiceTestSuite) TestLoginPromotionIsSticky() {
	suite.login("s1", false)
	resp := suite.login("s1", true)
	suite.True(resp.IsTeacher)
	suite.Equal(999999, resp.RemainingAttempts)

	resp = suite.login("s1", false)
	suite.True(resp.IsTeacher)
}

// 测试典型游玩序列：成功翻倍，失败回到基线并扣次数
func (suite *GameServiceTestSuite) TestPlayScenario() {
	suite.login("s1", false)

	suite.setRolls(0)
	resp, err := suite.play("s1")
	suite.Require().NoError(err)
	suite.True(resp.Result.Success)
	suite.False(resp.Result.Win)
	suite.Equal(int64(200), resp.Result.NewBalance)
	suite.Equal(50, resp.Result.NewProbability)
	suite.Equal(5, resp.Result.RemainingAttempts)

	suite.setRolls(99)
	resp, err = suite.play("s1")
	suite.Require().NoError(err)
	suite.False(resp.Result.Success)
	suite.Equal(int64(100), resp.Result.NewBalance)
	suite.Equal(100, resp.Result.NewProbability)
	suite.Equal(4, resp.Result.RemainingAttempts)

	stats, err := suite.svc.Stats(suite.ctx, "s1")
	suite.Require().NoError(err)
	suite.Equal(2, stats.TotalAttempts)
	suite.Equal(1, stats.SuccessCount)
	suite.Equal(1, stats.FailureCount)
	suite.Equal(int64(200), stats.BestRecord)

	history, err := suite.svc.History(suite.ctx, "s1")
	suite.Require().NoError(err)
	suite.Require().Len(history, 2)
	suite.False(history[0].Success)
	suite.True(history[1].Success)
	suite.Equal(int64(100), history[1].OldBalance)
	suite.Equal(int64(200), history[1].NewBalance)
}

// 测试次数用完
func (suite *GameServiceTestSuite) TestPlayNoAttempts() {
	suite.login("s1", false)
	// 概率100时必定成功，掷99 在 100% 与 50% 之间交替成功和失败
	suite.setRolls(99)
	for i := 0; i < 10; i++ {
		resp, err := suite.play("s1")
		suite.Require().NoError(err)
		suite.Equal(i%2 == 0, resp.Result.Success, "play %d", i)
		suite.Equal(5-(i+1)/2, resp.Result.RemainingAttempts, "play %d", i)
	}

	_, err := suite.play("s1")
	suite.True(apperrors.Is(err, apperrors.ErrNoAttemptsRemaining))

	stats, err := suite.svc.Stats(suite.ctx, "s1")
	suite.Require().NoError(err)
	suite.Equal(10, stats.TotalAttempts)
	suite.Equal(5, stats.FailureCount)
}

// 测试未登录游玩
func (suite *GameServiceTestSuite) TestPlayUnknownStudent() {
	_, err := suite.play("ghost")
	suite.True(apperrors.Is(err, apperrors.ErrNotFound))
}

// 测试达到阈值获胜
func (suite *GameServiceTestSuite) TestPlayWin() {
	suite.login("s1", false)
	suite.setRolls(0)

	var last *PlayResponse
	for i := 0; i < 6; i++ {
		resp, err := suite.play("s1")
		suite.Require().NoError(err)
		last = resp
	}
	suite.True(last.Result.Win)
	suite.Equal(int64(100), last.Result.NewBalance)
	suite.Equal(100, last.Result.NewProbability)
	suite.Equal(int64(6000), last.GameState.BestRecord)
	suite.Contains(suite.publisher.Events(), EventGameWin)
	suite.Contains(suite.publisher.Events(), EventRankingUpdate)
}

// 测试默认不信任客户端状态
func (suite *GameServiceTestSuite) TestClientStateIgnoredByDefault() {
	suite.login("s1", false)
	suite.setRolls(0)

	balance := int64(5000)
	probability := 100
	resp, err := suite.svc.Play(suite.ctx, &PlayRequest{
		StudentID:          "s1",
		CurrentBalance:     &balance,
		CurrentProbability: &probability,
	})
	suite.Require().NoError(err)
	suite.False(resp.Result.Win)
	suite.Equal(int64(200), resp.Result.NewBalance)
}

// 测试信任客户端状态
func (suite *GameServiceTestSuite) TestTrustClientState() {
	config := DefaultConfig()
	config.Game.TrustClientState = true
	config.Roller = game.NewFixedRoller(0)
	svc, err := NewGameService(suite.store, config, nil, zap.NewNop())
	suite.Require().NoError(err)

	_, err = svc.Login(suite.ctx, &LoginRequest{StudentID: "s1"})
	suite.Require().NoError(err)

	money := int64(3200)
	probability := 150
	resp, err := svc.Play(suite.ctx, &PlayRequest{
		StudentID:          "s1",
		CurrentMoney:       &money,
		CurrentProbability: &probability,
	})
	suite.Require().NoError(err)
	suite.True(resp.Result.Success)
	suite.True(resp.Result.Win)
	suite.Equal(int64(6000), resp.GameState.BestRecord)
}

// 测试重置
func (suite *GameServiceTestSuite) TestReset() {
	suite.login("s1", false)
	suite.setRolls(0)
	_, err := suite.play("s1")
	suite.Require().NoError(err)

	rec, err := suite.svc.Reset(suite.ctx, "s1")
	suite.Require().NoError(err)
	suite.Equal(int64(100), rec.Balance)
	suite.Equal(0, rec.TotalAttempts)
	suite.Empty(rec.RecentHistory)
	suite.Contains(suite.publisher.Events(), EventReset)

	_, err = suite.svc.Reset(suite.ctx, "ghost")
	suite.True(apperrors.Is(err, apperrors.ErrNotFound))
}

// 测试未登录学生的统计与历史返回默认值
func (suite *GameServiceTestSuite) TestReadDefaults() {
	stats, err := suite.svc.Stats(suite.ctx, "ghost")
	suite.Require().NoError(err)
	suite.Equal(0, stats.TotalAttempts)
	suite.Equal(int64(100), stats.BestRecord)

	history, err := suite.svc.History(suite.ctx, "ghost")
	suite.Require().NoError(err)
	suite.NotNil(history)
	suite.Empty(history)
}

// 测试排行榜
func (suite *GameServiceTestSuite) TestRanking() {
	suite.login("a", false)
	suite.login("b", false)
	suite.login("c", false)

	suite.setRolls(0)
	for i := 0; i < 3; i++ {
		_, err := suite.play("a")
		suite.Require().NoError(err)
	}
	_, err := suite.play("b")
	suite.Require().NoError(err)

	ranking, err := suite.svc.Ranking(suite.ctx, 0)
	suite.Require().NoError(err)
	suite.Require().Len(ranking, 2)
	suite.Equal("a", ranking[0].StudentID)
	suite.Equal(int64(800), ranking[0].BestRecord)
	suite.Equal(1, ranking[0].Rank)
	suite.Equal("b", ranking[1].StudentID)
}

// 测试补充次数
func (suite *GameServiceTestSuite) TestRefill() {
	suite.login("s1", false)
	suite.login("t1", true)

	rec, err := suite.svc.Refill(suite.ctx, "s1", 3)
	suite.Require().NoError(err)
	suite.Equal(8, rec.RemainingAttempts)

	_, err = suite.svc.Refill(suite.ctx, "s1", 0)
	suite.True(apperrors.Is(err, apperrors.ErrInvalidParam))

	suite.setRolls(99)
	for i := 0; i < 8; i++ {
		_, err := suite.play("s1")
		suite.Require().NoError(err)
	}
	n, err := suite.svc.RefillAll(suite.ctx, 0)
	suite.Require().NoError(err)
	suite.Equal(int64(1), n)

	stats, err := suite.svc.GlobalStats(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(int64(2), stats.TotalPlayers)
	suite.Equal(int64(8), stats.TotalGames)
}

// 测试教师不扣次数
func (suite *GameServiceTestSuite) TestTeacherUnlimited() {
	suite.login("t1", true)
	suite.setRolls(99)
	for i := 0; i < 50; i++ {
		resp, err := suite.play("t1")
		suite.Require().NoError(err)
		suite.Equal(999999, resp.Result.RemainingAttempts)
	}
}

// 测试同一学生并发游玩
func (suite *GameServiceTestSuite) TestConcurrentPlays() {
	suite.login("s1", true)
	suite.setRolls(99)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := suite.play("s1")
			assert.NoError(suite.T(), err)
		}()
	}
	wg.Wait()

	stats, err := suite.svc.Stats(suite.ctx, "s1")
	suite.Require().NoError(err)
	// 串行执行时成功失败严格交替
	suite.Equal(20, stats.TotalAttempts)
	suite.Equal(20, stats.SuccessCount+stats.FailureCount)
	suite.Equal(10, stats.FailureCount)

	history, err := suite.svc.History(suite.ctx, "s1")
	suite.Require().NoError(err)
	suite.Len(history, 20)
}

// 测试热更新规则
func (suite *GameServiceTestSuite) TestSetRules() {
	rules := game.DefaultRules()
	rules.StudentAttemptBudget = 3
	rules.HistoryCap = 2
	suite.Require().NoError(suite.svc.SetRules(rules))
	suite.Equal(3, suite.svc.Rules().StudentAttemptBudget)

	resp := suite.login("s1", false)
	suite.Equal(3, resp.RemainingAttempts)

	suite.setRolls(99)
	for i := 0; i < 3; i++ {
		_, err := suite.play("s1")
		suite.Require().NoError(err)
	}
	history, err := suite.svc.History(suite.ctx, "s1")
	suite.Require().NoError(err)
	suite.Len(history, 2)

	bad := game.DefaultRules()
	bad.HistoryCap = 0
	err = suite.svc.SetRules(bad)
	suite.True(apperrors.Is(err, apperrors.ErrInvalidRules))
	suite.Equal(2, suite.svc.Rules().HistoryCap)
}

// 测试健康检查
func (suite *GameServiceTestSuite) TestHealth() {
	suite.NoError(suite.svc.Health(suite.ctx))
}

func TestGameServiceMemory(t *testing.T) {
	suite.Run(t, &GameServiceTestSuite{})
}

func TestGameServiceSQLite(t *testing.T) {
	suite.Run(t, &GameServiceTestSuite{useDB: true})
}

func TestNewGameServiceInvalidRules(t *testing.T) {
	config := DefaultConfig()
	config.Game.WinThreshold = 0
	_, err := NewServices(repository.NewMemoryStore(game.DefaultRules()), config, zap.NewNop())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidRules))
}

func TestNopPublisher(t *testing.T) {
	assert.NotPanics(t, func() {
		NopPublisher{}.Publish(EventPlayResult, nil)
	})
}
