package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/probability-game/internal/config"
	apperrors "github.com/wfunc/probability-game/internal/errors"
	"github.com/wfunc/probability-game/internal/game"
	"github.com/wfunc/probability-game/internal/repository"
	"github.com/wfunc/probability-game/internal/service"
	ws "github.com/wfunc/probability-game/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// APITestSuite HTTP 接口测试套件
type APITestSuite struct {
	suite.Suite
	db     *gorm.DB
	roller *game.FixedRoller
	engine *gin.Engine
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Mode: "test", CORSOrigins: []string{"*"}},
		WebSocket: config.WebSocketConfig{
			Enabled: true,
			Path:    "/ws/events",
		},
		Game: config.GameConfig{
			Rules:      game.DefaultRules(),
			TeacherIDs: []string{"teacher"},
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: "test-secret", Issuer: "probability-game", ExpireHours: 1},
		},
	}
}

func (suite *APITestSuite) SetupTest() {
	suite.db = repository.SetupTestDB()
	cfg := testConfig()

	suite.roller = game.NewFixedRoller(0)
	svcConfig := service.ConfigFrom(cfg)
	svcConfig.Roller = suite.roller

	store := repository.NewGameStateRepository(suite.db, cfg.Game.Rules)
	services, err := service.NewServices(store, svcConfig, zap.NewNop())
	suite.Require().NoError(err)

	suite.engine = NewRouter(services, nil, cfg, zap.NewNop()).GetEngine()
}

func (suite *APITestSuite) TearDownTest() {
	repository.CleanupTestDB(suite.db)
}

func (suite *APITestSuite) do(method, path string, body interface{}, token string) (*httptest.ResponseRecorder, map[string]interface{}) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		suite.Require().NoError(err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	suite.engine.ServeHTTP(w, req)

	var resp map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func (suite *APITestSuite) login(id string, teacher bool) map[string]interface{} {
	w, resp := suite.do(http.MethodPost, "/api/login", gin.H{"studentId": id, "name": "学生" + id, "isTeacher": teacher}, "")
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	suite.Require().Equal(true, resp["success"])
	return resp
}

// 测试健康检查
func (suite *APITestSuite) TestHealth() {
	for _, path := range []string{"/health", "/api/health"} {
		w, resp := suite.do(http.MethodGet, path, nil, "")
		suite.Equal(http.StatusOK, w.Code)
		suite.Equal("healthy", resp["status"])
		suite.Equal("connected", resp["database"])
	}
}

// 测试登录
func (suite *APITestSuite) TestLogin() {
	resp := suite.login("s1", false)
	suite.Equal(false, resp["isTeacher"])
	suite.Equal(float64(5), resp["remainingAttempts"])
	suite.NotEmpty(resp["token"])

	state := resp["gameState"].(map[string]interface{})
	suite.Equal("s1", state["studentId"])
	suite.Equal(float64(100), state["balance"])
	suite.Equal(float64(100), state["successProbability"])
}

// 测试登录参数校验
func (suite *APITestSuite) TestLoginValidation() {
	w, resp := suite.do(http.MethodPost, "/login", gin.H{"name": "无学号"}, "")
	suite.Equal(http.StatusBadRequest, w.Code)
	suite.Equal(false, resp["success"])
	suite.Equal(float64(apperrors.ErrInvalidParam), resp["code"])

	w, _ = suite.do(http.MethodPost, "/login", gin.H{"studentId": "bad id!"}, "")
	suite.Equal(http.StatusBadRequest, w.Code)
}

// 测试游玩流程
func (suite *APITestSuite) TestPlayFlow() {
	suite.login("s1", false)

	suite.roller.Reset(0)
	w, resp := suite.do(http.MethodPost, "/api/play", gin.H{"studentId": "s1", "currentBalance": 100, "currentProbability": 100}, "")
	suite.Require().Equal(http.StatusOK, w.Code)
	result := resp["result"].(map[string]interface{})
	suite.Equal(true, result["success"])
	suite.Equal(false, result["win"])
	suite.Equal(float64(200), result["newBalance"])
	suite.Equal(float64(50), result["newProbability"])
	suite.Equal(float64(5), result["remainingAttempts"])

	suite.roller.Reset(99)
	_, resp = suite.do(http.MethodPost, "/play", gin.H{"studentId": "s1"}, "")
	result = resp["result"].(map[string]interface{})
	suite.Equal(false, result["success"])
	suite.Equal(float64(100), result["newBalance"])
	suite.Equal(float64(4), result["remainingAttempts"])

	_, resp = suite.do(http.MethodGet, "/api/stats/s1", nil, "")
	stats := resp["stats"].(map[string]interface{})
	suite.Equal(float64(2), stats["totalAttempts"])
	suite.Equal(float64(200), stats["bestRecord"])

	_, resp = suite.do(http.MethodGet, "/api/history/s1", nil, "")
	suite.Len(resp["history"], 2)
}

// 测试次数用完返回200和success=false
func (suite *APITestSuite) TestPlayNoAttempts() {
	suite.login("s1", false)
	suite.roller.Reset(99)
	for i := 0; i < 10; i++ {
		w, resp := suite.do(http.MethodPost, "/play", gin.H{"studentId": "s1"}, "")
		suite.Require().Equal(http.StatusOK, w.Code)
		suite.Require().Equal(true, resp["success"], "play %d", i)
	}

	w, resp := suite.do(http.MethodPost, "/play", gin.H{"studentId": "s1"}, "")
	suite.Equal(http.StatusOK, w.Code)
	suite.Equal(false, resp["success"])
	suite.Equal(float64(apperrors.ErrNoAttemptsRemaining), resp["code"])
	suite.NotEmpty(resp["message"])
}

// 测试未登录游玩
func (suite *APITestSuite) TestPlayUnknown() {
	w, resp := suite.do(http.MethodPost, "/play", gin.H{"studentId": "ghost"}, "")
	suite.Equal(http.StatusNotFound, w.Code)
	suite.Equal(false, resp["success"])
}

// 测试非法概率
func (suite *APITestSuite) TestPlayValidation() {
	suite.login("s1", false)
	w, _ := suite.do(http.MethodPost, "/play", gin.H{"studentId": "s1", "currentProbability": 101}, "")
	suite.Equal(http.StatusBadRequest, w.Code)
}

// 测试未登录学生的统计和历史
func (suite *APITestSuite) TestReadDefaults() {
	_, resp := suite.do(http.MethodGet, "/stats/nobody", nil, "")
	stats := resp["stats"].(map[string]interface{})
	suite.Equal(float64(0), stats["totalAttempts"])
	suite.Equal(float64(100), stats["bestRecord"])

	_, resp = suite.do(http.MethodGet, "/history/nobody", nil, "")
	suite.Equal([]interface{}{}, resp["history"])
}

// 测试排行榜
func (suite *APITestSuite) TestRanking() {
	suite.login("a", false)
	suite.login("b", false)
	suite.roller.Reset(0)
	suite.do(http.MethodPost, "/play", gin.H{"studentId": "a"}, "")
	suite.do(http.MethodPost, "/play", gin.H{"studentId": "a"}, "")
	suite.do(http.MethodPost, "/play", gin.H{"studentId": "b"}, "")

	_, resp := suite.do(http.MethodGet, "/api/ranking?limit=1", nil, "")
	ranking := resp["ranking"].([]interface{})
	suite.Require().Len(ranking, 1)
	first := ranking[0].(map[string]interface{})
	suite.Equal("a", first["studentId"])
	suite.Equal("学生a", first["name"])
	suite.Equal(float64(400), first["bestRecord"])

	w, _ := suite.do(http.MethodGet, "/ranking?limit=abc", nil, "")
	suite.Equal(http.StatusBadRequest, w.Code)
}

// 测试重置
func (suite *APITestSuite) TestReset() {
	suite.login("s1", false)
	suite.roller.Reset(0)
	suite.do(http.MethodPost, "/play", gin.H{"studentId": "s1"}, "")

	w, resp := suite.do(http.MethodPost, "/api/reset/s1", nil, "")
	suite.Equal(http.StatusOK, w.Code)
	suite.Equal(true, resp["success"])

	_, resp = suite.do(http.MethodGet, "/stats/s1", nil, "")
	stats := resp["stats"].(map[string]interface{})
	suite.Equal(float64(0), stats["totalAttempts"])

	w, _ = suite.do(http.MethodPost, "/reset/ghost", nil, "")
	suite.Equal(http.StatusNotFound, w.Code)
}

// 测试管理接口权限
func (suite *APITestSuite) TestAdminRoutes() {
	student := suite.login("s1", false)["token"].(string)
	teacher := suite.login("teacher", false)["token"].(string)

	w, _ := suite.do(http.MethodGet, "/api/admin/stats", nil, "")
	suite.Equal(http.StatusUnauthorized, w.Code)

	w, _ = suite.do(http.MethodGet, "/api/admin/stats", nil, student)
	suite.Equal(http.StatusForbidden, w.Code)

	w, resp := suite.do(http.MethodGet, "/api/admin/stats", nil, teacher)
	suite.Equal(http.StatusOK, w.Code)
	stats := resp["stats"].(map[string]interface{})
	suite.Equal(float64(2), stats["totalPlayers"])

	w, resp = suite.do(http.MethodPost, "/admin/refill/s1", gin.H{"attempts": 3}, teacher)
	suite.Equal(http.StatusOK, w.Code)
	state := resp["gameState"].(map[string]interface{})
	suite.Equal(float64(8), state["remainingAttempts"])

	w, _ = suite.do(http.MethodPost, "/admin/refill/s1", gin.H{"attempts": 0}, teacher)
	suite.Equal(http.StatusBadRequest, w.Code)

	w, _ = suite.do(http.MethodPost, "/admin/refill/ghost", gin.H{"attempts": 1}, teacher)
	suite.Equal(http.StatusNotFound, w.Code)
}

// 测试自报教师身份无法访问管理接口
func (suite *APITestSuite) TestAdminRoutesRejectSelfDeclaredTeacher() {
	suite.login("victim", false)
	resp := suite.login("random_kid", true)
	suite.Equal(true, resp["isTeacher"])
	suite.Equal("student", resp["role"])
	token := resp["token"].(string)

	w, _ := suite.do(http.MethodPost, "/admin/refill/victim", gin.H{"attempts": 1000}, token)
	suite.Equal(http.StatusForbidden, w.Code)

	w, _ = suite.do(http.MethodGet, "/api/admin/stats", nil, token)
	suite.Equal(http.StatusForbidden, w.Code)

	rec, err := repository.NewGameStateRepository(suite.db, game.DefaultRules()).Find(context.Background(), "victim")
	suite.Require().NoError(err)
	suite.Equal(5, rec.RemainingAttempts)
}

// 测试 OpenAPI 文档与404
func (suite *APITestSuite) TestOpenAPIAndNoRoute() {
	w, _ := suite.do(http.MethodGet, "/openapi", nil, "")
	suite.Equal(http.StatusOK, w.Code)
	suite.Contains(w.Body.String(), "openapi: 3.0.3")

	w, resp := suite.do(http.MethodGet, "/nope", nil, "")
	suite.Equal(http.StatusNotFound, w.Code)
	suite.Equal(false, resp["success"])
	suite.NotEmpty(w.Header().Get("X-Request-ID"))
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}

// TestEventsWebSocket 游玩后推送事件
func TestEventsWebSocket(t *testing.T) {
	db := repository.SetupTestDB()
	defer repository.CleanupTestDB(db)

	cfg := testConfig()
	svcConfig := service.ConfigFrom(cfg)
	svcConfig.Roller = game.NewFixedRoller(0)

	hub := ws.NewHub(ws.DefaultOptions(), zap.NewNop())
	svcConfig.Publisher = hub
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		<-done
	}()
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	store := repository.NewGameStateRepository(db, cfg.Game.Rules)
	services, err := service.NewServices(store, svcConfig, zap.NewNop())
	require.NoError(t, err)

	server := httptest.NewServer(NewRouter(services, hub, cfg, zap.NewNop()).GetEngine())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/events?studentId=s1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() *ws.Message {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg ws.Message
		require.NoError(t, conn.ReadJSON(&msg))
		return &msg
	}
	assert.Equal(t, ws.MessageTypeConnected, read().Type)

	_, err = services.Game.Login(ctx, &service.LoginRequest{StudentID: "s1"})
	require.NoError(t, err)
	_, err = services.Game.Play(ctx, &service.PlayRequest{StudentID: "s1"})
	require.NoError(t, err)

	msg := read()
	assert.Equal(t, service.EventPlayResult, msg.Type)
	assert.Equal(t, "s1", msg.StudentID)
	assert.Equal(t, service.EventRankingUpdate, read().Type)
}
