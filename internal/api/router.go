package api

import (
	"github.com/gin-gonic/gin"
	"github.com/wfunc/probability-game/internal/config"
	apperrors "github.com/wfunc/probability-game/internal/errors"
	"github.com/wfunc/probability-game/internal/middleware"
	"github.com/wfunc/probability-game/internal/service"
	"github.com/wfunc/probability-game/internal/utils"
	ws "github.com/wfunc/probability-game/internal/websocket"
	"go.uber.org/zap"
)

// Router API路由器
type Router struct {
	engine         *gin.Engine
	cfg            *config.Config
	gameHandler    *GameHandler
	wsHandler      *WebSocketHandler
	authMiddleware *middleware.AuthMiddleware
	log            *zap.Logger
}

// NewRouter 创建路由器，hub 为空时不提供事件流
func NewRouter(services *service.Services, hub *ws.Hub, cfg *config.Config, log *zap.Logger) *Router {
	gin.SetMode(ginMode(cfg.Server.Mode))
	// 规则缺失时所有带 studentid 标签的绑定都会 panic，启动时就暴露
	if err := registerValidators(); err != nil {
		panic(err)
	}

	// 创建Gin引擎
	engine := gin.New()

	// 全局中间件
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())
	engine.Use(middleware.CORS(cfg.Server.CORSOrigins))

	router := &Router{
		engine:         engine,
		cfg:            cfg,
		gameHandler:    NewGameHandler(services.Game),
		authMiddleware: middleware.NewAuthMiddleware(services.JWTManager),
		log:            log,
	}
	if hub != nil && cfg.WebSocket.Enabled {
		router.wsHandler = NewWebSocketHandler(hub, cfg.WebSocket, cfg.Server.CORSOrigins, log)
	}

	// 设置路由
	router.setupRoutes()

	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 旧版前端使用 /api 前缀
	r.registerGameRoutes(&r.engine.RouterGroup)
	r.registerGameRoutes(r.engine.Group("/api"))

	if r.wsHandler != nil {
		r.engine.GET(r.cfg.WebSocket.Path, r.wsHandler.Events)
	}

	registerOpenAPIRoutes(r.engine)
	registerSwaggerRoutes(r.engine)

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		respondError(c, apperrors.New(apperrors.ErrNotFound, "接口不存在: "+c.Request.URL.Path))
	})
}

func (r *Router) registerGameRoutes(group *gin.RouterGroup) {
	h := r.gameHandler

	group.GET("/health", h.Health)
	group.POST("/login", h.Login)
	group.POST("/play", h.Play)
	group.GET("/stats/:studentId", h.Stats)
	group.GET("/history/:studentId", h.History)
	group.GET("/ranking", h.Ranking)
	group.POST("/reset/:studentId", h.Reset)

	// 管理员路由（需要教师权限）
	admin := group.Group("/admin")
	admin.Use(r.authMiddleware.RequireRole(utils.RoleTeacher))
	{
		admin.POST("/refill/:studentId", h.Refill)
		admin.GET("/stats", h.GlobalStats)
		if r.wsHandler != nil {
			admin.GET("/online", r.wsHandler.OnlineCount)
		}
	}
}

// ginMode 配置中的运行模式映射到 gin 模式
func ginMode(mode string) string {
	switch mode {
	case "release", "production":
		return gin.ReleaseMode
	case "test":
		return gin.TestMode
	default:
		return gin.DebugMode
	}
}

// Run 运行服务器
func (r *Router) Run(addr string) error {
	r.log.Info("Starting API server", zap.String("address", addr))
	return r.engine.Run(addr)
}

// GetEngine 获取Gin引擎
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
