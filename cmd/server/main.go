package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/wfunc/probability-game/internal/api"
	"github.com/wfunc/probability-game/internal/config"
	"github.com/wfunc/probability-game/internal/database"
	"github.com/wfunc/probability-game/internal/errors"
	"github.com/wfunc/probability-game/internal/logger"
	"github.com/wfunc/probability-game/internal/repository"
	"github.com/wfunc/probability-game/internal/scheduler"
	"github.com/wfunc/probability-game/internal/service"
	ws "github.com/wfunc/probability-game/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	db         *gorm.DB
	store      repository.GameStateStore
	services   *service.Services
	hub        *ws.Hub
	scheduler  *scheduler.Scheduler
	httpServer *http.Server

	// 关闭控制
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
	)

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Get()

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	setupSystem(&cfg.System)

	server := NewServer(cfg)

	if err := server.Start(); err != nil {
		logger.Error("服务器启动失败", zap.Error(err))
		server.closeComponents()
		logger.Sync()
		os.Exit(1)
	}

	// 等待退出信号
	server.WaitForShutdown()

	// 优雅关闭
	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("服务器已安全关闭")
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:    cfg,
		logger: logger.GetLogger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动概率游戏服务器...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
		zap.Stringer("rules", s.cfg.Game.Rules),
	)

	if err := s.initComponents(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "初始化组件失败")
	}

	if err := s.startServices(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "启动服务失败")
	}

	// 监听配置变化
	config.Watch(s.reloadConfig, func(err error) {
		s.logger.Error("新配置无效，继续使用旧配置", zap.Error(err))
	})

	s.logger.Info("服务器启动成功",
		zap.String("http", s.cfg.Server.Addr()),
		zap.String("database", s.cfg.Database.Driver),
	)
	return nil
}

// initComponents 初始化组件
func (s *Server) initComponents() error {
	if err := s.initStore(); err != nil {
		return err
	}

	if s.cfg.WebSocket.Enabled {
		s.hub = ws.NewHub(ws.OptionsFrom(s.cfg.WebSocket), logger.GetModuleLogger(logger.ModuleWebSocket))
	}

	svcConfig := service.ConfigFrom(s.cfg)
	if s.hub != nil {
		svcConfig.Publisher = s.hub
	}
	services, err := service.NewServices(s.store, svcConfig, logger.GetModuleLogger(logger.ModuleGame))
	if err != nil {
		return err
	}
	s.services = services

	if s.cfg.Scheduler.Enabled {
		sched, err := scheduler.New(s.cfg.Scheduler, services.Game, logger.GetModuleLogger(logger.ModuleScheduler))
		if err != nil {
			return err
		}
		s.scheduler = sched
	}

	router := api.NewRouter(services, s.hub, s.cfg, logger.GetModuleLogger(logger.ModuleHTTP))
	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      router.GetEngine(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.logger.Info("所有组件初始化完成")
	return nil
}

// initStore 初始化游戏状态存储
func (s *Server) initStore() error {
	if s.cfg.Database.Driver == "memory" {
		s.logger.Warn("使用内存存储，重启后数据丢失")
		s.store = repository.NewMemoryStore(s.cfg.Game.Rules)
		return nil
	}

	if err := database.Init(&s.cfg.Database); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库连接失败")
	}
	s.db = database.DB

	if s.cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(s.db); err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}

	s.store = repository.NewGameStateRepository(s.db, s.cfg.Game.Rules)
	return nil
}

// startServices 启动服务
func (s *Server) startServices() error {
	if s.hub != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.hub.Run(s.ctx)
		}()
	}

	if s.scheduler != nil {
		s.scheduler.Start()
	}

	// 先监听端口，端口被占用时直接返回错误
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
		}
	}()

	return nil
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGINT,  // Ctrl+C
		syscall.SIGTERM, // kill命令
		syscall.SIGQUIT, // Ctrl+\
	)

	sig := <-sigCh
	s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止接收新请求，等待进行中的请求完成
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP服务关闭超时", zap.Error(err))
	}

	// 取消主上下文，触发所有goroutine退出
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("所有服务已正常关闭")
	case <-shutdownCtx.Done():
		s.logger.Warn("关闭超时，强制退出")
		return errors.New(errors.ErrTimeout, "关闭超时")
	}

	s.closeComponents()

	if err := logger.Sync(); err != nil {
		fmt.Printf("同步日志失败: %v\n", err)
	}
	return nil
}

// closeComponents 关闭组件
func (s *Server) closeComponents() {
	if s.scheduler != nil {
		if err := s.scheduler.Shutdown(); err != nil {
			s.logger.Error("关闭定时任务失败", zap.Error(err))
		}
	}

	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("关闭数据库失败", zap.Error(err))
		}
	}
}

// reloadConfig 热更新游戏规则与日志级别，其他配置需重启生效
// 在监听协程中执行，不修改 s.cfg
func (s *Server) reloadConfig(newCfg *config.Config) {
	if err := s.services.Game.SetRules(newCfg.Game.Rules); err != nil {
		s.logger.Error("应用新规则失败", zap.Error(err))
		return
	}
	logger.SetLevel(newCfg.Log.Level)
	s.logger.Info("配置重新加载完成", zap.Stringer("rules", newCfg.Game.Rules))
}

// setupSystem 设置系统参数
func setupSystem(cfg *config.SystemConfig) {
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
			time.Local = loc
		}
	}

	if cfg.MaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcs)
	}
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("概率游戏服务器\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("概率游戏服务器")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  probability-game-server [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  PROB_GAME_SERVER_PORT        监听端口")
	fmt.Println("  PROB_GAME_DATABASE_DRIVER    数据库驱动 (sqlite/postgres/mysql/memory)")
	fmt.Println("  PROB_GAME_DATABASE_DSN       数据库连接串")
	fmt.Println("  PROB_GAME_SECURITY_JWT_SECRET JWT签名密钥")
	fmt.Println("  PORT, DB_HOST, DB_USER, DB_PASSWORD, DB_NAME, DB_PORT, DB_SSL  兼容旧部署")
}
