package service

import (
	"time"

	"github.com/wfunc/probability-game/internal/config"
	"github.com/wfunc/probability-game/internal/game"
	"github.com/wfunc/probability-game/internal/repository"
	"github.com/wfunc/probability-game/internal/utils"
	"go.uber.org/zap"
)

// Config 服务配置
type Config struct {
	JWTSecret   string
	JWTIssuer   string
	TokenExpiry time.Duration
	Game        config.GameConfig
	Roller      game.Roller
	Publisher   Publisher
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		JWTSecret:   "change-me-in-production",
		JWTIssuer:   "probability-game",
		TokenExpiry: 24 * time.Hour,
		Game: config.GameConfig{
			Rules:      game.DefaultRules(),
			TeacherIDs: []string{"teacher"},
		},
	}
}

// ConfigFrom 从全局配置构造服务配置
func ConfigFrom(cfg *config.Config) *Config {
	c := DefaultConfig()
	c.JWTSecret = cfg.Security.JWT.Secret
	if cfg.Security.JWT.Issuer != "" {
		c.JWTIssuer = cfg.Security.JWT.Issuer
	}
	if cfg.Security.JWT.ExpireHours > 0 {
		c.TokenExpiry = time.Duration(cfg.Security.JWT.ExpireHours) * time.Hour
	}
	c.Game = cfg.Game
	if cfg.Game.RollerSeed != 0 {
		c.Roller = game.NewMathRoller(cfg.Game.RollerSeed)
	}
	return c
}

// Services 服务集合
type Services struct {
	Game       GameService
	JWTManager *utils.JWTManager
}

// NewServices 创建服务集合
func NewServices(store repository.GameStateStore, config *Config, log *zap.Logger) (*Services, error) {
	// 初始化JWT管理器
	jwtManager := utils.NewJWTManager(
		config.JWTSecret,
		config.JWTIssuer,
		config.TokenExpiry,
	)

	gameService, err := NewGameService(store, config, jwtManager, log)
	if err != nil {
		return nil, err
	}

	return &Services{
		Game:       gameService,
		JWTManager: jwtManager,
	}, nil
}
