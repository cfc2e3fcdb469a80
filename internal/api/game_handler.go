package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/probability-game/internal/errors"
	"github.com/wfunc/probability-game/internal/service"
)

// GameHandler 游戏处理器
type GameHandler struct {
	gameService service.GameService
}

// NewGameHandler 创建游戏处理器
func NewGameHandler(gameService service.GameService) *GameHandler {
	return &GameHandler{gameService: gameService}
}

// studentIDParam 读取并校验路径中的学号
func studentIDParam(c *gin.Context) (string, bool) {
	id := c.Param("studentId")
	if err := validateStudentID(id); err != nil {
		invalidParam(c, err)
		return "", false
	}
	return id, true
}

// Login 登录
// @Summary 学生登录
// @Tags Game
// @Accept json
// @Produce json
// @Param request body service.LoginRequest true "登录信息"
// @Router /api/login [post]
func (h *GameHandler) Login(c *gin.Context) {
	var req service.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidParam(c, err)
		return
	}

	resp, err := h.gameService.Login(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, gin.H{
		"isTeacher":         resp.IsTeacher,
		"remainingAttempts": resp.RemainingAttempts,
		"gameState":         resp.GameState,
		"role":              resp.Role,
		"token":             resp.Token,
		"expiresIn":         resp.ExpiresIn,
	})
}

// Play 游玩一次
// @Summary 游玩一次
// @Tags Game
// @Accept json
// @Produce json
// @Param request body service.PlayRequest true "游玩请求"
// @Router /api/play [post]
func (h *GameHandler) Play(c *gin.Context) {
	var req service.PlayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidParam(c, err)
		return
	}

	resp, err := h.gameService.Play(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, gin.H{"result": resp.Result})
}

// Stats 个人统计
func (h *GameHandler) Stats(c *gin.Context) {
	id, ok := studentIDParam(c)
	if !ok {
		return
	}
	stats, err := h.gameService.Stats(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"stats": stats})
}

// History 最近记录
func (h *GameHandler) History(c *gin.Context) {
	id, ok := studentIDParam(c)
	if !ok {
		return
	}
	history, err := h.gameService.History(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"history": history})
}

// Ranking 排行榜
func (h *GameHandler) Ranking(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, apperrors.Newf(apperrors.ErrInvalidParam, "limit 必须是整数: %s", raw))
			return
		}
		limit = n
	}

	ranking, err := h.gameService.Ranking(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"ranking": ranking})
}

// Reset 重置个人状态
func (h *GameHandler) Reset(c *gin.Context) {
	id, ok := studentIDParam(c)
	if !ok {
		return
	}
	if _, err := h.gameService.Reset(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, nil)
}

// RefillRequest 补充次数请求
type RefillRequest struct {
	Attempts int `json:"attempts" binding:"required,min=1,max=1000"`
}

// Refill 补充次数（教师）
func (h *GameHandler) Refill(c *gin.Context) {
	id, ok := studentIDParam(c)
	if !ok {
		return
	}
	var req RefillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidParam(c, err)
		return
	}

	rec, err := h.gameService.Refill(c.Request.Context(), id, req.Attempts)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"gameState": rec})
}

// GlobalStats 全局统计（教师）
func (h *GameHandler) GlobalStats(c *gin.Context) {
	stats, err := h.gameService.GlobalStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"stats": stats})
}

// Health 健康检查
func (h *GameHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.gameService.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success":  false,
			"status":   "unhealthy",
			"database": "disconnected",
			"message":  err.Error(),
		})
		return
	}
	respondOK(c, gin.H{
		"status":   "healthy",
		"database": "connected",
	})
}
