package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/probability-game/internal/errors"
	"github.com/wfunc/probability-game/internal/utils"
)

// 上下文键
const (
	ContextStudentID = "studentID"
	ContextRole      = "role"
	ContextToken     = "token"
)

// TokenValidator 令牌校验
type TokenValidator interface {
	ValidateToken(token string) (*utils.JWTClaims, error)
}

// AuthMiddleware JWT认证中间件
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
	}
}

// abortWith 以统一错误格式中断请求
func abortWith(c *gin.Context, err *apperrors.AppError) {
	c.AbortWithStatusJSON(err.HTTPStatus(), apperrors.NewErrorResponse(err, GetRequestID(c)))
}

// authenticate 校验令牌并写入上下文
func (m *AuthMiddleware) authenticate(c *gin.Context) (*utils.JWTClaims, bool) {
	token := m.extractToken(c)
	if token == "" {
		abortWith(c, apperrors.New(apperrors.ErrAuthentication, "缺少认证令牌"))
		return nil, false
	}

	claims, err := m.validator.ValidateToken(token)
	if err != nil {
		code := apperrors.ErrTokenInvalid
		if errors.Is(err, utils.ErrExpiredToken) {
			code = apperrors.ErrTokenExpired
		}
		abortWith(c, apperrors.Wrap(err, code))
		return nil, false
	}

	// 将用户信息存入上下文
	c.Set(ContextStudentID, claims.StudentID)
	c.Set(ContextRole, claims.Role)
	c.Set(ContextToken, token)
	return claims, true
}

// RequireAuth 需要认证的中间件
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := m.authenticate(c); !ok {
			return
		}
		c.Next()
	}
}

// RequireRole 需要特定角色的中间件
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := m.authenticate(c)
		if !ok {
			return
		}

		for _, role := range roles {
			if claims.Role == role {
				c.Next()
				return
			}
		}
		abortWith(c, apperrors.New(apperrors.ErrAuthorization, "需要角色: "+strings.Join(roles, ",")))
	}
}

// extractToken 从请求中提取令牌
func (m *AuthMiddleware) extractToken(c *gin.Context) string {
	// 1. Authorization: Bearer
	if bearer := c.GetHeader("Authorization"); bearer != "" {
		parts := strings.SplitN(bearer, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	// 2. X-Access-Token
	if token := c.GetHeader("X-Access-Token"); token != "" {
		return token
	}

	// 3. 查询参数，浏览器 websocket 无法设置请求头
	if c.Request.Method == http.MethodGet {
		return c.Query("token")
	}
	return ""
}

// GetStudentID 从上下文获取学号
func GetStudentID(c *gin.Context) (string, bool) {
	id := c.GetString(ContextStudentID)
	return id, id != ""
}

// GetRole 从上下文获取角色
func GetRole(c *gin.Context) (string, bool) {
	role := c.GetString(ContextRole)
	return role, role != ""
}

// HasRole 检查是否有特定角色
func HasRole(c *gin.Context, role string) bool {
	r, ok := GetRole(c)
	return ok && r == role
}
