//go:build !swagger

package api

import "github.com/gin-gonic/gin"

// registerSwaggerRoutes 未启用 swagger 标签时不注册
func registerSwaggerRoutes(*gin.Engine) {}
