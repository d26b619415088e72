// internal/transport/http/router/admin.go
package router

import (
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"mlm-referral-backend/internal/core/auth"
	"mlm-referral-backend/internal/core/config"
	mdw "mlm-referral-backend/internal/transport/http/middleware"
)

func NewAdminEngine(l *zap.Logger, db *gorm.DB, jwter *auth.JWTer, rcfg config.Referral) *gin.Engine {
	r := gin.New()

	// 后台端不对浏览器开放，访问日志/恢复直接走 ginzap
	r.Use(
		mdw.RequestID(),
		mdw.RateLimit(200, 400),
		mdw.ConcurrencyLimit(300),
		mdw.MaxBodyBytes(16<<20),
		mdw.Timeout(10*time.Second),
		ginzap.RecoveryWithZap(l, true),
		mdw.Metrics(),
		ginzap.Ginzap(l, time.RFC3339, true),
	)

	// 健康检查
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": 1}) })

	// 管理端 v1（统一要求 admin 角色）
	admin := r.Group("/admin/v1")
	admin.Use(mdw.AuthJWT(jwter, "admin"))

	// ① 自动发现（如有）
	MountAllAdmin(admin)

	// ② 用 Action 挂载管理端接口
	MountAdminActions(admin, db, rcfg)

	return r
}
