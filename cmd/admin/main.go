package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"mlm-referral-backend/internal/core/auth"
	"mlm-referral-backend/internal/core/config"
	"mlm-referral-backend/internal/core/database"
	"mlm-referral-backend/internal/core/logger"
	"mlm-referral-backend/internal/core/server"
	"mlm-referral-backend/internal/domain"
	"mlm-referral-backend/internal/repo"
	"mlm-referral-backend/internal/transport/http/router"
	"mlm-referral-backend/pkg/utils"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load(os.Getenv("CONFIG_PATH"))
	log, cleanup := newLogger(cfg)
	defer cleanup()

	// DB 连接（失败直接 Fatal）
	db := mustOpenDB(cfg, log)
	log.Info("database connected", zap.String("driver", cfg.DB.Driver))

	if cfg.DB.AutoMigrate {
		if err := db.AutoMigrate(&domain.Node{}); err != nil {
			log.Fatal("automigrate failed", zap.Error(err))
		}
	}

	// 首个 admin 账号：ADMIN_EMAIL/ADMIN_PASSWORD 两个环境变量都给了才会建
	bootstrapAdmin(db, log)

	// 依赖
	jwter := &auth.JWTer{
		Secret: []byte(cfg.JWT.Secret),
		Issuer: cfg.JWT.Issuer,
		TTL:    time.Duration(cfg.JWT.AccessTokenTTLMin) * time.Minute,
	}

	// 路由（后台端）
	r := router.NewAdminEngine(log, db, jwter, cfg.Referral)

	// HTTP Server
	addr := server.Addr(cfg.App.Admin.Host, cfg.App.Admin.Port)
	srv := server.BuildServer(addr, r, 5*time.Second, 10*time.Second, 60*time.Second)

	// 启动前打印可点击地址
	host4human := cfg.App.Admin.Host
	if host4human == "" || host4human == "0.0.0.0" {
		host4human = "127.0.0.1"
	}
	baseURL := "http://" + host4human + ":" + fmt.Sprint(cfg.App.Admin.Port)
	log.Info("admin api starting",
		zap.String("addr", addr),
		zap.String("open", baseURL),
		zap.String("health", baseURL+"/health"),
		zap.String("admin_v1", baseURL+"/admin/v1"),
	)

	// 异步启动；失败立即退出
	go func() {
		if err := server.StartHTTP(srv, log); err != nil && err != http.ErrServerClosed {
			log.Fatal("admin api start FAILED", zap.Error(err))
		}
	}()
	log.Info("admin api started SUCCESS")

	// 关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Info("admin api stopped gracefully")
}

// bootstrapAdmin：admin 不走公开注册（register 只放行 referrer/client），
// 库里一个 admin 都没有时用环境变量种一个根管理员
func bootstrapAdmin(db *gorm.DB, l *zap.Logger) {
	email := os.Getenv("ADMIN_EMAIL")
	pass := os.Getenv("ADMIN_PASSWORD")
	if email == "" || pass == "" {
		return
	}

	var count int64
	if err := db.Model(&domain.Node{}).Where("role = ?", domain.RoleAdmin).Count(&count).Error; err != nil {
		l.Warn("admin bootstrap check failed", zap.Error(err))
		return
	}
	if count > 0 {
		return
	}

	store := repo.NewNodeRepo(db)
	admin := &domain.Node{
		ID:           utils.NewID(),
		Email:        email,
		Name:         "admin",
		PasswordHash: utils.HashPassword(pass),
		Role:         domain.RoleAdmin,
		Status:       domain.StatusActive,
	}
	if err := store.Create(context.Background(), admin); err != nil {
		l.Warn("admin bootstrap failed", zap.Error(err))
		return
	}
	l.Info("admin account bootstrapped", zap.String("email", email))
}

// newLogger 配置了 log.file 就带切割写文件，否则只打 stdout
func newLogger(cfg *config.Config) (*zap.Logger, func()) {
	if cfg.Log.File != "" {
		return logger.NewWithRotate(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File, 100, 7, 30, true)
	}
	return logger.New(cfg.Log.Level, cfg.Log.JSON)
}

func mustOpenDB(cfg *config.Config, l *zap.Logger) *gorm.DB {
	db, err := database.NewGorm(database.Opts{
		Driver:             cfg.DB.Driver,
		DSN:                cfg.DB.DSN,
		Username:           cfg.DB.Username,
		Password:           cfg.DB.Password,
		MaxOpenConns:       cfg.DB.MaxOpenConns,
		MaxIdleConns:       cfg.DB.MaxIdleConns,
		ConnMaxLifetimeMin: cfg.DB.ConnMaxLifetimeMin,
		LogLevel:           cfg.DB.LogLevel,
	})
	if err != nil {
		l.Fatal("db open", zap.Error(err))
	}
	return db
}
