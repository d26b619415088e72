package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"mlm-referral-backend/internal/core/auth"
	"mlm-referral-backend/internal/core/cache"
	"mlm-referral-backend/internal/core/config"
	"mlm-referral-backend/internal/domain"
	"mlm-referral-backend/internal/feature/catalog"
	"mlm-referral-backend/internal/feature/payout"
	"mlm-referral-backend/internal/feature/referral"
	"mlm-referral-backend/internal/repo"
	httpez "mlm-referral-backend/internal/transport/http/ez"
	mdw "mlm-referral-backend/internal/transport/http/middleware"
	"mlm-referral-backend/pkg/utils"
)

func NewAPIEngine(l *zap.Logger, db *gorm.DB, jwter *auth.JWTer, kv *cache.Cache, rcfg config.Referral) *gin.Engine {
	r := gin.New()

	// 中间件（用户端对浏览器开放，带 CORS）
	r.Use(
		cors.Default(),
		mdw.RequestID(),
		mdw.RateLimit(200, 400),
		mdw.ConcurrencyLimit(300),
		mdw.MaxBodyBytes(16<<20),
		mdw.Timeout(10*time.Second),
		mdw.SimpleRecovery(),
		mdw.Metrics(),
		mdw.AccessLog(l),
	)

	// 健康检查
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": 1}) })

	// 前缀
	api := r.Group("/api/v1")

	// 统一注册器
	MountAllAPI(api)

	// 鉴权分组
	authUser := api.Group("")
	authUser.Use(mdw.AuthJWT(jwter, ""))

	mountAuthActions(api, authUser, db, jwter, l, rcfg)
	mountReferralActions(authUser, db, kv, rcfg)
	mountCatalogActions(api)

	// 提现账户走通用 CRUD（按 OwnerID 归属当前用户）
	httpez.Crud[payout.PayoutAccount](httpez.CrudConfig[payout.PayoutAccount]{
		DB:    db,
		Group: authUser,
		Path:  "/payout-accounts",
		New:   func() *payout.PayoutAccount { return &payout.PayoutAccount{} },
	})

	return r
}

// ---------- 注册 / 登录 / 我的资料 ----------

func mountAuthActions(api, authUser *gin.RouterGroup, db *gorm.DB, jwter *auth.JWTer, l *zap.Logger, rcfg config.Referral) {
	store := repo.NewNodeRepo(db)
	codes := referral.NewCodeGenerator(store, rcfg.CodeRetries)
	linker := referral.NewLinker(store, codes, l)

	ezPublic := httpez.New(api)

	// /auth/register：可带 sponsorCode 挂到上级名下
	type registerIn struct {
		Email       string `json:"email"       binding:"required,email"`
		Password    string `json:"password"    binding:"required,min=6"`
		Name        string `json:"name"        binding:"omitempty,max=64"`
		Role        string `json:"role"        binding:"omitempty,oneof=referrer client"`
		SponsorCode string `json:"sponsorCode" binding:"omitempty,max=32"`
	}
	type registerOut struct {
		Token string `json:"token"`
		User  gin.H  `json:"user"`
	}
	httpez.RegisterAction[registerIn, registerOut](ezPublic, db, httpez.Action[registerIn, registerOut]{
		Method: http.MethodPost,
		Path:   "/auth/register",
		Binder: httpez.BindJSON,
		Handler: func(c *gin.Context, tx *gorm.DB, in *registerIn) (registerOut, error) {
			email := strings.TrimSpace(in.Email)
			name := strings.TrimSpace(in.Name)
			if name == "" {
				if at := strings.IndexByte(email, '@'); at > 0 {
					name = email[:at]
				} else {
					name = "user"
				}
			}

			node, err := linker.Register(c, referral.Draft{
				Email:        email,
				Name:         name,
				PasswordHash: utils.HashPassword(in.Password),
				Role:         in.Role,
			}, strings.TrimSpace(in.SponsorCode))
			if err != nil {
				if isDupKey(err) {
					return registerOut{}, httpez.Conflict("email already registered")
				}
				return registerOut{}, mapCoreErr(err)
			}

			tok, e := jwter.Issue(node.ID, node.Role)
			if e != nil || tok == "" {
				return registerOut{}, httpez.Internal("issue token failed", e)
			}
			return registerOut{Token: tok, User: nodeBrief(node)}, nil
		},
	})

	// /auth/login：密码校验 + 状态闸门
	type loginIn struct {
		Email    string `json:"email"    binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	type loginOut struct {
		Token string `json:"token"`
		User  gin.H  `json:"user"`
	}
	httpez.RegisterAction[loginIn, loginOut](ezPublic, db, httpez.Action[loginIn, loginOut]{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Binder: httpez.BindJSON,
		Handler: func(c *gin.Context, tx *gorm.DB, in *loginIn) (loginOut, error) {
			email := strings.TrimSpace(in.Email)

			var n domain.Node
			err := tx.Where("email = ?", email).First(&n).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return loginOut{}, httpez.Unauthorized("invalid credentials")
			}
			if err != nil {
				return loginOut{}, httpez.Internal("db error", err)
			}
			if !utils.CheckPassword(in.Password, n.PasswordHash) {
				return loginOut{}, httpez.Unauthorized("invalid credentials")
			}
			if n.Status != domain.StatusActive {
				return loginOut{}, httpez.Forbidden("account " + n.Status)
			}
			tok, e := jwter.Issue(n.ID, n.Role)
			if e != nil || tok == "" {
				return loginOut{}, httpez.Internal("issue token failed", e)
			}
			return loginOut{Token: tok, User: nodeBrief(&n)}, nil
		},
	})

	// /me：本人档案 + 直推数
	ezAuth := httpez.New(authUser)
	type meOut struct {
		ID          string  `json:"id"`
		Email       string  `json:"email"`
		Name        string  `json:"name"`
		Role        string  `json:"role"`
		Status      string  `json:"status"`
		Code        string  `json:"code,omitempty"`
		SponsorCode string  `json:"sponsorCode,omitempty"`
		Level       int     `json:"level"`
		DirectCount int     `json:"directCount"`
		Earnings    float64 `json:"earnings"`
		Purchases   float64 `json:"purchases"`
	}
	httpez.RegisterAction[struct{}, meOut](ezAuth, db, httpez.Action[struct{}, meOut]{
		Method: http.MethodGet,
		Path:   "/me",
		Binder: httpez.BindNone,
		Auth:   true,
		Handler: func(c *gin.Context, tx *gorm.DB, _ *struct{}) (meOut, error) {
			n, err := store.Get(c, c.GetString("userId"))
			if err != nil {
				return meOut{}, httpez.Internal("db error", err)
			}
			if n == nil {
				return meOut{}, httpez.NotFound("user not found")
			}
			out := meOut{
				ID: n.ID, Email: n.Email, Name: n.Name, Role: n.Role,
				Status: n.Status, Code: n.CodeString(), Level: n.Level,
				DirectCount: len(n.Children),
				Earnings:    n.Earnings, Purchases: n.Purchases,
			}
			if n.SponsorID != "" {
				if sp, _ := store.Get(c, n.SponsorID); sp != nil {
					out.SponsorCode = sp.CodeString()
				}
			}
			return out, nil
		},
	})
}

// ---------- 推荐树：展示 / 统计 / 上线链 ----------

func mountReferralActions(authUser *gin.RouterGroup, db *gorm.DB, kv *cache.Cache, rcfg config.Referral) {
	store := repo.NewNodeRepo(db)
	agg := referral.NewAggregator(store)
	mat := referral.NewMaterializer(store, rcfg.MaxVisits)
	ttl := time.Duration(rcfg.CacheTTLSec) * time.Second

	ezAuth := httpez.New(authUser)

	// GET /referrals/tree?depth=N（缺省用配置的 DefaultTreeDepth，封顶 MaxTreeDepth；
	// 展示数据走短 TTL 缓存）
	type treeQ struct {
		Depth int `form:"depth"`
	}
	httpez.RegisterAction[treeQ, *referral.TreeView](ezAuth, db, httpez.Action[treeQ, *referral.TreeView]{
		Method: http.MethodGet,
		Path:   "/referrals/tree",
		Binder: httpez.BindQuery,
		Auth:   true,
		Handler: func(c *gin.Context, tx *gorm.DB, in *treeQ) (*referral.TreeView, error) {
			uid := c.GetString("userId")
			depth := in.Depth
			// depth=0 是合法请求（只看自己），缺参才落默认值
			if _, given := c.GetQuery("depth"); !given {
				depth = rcfg.DefaultTreeDepth
			}
			if depth > rcfg.MaxTreeDepth {
				depth = rcfg.MaxTreeDepth
			}
			if kv == nil {
				tv, err := mat.Materialize(c, uid, depth)
				return tv, mapCoreErr(err)
			}
			key := fmt.Sprintf("referral:tree:%s:%d", uid, depth)
			tv, err := cache.GetOrLoadJSON[referral.TreeView](kv, c, key, ttl,
				func(ctx context.Context) (*referral.TreeView, error) {
					return mat.Materialize(ctx, uid, depth)
				})
			return tv, mapCoreErr(err)
		},
	})

	// GET /referrals/stats?group_by=none|role|level
	type statsQ struct {
		GroupBy string `form:"group_by,default=none" binding:"omitempty,oneof=none role level"`
	}
	httpez.RegisterAction[statsQ, *referral.Summary](ezAuth, db, httpez.Action[statsQ, *referral.Summary]{
		Method: http.MethodGet,
		Path:   "/referrals/stats",
		Binder: httpez.BindQuery,
		Auth:   true,
		Handler: func(c *gin.Context, tx *gorm.DB, in *statsQ) (*referral.Summary, error) {
			uid := c.GetString("userId")
			opts := referral.AggregateOptions{
				GroupBy:   referral.GroupBy(in.GroupBy),
				MaxVisits: rcfg.MaxVisits,
			}
			if kv == nil {
				s, err := agg.Aggregate(c, uid, opts)
				return s, mapCoreErr(err)
			}
			key := fmt.Sprintf("referral:stats:%s:%s", uid, in.GroupBy)
			s, err := cache.GetOrLoadJSON[referral.Summary](kv, c, key, ttl,
				func(ctx context.Context) (*referral.Summary, error) {
					return agg.Aggregate(ctx, uid, opts)
				})
			return s, mapCoreErr(err)
		},
	})

	// GET /referrals/upline：直接上级 → 根
	type uplineRow struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Role  string `json:"role"`
		Code  string `json:"code,omitempty"`
		Level int    `json:"level"`
	}
	httpez.RegisterAction[struct{}, []uplineRow](ezAuth, db, httpez.Action[struct{}, []uplineRow]{
		Method: http.MethodGet,
		Path:   "/referrals/upline",
		Binder: httpez.BindNone,
		Auth:   true,
		Handler: func(c *gin.Context, tx *gorm.DB, _ *struct{}) ([]uplineRow, error) {
			n, err := store.Get(c, c.GetString("userId"))
			if err != nil {
				return nil, httpez.Internal("db error", err)
			}
			if n == nil {
				return nil, httpez.NotFound("user not found")
			}
			ups, err := referral.Upline(c, store, n)
			if err != nil {
				return nil, httpez.Internal("db error", err)
			}
			out := make([]uplineRow, 0, len(ups))
			for _, u := range ups {
				out = append(out, uplineRow{
					ID: u.ID, Name: u.Name, Role: u.Role,
					Code: u.CodeString(), Level: u.Level,
				})
			}
			return out, nil
		},
	})
}

// ---------- 静态目录（演示数据） ----------

func mountCatalogActions(api *gin.RouterGroup) {
	ezPublic := httpez.New(api)

	ezPublic.GET("/catalog/commissions", func(c *gin.Context) (any, error) {
		return catalog.CommissionPlan(), nil
	})
	ezPublic.GET("/catalog/products", func(c *gin.Context) (any, error) {
		type pageQ struct {
			Offset int `form:"offset,default=0"`
			Limit  int `form:"limit,default=20"`
		}
		var in pageQ
		if err := c.ShouldBindQuery(&in); err != nil {
			return nil, err
		}
		items, total := catalog.Products(in.Offset, in.Limit)
		return gin.H{"items": items, "total": total}, nil
	})
}

// ---------- 公共小工具 ----------

func nodeBrief(n *domain.Node) gin.H {
	return gin.H{
		"id": n.ID, "email": n.Email, "name": n.Name,
		"role": n.Role, "code": n.CodeString(), "level": n.Level,
	}
}

// mapCoreErr 把核心错误翻译成带业务码的 AErr
func mapCoreErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrSponsorNotFound):
		return httpez.NotFound(err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return httpez.NotFound(err.Error())
	case errors.Is(err, domain.ErrConflict):
		return httpez.Conflict(err.Error())
	case errors.Is(err, domain.ErrPartialWrite):
		// 节点已建、上级 children 未更新：原样暴露给调用方对账，不吞掉
		return httpez.Internal(err.Error(), err)
	}
	return err
}

func isDupKey(err error) bool {
	// 不依赖 gorm.ErrDuplicatedKey，避免驱动差异导致判断失效
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "unique violation") ||
		strings.Contains(msg, "duplicate key")
}
