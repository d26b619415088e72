package router

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"mlm-referral-backend/internal/core/config"
	"mlm-referral-backend/internal/domain"
	"mlm-referral-backend/internal/feature/referral"
	"mlm-referral-backend/internal/repo"
	httpez "mlm-referral-backend/internal/transport/http/ez"
)

// 把管理端接口集中在这里注册
func MountAdminActions(admin *gin.RouterGroup, db *gorm.DB, rcfg config.Referral) {
	store := repo.NewNodeRepo(db)
	agg := referral.NewAggregator(store)
	mat := referral.NewMaterializer(store, rcfg.MaxVisits)

	ezAdmin := httpez.New(admin)

	// --- GET /admin/v1/users 用户列表 ---
	type listQ struct {
		Offset      int    `form:"offset,default=0"`
		Limit       int    `form:"limit,default=20"`
		Q           string `form:"q"`            // 按 email/name 模糊搜
		Role        string `form:"role"`         // 按角色过滤
		WithDeleted bool   `form:"with_deleted"` // 是否包含软删
	}
	type row struct {
		ID        string    `json:"id"`
		Email     string    `json:"email"`
		Name      string    `json:"name"`
		Role      string    `json:"role"`
		Status    string    `json:"status"`
		Code      string    `json:"code,omitempty"`
		Level     int       `json:"level"`
		CreatedAt time.Time `json:"createdAt"`
	}
	type listOut struct {
		Total int64 `json:"total"`
		Items []row `json:"items"`
	}

	httpez.RegisterAction[listQ, listOut](ezAdmin, db, httpez.Action[listQ, listOut]{
		Method: http.MethodGet,
		Path:   "/users",
		Binder: httpez.BindQuery,
		Auth:   true,
		Roles:  []string{domain.RoleAdmin},
		Handler: func(c *gin.Context, tx *gorm.DB, in *listQ) (listOut, error) {
			if in.Limit <= 0 || in.Limit > 100 {
				in.Limit = 20
			}
			q := tx.WithContext(c).Model(&domain.Node{})
			if in.WithDeleted {
				q = q.Unscoped()
			}
			if s := strings.TrimSpace(in.Q); s != "" {
				like := "%" + s + "%"
				q = q.Where("email LIKE ? OR name LIKE ?", like, like)
			}
			if in.Role != "" {
				q = q.Where("role = ?", in.Role)
			}

			var total int64
			if err := q.Count(&total).Error; err != nil {
				return listOut{}, httpez.Internal("count users failed", err)
			}

			var ns []domain.Node
			if err := q.Order("created_at DESC").Limit(in.Limit).Offset(in.Offset).Find(&ns).Error; err != nil {
				return listOut{}, httpez.Internal("list users failed", err)
			}

			out := listOut{Total: total, Items: make([]row, 0, len(ns))}
			for _, n := range ns {
				out.Items = append(out.Items, row{
					ID: n.ID, Email: n.Email, Name: n.Name, Role: n.Role,
					Status: n.Status, Code: n.CodeString(), Level: n.Level,
					CreatedAt: n.CreatedAt,
				})
			}
			return out, nil
		},
	})

	// --- GET /admin/v1/users/:id/tree 任意节点的展示树 ---
	type treeQ struct {
		Depth int `form:"depth"`
	}
	httpez.RegisterAction[treeQ, *referral.TreeView](ezAdmin, db, httpez.Action[treeQ, *referral.TreeView]{
		Method: http.MethodGet,
		Path:   "/users/:id/tree",
		Binder: httpez.BindQuery,
		Auth:   true,
		Roles:  []string{domain.RoleAdmin},
		Handler: func(c *gin.Context, tx *gorm.DB, in *treeQ) (*referral.TreeView, error) {
			depth := in.Depth
			if _, given := c.GetQuery("depth"); !given {
				depth = rcfg.DefaultTreeDepth
			}
			if depth > rcfg.MaxTreeDepth {
				depth = rcfg.MaxTreeDepth
			}
			tv, err := mat.Materialize(c, c.Param("id"), depth)
			return tv, mapCoreErr(err)
		},
	})

	// --- GET /admin/v1/users/:id/stats 任意节点的下线汇总 ---
	type statsQ struct {
		GroupBy string `form:"group_by,default=none" binding:"omitempty,oneof=none role level"`
	}
	httpez.RegisterAction[statsQ, *referral.Summary](ezAdmin, db, httpez.Action[statsQ, *referral.Summary]{
		Method: http.MethodGet,
		Path:   "/users/:id/stats",
		Binder: httpez.BindQuery,
		Auth:   true,
		Roles:  []string{domain.RoleAdmin},
		Handler: func(c *gin.Context, tx *gorm.DB, in *statsQ) (*referral.Summary, error) {
			s, err := agg.Aggregate(c, c.Param("id"), referral.AggregateOptions{
				GroupBy:   referral.GroupBy(in.GroupBy),
				MaxVisits: rcfg.MaxVisits,
			})
			return s, mapCoreErr(err)
		},
	})

	// --- DELETE /admin/v1/users/:id 只允许删叶子 ---
	httpez.RegisterAction[struct{}, gin.H](ezAdmin, db, httpez.Action[struct{}, gin.H]{
		Method: http.MethodDelete,
		Path:   "/users/:id",
		Binder: httpez.BindNone,
		Auth:   true,
		Roles:  []string{domain.RoleAdmin},
		Handler: func(c *gin.Context, tx *gorm.DB, _ *struct{}) (gin.H, error) {
			id := c.Param("id")
			if id == "" {
				return nil, httpez.BadRequest("missing id")
			}
			if err := store.Delete(c, id); err != nil {
				return nil, mapCoreErr(err)
			}
			return gin.H{"id": id}, nil
		},
	})

	// --- POST /admin/v1/users/:id/status 状态闸门（active/inactive/pending） ---
	type statusIn struct {
		Status string `json:"status" binding:"required,oneof=active inactive pending"`
	}
	httpez.RegisterAction[statusIn, gin.H](ezAdmin, db, httpez.Action[statusIn, gin.H]{
		Method: http.MethodPost,
		Path:   "/users/:id/status",
		Binder: httpez.BindJSON,
		Auth:   true,
		Roles:  []string{domain.RoleAdmin},
		Handler: func(c *gin.Context, tx *gorm.DB, in *statusIn) (gin.H, error) {
			id := c.Param("id")
			// 单列更新，不整行回写，避免盖掉并发注册刚追加的 children
			res := tx.Model(&domain.Node{}).Where("id = ?", id).Update("status", in.Status)
			if res.Error != nil {
				return nil, httpez.Internal("update status failed", res.Error)
			}
			if res.RowsAffected == 0 {
				return nil, httpez.NotFound("user not found")
			}
			return gin.H{"id": id, "status": in.Status}, nil
		},
	})
}
