package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// 角色：admin 无推荐码，referrer/client 注册时生成
const (
	RoleAdmin    = "admin"
	RoleReferrer = "referrer"
	RoleClient   = "client"
)

// 状态只影响登录，不影响树结构
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusPending  = "pending"
)

// Node 推荐树中的一个参与者。
// Ancestors 在注册时沿 sponsor 链计算一次，之后不再重算（不支持换上级，
// 创建后修改 SponsorID 不会传播到祖先链）。
// Children 是 SponsorID 的反向关系，注册时与新节点在同一逻辑操作内维护。
type Node struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Email        string     `gorm:"uniqueIndex;size:191" json:"email"`
	Name         string     `gorm:"size:64" json:"name"`
	PasswordHash string     `gorm:"size:191" json:"-"`
	Role         string     `gorm:"size:16;not null;default:client" json:"role"`
	Status       string     `gorm:"size:16;not null;default:active" json:"status"`
	Code         *string    `gorm:"uniqueIndex;size:32" json:"code,omitempty"`
	SponsorID    string     `gorm:"index;size:36" json:"sponsorId,omitempty"`
	Ancestors    []string   `gorm:"serializer:json;type:text" json:"-"`
	Children     []string   `gorm:"serializer:json;type:text" json:"-"`
	Level        int        `gorm:"not null;default:0" json:"level"`
	Earnings     float64    `gorm:"not null;default:0" json:"earnings"`
	Purchases    float64    `gorm:"not null;default:0" json:"purchases"`
	// Version 是 children 的乐观锁版本号，只由 AppendChild/Delete 的 CAS 更新递增
	Version int `gorm:"not null;default:0" json:"-"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Node) TableName() string { return "nodes" }

func (n *Node) IsRoot() bool { return n.SponsorID == "" }

// CodeString 没有推荐码（admin）时返回空串
func (n *Node) CodeString() string {
	if n.Code == nil {
		return ""
	}
	return *n.Code
}

// 核心错误；HTTP 层用 errors.Is 映射到业务码
var (
	ErrNotFound        = errors.New("node not found")
	ErrSponsorNotFound = errors.New("sponsor code not found")
	ErrConflict        = errors.New("conflict")
	// ErrPartialWrite：新节点已落库、但 sponsor 的 children 更新失败。
	// 不自动重试，调用方拿到已创建的节点 id 后自行对账。
	ErrPartialWrite = errors.New("partial write observed")
)

// NodeStore 节点存取契约。Get/GetByCode 未命中返回 (nil, nil)。
type NodeStore interface {
	Get(ctx context.Context, id string) (*Node, error)
	GetByCode(ctx context.Context, code string) (*Node, error)
	Create(ctx context.Context, n *Node) error
	Save(ctx context.Context, n *Node) error
	// AppendChild 原子地把 childID 挂到 sponsorID 的 children 上。
	// 并发注册同一个 sponsor 时谁都不能覆盖谁；重复追加幂等。
	// sponsor 不存在返回 ErrNotFound。
	AppendChild(ctx context.Context, sponsorID, childID string) error
	// Delete 有子节点时返回 ErrConflict；删除叶子会同步从 sponsor 的 children 移除
	Delete(ctx context.Context, id string) error
}
