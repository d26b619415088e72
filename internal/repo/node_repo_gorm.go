package repo

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"mlm-referral-backend/internal/domain"
)

// NodeRepo domain.NodeStore 的 gorm 实现；单条记录的原子性交给数据库
type NodeRepo struct{ db *gorm.DB }

func NewNodeRepo(db *gorm.DB) *NodeRepo { return &NodeRepo{db: db} }

func (r *NodeRepo) Get(ctx context.Context, id string) (*domain.Node, error) {
	var n domain.Node
	err := r.db.WithContext(ctx).First(&n, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NodeRepo) GetByCode(ctx context.Context, code string) (*domain.Node, error) {
	if code == "" {
		return nil, nil
	}
	var n domain.Node
	err := r.db.WithContext(ctx).First(&n, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NodeRepo) Create(ctx context.Context, n *domain.Node) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *NodeRepo) Save(ctx context.Context, n *domain.Node) error {
	return r.db.WithContext(ctx).Save(n).Error
}

// AppendChild 把 childID 挂到 sponsor 的 children 上；重复追加幂等。
// 整行 Save 会让并发注册互相覆盖（后写赢，丢孩子），所以这里走 CAS。
func (r *NodeRepo) AppendChild(ctx context.Context, sponsorID, childID string) error {
	return r.mutateChildren(ctx, sponsorID, func(children []string) ([]string, bool) {
		for _, cid := range children {
			if cid == childID {
				return children, false
			}
		}
		return append(children, childID), true
	})
}

func (r *NodeRepo) removeChild(ctx context.Context, sponsorID, childID string) error {
	return r.mutateChildren(ctx, sponsorID, func(children []string) ([]string, bool) {
		kept := make([]string, 0, len(children))
		for _, cid := range children {
			if cid != childID {
				kept = append(kept, cid)
			}
		}
		return kept, len(kept) != len(children)
	})
}

// mutateChildren 乐观锁循环：读 → 改 → 带 version 条件写。
// 版本撞了说明另一个写刚落地（每轮必有一个赢家），重读再试，循环必然收敛。
func (r *NodeRepo) mutateChildren(ctx context.Context, id string, mutate func([]string) ([]string, bool)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if n == nil {
			return domain.ErrNotFound
		}
		next, changed := mutate(n.Children)
		if !changed {
			return nil
		}
		res := r.db.WithContext(ctx).Model(&domain.Node{}).
			Where("id = ? AND version = ?", n.ID, n.Version).
			Select("children", "version").
			Updates(&domain.Node{Children: next, Version: n.Version + 1})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			return nil
		}
	}
}

// Delete 只允许删叶子；有下线返回 ErrConflict。
// 删除成功后把 id 从 sponsor 的 children 里摘掉。
func (r *NodeRepo) Delete(ctx context.Context, id string) error {
	n, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if n == nil {
		return domain.ErrNotFound
	}
	if len(n.Children) > 0 {
		return fmt.Errorf("%w: node %s still has %d children", domain.ErrConflict, id, len(n.Children))
	}
	if err := r.db.WithContext(ctx).Delete(&domain.Node{}, "id = ?", id).Error; err != nil {
		return err
	}
	if n.SponsorID == "" {
		return nil
	}
	err = r.removeChild(ctx, n.SponsorID, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil // sponsor 已不在，没什么可摘
	}
	return err
}
