package referral

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mlm-referral-backend/internal/domain"
	"mlm-referral-backend/pkg/utils"
)

// Draft 注册入参；密码散列由调用方完成
type Draft struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string
	Status       string
}

// Linker 负责注册：解析 sponsor、定级、算祖先链、双向落库
type Linker struct {
	store domain.NodeStore
	codes *CodeGenerator
	log   *zap.Logger
}

func NewLinker(store domain.NodeStore, codes *CodeGenerator, log *zap.Logger) *Linker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Linker{store: store, codes: codes, log: log}
}

// Register 创建新节点并挂到 sponsor 下。
//
// 两条记录分两步写（新节点、sponsor 的 children），不在同一事务：
// 第二步走 store.AppendChild 的单键原子追加，同一 sponsor 下的并发注册互不覆盖；
// 追加失败时返回已创建的节点和 ErrPartialWrite，由调用方对账，不自动重试。
// 并发读者在两步之间可能看到 sponsor 少一个孩子，展示类统计可接受。
// 自指成环在这里不可能：新节点此刻尚未入库，sponsorCode 查不到它。
func (l *Linker) Register(ctx context.Context, draft Draft, sponsorCode string) (*domain.Node, error) {
	var sponsor *domain.Node
	if sponsorCode != "" {
		s, err := l.store.GetByCode(ctx, sponsorCode)
		if err != nil {
			return nil, fmt.Errorf("resolve sponsor: %w", err)
		}
		if s == nil {
			return nil, fmt.Errorf("%w: %q", domain.ErrSponsorNotFound, sponsorCode)
		}
		sponsor = s
	}

	node := &domain.Node{
		ID:           draft.ID,
		Email:        draft.Email,
		Name:         draft.Name,
		PasswordHash: draft.PasswordHash,
		Role:         draft.Role,
		Status:       draft.Status,
	}
	if node.ID == "" {
		node.ID = utils.NewID()
	}
	if node.Role == "" {
		node.Role = domain.RoleClient
	}
	if node.Status == "" {
		node.Status = domain.StatusActive
	}
	if sponsor != nil {
		node.SponsorID = sponsor.ID
		node.Level = sponsor.Level + 1
		// 祖先链 = [直接上级] + 上级的祖先链，只在此处算一次
		node.Ancestors = append([]string{sponsor.ID}, sponsor.Ancestors...)
	}

	code, err := l.codes.Next(ctx, node.Role)
	if err != nil {
		return nil, err
	}
	if code != "" {
		node.Code = &code
	}

	if err := l.store.Create(ctx, node); err != nil {
		return nil, fmt.Errorf("create node: %w", err)
	}

	if sponsor != nil {
		if err := l.store.AppendChild(ctx, sponsor.ID, node.ID); err != nil {
			l.log.Error("sponsor child-list update failed",
				zap.String("node", node.ID),
				zap.String("sponsor", sponsor.ID),
				zap.Error(err))
			return node, fmt.Errorf("%w: node %s not linked under sponsor %s: %v",
				domain.ErrPartialWrite, node.ID, sponsor.ID, err)
		}
	}
	return node, nil
}

// Upline 按祖先链顺序（直接上级 → 根）取回祖先节点；悬空引用跳过
func Upline(ctx context.Context, store domain.NodeStore, n *domain.Node) ([]*domain.Node, error) {
	out := make([]*domain.Node, 0, len(n.Ancestors))
	for _, id := range n.Ancestors {
		a, err := store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if a == nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
