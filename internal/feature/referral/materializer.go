package referral

import (
	"context"

	"mlm-referral-backend/internal/domain"
)

// DefaultTreeDepth 展示树默认向下的层数
const DefaultTreeDepth = 3

// TreeView 嵌套的下线展示树；Children 恒为非 nil，序列化成 []
type TreeView struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Role      string      `json:"role"`
	Code      string      `json:"code,omitempty"`
	Level     int         `json:"level"`
	Status    string      `json:"status"`
	Earnings  float64     `json:"earnings"`
	Purchases float64     `json:"purchases"`
	Children  []*TreeView `json:"children"`
}

// Materializer 只读物化展示树，不改树
type Materializer struct {
	store     domain.NodeStore
	maxVisits int
}

func NewMaterializer(store domain.NodeStore, maxVisits int) *Materializer {
	if maxVisits <= 0 {
		maxVisits = DefaultMaxVisits
	}
	return &Materializer{store: store, maxVisits: maxVisits}
}

type frame struct {
	node      *domain.Node
	view      *TreeView
	remaining int
}

// Materialize 向下最多 maxDepth 层物化展示树；maxDepth<=0 只返回根本身。
// 剩余深度按层递减，减到 0 就不再下钻，不管实际树有多深。
// 每个节点在被访问那一刻拷贝一份 children 快照，容忍并发注册的追加。
func (m *Materializer) Materialize(ctx context.Context, rootID string, maxDepth int) (*TreeView, error) {
	root, err := m.store.Get(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, domain.ErrNotFound
	}

	rootView := newView(root)
	if maxDepth <= 0 {
		return rootView, nil
	}

	budget := m.maxVisits
	visited := map[string]struct{}{root.ID: {}}
	queue := []frame{{node: root, view: rootView, remaining: maxDepth}}

	for len(queue) > 0 && budget > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := queue[0]
		queue = queue[1:]

		ids := append([]string(nil), f.node.Children...) // 快照
		for _, id := range ids {
			if budget <= 0 {
				break
			}
			if _, ok := visited[id]; ok {
				continue
			}
			visited[id] = struct{}{}

			child, err := m.store.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if child == nil {
				continue
			}
			budget--

			cv := newView(child)
			f.view.Children = append(f.view.Children, cv)
			if f.remaining > 1 {
				queue = append(queue, frame{node: child, view: cv, remaining: f.remaining - 1})
			}
		}
	}
	return rootView, nil
}

func newView(n *domain.Node) *TreeView {
	return &TreeView{
		ID:        n.ID,
		Name:      n.Name,
		Role:      n.Role,
		Code:      n.CodeString(),
		Level:     n.Level,
		Status:    n.Status,
		Earnings:  n.Earnings,
		Purchases: n.Purchases,
		Children:  []*TreeView{},
	}
}
