package referral

import (
	"context"

	"mlm-referral-backend/internal/domain"
)

type GroupBy string

const (
	GroupNone  GroupBy = "none"
	GroupRole  GroupBy = "role"
	GroupLevel GroupBy = "level"
)

// DefaultMaxVisits 单次遍历的访问上限，防止一个请求在超大树上跑飞
const DefaultMaxVisits = 100000

type Totals struct {
	Count     int64   `json:"count"`
	Earnings  float64 `json:"earnings"`
	Purchases float64 `json:"purchases"`
}

func (t *Totals) add(n *domain.Node) {
	t.Count++
	t.Earnings += n.Earnings
	t.Purchases += n.Purchases
}

// Summary 下线汇总（不含根自身）；分组桶只在对应 GroupBy 下填充。
// ByLevel 的 key 是相对深度（下线层级 - 根层级）。
type Summary struct {
	Totals
	ByRole  map[string]Totals `json:"byRole,omitempty"`
	ByLevel map[int]Totals    `json:"byLevel,omitempty"`
}

type AggregateOptions struct {
	GroupBy   GroupBy
	MaxVisits int // <=0 用 DefaultMaxVisits
}

// Aggregator 只读统计，不改树
type Aggregator struct {
	store domain.NodeStore
}

func NewAggregator(store domain.NodeStore) *Aggregator { return &Aggregator{store: store} }

// Aggregate 汇总 rootID 的全部下线（默认不限深度，只受访问上限约束）。
// 显式队列迭代，深度不吃调用栈；visited 兜底脏数据成环，每个下线只记一次。
// 空下线集返回零值汇总，不是错误。
func (a *Aggregator) Aggregate(ctx context.Context, rootID string, opts AggregateOptions) (*Summary, error) {
	root, err := a.store.Get(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, domain.ErrNotFound
	}

	budget := opts.MaxVisits
	if budget <= 0 {
		budget = DefaultMaxVisits
	}

	sum := &Summary{}
	switch opts.GroupBy {
	case GroupRole:
		sum.ByRole = map[string]Totals{}
	case GroupLevel:
		sum.ByLevel = map[int]Totals{}
	}

	visited := map[string]struct{}{root.ID: {}}
	queue := append([]string(nil), root.Children...)

	for len(queue) > 0 && budget > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := queue[0]
		queue = queue[1:]
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}

		n, err := a.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if n == nil {
			continue // 悬空引用：不下钻，也不报错
		}
		budget--

		sum.Totals.add(n)
		switch opts.GroupBy {
		case GroupRole:
			t := sum.ByRole[n.Role]
			t.add(n)
			sum.ByRole[n.Role] = t
		case GroupLevel:
			rel := n.Level - root.Level
			t := sum.ByLevel[rel]
			t.add(n)
			sum.ByLevel[rel] = t
		}
		queue = append(queue, n.Children...)
	}
	return sum, nil
}
