package catalog

// 演示用静态数据。目录与佣金方案真正由外部报表/商品服务供给，
// 这里只保留展示所需的 fixtures，不承载任何结构性契约。

type Product struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Price          float64 `json:"price"`
	CommissionRate float64 `json:"commissionRate"`
}

type CommissionTier struct {
	Level int     `json:"level"`
	Rate  float64 `json:"rate"`
}

var products = []Product{
	{ID: "p-1001", Name: "Starter Kit", Price: 49.90, CommissionRate: 0.10},
	{ID: "p-1002", Name: "Wellness Pack", Price: 89.00, CommissionRate: 0.12},
	{ID: "p-1003", Name: "Energy Booster", Price: 35.50, CommissionRate: 0.08},
	{ID: "p-1004", Name: "Skincare Set", Price: 120.00, CommissionRate: 0.15},
	{ID: "p-1005", Name: "Protein Shake (12x)", Price: 64.00, CommissionRate: 0.10},
	{ID: "p-1006", Name: "Travel Bundle", Price: 210.00, CommissionRate: 0.18},
	{ID: "p-1007", Name: "Home Office Kit", Price: 159.00, CommissionRate: 0.14},
	{ID: "p-1008", Name: "Annual Membership", Price: 299.00, CommissionRate: 0.20},
}

// 按相对层级递减的演示佣金方案
var commissionPlan = []CommissionTier{
	{Level: 1, Rate: 0.10},
	{Level: 2, Rate: 0.05},
	{Level: 3, Rate: 0.02},
}

// Products 返回一页产品和总数
func Products(offset, limit int) ([]Product, int) {
	total := len(products)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []Product{}, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return append([]Product(nil), products[offset:end]...), total
}

func CommissionPlan() []CommissionTier {
	return append([]CommissionTier(nil), commissionPlan...)
}
