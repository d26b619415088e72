package referral

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"mlm-referral-backend/internal/domain"
)

// 推荐码前缀按角色区分；唯一性跨两个前缀共同成立（同一个唯一索引）
const (
	codePrefixReferrer = "REF"
	codePrefixClient   = "CLI"
	codeSuffixLen      = 8
)

const DefaultCodeRetries = 5

// CodeGenerator 生成人类可读的推荐码，落库前对存量查重
type CodeGenerator struct {
	store   domain.NodeStore
	retries int
}

func NewCodeGenerator(store domain.NodeStore, retries int) *CodeGenerator {
	if retries <= 0 {
		retries = DefaultCodeRetries
	}
	return &CodeGenerator{store: store, retries: retries}
}

// Next 生成带角色前缀的唯一推荐码；冲突时重试，次数用尽返回 ErrConflict。
// admin 不持码，直接返回空串。
func (g *CodeGenerator) Next(ctx context.Context, role string) (string, error) {
	var prefix string
	switch role {
	case domain.RoleReferrer:
		prefix = codePrefixReferrer
	case domain.RoleClient:
		prefix = codePrefixClient
	default:
		return "", nil
	}
	for i := 0; i < g.retries; i++ {
		code := prefix + "-" + randomCode(codeSuffixLen)
		existing, err := g.store.GetByCode(ctx, code)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: referral code space exhausted after %d retries", domain.ErrConflict, g.retries)
}

func randomCode(n int) string {
	s := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}
