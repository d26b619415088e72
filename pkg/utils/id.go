package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewID 生成 32 位无连字符的唯一 ID
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
