package auth

import (
	"context"

	"github.com/go-kratos/kratos/v2/errors"
)

// 定义 context key
type contextKey string

const (
	// OperatorIDKey 操作员ID的context key
	OperatorIDKey contextKey = "operator_id"
	// OperatorRoleKey 操作员角色的context key
	OperatorRoleKey contextKey = "operator_role"
)

// Role 操作员角色
type Role string

const (
	RoleStaff Role = "staff"
	RoleAdmin Role = "admin"
)

// WithOperator 将操作员信息写入 context (由 HTTP 层中间件调用)
func WithOperator(ctx context.Context, operatorID string, role Role) context.Context {
	ctx = context.WithValue(ctx, OperatorIDKey, operatorID)
	return context.WithValue(ctx, OperatorRoleKey, role)
}

// GetOperatorFromContext 从context中获取操作员ID
func GetOperatorFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(OperatorIDKey).(string)
	return id, ok
}

// GetRoleFromContext 从context中获取操作员角色
func GetRoleFromContext(ctx context.Context) (Role, bool) {
	role, ok := ctx.Value(OperatorRoleKey).(Role)
	return role, ok
}

// IsAdmin 判断当前操作员是否为管理员
func IsAdmin(ctx context.Context) bool {
	role, ok := GetRoleFromContext(ctx)
	return ok && role == RoleAdmin
}

// RequireOperator 要求请求携带操作员身份
func RequireOperator(ctx context.Context) (string, error) {
	id, ok := GetOperatorFromContext(ctx)
	if !ok || id == "" {
		return "", errors.Unauthorized("UNAUTHORIZED", "operator authentication required")
	}
	return id, nil
}
