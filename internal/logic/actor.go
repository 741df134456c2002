package logic

import "strings"

// Role 调用方角色
type Role string

const (
	RoleDeveloper Role = "developer"
	RoleInvestor  Role = "investor"
	RoleAdmin     Role = "admin"
	RoleSystem    Role = "system" // 支付回调、定时任务
)

// Actor 已认证的调用方，由上层显式传入
type Actor struct {
	Id   string `json:"id"`
	Role Role   `json:"role"`
}

// SystemActor 定时任务使用的身份
var SystemActor = Actor{Id: "system", Role: RoleSystem}

// ParseRole 解析角色字符串
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleDeveloper, RoleInvestor, RoleAdmin, RoleSystem:
		return r, true
	}
	return "", false
}

// require 校验调用方角色
func (a Actor) require(op string, roles ...Role) error {
	if a.Id == "" {
		return forbiddenError(op, "caller identity is required")
	}
	for _, r := range roles {
		if a.Role == r {
			return nil
		}
	}
	return forbiddenError(op, "role %q may not perform this operation", a.Role)
}
