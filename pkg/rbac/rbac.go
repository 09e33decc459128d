package rbac

// 权限常量
const (
	PermissionReadOwnMilestones = "milestone:read_own"
	PermissionReadAllMilestones = "milestone:read_all"
	PermissionCompleteMilestone = "milestone:complete"
	PermissionActivateMilestone = "milestone:activate"
	PermissionReopenMilestone   = "milestone:reopen"
	PermissionInstantiate       = "process:instantiate"
	PermissionReplayOutbox      = "outbox:replay"
)

// 角色常量
const (
	RoleConsultant = "consultant"
	RoleAdmin      = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleConsultant: {
		PermissionReadOwnMilestones,
		PermissionCompleteMilestone,
		PermissionActivateMilestone,
	},
	RoleAdmin: {
		PermissionReadOwnMilestones,
		PermissionReadAllMilestones,
		PermissionCompleteMilestone,
		PermissionActivateMilestone,
		PermissionReopenMilestone,
		PermissionInstantiate,
		PermissionReplayOutbox,
	},
}

// Principal 表示已认证的调用者（来自 JWT）
type Principal struct {
	UserID int64
	Role   string
}

// IsAdmin 管理员可以跳过顾问过滤
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查调用者是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(p Principal, permission string) error {
	if !HasPermission(p.Role, permission) {
		return &PermissionDeniedError{
			UserID:     p.UserID,
			Permission: permission,
		}
	}
	return nil
}

// ResolveConsultantFilter 统一的顾问过滤规则：
//   - 管理员：requested 为 0 时查看全部，否则只看指定顾问
//   - 顾问：只能查看自己的流程，requested 为其他顾问时拒绝
//
// 返回值为 0 表示不过滤。
func ResolveConsultantFilter(p Principal, requested int64) (int64, error) {
	if HasPermission(p.Role, PermissionReadAllMilestones) {
		return requested, nil
	}
	if !HasPermission(p.Role, PermissionReadOwnMilestones) {
		return 0, &PermissionDeniedError{UserID: p.UserID, Permission: PermissionReadOwnMilestones}
	}
	if requested != 0 && requested != p.UserID {
		return 0, &PermissionDeniedError{UserID: p.UserID, Permission: PermissionReadAllMilestones}
	}
	return p.UserID, nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	UserID     int64
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions: " + e.Permission
}
