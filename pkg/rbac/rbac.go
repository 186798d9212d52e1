package rbac

// 权限常量
const (
	PermissionTestClassification = "classification:test"
	PermissionReclassify         = "classification:reclassify"
	PermissionReadRules          = "rules:read"
	PermissionReadStats          = "stats:read"

	// 管理操作
	PermissionReplayOutbox = "outbox:replay"
)

// 角色常量
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var rolePermissions = map[string][]string{
	RoleUser: {
		PermissionTestClassification,
		PermissionReclassify,
		PermissionReadRules,
		PermissionReadStats,
	},
	RoleAdmin: {
		PermissionTestClassification,
		PermissionReclassify,
		PermissionReadRules,
		PermissionReadStats,
		PermissionReplayOutbox,
	},
}

// NormalizeRole 未知或为空的角色按 user 处理
func NormalizeRole(role string) string {
	if _, ok := rolePermissions[role]; ok {
		return role
	}
	return RoleUser
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role, permission string) bool {
	for _, p := range rolePermissions[NormalizeRole(role)] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 返回错误而不是布尔值，便于处理
func CheckPermission(userID int64, role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			UserID:     userID,
			Role:       NormalizeRole(role),
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	UserID     int64
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}
