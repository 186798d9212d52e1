package rbac

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPermission(t *testing.T) {
	assert.True(t, HasPermission(RoleUser, PermissionTestClassification))
	assert.False(t, HasPermission(RoleUser, PermissionReplayOutbox))
	assert.True(t, HasPermission(RoleAdmin, PermissionReplayOutbox))
	// 未知角色按 user 处理
	assert.False(t, HasPermission("root", PermissionReplayOutbox))
	assert.True(t, HasPermission("", PermissionReadStats))
}

func TestCheckPermission(t *testing.T) {
	err := CheckPermission(7, RoleUser, PermissionReplayOutbox)
	var denied *PermissionDeniedError
	if assert.True(t, errors.As(err, &denied)) {
		assert.Equal(t, int64(7), denied.UserID)
		assert.Equal(t, RoleUser, denied.Role)
	}
	assert.NoError(t, CheckPermission(1, RoleAdmin, PermissionReplayOutbox))
}
