package mind

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"anima/internal/substrate"
)

func TestConversationAppendPermissions(t *testing.T) {
	assert.True(t, MayAppendConversation(RoleEgo))
	assert.True(t, MayAppendConversation(RoleSubconscious))
	assert.True(t, MayAppendConversation(RoleUser))
	assert.True(t, MayAppendConversation(RoleSystem))

	assert.False(t, MayAppendConversation(RoleSuperego))
	assert.False(t, MayAppendConversation(RoleId))
}

func TestCheckPermissionDenies(t *testing.T) {
	err := CheckPermission(RoleSuperego, substrate.FileConversation, OpAppend)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	err = CheckPermission(RoleId, substrate.FileConversation, OpAppend)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	err = CheckPermission(RoleUser, substrate.FilePlan, OpWrite)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	// An op on the wrong mode is denied even for an allowed file.
	err = CheckPermission(RoleEgo, substrate.FilePlan, OpAppend)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestCheckPermissionAllows(t *testing.T) {
	assert.NoError(t, CheckPermission(RoleEgo, substrate.FilePlan, OpWrite))
	assert.NoError(t, CheckPermission(RoleSubconscious, substrate.FileSkills, OpWrite))
	assert.NoError(t, CheckPermission(RoleSystem, substrate.FileRestartContext, OpWrite))
	assert.NoError(t, CheckPermission(RoleId, substrate.FileProgress, OpAppend))
}
