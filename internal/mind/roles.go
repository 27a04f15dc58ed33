// Package mind implements the agent's role shims: thin adapters over
// the session launcher that add a role-specific prompt, a response
// parser, and substrate mutations. Parse failures become idle or
// failure results; they never escape as panics.
package mind

import (
	"errors"
	"fmt"

	"anima/internal/substrate"
)

// Role tags who is acting on the substrate.
type Role string

const (
	RoleEgo          Role = "EGO"
	RoleSubconscious Role = "SUBCONSCIOUS"
	RoleSuperego     Role = "SUPEREGO"
	RoleId           Role = "ID"
	RoleSystem       Role = "SYSTEM"
	RoleUser         Role = "USER"
)

// Op is a substrate operation class.
type Op int

const (
	OpWrite Op = iota
	OpAppend
)

func (o Op) String() string {
	if o == OpAppend {
		return "append"
	}
	return "write"
}

// ErrPermissionDenied marks a write the role matrix forbids. No write
// occurs.
var ErrPermissionDenied = errors.New("permission denied")

type permKey struct {
	role Role
	file substrate.FileID
	op   Op
}

// permissions is the static allow table. Every write consults it; an
// absent entry denies. SUPEREGO and ID notably may not append
// CONVERSATION, and only SYSTEM touches RESTART_CONTEXT.
var permissions = map[permKey]bool{}

func allow(role Role, file substrate.FileID, op Op) {
	permissions[permKey{role, file, op}] = true
}

func init() {
	// EGO speaks and plans.
	allow(RoleEgo, substrate.FilePlan, OpWrite)
	allow(RoleEgo, substrate.FileConversation, OpAppend)
	allow(RoleEgo, substrate.FileProgress, OpAppend)

	// SUBCONSCIOUS executes and records.
	allow(RoleSubconscious, substrate.FilePlan, OpWrite)
	allow(RoleSubconscious, substrate.FileSkills, OpWrite)
	allow(RoleSubconscious, substrate.FileMemory, OpWrite)
	allow(RoleSubconscious, substrate.FileHabits, OpWrite)
	allow(RoleSubconscious, substrate.FileProgress, OpAppend)
	allow(RoleSubconscious, substrate.FileConversation, OpAppend)

	// SUPEREGO governs; it records findings but never converses.
	allow(RoleSuperego, substrate.FileSuperego, OpWrite)
	allow(RoleSuperego, substrate.FileMemory, OpWrite)
	allow(RoleSuperego, substrate.FileSkills, OpWrite)
	allow(RoleSuperego, substrate.FileValues, OpWrite)
	allow(RoleSuperego, substrate.FileProgress, OpAppend)

	// ID generates drives; it never converses.
	allow(RoleId, substrate.FileIdDrives, OpWrite)
	allow(RoleId, substrate.FilePlan, OpWrite)
	allow(RoleId, substrate.FileProgress, OpAppend)

	// SYSTEM is the runtime itself: hibernation context, maintenance.
	for _, spec := range substrate.AllFiles() {
		if spec.Mode == substrate.ModeAppendOnly {
			allow(RoleSystem, spec.ID, OpAppend)
		} else {
			allow(RoleSystem, spec.ID, OpWrite)
		}
	}

	// USER contributes to the conversation only.
	allow(RoleUser, substrate.FileConversation, OpAppend)
}

// CheckPermission consults the matrix before a write or append.
func CheckPermission(role Role, file substrate.FileID, op Op) error {
	if permissions[permKey{role, file, op}] {
		return nil
	}
	return fmt.Errorf("%w: %s may not %s %s", ErrPermissionDenied, role, op, file)
}

// MayAppendConversation reports whether a role may speak in the
// conversation log.
func MayAppendConversation(role Role) bool {
	return permissions[permKey{role, substrate.FileConversation, OpAppend}]
}
