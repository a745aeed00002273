// Package permission implements the role, preset and per-user permission
// model for collaboration workspaces.
package permission

import "strings"

// Role is the platform-asserted role of a member.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleTeacher Role = "TEACHER"
	RoleStudent Role = "STUDENT"
	RoleParent  Role = "PARENT"
)

// ParseRole normalizes a role string. Unknown roles fall back to STUDENT.
func ParseRole(s string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleTeacher:
		return RoleTeacher
	case RoleParent:
		return RoleParent
	default:
		return RoleStudent
	}
}

// Set is the total mapping of the closed permission key set to booleans.
// The zero value has every permission denied.
type Set struct {
	CanView              bool `json:"canView"`
	CanEditBlocks        bool `json:"canEditBlocks"`
	CanAddBlocks         bool `json:"canAddBlocks"`
	CanDeleteBlocks      bool `json:"canDeleteBlocks"`
	CanEditSprites       bool `json:"canEditSprites"`
	CanAddSprites        bool `json:"canAddSprites"`
	CanDeleteSprites     bool `json:"canDeleteSprites"`
	CanEditVariables     bool `json:"canEditVariables"`
	CanAddVariables      bool `json:"canAddVariables"`
	CanDeleteVariables   bool `json:"canDeleteVariables"`
	CanRunCode           bool `json:"canRunCode"`
	CanStopCode          bool `json:"canStopCode"`
	CanChat              bool `json:"canChat"`
	CanDraw              bool `json:"canDraw"`
	CanUploadAssets      bool `json:"canUploadAssets"`
	CanEditCostumes      bool `json:"canEditCostumes"`
	CanEditSounds        bool `json:"canEditSounds"`
	CanRecordAudio       bool `json:"canRecordAudio"`
	CanUseCamera         bool `json:"canUseCamera"`
	CanShareProject      bool `json:"canShareProject"`
	CanManageUsers       bool `json:"canManageUsers"`
	CanChangePermissions bool `json:"canChangePermissions"`
	CanKickUsers         bool `json:"canKickUsers"`
	CanLockWorkspace     bool `json:"canLockWorkspace"`
}

// Keys lists every permission key in wire order.
func Keys() []string {
	return []string{
		"canView", "canEditBlocks", "canAddBlocks", "canDeleteBlocks",
		"canEditSprites", "canAddSprites", "canDeleteSprites",
		"canEditVariables", "canAddVariables", "canDeleteVariables",
		"canRunCode", "canStopCode", "canChat", "canDraw",
		"canUploadAssets", "canEditCostumes", "canEditSounds",
		"canRecordAudio", "canUseCamera", "canShareProject",
		"canManageUsers", "canChangePermissions", "canKickUsers",
		"canLockWorkspace",
	}
}

// field returns a pointer to the struct field for a wire key, or nil for
// keys outside the closed set.
func (s *Set) field(key string) *bool {
	switch key {
	case "canView":
		return &s.CanView
	case "canEditBlocks":
		return &s.CanEditBlocks
	case "canAddBlocks":
		return &s.CanAddBlocks
	case "canDeleteBlocks":
		return &s.CanDeleteBlocks
	case "canEditSprites":
		return &s.CanEditSprites
	case "canAddSprites":
		return &s.CanAddSprites
	case "canDeleteSprites":
		return &s.CanDeleteSprites
	case "canEditVariables":
		return &s.CanEditVariables
	case "canAddVariables":
		return &s.CanAddVariables
	case "canDeleteVariables":
		return &s.CanDeleteVariables
	case "canRunCode":
		return &s.CanRunCode
	case "canStopCode":
		return &s.CanStopCode
	case "canChat":
		return &s.CanChat
	case "canDraw":
		return &s.CanDraw
	case "canUploadAssets":
		return &s.CanUploadAssets
	case "canEditCostumes":
		return &s.CanEditCostumes
	case "canEditSounds":
		return &s.CanEditSounds
	case "canRecordAudio":
		return &s.CanRecordAudio
	case "canUseCamera":
		return &s.CanUseCamera
	case "canShareProject":
		return &s.CanShareProject
	case "canManageUsers":
		return &s.CanManageUsers
	case "canChangePermissions":
		return &s.CanChangePermissions
	case "canKickUsers":
		return &s.CanKickUsers
	case "canLockWorkspace":
		return &s.CanLockWorkspace
	default:
		return nil
	}
}

// Get reports the value of a wire key. Unknown keys are false.
func (s *Set) Get(key string) bool {
	if f := s.field(key); f != nil {
		return *f
	}
	return false
}

// SetKey assigns a wire key. It reports whether the key belongs to the
// closed permission key set.
func (s *Set) SetKey(key string, value bool) bool {
	f := s.field(key)
	if f == nil {
		return false
	}
	*f = value
	return true
}

// Clone returns a copy of the set.
func (s Set) Clone() Set {
	return s
}

// OwnerTemplate grants every permission. Applied to workspace owners and
// members with the ADMIN role.
func OwnerTemplate() Set {
	var s Set
	for _, key := range Keys() {
		s.SetKey(key, true)
	}
	return s
}

// TeacherTemplate grants editing and user management, but neither
// project sharing nor workspace locking.
func TeacherTemplate() Set {
	s := OwnerTemplate()
	s.CanShareProject = false
	s.CanLockWorkspace = false
	return s
}

// StudentTemplate grants viewing and chat only.
func StudentTemplate() Set {
	return Set{CanView: true, CanChat: true}
}

// TemplateForRole returns the canonical template for a role.
func TemplateForRole(role Role) Set {
	switch role {
	case RoleAdmin:
		return OwnerTemplate()
	case RoleTeacher:
		return TeacherTemplate()
	default:
		return StudentTemplate()
	}
}

// Mode is a named replacement of the global permission set.
type Mode string

const (
	ModePresentation Mode = "presentation"
	ModeWork         Mode = "work"
	ModeTest         Mode = "test"
	ModeRestricted   Mode = "restricted"
)

// ValidMode reports whether s names a preset mode.
func ValidMode(s string) bool {
	switch Mode(s) {
	case ModePresentation, ModeWork, ModeTest, ModeRestricted:
		return true
	}
	return false
}

// PresetTemplate returns the global permission set a preset mode installs.
// Presets replace the previous global set; keys they do not name stay at
// the zero (denied) default.
func PresetTemplate(mode Mode) Set {
	switch mode {
	case ModePresentation:
		return Set{CanView: true}
	case ModeWork:
		return Set{
			CanView:        true,
			CanEditBlocks:  true,
			CanAddBlocks:   true,
			CanEditSprites: true,
			CanRunCode:     true,
			CanChat:        true,
		}
	case ModeTest:
		return Set{CanView: true, CanRunCode: true}
	case ModeRestricted:
		return Set{CanView: true}
	default:
		return StudentTemplate()
	}
}
