package permission

// State is the permission state of one workspace: the global default
// set, per-user overrides, and the active preset marker.
//
// State carries no locking of its own; it is guarded by the owning
// workspace's writer lock.
type State struct {
	Global  Set
	PerUser map[string]Set
	Preset  Mode // "" when no preset has been applied
}

// NewState creates the initial permission state with STUDENT globals.
func NewState() *State {
	return &State{
		Global:  StudentTemplate(),
		PerUser: make(map[string]Set),
	}
}

// Resolve computes the effective permission set for a user:
// ADMIN role wins, then the TEACHER template when no override exists,
// then the per-user override, then the workspace global.
func (st *State) Resolve(role Role, userID string) Set {
	if role == RoleAdmin {
		return OwnerTemplate()
	}
	override, ok := st.PerUser[userID]
	if role == RoleTeacher && !ok {
		return TeacherTemplate()
	}
	if ok {
		return override
	}
	return st.Global
}

// UpdateGlobal assigns one key of the global set. It reports whether the
// key belongs to the closed permission key set.
func (st *State) UpdateGlobal(key string, value bool) bool {
	return st.Global.SetKey(key, value)
}

// UpdateUser assigns one key of a user's override, lazily initialising
// the override from the current global set.
func (st *State) UpdateUser(userID, key string, value bool) bool {
	override, ok := st.PerUser[userID]
	if !ok {
		override = st.Global.Clone()
	}
	if !override.SetKey(key, value) {
		return false
	}
	st.PerUser[userID] = override
	return true
}

// SetUserAsAdmin installs the full template as the user's override.
func (st *State) SetUserAsAdmin(userID string) {
	st.PerUser[userID] = OwnerTemplate()
}

// SetUserAsTeacher installs the teacher template as the user's override.
func (st *State) SetUserAsTeacher(userID string) {
	st.PerUser[userID] = TeacherTemplate()
}

// ClearUser removes a user's override so the global set applies again.
func (st *State) ClearUser(userID string) {
	delete(st.PerUser, userID)
}

// ApplyPreset replaces the global set with the preset template. Previous
// global values do not survive; keys the preset does not grant are denied.
func (st *State) ApplyPreset(mode Mode) Set {
	st.Global = PresetTemplate(mode)
	st.Preset = mode
	return st.Global
}
