package rbac

// Access answers authorization questions for one user against a resolved permission set.
// A nil or pending Access denies everything.
type Access struct {
	resolution Resolution
	loaded     bool
	keys       map[Key]struct{}
	actions    map[moduleAction]struct{}
	modules    map[string]struct{}
}

// Pending returns an Access that is still loading.
func Pending(userID int64) *Access {
	return &Access{resolution: Resolution{UserID: userID}}
}

// NewAccess indexes a resolution for lookups.
func NewAccess(res Resolution) *Access {
	a := &Access{
		resolution: res,
		loaded:     true,
		keys:       make(map[Key]struct{}, len(res.Grants)),
		actions:    make(map[moduleAction]struct{}, len(res.Grants)),
		modules:    make(map[string]struct{}),
	}
	for _, g := range res.Grants {
		key := g.Permission.Key()
		a.keys[key] = struct{}{}
		a.actions[key.moduleAction()] = struct{}{}
		a.modules[key.Module] = struct{}{}
	}
	return a
}

// Loading reports whether the permission set is not available yet.
func (a *Access) Loading() bool {
	return a == nil || !a.loaded
}

// UserID returns the user the access belongs to.
func (a *Access) UserID() int64 {
	if a == nil {
		return 0
	}
	return a.resolution.UserID
}

// Role returns the built-in role, empty when unknown or loading.
func (a *Access) Role() BuiltinRole {
	if a.Loading() {
		return ""
	}
	return a.resolution.Role
}

// Resolution returns the underlying resolved set.
func (a *Access) Resolution() Resolution {
	if a == nil {
		return Resolution{}
	}
	return a.resolution
}

// Can reports whether any permission on module grants action, regardless of feature.
func (a *Access) Can(module, action string) bool {
	if a.Loading() {
		return false
	}
	_, ok := a.actions[moduleAction{module: normalizeToken(module), action: normalizeToken(action)}]
	return ok
}

// CanFeature reports whether the exact (module, feature, action) permission is granted.
func (a *Access) CanFeature(module, feature, action string) bool {
	if a.Loading() {
		return false
	}
	_, ok := a.keys[NewKey(module, feature, action)]
	return ok
}

// CanKey evaluates a textual key. Malformed keys are denied.
func (a *Access) CanKey(raw string) bool {
	key, err := ParseKey(raw)
	if err != nil {
		return false
	}
	if key.Feature == "" {
		return a.Can(key.Module, key.Action)
	}
	return a.CanFeature(key.Module, key.Feature, key.Action)
}

// CanAny is true when at least one key holds.
func (a *Access) CanAny(keys ...string) bool {
	if a.Loading() {
		return false
	}
	for _, k := range keys {
		if a.CanKey(k) {
			return true
		}
	}
	return false
}

// CanAll is true when every key holds. An empty list holds vacuously.
func (a *Access) CanAll(keys ...string) bool {
	if a.Loading() {
		return false
	}
	for _, k := range keys {
		if !a.CanKey(k) {
			return false
		}
	}
	return true
}

// CanAccessModule is true when any action is granted on module.
func (a *Access) CanAccessModule(module string) bool {
	if a.Loading() {
		return false
	}
	_, ok := a.modules[normalizeToken(module)]
	return ok
}

// IsAdmin is true for ADMIN and SUPER_ADMIN users.
func (a *Access) IsAdmin() bool {
	return !a.Loading() && a.resolution.Role.IsAdmin()
}

// IsSuperAdmin is true only for SUPER_ADMIN users.
func (a *Access) IsSuperAdmin() bool {
	return !a.Loading() && a.resolution.Role == RoleSuperAdmin
}
