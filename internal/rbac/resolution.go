package rbac

import (
	"sort"
)

// GrantRow is a role→permission link as read from storage. Permission is nil when the
// link points at a permission row that no longer exists.
type GrantRow struct {
	Source       RoleRef
	PermissionID int64
	Permission   *Permission
}

// Grant is an effective permission together with every role that granted it.
type Grant struct {
	Permission Permission `json:"permission"`
	Sources    []RoleRef  `json:"sources"`
}

// Resolution is the effective permission set of one user.
type Resolution struct {
	UserID int64       `json:"userId"`
	Role   BuiltinRole `json:"role,omitempty"`
	Found  bool        `json:"found"`
	Grants []Grant     `json:"grants"`
}

// Modules groups granted actions by module.
func (r Resolution) Modules() map[string][]string {
	seen := make(map[moduleAction]struct{}, len(r.Grants))
	out := make(map[string][]string)
	for _, g := range r.Grants {
		ma := g.Permission.Key().moduleAction()
		if _, ok := seen[ma]; ok {
			continue
		}
		seen[ma] = struct{}{}
		out[ma.module] = append(out[ma.module], ma.action)
	}
	for module := range out {
		sort.Strings(out[module])
	}
	return out
}

// Features groups granted features by module. Modules without feature-level grants are omitted.
func (r Resolution) Features() map[string][]string {
	seen := make(map[string]map[string]struct{})
	out := make(map[string][]string)
	for _, g := range r.Grants {
		key := g.Permission.Key()
		if key.Feature == "" {
			continue
		}
		if seen[key.Module] == nil {
			seen[key.Module] = make(map[string]struct{})
		}
		if _, ok := seen[key.Module][key.Feature]; ok {
			continue
		}
		seen[key.Module][key.Feature] = struct{}{}
		out[key.Module] = append(out[key.Module], key.Feature)
	}
	for module := range out {
		sort.Strings(out[module])
	}
	return out
}

// Keys lists the textual keys of every grant.
func (r Resolution) Keys() []string {
	keys := make([]string, 0, len(r.Grants))
	for _, g := range r.Grants {
		keys = append(keys, g.Permission.Key().String())
	}
	return keys
}

// HasPermissionID reports whether the permission with the given id is granted.
func (r Resolution) HasPermissionID(id int64) bool {
	for _, g := range r.Grants {
		if g.Permission.ID == id {
			return true
		}
	}
	return false
}

// mergeGrants validates rows and unions them by permission id. Rows whose permission is
// missing or inactive are dropped and counted.
func mergeGrants(sets ...[]GrantRow) ([]Grant, int) {
	byID := make(map[int64]*Grant)
	order := make([]int64, 0)
	dropped := 0
	for _, rows := range sets {
		for _, row := range rows {
			if row.Permission == nil || !row.Permission.IsActive {
				dropped++
				continue
			}
			g, ok := byID[row.Permission.ID]
			if !ok {
				g = &Grant{Permission: *row.Permission}
				byID[row.Permission.ID] = g
				order = append(order, row.Permission.ID)
			}
			if !hasSource(g.Sources, row.Source) {
				g.Sources = append(g.Sources, row.Source)
			}
		}
	}
	grants := make([]Grant, 0, len(order))
	for _, id := range order {
		grants = append(grants, *byID[id])
	}
	sort.SliceStable(grants, func(i, j int) bool {
		a, b := grants[i].Permission.Key(), grants[j].Permission.Key()
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		if a.Feature != b.Feature {
			return a.Feature < b.Feature
		}
		if a.Action != b.Action {
			return a.Action < b.Action
		}
		return grants[i].Permission.ID < grants[j].Permission.ID
	})
	return grants, dropped
}

func hasSource(sources []RoleRef, ref RoleRef) bool {
	for _, s := range sources {
		if s == ref {
			return true
		}
	}
	return false
}
