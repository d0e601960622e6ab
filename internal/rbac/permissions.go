package rbac

// Modules and actions referenced by route guards.
const (
	ModuleUsers       = "users"
	ModuleRoles       = "roles"
	ModulePermissions = "permissions"
	ModuleSettings    = "settings"

	FeatureAudit = "audit"

	ActionRead        = "read"
	ActionEdit        = "edit"
	ActionManage      = "manage"
	ActionAssignRoles = "assign_roles"
	ActionExport      = "export"
)

// Permission keys guarding the administration API.
const (
	PermUsersRead       = ModuleUsers + ":" + ActionRead
	PermUsersEdit       = ModuleUsers + ":" + ActionEdit
	PermUsersAssignRole = ModuleUsers + ":" + ActionAssignRoles

	PermRolesRead   = ModuleRoles + ":" + ActionRead
	PermRolesManage = ModuleRoles + ":" + ActionManage

	PermPermissionsRead = ModulePermissions + ":" + ActionRead

	PermAuditRead   = ModuleSettings + ":" + FeatureAudit + ":" + ActionRead
	PermAuditExport = ModuleSettings + ":" + FeatureAudit + ":" + ActionExport
)

// AdminScopes lists the permissions of the administration API.
func AdminScopes() []string {
	return []string{
		PermUsersRead,
		PermUsersEdit,
		PermUsersAssignRole,
		PermRolesRead,
		PermRolesManage,
		PermPermissionsRead,
		PermAuditRead,
		PermAuditExport,
	}
}
