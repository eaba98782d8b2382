package rbac

// RolePermissions is the default policy. A trailing * matches any suffix.
var RolePermissions = map[string][]string{
	"student": {
		"attempt:create",
		"attempt:save",
		"attempt:submit",
		"attempt:view",
		"grades:view-own",
	},
	"teacher": {
		"attempt:view",
		"attempt:grade",
		"attempt:void",
		"exam:*",
		"question:*",
		"grades:view",
		"scores:write",
		"events:view",
	},
	"admin": {"*"},
}
