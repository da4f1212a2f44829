package authz

// Operation identifies an action a principal may attempt against the
// service. Every mutating or sensitive read path names its operation and
// passes through the engine before touching state.
type Operation string

const (
	OpCreateRecord       Operation = "create_record"
	OpReadRecord         Operation = "read_record"
	OpUpdateTags         Operation = "update_tags"
	OpGrantAccess        Operation = "grant_access"
	OpRevokeAccess       Operation = "revoke_access"
	OpGrantEmergency     Operation = "grant_emergency"
	OpRevokeEmergency    Operation = "revoke_emergency"
	OpViewGrantList      Operation = "view_grant_list"
	OpSetRole            Operation = "set_role"
	OpResolveRoleRequest Operation = "resolve_role_request"
	OpAdminManageRecord  Operation = "admin_manage_record"
)

func (o Operation) String() string { return string(o) }
