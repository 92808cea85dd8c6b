package drive

// PermissionScope classifies how a sharing grant reaches its grantees.
type PermissionScope string

const (
	// ScopeAnonymous is an "anyone with the link" grant.
	ScopeAnonymous PermissionScope = "anonymous"
	// ScopeUsers is a link restricted to named users.
	ScopeUsers PermissionScope = "users"
	// ScopeDirect is a per-user grant without a link.
	ScopeDirect PermissionScope = "direct"
	// ScopeOrganization is a link usable by anyone in the tenant. It has no named grantee.
	ScopeOrganization PermissionScope = "organization"
)

// Grantee is a user that a permission was granted to.
type Grantee struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email"`
}

// RawPermission is one sharing grant as returned by the permissions endpoint.
type RawPermission struct {
	ID           string
	Roles        []string
	Scope        PermissionScope
	GrantedUser  *Grantee
	GrantedUsers []Grantee
}

// ItemPermissions pairs an item with its raw permission list.
type ItemPermissions struct {
	Item        Item
	Permissions []RawPermission
}

// EffectivePermissionSet is the subset of an item's raw permissions that were not inherited
// unchanged from its parent.
type EffectivePermissionSet struct {
	ItemID      string
	Permissions []RawPermission
}

// IDs returns the permission ids in input order.
func (s EffectivePermissionSet) IDs() []string {
	ids := make([]string, 0, len(s.Permissions))
	for _, p := range s.Permissions {
		ids = append(ids, p.ID)
	}
	return ids
}

// NormalizedPermissionType is the sink-side permission kind.
type NormalizedPermissionType string

const (
	PermissionTypeAnyone NormalizedPermissionType = "anyone"
	PermissionTypeUser   NormalizedPermissionType = "user"
)

// NormalizedPermission is a permission in the sink's model. An "anyone" entry carries
// PermissionIDs; a "user" entry carries the grantee fields.
type NormalizedPermission struct {
	Type               NormalizedPermissionType `json:"type"`
	PermissionIDs      []string                 `json:"permissionIds,omitempty"`
	Email              string                   `json:"email,omitempty"`
	UserID             string                   `json:"userId,omitempty"`
	DirectPermissionID string                   `json:"directPermissionId,omitempty"`
	LinkPermissionIDs  []string                 `json:"linkPermissionIds,omitempty"`
}
