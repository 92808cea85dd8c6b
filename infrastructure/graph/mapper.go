package graph

import (
	"fmt"
	"strings"

	"drivesync/domain/contracts"
	"drivesync/domain/drive"
)

// mapDriveItem converts a driveItem. The second result reports a tombstone.
func mapDriveItem(raw driveItemJSON) (drive.Item, bool) {
	if raw.Deleted != nil {
		return drive.Item{ID: raw.ID}, true
	}

	item := drive.Item{
		ID:          raw.ID,
		Name:        raw.Name,
		URL:         raw.WebURL,
		IsContainer: raw.Folder != nil || raw.Root != nil,
		Shared:      raw.Shared != nil,
	}
	if raw.LastModifiedDateTime != nil {
		item.LastModifiedAt = raw.LastModifiedDateTime.UTC()
	}
	if raw.ParentReference != nil && raw.Root == nil {
		item.ParentID = raw.ParentReference.ID
	}
	if raw.File != nil && raw.File.Hashes != nil {
		h := raw.File.Hashes
		item.ContentHash = firstNonEmpty(h.QuickXorHash, h.SHA256Hash, h.SHA1Hash)
	}

	var owner, creator string
	if raw.Shared != nil && raw.Shared.Owner != nil && raw.Shared.Owner.User != nil {
		owner = raw.Shared.Owner.User.ID
	}
	if raw.CreatedBy != nil && raw.CreatedBy.User != nil {
		creator = raw.CreatedBy.User.ID
	}
	item.OwnerUserID = firstNonEmpty(owner, creator)
	return item, false
}

// granteeFrom returns the user grantee of an identity set, or nil when it names no user.
func granteeFrom(set *identitySet) *drive.Grantee {
	if set == nil {
		return nil
	}
	var id, email string
	if set.User != nil {
		id, email = set.User.ID, set.User.Email
	}
	if set.SiteUser != nil {
		id = firstNonEmpty(id, set.SiteUser.ID)
		email = firstNonEmpty(email, set.SiteUser.Email)
	}
	if id == "" && email == "" {
		return nil
	}
	return &drive.Grantee{ID: id, Email: email}
}

// mapPermission converts a Graph permission to the engine's raw permission.
func mapPermission(raw permissionJSON) (drive.RawPermission, error) {
	perm := drive.RawPermission{
		ID:    raw.ID,
		Roles: append([]string(nil), raw.Roles...),
	}

	if raw.Link == nil {
		perm.Scope = drive.ScopeDirect
		perm.GrantedUser = granteeFrom(raw.GrantedToV2)
		if perm.GrantedUser != nil && perm.GrantedUser.Email == "" && raw.Invitation != nil {
			perm.GrantedUser.Email = raw.Invitation.Email
		}
		return perm, nil
	}

	switch strings.ToLower(raw.Link.Scope) {
	case "anonymous":
		perm.Scope = drive.ScopeAnonymous
	case "users":
		perm.Scope = drive.ScopeUsers
		for i := range raw.GrantedToIdentitiesV2 {
			if g := granteeFrom(&raw.GrantedToIdentitiesV2[i]); g != nil {
				perm.GrantedUsers = append(perm.GrantedUsers, *g)
			}
		}
	case "organization", "existingaccess":
		perm.Scope = drive.ScopeOrganization
	default:
		return drive.RawPermission{}, fmt.Errorf("%w: permission %s has unknown link scope %q",
			contracts.ErrMalformedRecord, raw.ID, raw.Link.Scope)
	}
	return perm, nil
}
