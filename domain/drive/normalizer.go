package drive

import "sort"

// Normalize folds an effective permission set into the sink permission model.
//
// Anonymous grants are aggregated into a single "anyone" entry. Users are keyed by email as
// returned by the API (case-sensitive): a grant with a single GrantedUser sets the user's
// DirectPermissionID, and a "users" link adds its id to LinkPermissionIDs of every named
// user. Grantees without an email contribute nothing. The output is sorted so that
// normalizing the same set twice yields identical results.
func Normalize(set EffectivePermissionSet) []NormalizedPermission {
	var anyone []string
	users := make(map[string]*NormalizedPermission)

	user := func(g Grantee) *NormalizedPermission {
		entry, ok := users[g.Email]
		if !ok {
			entry = &NormalizedPermission{
				Type:              PermissionTypeUser,
				Email:             g.Email,
				LinkPermissionIDs: []string{},
			}
			users[g.Email] = entry
		}
		if entry.UserID == "" {
			entry.UserID = g.ID
		}
		return entry
	}

	for _, p := range set.Permissions {
		if p.Scope == ScopeAnonymous {
			anyone = append(anyone, p.ID)
			continue
		}

		if p.GrantedUser != nil && p.GrantedUser.Email != "" {
			entry := user(*p.GrantedUser)
			// first direct grant wins; inputs are ordered by the API
			if entry.DirectPermissionID == "" {
				entry.DirectPermissionID = p.ID
			}
		}

		if p.Scope == ScopeUsers {
			for _, g := range p.GrantedUsers {
				if g.Email == "" {
					continue
				}
				entry := user(g)
				entry.LinkPermissionIDs = appendUnique(entry.LinkPermissionIDs, p.ID)
			}
		}
	}

	out := make([]NormalizedPermission, 0, len(users)+1)
	if len(anyone) > 0 {
		ids := dedupe(anyone)
		sort.Strings(ids)
		out = append(out, NormalizedPermission{Type: PermissionTypeAnyone, PermissionIDs: ids})
	}

	emails := make([]string, 0, len(users))
	for email := range users {
		emails = append(emails, email)
	}
	sort.Strings(emails)

	for _, email := range emails {
		entry := users[email]
		sort.Strings(entry.LinkPermissionIDs)
		out = append(out, *entry)
	}

	return out
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
