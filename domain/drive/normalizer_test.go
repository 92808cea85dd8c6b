package drive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_AggregatesAnonymousLinks(t *testing.T) {
	// Arrange
	set := EffectivePermissionSet{ItemID: "i1", Permissions: []RawPermission{anyonePerm("p2"), anyonePerm("p1")}}

	// Act
	got := Normalize(set)

	// Assert
	require.Len(t, got, 1)
	assert.Equal(t, PermissionTypeAnyone, got[0].Type)
	assert.Equal(t, []string{"p1", "p2"}, got[0].PermissionIDs)
}

func TestNormalize_MergesDirectAndLinkGrantsByEmail(t *testing.T) {
	// Arrange
	set := EffectivePermissionSet{ItemID: "i1", Permissions: []RawPermission{
		directPerm("p1", "a@x.com"),
		linkPerm("p2", "a@x.com", "b@x.com"),
		linkPerm("p3", "a@x.com"),
	}}

	// Act
	got := Normalize(set)

	// Assert
	require.Len(t, got, 2)
	assert.Equal(t, NormalizedPermission{
		Type:               PermissionTypeUser,
		Email:              "a@x.com",
		UserID:             "u-a@x.com",
		DirectPermissionID: "p1",
		LinkPermissionIDs:  []string{"p2", "p3"},
	}, got[0])
	assert.Equal(t, NormalizedPermission{
		Type:              PermissionTypeUser,
		Email:             "b@x.com",
		UserID:            "u-b@x.com",
		LinkPermissionIDs: []string{"p2"},
	}, got[1])
}

func TestNormalize_EmailIsCaseSensitive(t *testing.T) {
	// Arrange
	set := EffectivePermissionSet{Permissions: []RawPermission{
		directPerm("p1", "A@x.com"),
		directPerm("p2", "a@x.com"),
	}}

	// Act
	got := Normalize(set)

	// Assert
	require.Len(t, got, 2)
	assert.Equal(t, "A@x.com", got[0].Email)
	assert.Equal(t, "a@x.com", got[1].Email)
}

func TestNormalize_IgnoresGrantsWithoutNamedUsers(t *testing.T) {
	tests := []struct {
		name  string
		perms []RawPermission
	}{
		{"organization link", []RawPermission{{ID: "p1", Scope: ScopeOrganization}}},
		{"users link without recipients", []RawPermission{{ID: "p1", Scope: ScopeUsers}}},
		{"direct grant without email", []RawPermission{{ID: "p1", Scope: ScopeDirect, GrantedUser: &Grantee{ID: "g1"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Act
			got := Normalize(EffectivePermissionSet{Permissions: tt.perms})

			// Assert
			assert.Empty(t, got)
		})
	}
}

func TestNormalize_IsIdempotentAndOrderIndependent(t *testing.T) {
	// Arrange
	perms := []RawPermission{
		linkPerm("p3", "c@x.com", "a@x.com"),
		anyonePerm("p9"),
		directPerm("p1", "b@x.com"),
		anyonePerm("p4"),
	}
	reversed := make([]RawPermission, len(perms))
	for i, p := range perms {
		reversed[len(perms)-1-i] = p
	}

	// Act
	first := Normalize(EffectivePermissionSet{Permissions: perms})
	second := Normalize(EffectivePermissionSet{Permissions: perms})
	shuffled := Normalize(EffectivePermissionSet{Permissions: reversed})

	// Assert
	assert.Equal(t, first, second)
	assert.Equal(t, first, shuffled)
}
