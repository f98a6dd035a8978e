package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdminPolicyEvaluate(t *testing.T) {
	policy := NewAdminPolicy("admin_user")

	cases := []struct {
		name     string
		identity Identity
		admin    bool
		reason   DenialReason
	}{
		{name: "reference admin", identity: Identity{ID: "admin_user", Role: RoleAdmin, IsActive: true}, admin: true},
		{name: "non admin role", identity: Identity{ID: "admin_user", Role: RoleUser, IsActive: true}, reason: ReasonInsufficientRole},
		{name: "admin role other id", identity: Identity{ID: "github_42", Role: RoleAdmin, IsActive: true}, reason: ReasonUnauthorizedIdentity},
		{name: "inactive reference admin", identity: Identity{ID: "admin_user", Role: RoleAdmin}, reason: ReasonUnauthorizedIdentity},
		{name: "matching email is not enough", identity: Identity{ID: "other", Email: "admin@example.com", Role: RoleAdmin, IsActive: true}, reason: ReasonUnauthorizedIdentity},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			admin, reason := policy.Evaluate(tc.identity)
			require.Equal(t, tc.admin, admin)
			require.Equal(t, tc.reason, reason)
		})
	}
}

func TestAdminPolicyWithoutReferenceDeniesEveryone(t *testing.T) {
	admin, reason := NewAdminPolicy("").Evaluate(Identity{ID: "", Role: RoleAdmin, IsActive: true})
	require.False(t, admin)
	require.Equal(t, ReasonUnauthorizedIdentity, reason)
}
