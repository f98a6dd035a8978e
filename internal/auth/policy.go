package auth

import "strings"

type DenialReason string

const (
	ReasonInsufficientRole     DenialReason = "insufficient_role"
	ReasonUnauthorizedIdentity DenialReason = "unauthorized_identity"
)

// AdminPolicy decides admin rights against exactly one configured reference: the identity id.
type AdminPolicy struct {
	referenceID string
}

func NewAdminPolicy(referenceID string) AdminPolicy {
	return AdminPolicy{referenceID: strings.TrimSpace(referenceID)}
}

// Evaluate requires role admin, an active record and id equal to the reference.
func (p AdminPolicy) Evaluate(identity Identity) (bool, DenialReason) {
	if identity.Role != RoleAdmin {
		return false, ReasonInsufficientRole
	}
	if p.referenceID == "" || identity.ID != p.referenceID || !identity.IsActive {
		return false, ReasonUnauthorizedIdentity
	}
	return true, ""
}
