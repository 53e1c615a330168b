package domain

import "time"

// AmendmentKind distinguishes parallel amendment tracks on one document.
type AmendmentKind string

// Amendment kinds supported out of the box. Registrations may add more.
const (
	AmendmentAdmin  AmendmentKind = "admin"
	AmendmentBudget AmendmentKind = "budget"
)

// AmendmentSignature records one signatory on a finalized amendment.
type AmendmentSignature struct {
	SignedByID string    `json:"signed_by_id"`
	Role       string    `json:"role"`
	SignedAt   time.Time `json:"signed_at"`
}

// Amendment tracks a managed fork of a governed document. The amended twin is
// a full document of the same type carrying the pending changes; on
// finalization its values overwrite the original and IsActive drops to false.
type Amendment struct {
	ID                string               `json:"id"`
	ObjectType        ObjectType           `json:"object_type"`
	OriginalID        string               `json:"original_id"`
	AmendedID         string               `json:"amended_id"`
	Kind              AmendmentKind        `json:"kind"`
	IsActive          bool                 `json:"is_active"`
	SignedByPartnerAt *time.Time           `json:"signed_by_partner_at"`
	SignedByOrgAt     *time.Time           `json:"signed_by_org_at"`
	Signatures        []AmendmentSignature `json:"signatures"`
	Difference        map[string]any       `json:"difference"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}
