// Package domain defines the governed document types, lifecycle states,
// change records, and rule evaluation primitives used by govcore.
package domain

import "time"

// ObjectType identifies the kind of governed document stored in the engine.
type ObjectType string

// Governed document type identifiers used in activity entries and persistence buckets.
const (
	// ObjectIntervention identifies a programme document record.
	ObjectIntervention ObjectType = "intervention"
	// ObjectAgreement identifies a partner agreement record.
	ObjectAgreement ObjectType = "agreement"
	// ObjectEngagement identifies an assurance engagement record.
	ObjectEngagement ObjectType = "engagement"
	// ObjectActionPoint identifies a follow-up action point record.
	ObjectActionPoint ObjectType = "action_point"
)

// Intervention lifecycle statuses.
const (
	InterventionDraft      = "draft"
	InterventionReview     = "review"
	InterventionSignature  = "signature"
	InterventionSigned     = "signed"
	InterventionActive     = "active"
	InterventionEnded      = "ended"
	InterventionSuspended  = "suspended"
	InterventionTerminated = "terminated"
	InterventionClosed     = "closed"
)

// Agreement lifecycle statuses.
const (
	AgreementDraft      = "draft"
	AgreementSigned     = "signed"
	AgreementEnded      = "ended"
	AgreementSuspended  = "suspended"
	AgreementTerminated = "terminated"
)

// Engagement lifecycle statuses.
const (
	EngagementPartnerContacted = "partner_contacted"
	EngagementFieldVisit       = "field_visit"
	EngagementReportSubmitted  = "report_submitted"
	EngagementFinal            = "final"
	EngagementCancelled        = "cancelled"
)

// Action point lifecycle statuses.
const (
	ActionPointOpen      = "open"
	ActionPointCompleted = "completed"
)

// Base contains the attributes every governed document carries.
type Base struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Status    string    `json:"status"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Meta exposes the shared attributes for engine bookkeeping.
func (b *Base) Meta() *Base { return b }

// Object is implemented by every governed document type.
type Object interface {
	Meta() *Base
	ObjectType() ObjectType
}

// PlannedBudget captures the monetary plan attached to an intervention.
type PlannedBudget struct {
	Currency            string  `json:"currency"`
	UnicefCashLocal     float64 `json:"unicef_cash_local"`
	UnicefSuppliesLocal float64 `json:"unicef_supplies_local"`
	PartnerContribution float64 `json:"partner_contribution_local"`
	InKindAmountLocal   float64 `json:"in_kind_amount_local"`
	TotalLocal          float64 `json:"total_local"`
}

// SupplyItem models a supply line planned under an intervention.
type SupplyItem struct {
	Title         string  `json:"title"`
	UnitNumber    float64 `json:"unit_number"`
	UnitPrice     float64 `json:"unit_price"`
	TotalPrice    float64 `json:"total_price"`
	ProvidedBy    string  `json:"provided_by"`
	OtherMentions string  `json:"other_mentions,omitempty"`
}

// Intervention represents a programme document negotiated with a partner.
type Intervention struct {
	Base
	Title                string         `json:"title"`
	ReferenceNumber      string         `json:"reference_number"`
	AgreementID          *string        `json:"agreement_id"`
	PartnerName          string         `json:"partner_name"`
	StartDate            *time.Time     `json:"start_date"`
	EndDate              *time.Time     `json:"end_date"`
	SignedByPartnerAt    *time.Time     `json:"signed_by_partner_date"`
	SignedByOrgAt        *time.Time     `json:"signed_by_unicef_date"`
	BudgetOwnerID        *string        `json:"budget_owner_id"`
	UnicefFocalPointIDs  []string       `json:"unicef_focal_point_ids"`
	PartnerFocalPointIDs []string       `json:"partner_focal_point_ids"`
	PlannedBudget        *PlannedBudget `json:"planned_budget"`
	SupplyItems          []SupplyItem   `json:"supply_items"`
	AttachmentIDs        []string       `json:"attachment_ids"`
	ContingencyPD        bool           `json:"contingency_pd"`
	ActivationLetter     *string        `json:"activation_letter,omitempty"`
}

// ObjectType implements Object.
func (*Intervention) ObjectType() ObjectType { return ObjectIntervention }

// Agreement represents a signed framework with a partner organisation.
type Agreement struct {
	Base
	AgreementType        string     `json:"agreement_type"`
	ReferenceNumber      string     `json:"reference_number"`
	PartnerName          string     `json:"partner_name"`
	StartDate            *time.Time `json:"start_date"`
	EndDate              *time.Time `json:"end_date"`
	SignedByPartnerAt    *time.Time `json:"signed_by_partner_date"`
	SignedByOrgAt        *time.Time `json:"signed_by_unicef_date"`
	AuthorizedOfficerIDs []string   `json:"authorized_officer_ids"`
	TerminationDocID     *string    `json:"termination_doc_id"`
}

// ObjectType implements Object.
func (*Agreement) ObjectType() ObjectType { return ObjectAgreement }

// Engagement represents an assurance engagement (audit, spot check, micro assessment).
type Engagement struct {
	Base
	EngagementType    string     `json:"engagement_type"`
	PartnerName       string     `json:"partner_name"`
	TotalValue        float64    `json:"total_value"`
	DateOfFieldVisit  *time.Time `json:"date_of_field_visit"`
	DateOfDraftReport *time.Time `json:"date_of_draft_report"`
	FocalPointIDs     []string   `json:"focal_point_ids"`
	AttachmentIDs     []string   `json:"attachment_ids"`
	CancelComment     *string    `json:"cancel_comment,omitempty"`
}

// ObjectType implements Object.
func (*Engagement) ObjectType() ObjectType { return ObjectEngagement }

// ActionPoint represents a follow-up task raised against other documents.
type ActionPoint struct {
	Base
	Description    string     `json:"description"`
	AssignedToID   *string    `json:"assigned_to_id"`
	AssignedByID   *string    `json:"assigned_by_id"`
	DueDate        *time.Time `json:"due_date"`
	HighPriority   bool       `json:"high_priority"`
	InterventionID *string    `json:"intervention_id"`
	EngagementID   *string    `json:"engagement_id"`
	CompletedAt    *time.Time `json:"completed_at"`
}

// ObjectType implements Object.
func (*ActionPoint) ObjectType() ObjectType { return ObjectActionPoint }

// NewObject returns a zero value of the governed type, or false when the
// type is not registered in the domain.
func NewObject(t ObjectType) (Object, bool) {
	switch t {
	case ObjectIntervention:
		return &Intervention{}, true
	case ObjectAgreement:
		return &Agreement{}, true
	case ObjectEngagement:
		return &Engagement{}, true
	case ObjectActionPoint:
		return &ActionPoint{}, true
	default:
		return nil, false
	}
}

// ObjectTypes lists every governed type known to the domain.
func ObjectTypes() []ObjectType {
	return []ObjectType{ObjectIntervention, ObjectAgreement, ObjectEngagement, ObjectActionPoint}
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Object   ObjectType
	ObjectID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

// Action indicates the kind of modification captured in an activity entry.
type Action string

// Activity actions recorded against governed documents. The set is closed:
// transitions and amendment merges are updates whose change shows what moved.
const (
	// ActionCreate indicates a document was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates a document was updated.
	ActionUpdate Action = "update"
)

// Change describes a mutation applied to a governed document during a transaction.
type Change struct {
	Object   ObjectType
	ObjectID string
	Action   Action
	Before   ChangePayload
	After    ChangePayload
}
