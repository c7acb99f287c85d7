package domain

// RFO status values. An RFO is created OPEN, closes once bidding ends, and
// is awarded to at most one offer. Reopen returns a CLOSED RFO to bidding.
const (
	RFOStatusOpen    = "OPEN"
	RFOStatusClosed  = "CLOSED"
	RFOStatusAwarded = "AWARDED"
)

const (
	OfferStatusSubmitted = "submitted"
	OfferStatusAwarded   = "awarded"
)

const (
	VerificationUnverified = "UNVERIFIED"
	VerificationPending    = "PENDING"
	VerificationVerified   = "VERIFIED"
)

type RFO struct {
	ID                   int64          `json:"id"`
	BuyerID              *int64         `json:"buyer_id,omitempty"`
	Category             string         `json:"category"`
	Title                string         `json:"title,omitempty"`
	Summary              string         `json:"summary,omitempty"`
	Constraints          map[string]any `json:"constraints"`
	Preferences          map[string]any `json:"preferences"`
	Weights              map[string]any `json:"weights"`
	LineItems            []LineItem     `json:"line_items,omitempty"`
	Compliance           map[string]any `json:"compliance,omitempty"`
	ScoringProfile       string         `json:"scoring_profile,omitempty"`
	ScoringVersion       string         `json:"scoring_version"`
	BudgetMax            *float64       `json:"budget_max,omitempty"`
	Currency             string         `json:"currency,omitempty"`
	DeliveryDeadlineDays *int           `json:"delivery_deadline_days,omitempty"`
	Quantity             *int           `json:"quantity,omitempty"`
	Location             string         `json:"location,omitempty"`
	Status               string         `json:"status" enum:"OPEN,CLOSED,AWARDED"`
	StatusReason         string         `json:"status_reason,omitempty"`
	AwardedOfferID       *int64         `json:"awarded_offer_id,omitempty"`
	ExpiresAt            *string        `json:"expires_at,omitempty" format:"date-time"`
	CreatedAt            string         `json:"created_at" format:"date-time"`
}

type LineItem struct {
	PartNumber string `json:"part_number,omitempty"`
	Qty        int    `json:"qty"`
}

type Offer struct {
	ID              int64          `json:"id"`
	RFOID           int64          `json:"rfo_id"`
	VendorID        int64          `json:"vendor_id"`
	PriceAmount     float64        `json:"price_amount"`
	UnitPrice       *float64       `json:"unit_price,omitempty"`
	Currency        string         `json:"currency"`
	DeliveryETADays int            `json:"delivery_eta_days"`
	LeadTimeDays    *int           `json:"lead_time_days,omitempty"`
	AvailableQty    *int           `json:"available_qty,omitempty"`
	ShippingCost    *float64       `json:"shipping_cost,omitempty"`
	TaxEstimate     *float64       `json:"tax_estimate,omitempty"`
	Condition       string         `json:"condition,omitempty"`
	Traceability    *Traceability  `json:"traceability,omitempty"`
	WarrantyMonths  int            `json:"warranty_months"`
	ReturnDays      int            `json:"return_days"`
	Stock           bool           `json:"stock"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Status          string         `json:"status" enum:"submitted,awarded"`
	IsAwarded       bool           `json:"is_awarded"`
	OfferVersion    int            `json:"offer_version"`
	ValidUntil      *string        `json:"valid_until,omitempty" format:"date-time"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	UpdatedAt       *string        `json:"updated_at,omitempty" format:"date-time"`
}

// Traceability flags a vendor can assert about the sourcing of the parts.
// All three must be present and true for an offer to satisfy an RFO that
// requires traceability.
type Traceability struct {
	AuthorizedChannel *bool `json:"authorized_channel,omitempty"`
	InvoicesAvailable *bool `json:"invoices_available,omitempty"`
	SerialsAvailable  *bool `json:"serials_available,omitempty"`
}

// OfferRevision is an immutable snapshot of an offer taken before an update,
// keyed by the version the snapshot still carried.
type OfferRevision struct {
	ID           int64  `json:"id"`
	OfferID      int64  `json:"offer_id"`
	OfferVersion int    `json:"offer_version"`
	SnapshotJSON string `json:"snapshot_json"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type AuditLog struct {
	ID         int64  `json:"id"`
	EntityType string `json:"entity_type"`
	EntityID   int64  `json:"entity_id"`
	Action     string `json:"action"`
	Metadata   string `json:"metadata"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

const (
	OutboxStatusPending   = "pending"
	OutboxStatusDelivered = "delivered"
)

type OutboxEvent struct {
	ID            int64   `json:"id"`
	VendorID      int64   `json:"vendor_id"`
	EventType     string  `json:"event_type"`
	PayloadJSON   string  `json:"payload"`
	Status        string  `json:"status" enum:"pending,delivered"`
	Attempts      int     `json:"attempts"`
	LastError     string  `json:"last_error,omitempty"`
	NextAttemptAt *string `json:"next_attempt_at,omitempty" format:"date-time"`
	DeliveredAt   *string `json:"delivered_at,omitempty" format:"date-time"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

type VendorWebhook struct {
	ID             int64   `json:"id"`
	VendorID       int64   `json:"vendor_id"`
	URL            string  `json:"url"`
	Secret         string  `json:"-"`
	IsActive       bool    `json:"is_active"`
	LastDeliveryAt *string `json:"last_delivery_at,omitempty" format:"date-time"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

type Vendor struct {
	ID                 int64   `json:"id"`
	Name               string  `json:"name"`
	VerificationStatus string  `json:"verification_status" enum:"UNVERIFIED,PENDING,VERIFIED"`
	VerificationNotes  string  `json:"verification_notes,omitempty"`
	VerifiedAt         *string `json:"verified_at,omitempty" format:"date-time"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
}

// VendorProfile drives the match feed and holds reputation counters. The
// reputation fields are recorded but do not feed live scoring.
type VendorProfile struct {
	VendorID            int64    `json:"vendor_id"`
	Categories          []string `json:"categories"`
	Regions             []string `json:"regions"`
	LeadTimeDays        *int     `json:"lead_time_days,omitempty"`
	MinOrderValue       *float64 `json:"min_order_value,omitempty"`
	OnTimeDeliveryRate  *float64 `json:"on_time_delivery_rate,omitempty"`
	DisputeRate         *float64 `json:"dispute_rate,omitempty"`
	VerifiedDistributor *bool    `json:"verified_distributor,omitempty"`
}

type Buyer struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

const (
	KeyStatusActive  = "active"
	KeyStatusRevoked = "revoked"
)

const (
	OwnerKindVendor = "vendor"
	OwnerKindBuyer  = "buyer"
)

// APIKey is a hashed credential for either a vendor or a buyer; OwnerKind
// distinguishes the two.
type APIKey struct {
	ID         string  `json:"id"`
	OwnerKind  string  `json:"owner_kind" enum:"vendor,buyer"`
	OwnerID    int64   `json:"owner_id"`
	KeyHash    string  `json:"-"`
	Status     string  `json:"status" enum:"active,revoked"`
	LastUsedAt *string `json:"last_used_at,omitempty" format:"date-time"`
	RevokedAt  *string `json:"revoked_at,omitempty" format:"date-time"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type Subscription struct {
	ID       int64  `json:"id"`
	VendorID int64  `json:"vendor_id"`
	PlanCode string `json:"plan_code"`
	Status   string `json:"status"`
}

type PlanLimit struct {
	PlanCode          string `json:"plan_code"`
	MaxOffersPerMonth int    `json:"max_offers_per_month"`
}

// UsageEvent is a billing counter row; quotas are enforced by counting these
// per calendar month.
type UsageEvent struct {
	ID        int64  `json:"id"`
	OwnerKind string `json:"owner_kind" enum:"vendor,buyer"`
	OwnerID   int64  `json:"owner_id"`
	EventType string `json:"event_type"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// IdempotencyKey maps a client key plus logical endpoint to the response the
// first call produced, so retried creates return it unchanged.
type IdempotencyKey struct {
	ID           int64  `json:"id"`
	Key          string `json:"key"`
	Endpoint     string `json:"endpoint"`
	StatusCode   int    `json:"status_code"`
	ResponseBody string `json:"response_body"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}
