// Package scoring turns one offer and its RFO into a score and a breakdown
// explaining it. It is pure: no persistence, no clock, no configuration
// beyond the profile table passed in.
package scoring

import (
	"intentbid/internal/domain"
)

// Penalty names reported in Explain.Penalties. Any penalty forces the final
// score to zero.
const (
	PenaltyOverBudget           = "over_budget"
	PenaltyOutOfStock           = "out_of_stock"
	PenaltyLateDelivery         = "late_delivery"
	PenaltyInsufficientQuantity = "insufficient_quantity"
	PenaltyMissingTraceability  = "missing_traceability"
)

// Weights are the resolved per-component weights used for one scoring call.
type Weights struct {
	Price        float64 `json:"price"`
	Delivery     float64 `json:"delivery"`
	Warranty     float64 `json:"warranty"`
	Traceability float64 `json:"traceability"`
	Vendor       float64 `json:"vendor"`
}

// Explain is the contractual "why this rank" payload. Component scores are
// reported even when a penalty zeroed the final score.
type Explain struct {
	PriceScore        float64  `json:"price_score"`
	LeadTimeScore     float64  `json:"lead_time_score"`
	WarrantyScore     float64  `json:"warranty_score"`
	TraceabilityScore float64  `json:"traceability_score"`
	VendorScore       float64  `json:"vendor_score"`
	Weights           Weights  `json:"weights"`
	Penalties         []string `json:"penalties"`
}

// DefaultProfiles is the built-in preset table, used when the caller has no
// configured override. Each preset sums to 1.0.
var DefaultProfiles = map[string]Weights{
	"fastest":  {Price: 0.2, Delivery: 0.6, Warranty: 0.1, Traceability: 0.1},
	"cheapest": {Price: 0.65, Delivery: 0.15, Warranty: 0.1, Traceability: 0.1},
	"balanced": {Price: 0.4, Delivery: 0.3, Warranty: 0.2, Traceability: 0.1},
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Score evaluates an offer against its RFO. profiles may be nil, in which
// case DefaultProfiles resolves named scoring profiles.
func Score(offer domain.Offer, rfo domain.RFO, profiles map[string]Weights) (float64, Explain) {
	budget := effectiveBudget(rfo)
	deadline := effectiveDeadline(rfo)
	requestedQty := requestedQuantity(rfo)
	price := effectivePrice(offer)
	leadTime := effectiveLeadTime(offer)
	availableQty, inStock := availability(offer)

	var penalties []string
	if budget != nil && price > *budget {
		penalties = append(penalties, PenaltyOverBudget)
	}
	if !inStock {
		penalties = append(penalties, PenaltyOutOfStock)
	}
	if deadline != nil && leadTime > *deadline {
		penalties = append(penalties, PenaltyLateDelivery)
	}
	if requestedQty != nil && availableQty != nil && *availableQty < *requestedQty {
		penalties = append(penalties, PenaltyInsufficientQuantity)
	}
	if requiresTraceability(rfo) && !traceabilityComplete(offer.Traceability) {
		penalties = append(penalties, PenaltyMissingTraceability)
	}

	explain := Explain{
		WarrantyScore: clamp01(float64(offer.WarrantyMonths) / 24),
		Weights:       resolveWeights(rfo, profiles),
		Penalties:     penalties,
	}
	if penalties == nil {
		explain.Penalties = []string{}
	}
	if budget != nil && *budget > 0 {
		explain.PriceScore = clamp01(1 - price/(*budget))
	}
	if deadline != nil && *deadline > 0 {
		explain.LeadTimeScore = clamp01(1 - float64(leadTime)/float64(*deadline))
	}
	if traceabilityComplete(offer.Traceability) {
		explain.TraceabilityScore = 1
	}
	// VendorScore is a reserved slot for future vendor-quality input.

	if len(penalties) > 0 {
		return 0, explain
	}
	w := explain.Weights
	score := w.Price*explain.PriceScore +
		w.Delivery*explain.LeadTimeScore +
		w.Warranty*explain.WarrantyScore +
		w.Traceability*explain.TraceabilityScore +
		w.Vendor*explain.VendorScore
	return score, explain
}

// resolveWeights applies the precedence chain: explicit weights on the RFO,
// then a named scoring profile, then legacy preferences with defaults.
func resolveWeights(rfo domain.RFO, profiles map[string]Weights) Weights {
	if len(rfo.Weights) > 0 {
		return Weights{
			Price:        numberKey(rfo.Weights, "price", "w_price", 0),
			Delivery:     numberKey(rfo.Weights, "delivery", "w_delivery", 0),
			Warranty:     numberKey(rfo.Weights, "warranty", "w_warranty", 0),
			Traceability: numberKey(rfo.Weights, "traceability", "w_traceability", 0),
			Vendor:       numberKey(rfo.Weights, "vendor", "w_vendor", 0),
		}
	}
	if rfo.ScoringProfile != "" {
		if profiles == nil {
			profiles = DefaultProfiles
		}
		if preset, ok := profiles[rfo.ScoringProfile]; ok {
			return preset
		}
	}
	return Weights{
		Price:    numberKey(rfo.Preferences, "w_price", "", 0.5),
		Delivery: numberKey(rfo.Preferences, "w_delivery", "", 0.3),
		Warranty: numberKey(rfo.Preferences, "w_warranty", "", 0.2),
	}
}

func effectiveBudget(rfo domain.RFO) *float64 {
	if rfo.BudgetMax != nil {
		return rfo.BudgetMax
	}
	return numberConstraint(rfo.Constraints, "budget_max")
}

func effectiveDeadline(rfo domain.RFO) *int {
	if rfo.DeliveryDeadlineDays != nil {
		return rfo.DeliveryDeadlineDays
	}
	if v := numberConstraint(rfo.Constraints, "delivery_deadline_days"); v != nil {
		d := int(*v)
		return &d
	}
	return nil
}

func requestedQuantity(rfo domain.RFO) *int {
	if rfo.Quantity != nil {
		return rfo.Quantity
	}
	if v := numberConstraint(rfo.Constraints, "quantity"); v != nil {
		q := int(*v)
		return &q
	}
	if len(rfo.LineItems) > 0 {
		sum := 0
		for _, item := range rfo.LineItems {
			sum += item.Qty
		}
		return &sum
	}
	return nil
}

func effectivePrice(offer domain.Offer) float64 {
	if offer.UnitPrice != nil {
		return *offer.UnitPrice
	}
	return offer.PriceAmount
}

func effectiveLeadTime(offer domain.Offer) int {
	if offer.LeadTimeDays != nil {
		return *offer.LeadTimeDays
	}
	return offer.DeliveryETADays
}

// availability derives stock from available_qty when present, otherwise from
// the explicit stock flag.
func availability(offer domain.Offer) (*int, bool) {
	if offer.AvailableQty != nil {
		return offer.AvailableQty, *offer.AvailableQty > 0
	}
	return nil, offer.Stock
}

func requiresTraceability(rfo domain.RFO) bool {
	if v, ok := rfo.Compliance["traceability_required"].(bool); ok && v {
		return true
	}
	if v, ok := rfo.Constraints["requires_traceability"].(bool); ok && v {
		return true
	}
	return false
}

func traceabilityComplete(t *domain.Traceability) bool {
	if t == nil {
		return false
	}
	for _, flag := range []*bool{t.AuthorizedChannel, t.InvoicesAvailable, t.SerialsAvailable} {
		if flag == nil || !*flag {
			return false
		}
	}
	return true
}

// numberKey reads a float from m under key or altKey, falling back to def.
// JSON decoding yields float64 for all numbers; int is accepted for maps
// built in code.
func numberKey(m map[string]any, key, altKey string, def float64) float64 {
	for _, k := range []string{key, altKey} {
		if k == "" {
			continue
		}
		if v, ok := asNumber(m[k]); ok {
			return v
		}
	}
	return def
}

func numberConstraint(m map[string]any, key string) *float64 {
	if v, ok := asNumber(m[key]); ok {
		return &v
	}
	return nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
