package billing

import "clinicbill/internal/types"

// PlanResolver maps provider price IDs to plan tiers. The three price IDs are
// environment-sourced; the mapping is fixed for the life of the process.
//
// Resolve deliberately defaults to basic for unrecognized or missing price
// IDs. A price tier added upstream before this service's configuration is
// updated will therefore under-report entitlement until the new price ID is
// configured; the alternative (leaving the prior plan untouched) would let a
// canceled tier linger, which is worse for a billing system.
type PlanResolver struct {
	byPrice map[string]types.PlanTier
	byPlan  map[types.PlanTier]string
}

// NewPlanResolver builds a resolver from the three configured price IDs.
// Empty price IDs are skipped; events referencing them fall through to the
// basic default.
func NewPlanResolver(priceBasic, pricePro, priceEnterprise string) *PlanResolver {
	r := &PlanResolver{
		byPrice: make(map[string]types.PlanTier, 3),
		byPlan:  make(map[types.PlanTier]string, 3),
	}
	r.add(priceBasic, types.PlanBasic)
	r.add(pricePro, types.PlanPro)
	r.add(priceEnterprise, types.PlanEnterprise)
	return r
}

func (r *PlanResolver) add(priceID string, plan types.PlanTier) {
	if priceID == "" {
		return
	}
	r.byPrice[priceID] = plan
	r.byPlan[plan] = priceID
}

// Resolve returns the plan tier for a price ID, defaulting to basic.
func (r *PlanResolver) Resolve(priceID string) types.PlanTier {
	if plan, ok := r.byPrice[priceID]; ok {
		return plan
	}
	return types.PlanBasic
}

// Prices returns the plan-to-price mapping for checkout session creation.
func (r *PlanResolver) Prices() map[types.PlanTier]string {
	out := make(map[types.PlanTier]string, len(r.byPlan))
	for plan, price := range r.byPlan {
		out[plan] = price
	}
	return out
}
