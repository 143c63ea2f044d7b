package subscription

import "fmt"

// Plan identifies a SaaS pricing tier.
type Plan string

const (
	PlanStarter    Plan = "starter"
	PlanPractice   Plan = "practice"
	PlanEnterprise Plan = "enterprise"
)

// ParsePlan validates a plan name from a request body.
func ParsePlan(s string) (Plan, error) {
	switch Plan(s) {
	case PlanStarter, PlanPractice, PlanEnterprise:
		return Plan(s), nil
	default:
		return "", fmt.Errorf("subscription: unknown plan %q", s)
	}
}

// PlanPrices maps each plan to its pre-created Stripe recurring Price ID.
type PlanPrices struct {
	Starter    string
	Practice   string
	Enterprise string
}

// PriceID returns the Stripe price for a plan, false when unconfigured.
func (p PlanPrices) PriceID(plan Plan) (string, bool) {
	var id string
	switch plan {
	case PlanStarter:
		id = p.Starter
	case PlanPractice:
		id = p.Practice
	case PlanEnterprise:
		id = p.Enterprise
	}
	return id, id != ""
}

// Status is the lifecycle state of a practice subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusCancelled Status = "cancelled"
)
