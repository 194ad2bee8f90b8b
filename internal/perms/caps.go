package perms

import "github.com/lumeo-crm/notifyd/internal/alerts"

// Capability strings gating alert categories.
const (
	CapAlertsClient   = "alerts:client"
	CapAlertsVisit    = "alerts:visit"
	CapAlertsTransfer = "alerts:transfer"
)

var categoryCaps = map[alerts.Category]string{
	alerts.CategoryClient:   CapAlertsClient,
	alerts.CategoryVisit:    CapAlertsVisit,
	alerts.CategoryTransfer: CapAlertsTransfer,
}

// AllowedCategories returns the alert categories the role may receive,
// in the canonical category order. A nil role allows nothing.
func AllowedCategories(role *Role) []alerts.Category {
	var out []alerts.Category
	for _, cat := range alerts.Categories {
		if role.Has(categoryCaps[cat]) {
			out = append(out, cat)
		}
	}
	return out
}
