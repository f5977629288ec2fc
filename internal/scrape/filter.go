// internal/scrape/filter.go
package scrape

import (
	"github.com/rs/zerolog/log"

	"github.com/order-archivers/harvest/pkg/models"
)

// Filter selects which orders from the list proceed to the detail stage.
// Precedence: allow-list first (when non-empty, only listed ids proceed),
// then skip-list, then the max-count cutoff over the orders still selected.
type Filter struct {
	Allow []string
	Skip  []string
	Max   int
}

// Apply returns the summaries that survive the filter, preserving list order.
func (f Filter) Apply(summaries []models.OrderSummary) []models.OrderSummary {
	allow := toSet(f.Allow)
	skip := toSet(f.Skip)

	var selected []models.OrderSummary
	for _, s := range summaries {
		if len(allow) > 0 && !allow[s.ID] {
			log.Debug().Str("order", s.ID).Msg("Not on allow list, skipping")
			continue
		}
		if skip[s.ID] {
			log.Debug().Str("order", s.ID).Msg("On skip list, skipping")
			continue
		}
		if f.Max > 0 && len(selected) >= f.Max {
			log.Debug().Str("order", s.ID).Int("max", f.Max).Msg("Max order count reached, skipping")
			continue
		}
		selected = append(selected, s)
	}
	log.Info().Int("listed", len(summaries)).Int("selected", len(selected)).Msg("Order filter applied")
	return selected
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
