// Package costs aggregates the estimated spend of a run from its result
// rows. A row with no cost means pricing for that model was unknown at
// dispatch time; unknown is never conflated with zero.
package costs

import (
	"sort"

	"github.com/adamd9/thelastquiz/pkg/storage"
)

// ModelCost is the aggregated spend of one model within a run.
type ModelCost struct {
	ModelID string   `json:"model_id"`
	Calls   int      `json:"calls"`
	Priced  int      `json:"priced"`
	Cost    *float64 `json:"cost,omitempty"`
}

// Summary is the cost rollup for one run. Total is nil when no result row
// carried a cost at all; a run whose every priced call cost nothing still
// reports a zero total.
type Summary struct {
	Total          *float64    `json:"total,omitempty"`
	PerModel       []ModelCost `json:"per_model"`
	MissingPricing []string    `json:"missing_pricing,omitempty"`
}

// Summarize folds result rows into a cost summary. Rows without a cost
// contribute nothing to totals and flag their model as missing pricing.
func Summarize(results []storage.Result) *Summary {
	perModel := make(map[string]*ModelCost)
	missing := make(map[string]struct{})

	var total float64

	priced := false

	for i := range results {
		res := &results[i]

		mc, ok := perModel[res.ModelID]
		if !ok {
			mc = &ModelCost{ModelID: res.ModelID}
			perModel[res.ModelID] = mc
		}

		mc.Calls++

		if res.Cost == nil {
			missing[res.ModelID] = struct{}{}

			continue
		}

		priced = true
		total += *res.Cost
		mc.Priced++

		if mc.Cost == nil {
			mc.Cost = new(float64)
		}

		*mc.Cost += *res.Cost
	}

	summary := &Summary{
		PerModel: make([]ModelCost, 0, len(perModel)),
	}

	for _, mc := range perModel {
		summary.PerModel = append(summary.PerModel, *mc)
	}

	sort.Slice(summary.PerModel, func(i, j int) bool {
		return summary.PerModel[i].ModelID < summary.PerModel[j].ModelID
	})

	for modelID := range missing {
		summary.MissingPricing = append(summary.MissingPricing, modelID)
	}

	sort.Strings(summary.MissingPricing)

	if priced {
		summary.Total = &total
	}

	return summary
}
