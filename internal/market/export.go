package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/lemx/clearing-engine/internal/model"
)

// writeCSV exports a stored run as MatchRecord rows. Scheme columns are the
// schemes the run priced (the market defaults when nothing cleared); tier
// columns cover every tier the run reports a share for.
func writeCSV(w io.Writer, res *model.StoredResult, marketSchemes []model.PricingScheme) error {
	r := &res.Outcome.Result
	schemes := pricedSchemes(r.Matches, marketSchemes)
	tiers := shareTiers(r.QualityShares)

	cw := csv.NewWriter(w)
	if err := cw.Write(model.Columns(schemes, tiers)); err != nil {
		return err
	}
	for _, rec := range model.Records(r, schemes, tiers, res.ClearedAt, res.DeliveryTime) {
		if err := cw.Write(rec.Values()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var allSchemes = []model.PricingScheme{model.Uniform, model.Discriminatory}

func pricedSchemes(matches []model.Match, defaults []model.PricingScheme) []model.PricingScheme {
	if len(matches) == 0 {
		return defaults
	}
	var out []model.PricingScheme
	for _, s := range allSchemes {
		if _, ok := matches[0].Prices[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

func shareTiers(s model.QualityShares) []model.Quality {
	qs := make([]model.Quality, 0, len(s.Pct))
	for q := range s.Pct {
		qs = append(qs, q)
	}
	sort.Slice(qs, func(i, j int) bool { return qs[i] < qs[j] })
	return qs
}

func csvName(res *model.StoredResult) string {
	return fmt.Sprintf("clearing_%d_%s.csv", res.DeliveryTime, res.Variant)
}
