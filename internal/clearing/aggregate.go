package clearing

import (
	"sort"
	"strings"

	"github.com/lemx/clearing-engine/internal/model"
)

// Key selects grouping fields beyond the always-present price, quality and user.
type Key uint8

// KeyPremium also separates bids with different premiums.
const KeyPremium Key = 1

// compareKey orders two positions by (price, quality, user[, premium]).
func compareKey(a, b *model.Position, key Key) int {
	switch {
	case a.Price != b.Price:
		return cmpInt64(a.Price, b.Price)
	case a.Quality != b.Quality:
		return cmpInt64(int64(a.Quality), int64(b.Quality))
	case a.UserID != b.UserID:
		return strings.Compare(a.UserID, b.UserID)
	}
	if key&KeyPremium != 0 && a.PremiumPct != b.PremiumPct {
		return cmpInt64(a.PremiumPct, b.PremiumPct)
	}
	return 0
}

func cmpInt64(a, b int64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Aggregate collapses positions sharing a grouping key into one record with
// the summed quantity. The first record of each group (in input order) keeps
// its identity fields. Output is ascending by key.
func Aggregate(positions []model.Position, key Key) []model.Position {
	if len(positions) == 0 {
		return []model.Position{}
	}

	sorted := append([]model.Position(nil), positions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return compareKey(&sorted[i], &sorted[j], key) < 0
	})

	// cum[i] is the running quantity through sorted[i]; a group's quantity is
	// the difference of cum at its last member and just before its first.
	cum := make([]int64, len(sorted))
	var running int64
	for i := range sorted {
		running += sorted[i].Quantity
		cum[i] = running
	}

	out := make([]model.Position, 0, len(sorted))
	for start := 0; start < len(sorted); {
		end := start + 1
		for end < len(sorted) && compareKey(&sorted[start], &sorted[end], key) == 0 {
			end++
		}
		rec := sorted[start]
		rec.Quantity = cum[end-1]
		if start > 0 {
			rec.Quantity -= cum[start-1]
		}
		out = append(out, rec)
		start = end
	}
	return out
}
