package engine

import (
	"context"
	"sort"

	"intentbid/internal/domain"
	"intentbid/internal/scoring"
)

// RankedOffer pairs an offer with its score and the breakdown behind it.
type RankedOffer struct {
	Offer   domain.Offer    `json:"offer"`
	Score   float64         `json:"score"`
	Explain scoring.Explain `json:"explain"`
}

// RankOffers scores every offer on the RFO and orders them best first.
// Rankings are computed on read; nothing is persisted. The sort is stable, so
// equal scores keep submission order.
func (e Engine) RankOffers(ctx context.Context, rfoID int64) (domain.RFO, []RankedOffer, error) {
	rfo, err := e.Repo.GetRFO(ctx, rfoID)
	if err != nil {
		return domain.RFO{}, nil, err
	}
	offers, err := e.Repo.ListOffersByRFO(ctx, rfoID)
	if err != nil {
		return domain.RFO{}, nil, err
	}
	profiles := e.profileTable()
	ranked := make([]RankedOffer, 0, len(offers))
	for _, offer := range offers {
		score, explain := scoring.Score(offer, rfo, profiles)
		ranked = append(ranked, RankedOffer{Offer: offer, Score: score, Explain: explain})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return rfo, ranked, nil
}

// BestOffers returns the first topK entries of the ranking. An RFO with no
// offers yields an empty slice, not an error.
func (e Engine) BestOffers(ctx context.Context, rfoID int64, topK int) (domain.RFO, []RankedOffer, error) {
	rfo, ranked, err := e.RankOffers(ctx, rfoID)
	if err != nil {
		return domain.RFO{}, nil, err
	}
	if topK <= 0 {
		topK = 1
	}
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return rfo, ranked, nil
}
