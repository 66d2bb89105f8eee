package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"payledger/internal/models"
	"payledger/internal/money"
)

var qualityMultipliers = map[string]decimal.Decimal{
	"fast":   decimal.RequireFromString("0.8"),
	"normal": decimal.NewFromInt(1),
	"high":   decimal.RequireFromString("1.5"),
}

type ChargeRequest struct {
	UserID          string
	ReferenceID     string
	DurationSeconds int
	Media           string
	Quality         string
}

type Quote struct {
	Minutes int64 `json:"minutes"`
	Cost    int64 `json:"cost"`
}

// TranscriptionCost prices a job per started minute. Video and video notes use
// the video rate; every other media type uses the audio rate.
func (s *LedgerService) TranscriptionCost(durationSeconds int, media, quality string) (Quote, error) {
	if durationSeconds < 0 {
		return Quote{}, fmt.Errorf("%w: negative duration", ErrInvalidAmount)
	}
	if quality == "" {
		quality = "normal"
	}
	multiplier, ok := qualityMultipliers[quality]
	if !ok {
		return Quote{}, fmt.Errorf("%w: unknown quality %q", ErrInvalidRequest, quality)
	}
	minutes := int64((durationSeconds + 59) / 60)
	if minutes < 1 {
		minutes = 1
	}
	rate := s.pricing.AudioPricePerMin
	if media == "video" || media == "video_note" {
		rate = s.pricing.VideoPricePerMin
	}
	cost := decimal.NewFromInt(rate).Mul(decimal.NewFromInt(minutes)).Mul(multiplier).RoundBank(0)
	return Quote{Minutes: minutes, Cost: cost.IntPart()}, nil
}

// ChargeTranscription deducts the job's cost under the caller's reference id,
// so a retried charge for the same job is answered from the first one.
func (s *LedgerService) ChargeTranscription(ctx context.Context, req ChargeRequest) (Mutation, error) {
	quote, err := s.TranscriptionCost(req.DurationSeconds, req.Media, req.Quality)
	if err != nil {
		return Mutation{}, err
	}
	if req.ReferenceID == "" {
		req.ReferenceID = s.NewReferenceID()
	}
	return s.DeductBalance(ctx, DeductBalanceRequest{
		UserID:        req.UserID,
		Amount:        quote.Cost,
		Description:   fmt.Sprintf("Transcription %s (%d min, %s)", req.Media, quote.Minutes, money.FormatMinor(quote.Cost)),
		PaymentMethod: "wallet",
		Gateway:       models.GatewayWallet,
		ReferenceID:   req.ReferenceID,
		Metadata: models.Metadata{
			"media":            req.Media,
			"quality":          req.Quality,
			"duration_seconds": req.DurationSeconds,
			"minutes":          quote.Minutes,
		},
	})
}
