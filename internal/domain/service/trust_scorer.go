package service

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/turtacn/lct/internal/domain/models"
	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/utils"
)

// TrustWeights parameterizes the trust score. Each contribution is capped
// independently so no single signal dominates.
type TrustWeights struct {
	Base             float64
	InteractionCap   float64
	InteractionScale float64
	AttestationCap   float64
	AttestationScale float64
	AgeCap           float64
	AgeScaleDays     float64
}

// DefaultTrustWeights returns the 0.1/0.3/0.4/0.2 split.
func DefaultTrustWeights() TrustWeights {
	return TrustWeights{
		Base:             constants.TrustBase,
		InteractionCap:   constants.TrustInteractionCap,
		InteractionScale: constants.TrustInteractionScale,
		AttestationCap:   constants.TrustAttestationCap,
		AttestationScale: constants.TrustAttestationScale,
		AgeCap:           constants.TrustAgeCap,
		AgeScaleDays:     constants.TrustAgeScaleDays,
	}
}

// TrustScorer derives trust and reputation from an identity's authoritative
// fields. It keeps no per-identity state and performs no I/O.
type TrustScorer struct {
	weights atomic.Pointer[TrustWeights]
}

// NewTrustScorer creates a scorer with the given weights.
func NewTrustScorer(w TrustWeights) *TrustScorer {
	s := &TrustScorer{}
	s.SetWeights(w)
	return s
}

// SetWeights replaces the weights used by subsequent computations.
func (s *TrustScorer) SetWeights(w TrustWeights) {
	s.weights.Store(&w)
}

// Weights returns the weights currently in force.
func (s *TrustScorer) Weights() TrustWeights {
	return *s.weights.Load()
}

// TrustScore computes
// clamp(base + min(cap_i, succ/scale_i) + min(cap_a, Σ w·t / scale_a) + min(cap_g, age_days/scale_g), 0, 1).
func (s *TrustScorer) TrustScore(id *models.Identity, now time.Time) float64 {
	w := s.weights.Load()

	interaction := math.Min(w.InteractionCap, float64(id.SuccessfulInteractions)/w.InteractionScale)

	var weighted float64
	for _, a := range id.Attestations {
		weighted += a.Weight * a.TrustLevel
	}
	attestation := math.Min(w.AttestationCap, weighted/w.AttestationScale)

	age := math.Min(w.AgeCap, float64(id.AgeDays(now))/w.AgeScaleDays)

	return utils.Clamp(w.Base+interaction+attestation+age, 0, 1)
}

// Reputation computes (successful - failed) / total, or 0 with no interactions.
func (s *TrustScorer) Reputation(id *models.Identity) float64 {
	if id.Interactions == 0 {
		return 0
	}
	rep := (float64(id.SuccessfulInteractions) - float64(id.FailedInteractions)) / float64(id.Interactions)
	return utils.Clamp(rep, -1, 1)
}

// Snapshot builds the read-only trust view of id at now.
func (s *TrustScorer) Snapshot(id *models.Identity, now time.Time) *models.TrustSnapshot {
	return &models.TrustSnapshot{
		EntityID:     id.EntityID,
		PublicKey:    utils.Base64Encode(id.PublicKey),
		TrustScore:   s.TrustScore(id, now),
		Reputation:   s.Reputation(id),
		Interactions: id.Interactions,
		AgeDays:      id.AgeDays(now),
		Vouchers:     len(id.Vouchers),
		UpdatedAt:    now.UTC(),
	}
}
