// Package classify maps cumulative scores to severity bands and recommended
// actions. The whole mapping is table-driven so deployments can recalibrate
// without code changes.
package classify

import (
	"fmt"

	"vigil/internal/domain"
)

// Policy holds the score thresholds and the band->action table.
type Policy struct {
	// Lower bounds per band; scores below Low classify as None.
	Low      float64
	Medium   float64
	High     float64
	Critical float64

	Actions   map[domain.Band]domain.Action
	AutoBlock bool
}

// DefaultPolicy mirrors the documented thresholds: 0-19 none, 20-39 low,
// 40-59 medium, 60-79 high, 80-100 critical.
func DefaultPolicy() Policy {
	return Policy{
		Low:      20,
		Medium:   40,
		High:     60,
		Critical: 80,
		Actions: map[domain.Band]domain.Action{
			domain.BandNone:     domain.ActionContinue,
			domain.BandLow:      domain.ActionMonitor,
			domain.BandMedium:   domain.ActionWarn,
			domain.BandHigh:     domain.ActionWarnOfferBlock,
			domain.BandCritical: domain.ActionRecommendBlock,
		},
	}
}

// Validate rejects threshold tables that are not strictly increasing.
func (p Policy) Validate() error {
	if !(p.Low > 0 && p.Medium > p.Low && p.High > p.Medium && p.Critical > p.High) {
		return fmt.Errorf("band thresholds must be strictly increasing and positive: %v/%v/%v/%v",
			p.Low, p.Medium, p.High, p.Critical)
	}
	for _, b := range []domain.Band{domain.BandNone, domain.BandLow, domain.BandMedium, domain.BandHigh, domain.BandCritical} {
		if _, ok := p.Actions[b]; !ok {
			return fmt.Errorf("no action configured for band %q", b)
		}
	}
	return nil
}

// BandFor maps a score onto a band with no hysteresis applied.
func (p Policy) BandFor(score float64) domain.Band {
	switch {
	case score >= p.Critical:
		return domain.BandCritical
	case score >= p.High:
		return domain.BandHigh
	case score >= p.Medium:
		return domain.BandMedium
	case score >= p.Low:
		return domain.BandLow
	default:
		return domain.BandNone
	}
}

// Classify derives the reported band and action for a cumulative score.
// maxBand is the most severe band the session has ever reached: once it hits
// High the reported band never drops below Medium again, so registry changes
// cannot make an escalated call flap back to quiet.
func (p Policy) Classify(score float64, maxBand domain.Band) (domain.Band, domain.Action) {
	band := p.BandFor(score)
	if maxBand.AtLeast(domain.BandHigh) && !band.AtLeast(domain.BandMedium) {
		band = domain.BandMedium
	}
	action := p.Actions[band]
	if band == domain.BandCritical && p.AutoBlock {
		action = domain.ActionBlock
	}
	return band, action
}

// Recommendation renders the operator-facing hint for an action.
func Recommendation(action domain.Action) string {
	switch action {
	case domain.ActionBlock, domain.ActionRecommendBlock:
		return "Block this sender"
	case domain.ActionWarnOfferBlock:
		return "High risk - blocking is recommended"
	case domain.ActionWarn:
		return "Be cautious"
	case domain.ActionMonitor:
		return "Low risk - keep monitoring"
	default:
		return "Safe"
	}
}
