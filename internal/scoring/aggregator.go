// Package scoring matches a content unit against one registry snapshot and
// produces the step score plus the matched signature list.
package scoring

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"vigil/internal/domain"
	"vigil/internal/ports"
	"vigil/internal/registry"
)

// Points configures the per-match contribution before weighting. Content
// matches (keyword/phrase/regex) and sender-pattern matches are weighted
// asymmetrically; this is policy, tunable per deployment.
type Points struct {
	Content float64
	Sender  float64
}

// DefaultPoints mirrors the historical 10/15 split.
var DefaultPoints = Points{Content: 10, Sender: 15}

// Aggregator scores content against registry snapshots and records
// per-signature statistics for matched rules.
type Aggregator struct {
	points Points
	stats  ports.StatisticsRepository
	log    *zap.Logger
}

func New(points Points, stats ports.StatisticsRepository, log *zap.Logger) *Aggregator {
	if points.Content <= 0 {
		points.Content = DefaultPoints.Content
	}
	if points.Sender <= 0 {
		points.Sender = DefaultPoints.Sender
	}
	return &Aggregator{points: points, stats: stats, log: log}
}

// Score tests every active signature in the snapshot against the unit and
// returns the uncapped step score. Matches come back in ascending
// signature-id order; the snapshot is already sorted that way.
// A degraded unit contributes zero signal.
func (a *Aggregator) Score(snap *registry.Snapshot, c domain.Content) (float64, []domain.MatchResult) {
	if c.Degraded {
		return 0, nil
	}
	var total float64
	var matches []domain.MatchResult
	for i := range snap.Signatures {
		sig := &snap.Signatures[i]
		if !scopeMatches(sig.Language, c.Language) || !scopeMatches(sig.Region, c.Region) {
			continue
		}
		if !a.test(sig, c) {
			continue
		}
		points := a.points.Content * sig.Weight
		if sig.Kind == domain.MatchSender {
			points = a.points.Sender * sig.Weight
		}
		total += points
		matches = append(matches, domain.MatchResult{
			SignatureID: sig.ID,
			Category:    sig.Category,
			Kind:        sig.Kind,
			Weight:      sig.Weight,
			Points:      points,
		})
	}
	return total, matches
}

// RecordStats bumps occurrence counters for matched signatures. Called only
// for freshly admitted units so replays never double-count.
func (a *Aggregator) RecordStats(ctx context.Context, matches []domain.MatchResult, at time.Time) {
	if len(matches) == 0 {
		return
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.SignatureID
	}
	if err := a.stats.BumpSignatures(ctx, ids, at); err != nil {
		a.log.Warn("scoring: statistic bump failed", zap.Error(err))
	}
}

func scopeMatches(sigScope, contentScope string) bool {
	return sigScope == "" || contentScope == "" || strings.EqualFold(sigScope, contentScope)
}

func (a *Aggregator) test(sig *registry.Compiled, c domain.Content) bool {
	switch sig.Kind {
	case domain.MatchKeyword, domain.MatchPhrase:
		return strings.Contains(c.Text, strings.ToLower(sig.Pattern))
	case domain.MatchRegex:
		if sig.Regexp == nil {
			return false
		}
		return sig.Regexp.MatchString(c.Text)
	case domain.MatchSender:
		return senderMatch(sig.Pattern, c)
	}
	return false
}

// senderMatch tests sender-pattern signatures against the unit's sender id,
// registrable domain and extractor host flags.
func senderMatch(pattern string, c domain.Content) bool {
	p := strings.ToLower(pattern)
	for _, field := range []string{c.Meta("sender"), c.Meta("domain"), c.Meta("host_flags")} {
		if field != "" && strings.Contains(strings.ToLower(field), p) {
			return true
		}
	}
	return false
}
