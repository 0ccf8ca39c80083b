// Package strategy owns stage 4 of the pipeline: the strategy registry with
// tier constraints, Thompson sampling over (strategy, regime) posteriors,
// regime detection, and Kelly position sizing.
package strategy

import (
	"sanadbot/internal/core"
)

// Strategy is one registry arm. The registry carries constraints and risk
// parameters only; signal content never lives here.
type Strategy struct {
	ID            string
	Name          string
	Tiers         []core.Tier
	EarlyLaunch   bool    // exempt from the token-age gate
	StopLossPct   float64 // 0 means the risk-config default
	TakeProfitPct float64
	MaxHoldHours  float64 // 0 means the mode default
	Default       bool    // deterministic fallback arm for its tiers
}

// Eligible reports whether the strategy may trade the tier.
func (s *Strategy) Eligible(tier core.Tier) bool {
	for _, t := range s.Tiers {
		if t == tier {
			return true
		}
	}
	return false
}

// Registry is the fixed strategy set. Arms are data, not code: the bandit
// learns which arm works per regime, the pipeline only reads constraints.
type Registry struct {
	arms []*Strategy
}

// DefaultRegistry is the production arm set.
func DefaultRegistry() *Registry {
	return NewRegistry(
		&Strategy{
			ID: "majors_trend", Name: "Majors Trend",
			Tiers: []core.Tier{core.Tier1}, Default: true,
			StopLossPct: 8, TakeProfitPct: 20,
		},
		&Strategy{
			ID: "momentum_breakout", Name: "Momentum Breakout",
			Tiers:       []core.Tier{core.Tier1, core.Tier2},
			StopLossPct: 10, TakeProfitPct: 30,
		},
		&Strategy{
			ID: "narrative_rotation", Name: "Narrative Rotation",
			Tiers: []core.Tier{core.Tier2}, Default: true,
			StopLossPct: 12, TakeProfitPct: 35,
		},
		&Strategy{
			ID: "meme_momentum", Name: "Meme Momentum",
			Tiers: []core.Tier{core.Tier3}, Default: true,
			StopLossPct: 15, TakeProfitPct: 50, MaxHoldHours: 24,
		},
		&Strategy{
			ID: "meme_early_launch", Name: "Meme Early Launch",
			Tiers: []core.Tier{core.Tier3}, EarlyLaunch: true,
			StopLossPct: 20, TakeProfitPct: 80, MaxHoldHours: 12,
		},
		&Strategy{
			ID: "whale_follow", Name: "Whale Follow",
			Tiers: []core.Tier{core.TierWhale}, Default: true,
			StopLossPct: 10, TakeProfitPct: 25,
		},
	)
}

// NewRegistry builds a registry from explicit arms, mostly for tests.
func NewRegistry(arms ...*Strategy) *Registry {
	return &Registry{arms: arms}
}

// ForTier returns every arm eligible for the tier, registry order preserved.
func (r *Registry) ForTier(tier core.Tier) []*Strategy {
	var out []*Strategy
	for _, s := range r.arms {
		if s.Eligible(tier) {
			out = append(out, s)
		}
	}
	return out
}

// DefaultFor is the deterministic fallback arm for a tier: the arm marked
// Default, else the first eligible arm, else nil.
func (r *Registry) DefaultFor(tier core.Tier) *Strategy {
	var first *Strategy
	for _, s := range r.arms {
		if !s.Eligible(tier) {
			continue
		}
		if s.Default {
			return s
		}
		if first == nil {
			first = s
		}
	}
	return first
}

// Get looks an arm up by id.
func (r *Registry) Get(id string) (*Strategy, bool) {
	for _, s := range r.arms {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}
