package strategy

import (
	"context"
	"math"
	"math/rand"

	"sanadbot/internal/core"
	"sanadbot/internal/store"
)

// banditStats is the slice of the store the sampler needs.
type banditStats interface {
	GetBanditStats(ctx context.Context, regimeTag string) ([]store.BanditStat, error)
}

// Selection is the stage-4 pick with the numbers behind it, recorded into
// the decision packet.
type Selection struct {
	Strategy *Strategy
	Regime   Regime
	Sampled  map[string]float64 // arm id -> sampled theta
	Fallback bool               // deterministic default used
}

// Sampler picks one eligible arm per signal via Thompson sampling on the
// per-regime Beta posteriors. Arms without history sample from the uniform
// prior, which is what gives new arms their exploration burst.
type Sampler struct {
	registry *Registry
	stats    banditStats
	rng      *rand.Rand
	logger   core.ILogger
}

// NewSampler seeds the sampler. rng is injected so tests can fix the draw.
func NewSampler(registry *Registry, stats banditStats, rng *rand.Rand, logger core.ILogger) *Sampler {
	return &Sampler{
		registry: registry,
		stats:    stats,
		rng:      rng,
		logger:   logger.WithField("component", "bandit"),
	}
}

// Select returns the arm for the tier under the given regime. A store read
// failure falls back to the registry default: selection must never block a
// signal that the gates would have passed.
func (s *Sampler) Select(ctx context.Context, tier core.Tier, regime Regime) Selection {
	candidates := s.registry.ForTier(tier)
	if len(candidates) == 0 {
		return Selection{Regime: regime}
	}
	if len(candidates) == 1 {
		return Selection{Strategy: candidates[0], Regime: regime}
	}

	rows, err := s.stats.GetBanditStats(ctx, string(regime))
	if err != nil {
		s.logger.Warn("bandit stats unavailable, using registry default",
			"regime", regime, "error", err)
		return Selection{Strategy: s.registry.DefaultFor(tier), Regime: regime, Fallback: true}
	}
	posterior := make(map[string]store.BanditStat, len(rows))
	for _, row := range rows {
		posterior[row.StrategyID] = row
	}

	sampled := make(map[string]float64, len(candidates))
	var best *Strategy
	var bestTheta float64
	for _, arm := range candidates {
		alpha, beta := 1.0, 1.0
		if row, ok := posterior[arm.ID]; ok {
			alpha += row.Alpha
			beta += row.Beta
		}
		theta := sampleBeta(s.rng, alpha, beta)
		sampled[arm.ID] = theta
		if best == nil || theta > bestTheta {
			best, bestTheta = arm, theta
		}
	}
	return Selection{Strategy: best, Regime: regime, Sampled: sampled}
}

// sampleBeta draws Beta(a,b) as Ga/(Ga+Gb).
func sampleBeta(rng *rand.Rand, a, b float64) float64 {
	ga := sampleGamma(rng, a)
	gb := sampleGamma(rng, b)
	if ga+gb == 0 {
		return 0.5
	}
	return ga / (ga + gb)
}

// sampleGamma draws Gamma(shape,1) with Marsaglia-Tsang; shapes < 1 use the
// standard boost through shape+1.
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		u := rng.Float64()
		for u == 0 {
			u = rng.Float64()
		}
		return sampleGamma(rng, shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		x := rng.NormFloat64()
		v := 1.0 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1.0-0.0331*x*x*x*x {
			return d * v
		}
		if u > 0 && math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v
		}
	}
}
