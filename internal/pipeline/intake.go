package pipeline

import (
	"context"
	"fmt"
	"time"

	"sanadbot/internal/core"
	"sanadbot/internal/feed"
)

// intake gates the signal before a single external call is made: kill
// switch, schema validity, and freshness. The kill check runs first so a
// halted agent spends nothing, not even an enrichment probe.
func (p *Pipeline) intake(ctx context.Context, st *state) *core.Decision {
	if halted, reason := p.rt.TradingHalted(); halted {
		st.failGate(1, "Kill Switch", true)
		return st.block(core.StageIntake, ReasonKillSwitch, reason)
	}

	if err := feed.Validate(st.sig); err != nil {
		return st.block(core.StageIntake, ReasonInvalidSignal, err.Error())
	}

	maxAge := time.Duration(p.rt.Cfg.Sanad.SignalMaxAgeMinutes) * time.Minute
	if age := st.sig.Age(p.rt.Clock.Now()); age > maxAge {
		return st.block(core.StageIntake, ReasonStaleSignal,
			fmt.Sprintf("signal age %s exceeds max %s", age.Truncate(time.Second), maxAge))
	}

	st.symbol = symbolFor(st.sig)
	st.catalystVerified = st.sig.Extras["catalyst_verified"] == "true"
	return nil
}
