package router

import (
	"context"
	"fmt"
	"time"

	"sanadbot/internal/core"
	"sanadbot/internal/feed"
	"sanadbot/internal/store"
)

// filterReason says why a signal cannot be dispatched this cycle, or ""
// when it survives. Store lookups that fail drop the signal: a cooldown or
// position row we cannot read is a filter we cannot honor.
func (r *Router) filterReason(ctx context.Context, sig *core.Signal, now time.Time) string {
	if err := feed.Validate(sig); err != nil {
		return fmt.Sprintf("invalid: %v", err)
	}
	if age := sig.Age(now); age > r.rt.Cfg.Router.StaleThreshold() {
		return fmt.Sprintf("stale by %s", age.Round(time.Second))
	}
	if r.blacklist != nil {
		if banned, why := r.blacklist.Blacklisted(sig.Token); banned {
			return fmt.Sprintf("blacklisted: %s", why)
		}
	}
	if sig.PaidPromotion && sig.CrossSourceCount() == 1 {
		return "paid promotion with no independent corroboration"
	}
	if !sig.CEXListed && sig.RugcheckScore < r.rt.Cfg.Router.MinRugcheckScore {
		return fmt.Sprintf("rugcheck %d below floor %d", sig.RugcheckScore, r.rt.Cfg.Router.MinRugcheckScore)
	}

	open, err := r.rt.Store.HasOpenPositionForToken(ctx, sig.Token)
	if err != nil {
		return fmt.Sprintf("position lookup failed: %v", err)
	}
	if open {
		return "position already open"
	}

	for _, kind := range []string{store.CooldownTrade, store.CooldownRejection} {
		cooling, err := r.rt.Store.InCooldown(ctx, sig.Token, kind)
		if err != nil {
			return fmt.Sprintf("cooldown lookup failed: %v", err)
		}
		if cooling {
			return fmt.Sprintf("%s cooldown active", kind)
		}
	}
	return ""
}
