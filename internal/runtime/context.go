package runtime

import (
	"context"
	"fmt"
	"path/filepath"

	"sanadbot/internal/breaker"
	"sanadbot/internal/config"
	"sanadbot/internal/core"
	"sanadbot/internal/store"
)

// Context carries every shared handle a worker needs: configuration, clock,
// store, control flags, breakers, and the external collaborators. Workers
// receive it at entry instead of reaching for globals.
type Context struct {
	Cfg      *config.Config
	Log      core.ILogger
	Clock    core.Clock
	Store    *store.Store
	Kill     *KillSwitch
	Flags    *Flags
	Breakers *breaker.Pool
	Exchange core.IExchange
	Oracle   core.IOracle
	Notifier core.INotifier
}

// Validate checks the handles every worker depends on. Exchange, Oracle, and
// Notifier stay optional because not every worker talks to them.
func (c *Context) Validate() error {
	switch {
	case c.Cfg == nil:
		return fmt.Errorf("runtime context missing config")
	case c.Log == nil:
		return fmt.Errorf("runtime context missing logger")
	case c.Clock == nil:
		return fmt.Errorf("runtime context missing clock")
	case c.Store == nil:
		return fmt.Errorf("runtime context missing store")
	case c.Kill == nil:
		return fmt.Errorf("runtime context missing kill switch")
	case c.Flags == nil:
		return fmt.Errorf("runtime context missing flags")
	case c.Breakers == nil:
		return fmt.Errorf("runtime context missing breaker pool")
	}
	return nil
}

// DataPath joins parts under the configured data directory.
func (c *Context) DataPath(parts ...string) string {
	return filepath.Join(append([]string{c.Cfg.DataDir}, parts...)...)
}

// TradingHalted reports whether any write path must refuse new positions or
// live orders, and why.
func (c *Context) TradingHalted() (bool, string) {
	if c.Kill.Active() {
		rec, _ := c.Kill.Status()
		if rec.Reason != "" {
			return true, "kill switch active: " + rec.Reason
		}
		return true, "kill switch active"
	}
	return false, ""
}

// ComponentPaused reports whether the watchdog or an operator paused the
// named component.
func (c *Context) ComponentPaused(component string) bool {
	return c.Flags.Pause(component).Active()
}

// Notify delivers an operator notification, logging and swallowing delivery
// failures so the caller's primary operation never aborts on a notify error.
func (c *Context) Notify(ctx context.Context, level core.NotifyLevel, title, message string) {
	if c.Notifier == nil {
		c.Log.Debug("notification dropped, no notifier configured",
			"level", level.String(), "title", title)
		return
	}
	if err := c.Notifier.Send(ctx, level, title, message); err != nil {
		c.Log.Warn("failed to deliver notification",
			"level", level.String(), "title", title, "error", err)
	}
}
