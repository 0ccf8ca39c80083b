package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"sanadbot/internal/bootstrap"
	"sanadbot/internal/core"
)

// runStatusCmd prints the operator's one-glance view: kill switch, portfolio,
// open positions, and the cold-path queue depth.
func runStatusCmd(app *bootstrap.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rt := app.Runtime

	if rec, ok := rt.Kill.Status(); ok {
		fmt.Printf("KILL SWITCH ACTIVE: %s (by %s at %s)\n\n",
			rec.Reason, rec.ActivatedBy, rec.ActivatedAt.Format(time.RFC3339))
	}

	snap, err := rt.Store.GetPortfolio(ctx)
	if err != nil {
		return fmt.Errorf("read portfolio: %w", err)
	}
	if snap != nil {
		fmt.Printf("Portfolio (as of %s)\n", snap.UpdatedAt.Format(time.RFC3339))
		fmt.Printf("  balance    %s USD\n", snap.BalanceUSD.StringFixed(2))
		fmt.Printf("  equity     %s USD (peak %s)\n", snap.EquityUSD.StringFixed(2), snap.PeakEquityUSD.StringFixed(2))
		fmt.Printf("  pnl        day %s / total %s USD\n", snap.DailyPnLUSD.StringFixed(2), snap.TotalPnLUSD.StringFixed(2))
		fmt.Printf("  drawdown   %.2f%%\n", snap.DrawdownPct)
		fmt.Printf("  meme alloc %.2f%%\n\n", snap.MemeAllocationPct)
	} else {
		fmt.Println("Portfolio: no snapshot yet")
	}

	positions, err := rt.Store.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("read positions: %w", err)
	}
	fmt.Printf("Open positions: %d\n", len(positions))
	if len(positions) > 0 {
		tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  ID\tSYMBOL\tTIER\tENTRY\tSIZE\tNOTIONAL\tSTATUS")
		for _, p := range positions {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				p.PositionID, p.Symbol, p.Tier,
				p.EntryPrice.String(), p.Size.String(),
				p.NotionalUSD.StringFixed(2), p.Status)
		}
		tw.Flush()
	}

	counts, err := rt.Store.CountTasksByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count tasks: %w", err)
	}
	fmt.Printf("\nCold-path queue: pending=%d running=%d done=%d failed=%d\n",
		counts[core.TaskPending], counts[core.TaskRunning],
		counts[core.TaskDone], counts[core.TaskFailed])
	return nil
}

// runKillCmd flips the kill switch. The -yes flag is the confirmation:
// without it the command only explains what it would do.
func runKillCmd(app *bootstrap.App, reason string, clear, yes bool) error {
	kill := app.Runtime.Kill

	if clear {
		rec, ok := kill.Status()
		if !ok {
			fmt.Println("kill switch is not active")
			return nil
		}
		if !yes {
			fmt.Printf("kill switch active (%s); re-run with -yes to clear\n", rec.Reason)
			return nil
		}
		if err := kill.Clear(); err != nil {
			return err
		}
		fmt.Println("kill switch cleared, trading resumes on the next pass")
		return nil
	}

	if reason == "" {
		return fmt.Errorf("a -reason is required to activate the kill switch")
	}
	if !yes {
		fmt.Printf("would HALT ALL TRADING with reason %q; re-run with -yes to confirm\n", reason)
		return nil
	}
	host, _ := os.Hostname()
	if err := kill.Activate(reason, "operator@"+host); err != nil {
		return err
	}
	fmt.Println("kill switch ACTIVE: new entries blocked, monitor keeps managing exits")
	return nil
}
