package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"sanadbot/internal/bootstrap"
	"sanadbot/internal/core"
	"sanadbot/internal/feed"
)

// runPipelineCmd runs one signal file through the full decision pipeline,
// skipping the router's selection and daily budget. Useful for replaying a
// signal against current policy, typically with the paper venue configured.
func runPipelineCmd(app *bootstrap.App, signalPath string) error {
	if signalPath == "" {
		return fmt.Errorf("a -signal file is required")
	}
	rt := app.Runtime

	raw, err := os.ReadFile(signalPath)
	if err != nil {
		return fmt.Errorf("read signal: %w", err)
	}
	var sig core.Signal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return fmt.Errorf("parse signal: %w", err)
	}
	if err := feed.Validate(&sig); err != nil {
		return err
	}
	if sig.SignalID == "" {
		sig.SignalID = core.SignalIDFor(sig.Token, sig.Chain, sig.SourcePrimary, sig.SignalType, sig.Thesis)
	}

	ctx, cancel := context.WithTimeout(context.Background(), rt.Cfg.Router.PipelineTimeout())
	defer cancel()

	pipe, _, cleanup, err := newPipeline(rt)
	if err != nil {
		return err
	}
	defer cleanup()

	outcome, err := pipe.Run(ctx, &sig)
	if err != nil {
		return err
	}

	d := outcome.Decision
	fmt.Printf("signal   %s (%s on %s)\n", d.SignalID, sig.Token, sig.Chain)
	fmt.Printf("result   %s at stage %s\n", d.Result, d.Stage)
	if d.GateFailed > 0 {
		fmt.Printf("gate     #%d %s\n", d.GateFailed, d.GateFailedName)
	}
	if d.Reason != "" {
		fmt.Printf("reason   [%s] %s\n", d.ReasonCode, d.Reason)
	}
	if outcome.Position != nil {
		p := outcome.Position
		fmt.Printf("position %s: %s %s @ %s (%s USD)\n",
			p.PositionID, p.Side, p.Size.String(), p.EntryPrice.String(), p.NotionalUSD.StringFixed(2))
	}
	return nil
}
