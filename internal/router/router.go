// Package router selects the best candidate signal each cycle and hands it
// to the pipeline. It owns everything that happens before stage one: feed
// reading, cross-source corroboration, exit-signal routing, scoring, the
// pre-dispatch filters, the daily run budget, and the claim that makes each
// signal run at most once per day.
package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"sanadbot/internal/core"
	"sanadbot/internal/feed"
	"sanadbot/internal/pipeline"
	"sanadbot/internal/policy"
	"sanadbot/internal/runtime"
	"sanadbot/internal/store"
	"sanadbot/internal/strategy"
	"sanadbot/pkg/telemetry"
)

const pauseComponent = "router"

// processedRetention bounds how long claimed signal hashes live before the
// cycle prunes them. Two days covers any day-boundary replay.
const processedRetention = 48 * time.Hour

// Reason codes for decisions the router synthesizes when a run dies without
// producing one.
const (
	ReasonPipelineTimeout = "PIPELINE_TIMEOUT"
	ReasonPipelinePanic   = "PIPELINE_PANIC"
	ReasonPipelineError   = "PIPELINE_ERROR"
)

// dispatchStage tags synthesized decisions: the run went terminal outside
// the pipeline's own stage accounting.
const dispatchStage = "ROUTER_DISPATCH"

const defaultExitUrgency = "HIGH"

// decider runs one signal through the decision flow. *pipeline.Pipeline is
// the production implementation.
type decider interface {
	Run(ctx context.Context, sig *core.Signal) (*pipeline.Outcome, error)
}

// signalReader produces the current window of candidate signals.
// *feed.DirReader is the production implementation.
type signalReader interface {
	Read() []*core.Signal
}

// Router is the periodic selection loop body. The scheduler owns the timer;
// RunOnce is one complete cycle.
type Router struct {
	rt        *runtime.Context
	reader    signalReader
	blacklist *feed.Registry
	pipe      decider
	detector  *strategy.Detector
	logger    core.ILogger
}

// New wires a router over the shared runtime context.
func New(rt *runtime.Context, reader signalReader, blacklist *feed.Registry, pipe decider) *Router {
	return &Router{
		rt:        rt,
		reader:    reader,
		blacklist: blacklist,
		pipe:      pipe,
		detector:  strategy.NewDetector(rt.Store, rt.Clock, rt.Log),
		logger:    rt.Log.WithField("component", "router"),
	}
}

// RunOnce performs one selection cycle: read, corroborate, route exits,
// filter, score, claim, dispatch. It returns the dispatched run's outcome,
// or nil when the cycle selected nothing. The claim is written before the
// pipeline starts, so a crash mid-run cannot make the same signal spend
// twice in one day.
func (r *Router) RunOnce(ctx context.Context) (*pipeline.Outcome, error) {
	if r.rt.ComponentPaused(pauseComponent) {
		r.logger.Info("router paused, skipping cycle")
		return nil, nil
	}
	if halted, why := r.rt.TradingHalted(); halted {
		r.logger.Warn("trading halted, router idle", "reason", why)
		return nil, nil
	}

	now := r.rt.Clock.Now()
	day := store.DayKey(now)

	if _, err := r.rt.Store.PruneProcessedSignals(ctx, store.DayKey(now.Add(-processedRetention))); err != nil {
		r.logger.Warn("processed-signal prune failed", "error", err)
	}

	runs, err := r.rt.Store.GetRunCount(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("failed to read run count: %w", err)
	}
	if runs >= r.rt.Cfg.Router.DailyRunBudget {
		r.logger.Info("daily run budget exhausted",
			"runs", runs, "budget", r.rt.Cfg.Router.DailyRunBudget)
		return nil, nil
	}

	signals := r.reader.Read()
	if len(signals) == 0 {
		r.logger.Debug("no signals in window")
		return nil, nil
	}
	feed.Corroborate(signals)

	buys := r.routeExits(ctx, signals)
	if len(buys) == 0 {
		return nil, nil
	}

	regime := r.detector.Detect(ctx)

	var survivors []*core.Signal
	for _, sig := range buys {
		if why := r.filterReason(ctx, sig, now); why != "" {
			r.logger.Debug("signal filtered",
				"signal_id", sig.SignalID, "token", sig.Token, "reason", why)
			continue
		}
		sig.Score = Score(sig, regime)
		survivors = append(survivors, sig)
	}
	if len(survivors) == 0 {
		r.logger.Info("no survivors after filters",
			"signals", len(signals), "regime", string(regime))
		return nil, nil
	}
	rankCandidates(survivors)

	for _, sig := range survivors {
		claimed, err := r.rt.Store.MarkSignalProcessed(ctx, sig.SignalID, day)
		if err != nil {
			return nil, fmt.Errorf("failed to claim signal %s: %w", sig.SignalID, err)
		}
		if !claimed {
			continue
		}
		if _, err := r.rt.Store.IncrementRunCount(ctx, day); err != nil {
			return nil, fmt.Errorf("failed to bump run count: %w", err)
		}
		return r.dispatch(ctx, sig)
	}

	r.logger.Debug("every survivor already claimed today", "survivors", len(survivors))
	return nil, nil
}

// routeExits splits exit-flavored signals out of the batch and appends them
// to the exit queue the position monitor drains. Returns the remaining buy
// candidates.
func (r *Router) routeExits(ctx context.Context, signals []*core.Signal) []*core.Signal {
	buys := make([]*core.Signal, 0, len(signals))
	for _, sig := range signals {
		if !isExitSignal(sig) {
			buys = append(buys, sig)
			continue
		}
		urgency := strings.ToUpper(sig.Extras["urgency"])
		if urgency == "" {
			urgency = defaultExitUrgency
		}
		e := store.ExitSignal{
			Token:     sig.Token,
			Source:    sig.SourcePrimary,
			Urgency:   urgency,
			Reason:    sig.Thesis,
			CreatedAt: sig.Timestamp,
		}
		if err := r.rt.Store.AppendExitSignal(ctx, e); err != nil {
			r.logger.Warn("exit signal write failed",
				"token", sig.Token, "source", sig.SourcePrimary, "error", err)
			continue
		}
		r.logger.Info("exit signal routed to monitor",
			"token", sig.Token, "source", sig.SourcePrimary, "urgency", urgency)
	}
	return buys
}

func isExitSignal(sig *core.Signal) bool {
	t := strings.ToUpper(sig.SignalType)
	return t == "EXIT" || strings.HasSuffix(t, "_EXIT")
}

// rankCandidates orders survivors best first: score, then CEX listing, then
// corroboration breadth, then age (an older signal survived the window
// longer).
func rankCandidates(signals []*core.Signal) {
	sort.SliceStable(signals, func(i, j int) bool {
		a, b := signals[i], signals[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.CEXListed != b.CEXListed {
			return a.CEXListed
		}
		if ca, cb := a.CrossSourceCount(), b.CrossSourceCount(); ca != cb {
			return ca > cb
		}
		return a.Timestamp.Before(b.Timestamp)
	})
}

// dispatch runs the claimed signal under the pipeline timeout. Whatever
// happens inside, a decision row must exist afterwards: when the run dies
// without one, the router synthesizes a SKIP carrying the failure.
func (r *Router) dispatch(ctx context.Context, sig *core.Signal) (*pipeline.Outcome, error) {
	r.logger.Info("dispatching signal",
		"signal_id", sig.SignalID,
		"token", sig.Token,
		"score", sig.Score,
		"grade", string(sig.CorroborationGrade))

	runCtx, cancel := context.WithTimeout(ctx, r.rt.Cfg.Router.PipelineTimeout())
	defer cancel()

	out, panicked, err := r.runGuarded(runCtx, sig)

	if out == nil || out.Decision == nil {
		code := ReasonPipelineError
		switch {
		case panicked:
			code = ReasonPipelinePanic
		case runCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded):
			code = ReasonPipelineTimeout
		}
		out = &pipeline.Outcome{Decision: r.synthesizeSkip(ctx, sig, code, err)}
	}

	if out.Decision.Result == core.ResultBlock {
		until := r.rt.Clock.Now().Add(r.rt.Cfg.Router.RejectionCooldown())
		if cerr := r.rt.Store.SetCooldown(ctx, sig.Token, store.CooldownRejection, until); cerr != nil {
			r.logger.Warn("rejection cooldown write failed", "token", sig.Token, "error", cerr)
		}
	}

	r.logger.Info("pipeline run finished",
		"signal_id", sig.SignalID,
		"token", sig.Token,
		"result", string(out.Decision.Result),
		"reason_code", out.Decision.ReasonCode)
	return out, err
}

// runGuarded isolates the pipeline run so a panic in one signal cannot take
// down the scheduler loop.
func (r *Router) runGuarded(ctx context.Context, sig *core.Signal) (out *pipeline.Outcome, panicked bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			panicked = true
			err = fmt.Errorf("pipeline panic: %v", rec)
			r.logger.Error("pipeline panicked",
				"signal_id", sig.SignalID,
				"token", sig.Token,
				"panic", rec,
				"stack", string(debug.Stack()))
		}
	}()
	out, err = r.pipe.Run(ctx, sig)
	return out, false, err
}

// synthesizeSkip writes the decision a dead run could not. The id is the
// same content hash the pipeline derives, so if a timed-out run limps to
// its own insert afterwards, one of the two writes lands and the other is
// absorbed.
func (r *Router) synthesizeSkip(ctx context.Context, sig *core.Signal, code string, cause error) *core.Decision {
	reason := "pipeline produced no decision"
	if cause != nil {
		reason = cause.Error()
	}
	d := &core.Decision{
		DecisionID:    core.DecisionIDFor(sig.SignalID, policy.PolicyVersion),
		SignalID:      sig.SignalID,
		CorrelationID: pipeline.CorrelationIDFor(sig.SignalID),
		PolicyVersion: policy.PolicyVersion,
		Result:        core.ResultSkip,
		Stage:         dispatchStage,
		ReasonCode:    code,
		Reason:        reason,
		Mode:          core.Mode(r.rt.Cfg.Mode),
		CreatedAt:     r.rt.Clock.Now(),
	}
	if err := r.rt.Store.InsertDecision(ctx, d); err != nil {
		r.logger.Error("failed to record synthesized skip",
			"decision_id", d.DecisionID, "reason_code", code, "error", err)
	} else {
		telemetry.GetGlobalMetrics().IncDecision(ctx, string(core.ResultSkip))
	}
	return d
}
