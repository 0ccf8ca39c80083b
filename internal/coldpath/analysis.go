package coldpath

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sanadbot/internal/core"
	"sanadbot/internal/oracle"
)

// Analysis is the verdict document attached to the position row: the deep
// verification report, both debate cases, the Judge's ruling, and which
// claim attempt produced it.
type Analysis struct {
	Sanad       *core.SanadReport    `json:"sanad"`
	Bull        *core.DebateArgument `json:"bull"`
	Bear        *core.DebateArgument `json:"bear"`
	Judge       *core.JudgeVerdict   `json:"judge"`
	Attempt     int                  `json:"attempt"`
	CompletedAt time.Time            `json:"completed_at"`
}

// codedError tags a failure with the taxonomy code persisted on the task row.
type codedError struct {
	code string
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func coded(code string, err error) error { return &codedError{code: code, err: err} }

// codeOf maps a failure onto the persisted taxonomy; anything untagged is a
// worker fault.
func codeOf(err error) string {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return core.ErrCodeWorker
}

// decisionPacket is the slice of the stored audit packet the cold path
// rebuilds its prompts from.
type decisionPacket struct {
	Signal   *core.Signal       `json:"signal"`
	Profile  *core.TokenProfile `json:"profile"`
	Evidence json.RawMessage    `json:"evidence"`
}

// positionContext is what the cold-path debate knows that the hot path did
// not: the position actually on the book.
type positionContext struct {
	EntryPrice    decimal.Decimal `json:"entry_price"`
	Size          decimal.Decimal `json:"size"`
	NotionalUSD   decimal.Decimal `json:"notional_usd"`
	StopLossPct   float64         `json:"stop_loss_pct"`
	TakeProfitPct float64         `json:"take_profit_pct"`
	OpenedAt      time.Time       `json:"opened_at"`
}

// analyze re-runs verification and the debate for one claimed task. The
// hot-path decision packet is the source of truth for the signal and
// evidence; the position row contributes the live trade context.
func (w *Worker) analyze(ctx context.Context, task *core.AsyncTask) (*Analysis, error) {
	pos, err := w.rt.Store.GetPosition(ctx, task.EntityID)
	if err != nil {
		return nil, coded(core.ErrCodeWorker, fmt.Errorf("position lookup failed: %w", err))
	}
	if pos == nil {
		return nil, coded(core.ErrCodeValidation, fmt.Errorf("position %s missing", task.EntityID))
	}
	d, err := w.rt.Store.GetDecision(ctx, pos.DecisionID)
	if err != nil {
		return nil, coded(core.ErrCodeWorker, fmt.Errorf("decision lookup failed: %w", err))
	}
	if d == nil {
		return nil, coded(core.ErrCodeValidation, fmt.Errorf("decision %s missing", pos.DecisionID))
	}
	if d.PacketJSON == "" {
		return nil, coded(core.ErrCodeValidation, fmt.Errorf("decision %s carries no packet", d.DecisionID))
	}

	var pkt decisionPacket
	if err := json.Unmarshal([]byte(d.PacketJSON), &pkt); err != nil {
		return nil, coded(core.ErrCodeJSONParse, fmt.Errorf("decision packet unreadable: %w", err))
	}
	if pkt.Signal == nil {
		return nil, coded(core.ErrCodeValidation, fmt.Errorf("decision %s packet carries no signal", d.DecisionID))
	}

	evidence := "{}"
	if len(pkt.Evidence) > 0 && string(pkt.Evidence) != "null" {
		evidence = string(pkt.Evidence)
	}

	cfg := w.rt.Cfg.ColdPath

	sanadReq := oracle.SanadPrompt(pkt.Signal, evidence)
	sanadReq.Model = cfg.Model
	resp, err := w.complete(ctx, sanadReq)
	if err != nil {
		return nil, coded(core.ErrCodeWorker, fmt.Errorf("deep sanad call failed: %w", err))
	}
	report, err := oracle.ParseSanad(resp.Text)
	if err != nil {
		return nil, coded(core.ErrCodeJSONParse, fmt.Errorf("deep sanad response rejected: %w", err))
	}

	profileJSON, err := json.Marshal(struct {
		Profile  *core.TokenProfile `json:"profile,omitempty"`
		Position positionContext    `json:"position"`
	}{
		Profile: pkt.Profile,
		Position: positionContext{
			EntryPrice:    pos.EntryPrice,
			Size:          pos.Size,
			NotionalUSD:   pos.NotionalUSD,
			StopLossPct:   pos.StopLossPct,
			TakeProfitPct: pos.TakeProfitPct,
			OpenedAt:      pos.OpenedAt,
		},
	})
	if err != nil {
		return nil, coded(core.ErrCodeWorker, fmt.Errorf("profile marshal failed: %w", err))
	}

	bull, bear, err := w.debate(ctx, pos.Tier, pkt.Signal, string(profileJSON))
	if err != nil {
		return nil, err
	}

	sanadJSON, err := json.Marshal(report)
	if err != nil {
		return nil, coded(core.ErrCodeWorker, fmt.Errorf("report marshal failed: %w", err))
	}
	judgeReq := oracle.JudgePrompt(pkt.Signal, bull, bear, string(sanadJSON))
	judgeReq.Model = cfg.JudgeModel
	resp, err = w.complete(ctx, judgeReq)
	if err != nil {
		return nil, coded(core.ErrCodeWorker, fmt.Errorf("judge call failed: %w", err))
	}
	verdict, err := oracle.ParseJudge(resp.Text)
	if err != nil {
		return nil, coded(core.ErrCodeJudgeParse, fmt.Errorf("judge response rejected: %w", err))
	}

	return &Analysis{
		Sanad:       report,
		Bull:        bull,
		Bear:        bear,
		Judge:       verdict,
		Attempt:     task.Attempts,
		CompletedAt: w.rt.Clock.Now(),
	}, nil
}

// debate runs both sides, in parallel on the pool when configured. Both
// must return before the Judge sees either; the Bear case missing is the
// worse failure and wins error precedence.
func (w *Worker) debate(ctx context.Context, tier core.Tier, sig *core.Signal, profileJSON string) (*core.DebateArgument, *core.DebateArgument, error) {
	var (
		bull, bear       *core.DebateArgument
		bullErr, bearErr error
	)
	if w.rt.Cfg.ColdPath.ParallelBullBear {
		group := w.pool.Group(ctx)
		group.Submit(func() error {
			bull, bullErr = w.argue(ctx, oracle.StageBull, tier, sig, profileJSON)
			return nil
		})
		group.Submit(func() error {
			bear, bearErr = w.argue(ctx, oracle.StageBear, tier, sig, profileJSON)
			return nil
		})
		if err := group.Wait(); err != nil {
			return nil, nil, coded(core.ErrCodeWorker, fmt.Errorf("debate pool: %w", err))
		}
	} else {
		bull, bullErr = w.argue(ctx, oracle.StageBull, tier, sig, profileJSON)
		bear, bearErr = w.argue(ctx, oracle.StageBear, tier, sig, profileJSON)
	}
	if bearErr != nil {
		return nil, nil, bearErr
	}
	if bullErr != nil {
		return nil, nil, bullErr
	}
	return bull, bear, nil
}

func (w *Worker) argue(ctx context.Context, side string, tier core.Tier, sig *core.Signal, profileJSON string) (*core.DebateArgument, error) {
	req := oracle.DebatePrompt(side, tier, sig, profileJSON)
	req.Model = w.rt.Cfg.ColdPath.Model
	resp, err := w.complete(ctx, req)
	if err != nil {
		return nil, coded(core.ErrCodeWorker, fmt.Errorf("%s call failed: %w", side, err))
	}
	arg, err := oracle.ParseArgument(resp.Text, side)
	if err != nil {
		return nil, coded(core.ErrCodeJSONParse, fmt.Errorf("%s response rejected: %w", side, err))
	}
	return arg, nil
}

// complete issues one oracle call under the cold-path per-call cap.
func (w *Worker) complete(ctx context.Context, req core.OracleRequest) (*core.OracleResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.rt.Cfg.ColdPath.Timeout())
	defer cancel()
	return w.rt.Oracle.Complete(callCtx, req)
}
