package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sanadbot/internal/core"
)

// Oracle implements core.IOracle with scripted responses keyed by stage.
// Responses for a stage are consumed in order; when a stage's script is
// exhausted the last entry repeats.
type Oracle struct {
	mu       sync.Mutex
	scripts  map[string][]string
	cursor   map[string]int
	err      error
	costUSD  decimal.Decimal
	Requests []core.OracleRequest
}

func NewOracle() *Oracle {
	return &Oracle{
		scripts: make(map[string][]string),
		cursor:  make(map[string]int),
		costUSD: decimal.NewFromFloat(0.001),
	}
}

// Script appends canned response texts for a stage.
func (m *Oracle) Script(stage string, texts ...string) *Oracle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[stage] = append(m.scripts[stage], texts...)
	return m
}

func (m *Oracle) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *Oracle) SetCost(c decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.costUSD = c
}

func (m *Oracle) Complete(ctx context.Context, req core.OracleRequest) (*core.OracleResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if m.err != nil {
		return nil, m.err
	}
	script, ok := m.scripts[req.Stage]
	if !ok || len(script) == 0 {
		return nil, fmt.Errorf("mock oracle: no script for stage %s", req.Stage)
	}
	i := m.cursor[req.Stage]
	if i >= len(script) {
		i = len(script) - 1
	}
	m.cursor[req.Stage] = i + 1

	return &core.OracleResponse{
		Text:         script[i],
		Model:        req.Model,
		InputTokens:  100,
		OutputTokens: 50,
		CostUSD:      m.costUSD,
		Latency:      5 * time.Millisecond,
	}, nil
}

// CallCount returns how many requests hit a given stage.
func (m *Oracle) CallCount(stage string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.Requests {
		if r.Stage == stage {
			n++
		}
	}
	return n
}

// TotalCalls returns the number of oracle requests across all stages.
func (m *Oracle) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
