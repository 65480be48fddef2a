package detector

import (
	"context"
	"errors"
)

var errStepBudget = errors.New("step budget exhausted")

// checkEvery is how many steps pass between context checks.
const checkEvery = 1024

// Meter bounds the work one rule may do. Steps are deterministic; the context
// carries the wall-clock backstop.
type Meter struct {
	ctx       context.Context
	max       int64
	steps     int64
	nextCheck int64
}

func newMeter(ctx context.Context, max int64) *Meter {
	return &Meter{ctx: ctx, max: max, nextCheck: checkEvery}
}

// Step charges n units of work.
func (m *Meter) Step(n int) error {
	m.steps += int64(n)
	if m.max > 0 && m.steps > m.max {
		return errStepBudget
	}
	if m.steps >= m.nextCheck {
		m.nextCheck = m.steps + checkEvery
		if err := m.ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}
