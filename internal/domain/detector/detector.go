// Package detector statically evaluates checklist rules against an artifact.
// Nothing here executes the artifact.
package detector

import (
	"context"
	"errors"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/checklist"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scanerrors"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/wasm"
)

// Options bound rule evaluation.
type Options struct {
	// MaxSteps caps the work units of one rule. Zero means unlimited.
	MaxSteps int64
	// RuleTimeout is the wall-clock backstop for one rule. Zero disables it.
	RuleTimeout time.Duration
	// Concurrency caps rules evaluated in parallel. Zero means 4.
	Concurrency int
}

// Detector is stateless and safe for concurrent use.
type Detector struct {
	opts Options
}

func New(opts Options) *Detector {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Detector{opts: opts}
}

// Evaluate decodes artifact and runs every enabled rule against it. A module
// that does not decode fails the whole evaluation with ArtifactInvalid.
func (d *Detector) Evaluate(ctx context.Context, artifact []byte, rules []checklist.Rule) ([]scans.Finding, error) {
	m, err := wasm.Decode(artifact)
	if err != nil {
		return nil, scanerrors.Wrap(scanerrors.KindArtifactInvalid, err, "decode artifact")
	}
	view := NewView(m)

	perRule := make([][]scans.Finding, len(rules))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	for i, rule := range rules {
		if !rule.Enabled {
			continue
		}
		g.Go(func() error {
			found, err := d.evaluateRule(gctx, view, rule)
			if err != nil {
				return err
			}
			perRule[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []scans.Finding
	for _, f := range perRule {
		out = append(out, f...)
	}
	SortFindings(out)
	return out, nil
}

func (d *Detector) evaluateRule(ctx context.Context, view *View, rule checklist.Rule) ([]scans.Finding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	def, ok := catalog[rule.ID]
	if !ok {
		return nil, scanerrors.New(scanerrors.KindInvalidRequest, "unknown rule id %q", rule.ID)
	}
	rctx := ctx
	if d.opts.RuleTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, d.opts.RuleTimeout)
		defer cancel()
	}
	meter := newMeter(rctx, d.opts.MaxSteps)

	found, err := def.eval(view, rule, meter)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, errStepBudget) || errors.Is(err, context.DeadlineExceeded) {
			return []scans.Finding{timeoutFinding(rule, err)}, nil
		}
		return nil, err
	}
	for i := range found {
		found[i].RuleID = rule.ID
		found[i].Kind = scans.KindViolation
		found[i].Severity = rule.Severity
		found[i].Category = rule.Category
	}
	return found, nil
}

func timeoutFinding(rule checklist.Rule, cause error) scans.Finding {
	msg := "rule evaluation exceeded its step budget"
	if errors.Is(cause, context.DeadlineExceeded) {
		msg = "rule evaluation exceeded its time budget"
	}
	return scans.Finding{
		RuleID:     rule.ID,
		Kind:       scans.KindRuleTimeout,
		Severity:   scans.SeverityInfo,
		Category:   rule.Category,
		Message:    msg,
		Confidence: 1,
	}
}

// SortFindings puts findings in canonical order.
func SortFindings(fs []scans.Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		if a.Location.Function != b.Location.Function {
			return a.Location.Function < b.Location.Function
		}
		if a.Location.Offset != b.Location.Offset {
			return a.Location.Offset < b.Location.Offset
		}
		if a.Location.Symbol != b.Location.Symbol {
			return a.Location.Symbol < b.Location.Symbol
		}
		return a.Message < b.Message
	})
}
