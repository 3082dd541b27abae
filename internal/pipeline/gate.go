package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/warehouse-etl/internal/domain"
)

// ErrGateFailed marks a run stopped by the quality gate.
var ErrGateFailed = errors.New("quality gate failed")

// gateSuites are evaluated in order; the first failure stops the gate.
var gateSuites = []struct {
	suite string
	table string
}{
	{domain.SuiteWeather, "core.weather"},
	{domain.SuiteWikipedia, "core.revision"},
}

type gateResult struct {
	passed     int
	failed     int
	violations []string
}

// runGate evaluates every suite against rows written since the run started.
// Oracle errors count as failures; there are no retries.
func (p *Pipeline) runGate(ctx context.Context, logger *slog.Logger, since time.Time) (gateResult, error) {
	var res gateResult
	for _, s := range gateSuites {
		sel := domain.QualitySelector{Suite: s.suite, Table: s.table, Since: since}
		verdict, err := p.oracle.Evaluate(ctx, sel)
		if err != nil {
			p.metrics.GateResults.WithLabelValues(s.suite, "error").Inc()
			res.failed++
			res.violations = append(res.violations, fmt.Sprintf("%s: oracle error: %v", s.suite, err))
			logger.Error("quality oracle error", "suite", s.suite, "error", err)
			return res, fmt.Errorf("%w: %s: %w", ErrGateFailed, s.suite, err)
		}
		if !verdict.Success {
			p.metrics.GateResults.WithLabelValues(s.suite, "fail").Inc()
			res.failed++
			for _, v := range verdict.Violations {
				res.violations = append(res.violations, s.suite+": "+v)
			}
			logger.Error("quality suite failed", "suite", s.suite, "violations", len(verdict.Violations))
			return res, fmt.Errorf("%w: %s", ErrGateFailed, s.suite)
		}
		p.metrics.GateResults.WithLabelValues(s.suite, "pass").Inc()
		res.passed++
		logger.Info("quality suite passed", "suite", s.suite)
	}
	return res, nil
}
