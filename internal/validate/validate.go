// Package validate adjudicates backtest reports: it tests each strategy's
// out-of-sample returns against a null of zero mean excess return and
// corrects for the number of strategies examined in the same run, so that
// "run many, report the winner" cannot manufacture significance.
package validate

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/tealfin/walkforward/internal/engine"
)

// Correction selects the multiple-comparison adjustment.
type Correction string

const (
	// CorrectionBonferroni controls the family-wise error rate.
	CorrectionBonferroni Correction = "bonferroni"
	// CorrectionBH is Benjamini-Hochberg false discovery rate control.
	CorrectionBH Correction = "benjamini-hochberg"
)

// Valid reports whether the correction method is recognized.
func (c Correction) Valid() bool {
	return c == CorrectionBonferroni || c == CorrectionBH
}

// InsufficientSampleError reports an out-of-sample series too short for a
// meaningful significance test.
type InsufficientSampleError struct {
	RunID string
	Have  int
	Need  int
}

func (e *InsufficientSampleError) Error() string {
	return fmt.Sprintf("run %s: %d out-of-sample observations, need at least %d", e.RunID, e.Have, e.Need)
}

// Config drives one validation pass.
//
// MinObservations counts raw out-of-sample observations. It is NOT adjusted
// for autocorrelation: serially dependent returns carry less information
// than the count suggests, which the Newey-West standard error corrects in
// the statistic but the sample-size floor does not. Set the floor with that
// caveat in mind.
type Config struct {
	Correction        Correction `json:"correction_method" yaml:"correction_method"`
	SignificanceLevel float64    `json:"significance_level" yaml:"significance_level"`
	MinObservations   int        `json:"min_independent_observations" yaml:"min_independent_observations"`

	// NeweyWestLags: negative selects the automatic rule
	// floor(4*(n/100)^(2/9)); zero disables the adjustment (i.i.d.
	// standard errors); positive is used as-is.
	NeweyWestLags int `json:"newey_west_lags" yaml:"newey_west_lags"`

	// BootstrapSamples, when positive, adds a seeded circular block
	// bootstrap p-value alongside the t-test. Seed makes it reproducible;
	// there is no ambient randomness.
	BootstrapSamples int   `json:"bootstrap_samples" yaml:"bootstrap_samples"`
	Seed             int64 `json:"seed" yaml:"seed"`
}

// Verdict is the per-report outcome. Significant is decided on the
// corrected p-value only.
type Verdict struct {
	RunID       string  `json:"run_id"`
	SampleSize  int     `json:"sample_size"`
	Lags        int     `json:"newey_west_lags"`
	MeanExcess  float64 `json:"mean_excess_return"`
	TStat       float64 `json:"t_stat"`
	PValue      float64 `json:"p_value"`
	CorrectedP  float64 `json:"corrected_p_value"`
	Significant bool    `json:"significant"`
	BootstrapP  float64 `json:"bootstrap_p_value,omitempty"`
}

// Validator runs significance tests across the reports of one research run.
type Validator struct {
	cfg Config
}

// New validates the configuration and builds a validator.
func New(cfg Config) (*Validator, error) {
	if !cfg.Correction.Valid() {
		return nil, fmt.Errorf("unknown correction method %q", cfg.Correction)
	}
	if cfg.SignificanceLevel <= 0 || cfg.SignificanceLevel >= 1 {
		return nil, fmt.Errorf("significance level must be in (0, 1), got %g", cfg.SignificanceLevel)
	}
	if cfg.MinObservations <= 1 {
		return nil, fmt.Errorf("min_independent_observations must exceed 1, got %d", cfg.MinObservations)
	}
	if cfg.BootstrapSamples < 0 {
		return nil, fmt.Errorf("bootstrap_samples must not be negative, got %d", cfg.BootstrapSamples)
	}
	return &Validator{cfg: cfg}, nil
}

// Validate tests every report against the null "mean out-of-sample excess
// return <= 0" (one-sided t-test, Newey-West standard errors) and applies
// the configured multiple-comparison correction across all reports of this
// call. Verdicts come back in input order.
func (v *Validator) Validate(reports []*engine.BacktestReport) ([]Verdict, error) {
	if len(reports) == 0 {
		return nil, fmt.Errorf("no reports to validate")
	}

	verdicts := make([]Verdict, len(reports))
	rawPs := make([]float64, len(reports))

	for i, report := range reports {
		verdict, err := v.test(report)
		if err != nil {
			return nil, err
		}
		verdicts[i] = verdict
		rawPs[i] = verdict.PValue
	}

	var corrected []float64
	switch v.cfg.Correction {
	case CorrectionBonferroni:
		corrected = bonferroni(rawPs)
	case CorrectionBH:
		corrected = benjaminiHochberg(rawPs)
	}

	for i := range verdicts {
		verdicts[i].CorrectedP = corrected[i]
		verdicts[i].Significant = corrected[i] < v.cfg.SignificanceLevel
	}
	return verdicts, nil
}

// test computes the raw (uncorrected) verdict for one report.
func (v *Validator) test(report *engine.BacktestReport) (Verdict, error) {
	returns := report.OOSReturns
	n := len(returns)
	if n < v.cfg.MinObservations {
		return Verdict{}, &InsufficientSampleError{RunID: report.RunID, Have: n, Need: v.cfg.MinObservations}
	}

	excess := make([]float64, n)
	for i, r := range returns {
		excess[i] = r - report.Params.RiskFreeRate
	}

	lags := v.cfg.NeweyWestLags
	if lags < 0 {
		lags = autoLags(n)
	}

	m := mean(excess)
	se := neweyWestSE(excess, lags)
	if se == 0 {
		return Verdict{}, fmt.Errorf("run %s: zero standard error, test statistic undefined", report.RunID)
	}

	t := m / se
	p := studentSF(t, float64(n-1))

	verdict := Verdict{
		RunID:      report.RunID,
		SampleSize: n,
		Lags:       lags,
		MeanExcess: m,
		TStat:      t,
		PValue:     p,
	}

	if v.cfg.BootstrapSamples > 0 {
		rng := rand.New(rand.NewSource(v.cfg.Seed))
		verdict.BootstrapP = blockBootstrapP(excess, lags+1, v.cfg.BootstrapSamples, rng)
	}

	return verdict, nil
}

// bonferroni scales each p-value by the number of hypotheses, capped at 1.
func bonferroni(ps []float64) []float64 {
	m := float64(len(ps))
	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = math.Min(1, p*m)
	}
	return out
}

// benjaminiHochberg returns step-up adjusted p-values: sort ascending,
// scale the k-th smallest by m/k, then enforce monotonicity from the top.
func benjaminiHochberg(ps []float64) []float64 {
	m := len(ps)
	order := make([]int, m)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return ps[order[a]] < ps[order[b]] })

	adjusted := make([]float64, m)
	running := 1.0
	for k := m - 1; k >= 0; k-- {
		idx := order[k]
		candidate := ps[idx] * float64(m) / float64(k+1)
		if candidate < running {
			running = candidate
		}
		adjusted[idx] = running
	}
	return adjusted
}
