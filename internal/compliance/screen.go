// Package compliance classifies instruments against a rule-based screening
// policy. Screening is pure: no I/O, no shared state, total over its input.
package compliance

import (
	"fmt"
	"math"
	"strings"

	"github.com/Atique-Syed1/Trading-bot/internal/model"
)

// Reasons reported alongside a verdict.
const (
	ReasonHighDebt  = "High Debt"
	ReasonHighCash  = "High Cash"
	ReasonCompliant = "Compliant"
)

// DefaultMaxDebtRatio and DefaultMaxCashRatio are the screen thresholds.
const (
	DefaultMaxDebtRatio = 0.30
	DefaultMaxCashRatio = 0.30
)

// DefaultProhibitedSectors is matched by case-insensitive containment.
var DefaultProhibitedSectors = []string{
	"Banking", "Finance", "Insurance", "Alcohol", "Tobacco",
	"Gambling", "Pork", "Defense", "Entertainment",
}

// Policy is the screening rule set.
type Policy struct {
	ProhibitedSectors []string `yaml:"prohibited_sectors" json:"prohibitedSectors"`
	MaxDebtRatio      float64  `yaml:"max_debt_ratio" json:"maxDebtRatio"`
	MaxCashRatio      float64  `yaml:"max_cash_ratio" json:"maxCashRatio"`

	// CashDowngrade turns the cash advisory into a Likely-Compliant verdict.
	// Off unless the operator opts in.
	CashDowngrade bool `yaml:"cash_downgrade" json:"cashDowngrade"`
}

// DefaultPolicy returns the standard screen.
func DefaultPolicy() Policy {
	return Policy{
		ProhibitedSectors: append([]string(nil), DefaultProhibitedSectors...),
		MaxDebtRatio:      DefaultMaxDebtRatio,
		MaxCashRatio:      DefaultMaxCashRatio,
	}
}

// Facts are the per-instrument inputs to the screen.
type Facts struct {
	Sector          string
	DebtToMarketCap float64
	CashToMarketCap float64
}

// Verdict is the outcome of a screen.
type Verdict struct {
	Status model.ComplianceStatus
	Reason string

	// CashAdvisory is set when the cash ratio exceeds MaxCashRatio.
	CashAdvisory bool
}

// Screen applies the policy rules in order; the first match wins:
// prohibited sector, then debt ratio, then compliant.
func (p Policy) Screen(f Facts) Verdict {
	debt := ratio(f.DebtToMarketCap)
	cash := ratio(f.CashToMarketCap)
	advisory := cash > p.MaxCashRatio

	if sectorProhibited(f.Sector, p.ProhibitedSectors) {
		return Verdict{
			Status:       model.NonCompliant,
			Reason:       fmt.Sprintf("Sector: %s", f.Sector),
			CashAdvisory: advisory,
		}
	}
	if debt > p.MaxDebtRatio {
		return Verdict{Status: model.NonCompliant, Reason: ReasonHighDebt, CashAdvisory: advisory}
	}
	if advisory && p.CashDowngrade {
		return Verdict{Status: model.LikelyCompliant, Reason: ReasonHighCash, CashAdvisory: true}
	}
	return Verdict{Status: model.Compliant, Reason: ReasonCompliant, CashAdvisory: advisory}
}

// Screen runs the default policy.
func Screen(f Facts) Verdict { return DefaultPolicy().Screen(f) }

// Apply screens inst in place. The reason is kept only for verdicts
// other than Compliant.
func (p Policy) Apply(inst *model.Instrument) Verdict {
	v := p.Screen(Facts{
		Sector:          inst.Sector,
		DebtToMarketCap: inst.DebtToMarketCap,
		CashToMarketCap: inst.CashToMarketCap,
	})
	inst.ComplianceStatus = v.Status
	inst.ComplianceReason = ""
	if v.Status != model.Compliant {
		inst.ComplianceReason = v.Reason
	}
	return v
}

func sectorProhibited(sector string, prohibited []string) bool {
	s := strings.ToLower(strings.TrimSpace(sector))
	if s == "" {
		return false
	}
	for _, p := range prohibited {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// Missing, negative and non-finite ratios count as zero.
func ratio(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
