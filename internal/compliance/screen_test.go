package compliance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Atique-Syed1/Trading-bot/internal/model"
)

func TestScreen_RuleOrder(t *testing.T) {
	cases := []struct {
		name       string
		facts      Facts
		wantStatus model.ComplianceStatus
		wantReason string
	}{
		{"prohibited sector beats zero debt", Facts{Sector: "Banking", DebtToMarketCap: 0}, model.NonCompliant, "Sector: Banking"},
		{"prohibited sector beats high debt", Facts{Sector: "Insurance", DebtToMarketCap: 0.9}, model.NonCompliant, "Sector: Insurance"},
		{"substring case-insensitive", Facts{Sector: "Private sector BANKING services"}, model.NonCompliant, "Sector: Private sector BANKING services"},
		{"high debt", Facts{Sector: "Technology", DebtToMarketCap: 0.5}, model.NonCompliant, ReasonHighDebt},
		{"debt at threshold", Facts{Sector: "Technology", DebtToMarketCap: 0.30}, model.Compliant, ReasonCompliant},
		{"low debt", Facts{Sector: "Technology", DebtToMarketCap: 0.1}, model.Compliant, ReasonCompliant},
		{"empty sector", Facts{}, model.Compliant, ReasonCompliant},
		{"negative ratio", Facts{Sector: "FMCG", DebtToMarketCap: -3}, model.Compliant, ReasonCompliant},
		{"nan ratio", Facts{Sector: "FMCG", DebtToMarketCap: math.NaN()}, model.Compliant, ReasonCompliant},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := Screen(tc.facts)
			assert.Equal(t, tc.wantStatus, v.Status)
			assert.Equal(t, tc.wantReason, v.Reason)
		})
	}
}

func TestScreen_CashIsAdvisoryOnly(t *testing.T) {
	v := Screen(Facts{Sector: "Technology", DebtToMarketCap: 0.1, CashToMarketCap: 0.8})
	assert.Equal(t, model.Compliant, v.Status)
	assert.True(t, v.CashAdvisory)

	v = Screen(Facts{Sector: "Technology", CashToMarketCap: 0.2})
	assert.False(t, v.CashAdvisory)
}

func TestScreen_CashDowngradeOptIn(t *testing.T) {
	p := DefaultPolicy()
	p.CashDowngrade = true

	v := p.Screen(Facts{Sector: "Technology", CashToMarketCap: 0.8})
	assert.Equal(t, model.LikelyCompliant, v.Status)
	assert.Equal(t, ReasonHighCash, v.Reason)

	// debt still takes precedence
	v = p.Screen(Facts{Sector: "Technology", DebtToMarketCap: 0.5, CashToMarketCap: 0.8})
	assert.Equal(t, model.NonCompliant, v.Status)
	assert.Equal(t, ReasonHighDebt, v.Reason)
}

func TestApply_ReasonOnlyWhenNotCompliant(t *testing.T) {
	p := DefaultPolicy()

	ok := model.Instrument{Symbol: "TCS", Sector: "IT", DebtToMarketCap: 0.05, ComplianceReason: "stale"}
	p.Apply(&ok)
	assert.Equal(t, model.Compliant, ok.ComplianceStatus)
	assert.Empty(t, ok.ComplianceReason)

	bad := model.Instrument{Symbol: "HDFCBANK", Sector: "Banking"}
	p.Apply(&bad)
	assert.Equal(t, model.NonCompliant, bad.ComplianceStatus)
	assert.Equal(t, "Sector: Banking", bad.ComplianceReason)
}

func TestScreen_CustomSectors(t *testing.T) {
	p := Policy{ProhibitedSectors: []string{"  ", "Tobacco"}, MaxDebtRatio: 0.33, MaxCashRatio: 0.33}
	assert.Equal(t, model.NonCompliant, p.Screen(Facts{Sector: "Cigarettes & Tobacco"}).Status)
	assert.Equal(t, model.Compliant, p.Screen(Facts{Sector: "Banking", DebtToMarketCap: 0.32}).Status)
}
