// Package risk implements the Stark comparison-audit risk measurement.
package risk

import (
	"math"

	"github.com/shopspring/decimal"
)

// measurementPlaces is the precision of reported risk measurements.
const measurementPlaces = 3

// Counts buckets discrepancies by category.
type Counts struct {
	OneOver  int // +1
	TwoOver  int // +2
	OneUnder int // -1
	TwoUnder int // -2
}

// Add returns c with one discrepancy of value d added n times. Values outside
// the four categories (including 0) leave c unchanged.
func (c Counts) Add(d, n int) Counts {
	switch d {
	case 1:
		c.OneOver += n
	case 2:
		c.TwoOver += n
	case -1:
		c.OneUnder += n
	case -2:
		c.TwoUnder += n
	}
	return c
}

// Params are the inputs of one risk measurement.
type Params struct {
	AuditedSamples int
	DilutedMargin  float64
	Gamma          float64
	Counts         Counts
}

// PValue returns the unrounded Stark p-value approximation, capped at 1.
// No audited samples, or a non-positive diluted margin, yield 1.
func PValue(p Params) float64 {
	if p.AuditedSamples <= 0 || p.DilutedMargin <= 0 || p.Gamma <= 0 {
		return 1
	}
	g := p.Gamma
	u := 2 * g / p.DilutedMargin

	value := math.Pow(1-1/u, float64(p.AuditedSamples)) *
		math.Pow(1-1/(2*g), -float64(p.Counts.OneOver)) *
		math.Pow(1-1/g, -float64(p.Counts.TwoOver)) *
		math.Pow(1+1/(2*g), -float64(p.Counts.OneUnder)) *
		math.Pow(1+1/g, -float64(p.Counts.TwoUnder))

	if math.IsNaN(value) || math.IsInf(value, 0) || value > 1 {
		return 1
	}
	return value
}

// Measure returns the p-value rounded half-up to three decimal places.
func Measure(p Params) decimal.Decimal {
	return decimal.NewFromFloat(PValue(p)).Round(measurementPlaces)
}

// LimitMet reports whether the declared limit strictly exceeds the measured risk.
func LimitMet(limit, measured decimal.Decimal) bool {
	return limit.GreaterThan(measured)
}

// OptimisticSamplesToAudit estimates how many ballots must be audited to meet
// riskLimit, assuming no discrepancies beyond those already observed.
func OptimisticSamplesToAudit(riskLimit, dilutedMargin, gamma float64, counts Counts) int {
	if riskLimit <= 0 || riskLimit >= 1 || dilutedMargin <= 0 || gamma <= 1 {
		return 0
	}
	twoGamma := 2 * gamma
	sum := math.Log(riskLimit) +
		float64(counts.OneOver)*math.Log(1-1/twoGamma) +
		float64(counts.TwoOver)*math.Log(1-1/gamma) +
		float64(counts.OneUnder)*math.Log(1+1/twoGamma) +
		float64(counts.TwoUnder)*math.Log(1+1/gamma)
	estimate := math.Ceil(-twoGamma * sum / dilutedMargin)
	if estimate < 0 || math.IsNaN(estimate) {
		return 0
	}
	return int(estimate)
}
