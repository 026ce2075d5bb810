package fca

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FareStatus is the outcome of comparing the calculated and declared totals.
type FareStatus int

const (
	FareNoDeclaredTotal FareStatus = iota
	FareMatched
	FareMismatched
)

func (s FareStatus) String() string {
	switch s {
	case FareMatched:
		return "matched"
	case FareMismatched:
		return "mismatched"
	default:
		return "no_declared_total"
	}
}

func (s FareStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// fareTolerance absorbs rounding in two-decimal currency amounts.
var fareTolerance = decimal.New(1, -2)

// FareCalculation holds the component sums of a pattern and the verdict of
// comparing them with the declared total. Side trip fares are reported in
// SideTripTotal and are not part of CalculatedTotal.
type FareCalculation struct {
	JourneyTotal     decimal.Decimal
	SideTripTotal    decimal.Decimal
	QTotal           decimal.Decimal
	ClassDiffTotal   decimal.Decimal
	PlusUpTotal      decimal.Decimal
	CalculatedTotal  decimal.Decimal
	DeclaredTotal    *decimal.Decimal
	DeclaredCurrency string
	ROE              *decimal.Decimal
	Status           FareStatus
	IsMatch          bool
	MismatchDetail   string
}

// Calculate sums the fare components extracted by Validate. It never fails:
// a nil or empty result yields zero sums with FareNoDeclaredTotal.
func Calculate(v *ValidationResult) FareCalculation {
	fc := FareCalculation{Status: FareNoDeclaredTotal, IsMatch: true}
	if v == nil {
		return fc
	}

	for _, f := range v.Fares {
		fc.JourneyTotal = fc.JourneyTotal.Add(f.Amount)
	}
	fc.SideTripTotal = sideTripTotal(v.SideTrips)

	for _, s := range v.Surcharges {
		switch s.Kind {
		case KindQSurcharge:
			fc.QTotal = fc.QTotal.Add(s.Amount)
		case KindClassDifferential:
			fc.ClassDiffTotal = fc.ClassDiffTotal.Add(s.Amount)
		case KindPlusUp:
			fc.PlusUpTotal = fc.PlusUpTotal.Add(s.Amount)
		}
	}
	fc.CalculatedTotal = fc.JourneyTotal.Add(fc.QTotal).Add(fc.ClassDiffTotal).Add(fc.PlusUpTotal)
	fc.ROE = v.ROE

	if v.Declared == nil {
		return fc
	}
	fc.DeclaredCurrency = v.Declared.Currency
	if v.Declared.Amount == nil {
		return fc
	}

	declared := *v.Declared.Amount
	fc.DeclaredTotal = &declared
	if within(fc.CalculatedTotal, declared) {
		fc.Status = FareMatched
		return fc
	}

	fc.Status = FareMismatched
	fc.IsMatch = false
	fc.MismatchDetail = fc.diagnose(declared)
	return fc
}

func sideTripTotal(trips []*ValidationResult) decimal.Decimal {
	var total decimal.Decimal
	for _, st := range trips {
		for _, f := range st.Fares {
			total = total.Add(f.Amount)
		}
		total = total.Add(sideTripTotal(st.SideTrips))
	}
	return total
}

func within(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(fareTolerance)
}

// diagnose explains a mismatch. When the declared total equals the bare
// journey fare it names the components that were left out.
func (fc FareCalculation) diagnose(declared decimal.Decimal) string {
	if within(fc.JourneyTotal, declared) {
		var omitted []string
		for _, c := range []struct {
			name   string
			amount decimal.Decimal
		}{
			{"Q surcharges", fc.QTotal},
			{"class differentials", fc.ClassDiffTotal},
			{"plus-ups", fc.PlusUpTotal},
		} {
			if !c.amount.IsZero() {
				omitted = append(omitted, fmt.Sprintf("%s %s", c.name, c.amount.StringFixed(2)))
			}
		}
		return fmt.Sprintf("declared total %s equals the journey fare but omits %s (calculated total %s)",
			declared.StringFixed(2), strings.Join(omitted, ", "), fc.CalculatedTotal.StringFixed(2))
	}

	return fmt.Sprintf("declared total %s does not match calculated total %s (journey %s, Q surcharges %s, class differentials %s, plus-ups %s)",
		declared.StringFixed(2), fc.CalculatedTotal.StringFixed(2), fc.JourneyTotal.StringFixed(2),
		fc.QTotal.StringFixed(2), fc.ClassDiffTotal.StringFixed(2), fc.PlusUpTotal.StringFixed(2))
}

// MarshalJSON writes amounts with two decimal places.
func (fc FareCalculation) MarshalJSON() ([]byte, error) {
	type out struct {
		JourneyTotal     string     `json:"journey_total"`
		SideTripTotal    string     `json:"side_trip_total"`
		QTotal           string     `json:"q_total"`
		ClassDiffTotal   string     `json:"class_diff_total"`
		PlusUpTotal      string     `json:"plus_up_total"`
		CalculatedTotal  string     `json:"calculated_total"`
		DeclaredTotal    *string    `json:"declared_total"`
		DeclaredCurrency string     `json:"declared_currency,omitempty"`
		ROE              *string    `json:"roe,omitempty"`
		Status           FareStatus `json:"status"`
		IsMatch          bool       `json:"is_match"`
		MismatchDetail   string     `json:"mismatch_detail,omitempty"`
	}

	o := out{
		JourneyTotal:     fc.JourneyTotal.StringFixed(2),
		SideTripTotal:    fc.SideTripTotal.StringFixed(2),
		QTotal:           fc.QTotal.StringFixed(2),
		ClassDiffTotal:   fc.ClassDiffTotal.StringFixed(2),
		PlusUpTotal:      fc.PlusUpTotal.StringFixed(2),
		CalculatedTotal:  fc.CalculatedTotal.StringFixed(2),
		DeclaredCurrency: fc.DeclaredCurrency,
		Status:           fc.Status,
		IsMatch:          fc.IsMatch,
		MismatchDetail:   fc.MismatchDetail,
	}
	if fc.DeclaredTotal != nil {
		s := fc.DeclaredTotal.StringFixed(2)
		o.DeclaredTotal = &s
	}
	if fc.ROE != nil {
		s := fc.ROE.String()
		o.ROE = &s
	}
	return json.Marshal(o)
}
