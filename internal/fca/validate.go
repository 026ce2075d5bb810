package fca

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FareMode selects how strictly a pattern is validated. Tour fares relax
// route completeness and make the declared total optional.
type FareMode int

const (
	ModeStandard FareMode = iota
	ModeTour
)

func (m FareMode) String() string {
	if m == ModeTour {
		return "tour"
	}
	return "standard"
}

func (m FareMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// TourIndicator is M/BT (bulk tour) or M/IT (inclusive tour).
type TourIndicator string

// Leg is one carrier hop ending at Destination. Carrier is empty only for
// surface sectors.
type Leg struct {
	Marker      string `json:"marker,omitempty"`
	Carrier     string `json:"carrier,omitempty"`
	Destination string `json:"destination"`
}

// FareAmount is a priced fare component. Currency is set when the amount was
// written with its own currency code inside the route.
type FareAmount struct {
	Kind     Kind            `json:"kind"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`
}

// Segment is a fare component: an origin, its legs and an optional fare.
type Segment struct {
	Origin string      `json:"origin"`
	Legs   []Leg       `json:"legs"`
	Fare   *FareAmount `json:"fare,omitempty"`
}

// Surcharge is a Q surcharge, class differential or plus-up.
type Surcharge struct {
	Kind     Kind            `json:"kind"`
	Amount   decimal.Decimal `json:"amount"`
	CityPair string          `json:"city_pair,omitempty"`
}

// DeclaredTotal is the currency and amount written before END. Amount is nil
// for tour fares without an explicit total.
type DeclaredTotal struct {
	Currency string           `json:"currency"`
	Amount   *decimal.Decimal `json:"amount"`
}

// ValidationResult is the structural verdict for a cleaned pattern together
// with everything extracted from it. Side trips are nested results.
type ValidationResult struct {
	Valid       bool                `json:"is_valid"`
	Message     string              `json:"message"`
	Err         *StructuralError    `json:"error,omitempty"`
	Mode        FareMode            `json:"mode"`
	Involuntary bool                `json:"involuntary,omitempty"`
	Route       string              `json:"route,omitempty"`
	Segments    []Segment           `json:"segments,omitempty"`
	Fares       []FareAmount        `json:"fares,omitempty"`
	Surcharges  []Surcharge         `json:"surcharges,omitempty"`
	Indicators  []TourIndicator     `json:"indicators,omitempty"`
	SideTrips   []*ValidationResult `json:"side_trips,omitempty"`
	Declared    *DeclaredTotal      `json:"declared_total,omitempty"`
	ROE         *decimal.Decimal    `json:"roe,omitempty"`
	Warnings    []string            `json:"warnings,omitempty"`
}

func (v *ValidationResult) fail(err *StructuralError) *ValidationResult {
	v.Valid = false
	v.Err = err
	v.Message = err.Message
	return v
}

func (v *ValidationResult) warn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

// Validate checks a cleaned token stream against the fare calculation
// grammar. Checks run in a fixed order: parenthesis balance, END, the lead
// token, then the route itself. The first fatal error ends validation.
func Validate(tokens []Token) *ValidationResult {
	res := &ValidationResult{}

	if err := checkParens(tokens); err != nil {
		return res.fail(err)
	}

	end := -1
	for i, t := range tokens {
		if t.Kind == KindEnd {
			end = i
			break
		}
	}
	if end < 0 {
		return res.fail(newError(CodeMissingEnd, -1, "missing END token"))
	}

	for _, t := range tokens[:end] {
		if t.Kind == KindTourIndicator {
			res.Mode = ModeTour
			break
		}
	}

	start := 0
	for start < end && tokens[start].Kind == KindInvolPrefix {
		res.Involuntary = true
		start++
	}

	w := &walker{res: res}
	if start >= end || tokens[start].Kind != KindAirport {
		err := newError(CodeInvalidLeadToken, start, "pattern must begin with an airport code")
		if err = w.relax(err); err != nil {
			return res.fail(err)
		}
	}

	if err := w.walk(tokens, start, end); err != nil {
		return res.fail(err)
	}
	if err := w.finish(); err != nil {
		return res.fail(err)
	}

	if res.Declared == nil {
		if res.Mode != ModeTour {
			return res.fail(newError(CodeMissingCurrency, end, "missing currency code token"))
		}
		res.Declared = &DeclaredTotal{Currency: NeutralUnit}
	}

	for _, t := range tokens[end+1:] {
		switch {
		case t.Kind == KindRateOfExchange && res.ROE == nil:
			roe := Amount(t)
			res.ROE = &roe
		case t.Kind == KindRateOfExchange:
			res.warn("duplicate rate of exchange %s ignored", t.Raw)
		default:
			res.warn("ignored token %s after END", t.Raw)
		}
	}

	res.Valid = true
	res.Message = "pattern is valid"
	return res
}

// checkParens rejects patterns whose side trip parentheses do not pair up.
func checkParens(tokens []Token) *StructuralError {
	opens, closes, depth := 0, 0, 0
	firstBad := -1
	for i, t := range tokens {
		switch t.Kind {
		case KindSideTripOpen:
			opens++
			depth++
		case KindSideTripClose:
			closes++
			depth--
			if depth < 0 && firstBad < 0 {
				firstBad = i
			}
		}
	}
	if opens != closes || firstBad >= 0 {
		return newError(CodeUnbalancedSideTrips, firstBad,
			fmt.Sprintf("unbalanced side trip parentheses: %d %q vs %d %q", opens, "(", closes, ")"))
	}
	return nil
}

// walker is the route state machine. last is the most recent point on the
// route, carrier and marker are waiting for their destination, and cur is
// the open fare component.
type walker struct {
	res       *ValidationResult
	nested    bool
	cur       *Segment
	last      string
	carrier   string
	marker    string
	afterFare bool
}

// relax downgrades completeness failures to warnings for tour fares.
func (w *walker) relax(err *StructuralError) *StructuralError {
	if err == nil {
		return nil
	}
	if w.res.Mode == ModeTour {
		switch err.Code {
		case CodeIncompleteSegment, CodeInvalidLeadToken, CodeMissingTotal:
			w.res.warn("%s", err.Message)
			return nil
		}
	}
	return err
}

func (w *walker) walk(tokens []Token, from, to int) *StructuralError {
	for i := from; i < to; i++ {
		t := tokens[i]
		var err *StructuralError

		switch t.Kind {
		case KindAirport:
			err = w.airport(t.Raw, i)
		case KindAirline:
			err = w.airline(t.Raw, i)
		case KindTransitMarker, KindSurfaceMarker:
			w.setMarker(t.Raw)
		case KindFare, KindMileageFare:
			err = w.fare(FareAmount{Kind: t.Kind, Amount: Amount(t)}, i)
		case KindCurrency:
			if i+1 < to && tokens[i+1].Kind == KindFare {
				amt := Amount(tokens[i+1])
				if w.nested || routeFollows(tokens, i+2, to) {
					err = w.fare(FareAmount{Kind: KindFare, Amount: amt, Currency: t.Raw}, i)
				} else {
					w.declare(t.Raw, &amt)
				}
				i++
				break
			}
			if w.nested || routeFollows(tokens, i+1, to) {
				err = newError(CodeUnexpectedToken, i, fmt.Sprintf("currency %s has no amount", t.Raw))
				break
			}
			w.declare(t.Raw, nil)
			err = newError(CodeMissingTotal, i, fmt.Sprintf("currency %s has no total amount", t.Raw))
		case KindQSurcharge, KindClassDifferential, KindPlusUp:
			w.res.Surcharges = append(w.res.Surcharges, Surcharge{
				Kind:     t.Kind,
				Amount:   Amount(t),
				CityPair: operandCityPair(t),
			})
		case KindTourIndicator:
			w.res.Indicators = append(w.res.Indicators, TourIndicator(t.Raw))
		case KindRateOfExchange:
			w.res.warn("rate of exchange %s before END ignored", t.Raw)
		case KindInvolPrefix:
			w.res.warn("involuntary prefix out of position at token %d", i)
		case KindCityPair:
			err = newError(CodeUnexpectedToken, i, fmt.Sprintf("unexpected city pair %s", t.Raw))
		case KindSideTripOpen:
			closing := matchingClose(tokens, i, to)
			if closing < 0 {
				return newError(CodeUnbalancedSideTrips, i, "side trip is not closed before END")
			}
			if err := w.sideTrip(tokens, i+1, closing); err != nil {
				return err
			}
			i = closing
		default:
			err = newError(CodeUnexpectedToken, i, fmt.Sprintf("unrecognized token %q", t.Raw))
		}

		if err = w.relax(err); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) airport(code string, i int) *StructuralError {
	var err *StructuralError

	switch {
	case w.carrier != "" || w.marker != "":
		if w.carrier == "" && w.marker == TransitMarker {
			err = incomplete(i, "transit point %s has no carrier", code)
		}
		if w.cur == nil {
			w.cur = &Segment{Origin: w.last}
		}
		w.cur.Legs = append(w.cur.Legs, Leg{Marker: w.marker, Carrier: w.carrier, Destination: code})
	case w.last == "" || w.afterFare:
		w.cur = &Segment{Origin: code}
	default:
		err = incomplete(i, "incomplete segment: no carrier between %s and %s", w.last, code)
		w.closeOpen()
		w.cur = &Segment{Origin: code}
	}

	w.last = code
	w.carrier, w.marker = "", ""
	w.afterFare = false
	return err
}

func (w *walker) airline(code string, i int) *StructuralError {
	var err *StructuralError
	switch {
	case w.carrier != "":
		err = incomplete(i, "incomplete segment: carrier %s follows %s without a destination", code, w.carrier)
	case w.last == "":
		err = incomplete(i, "incomplete segment: carrier %s has no origin", code)
	}
	if w.cur == nil {
		w.cur = &Segment{Origin: w.last}
	}
	w.carrier = code
	w.afterFare = false
	return err
}

func (w *walker) setMarker(m string) {
	if w.marker != "" {
		w.res.warn("marker %s replaces %s", m, w.marker)
	}
	if w.cur == nil && w.last != "" {
		w.cur = &Segment{Origin: w.last}
	}
	w.marker = m
	w.afterFare = false
}

// fare closes the open fare component.
func (w *walker) fare(f FareAmount, i int) *StructuralError {
	var err *StructuralError
	w.res.Fares = append(w.res.Fares, f)

	switch {
	case w.carrier != "" || w.marker != "":
		dangling := w.carrier
		if dangling == "" {
			dangling = w.marker
		}
		err = incomplete(i, "incomplete segment: %s has no destination before fare %s", dangling, f.Amount.StringFixed(2))
		w.carrier, w.marker = "", ""
		w.closeOpen()
	case w.cur == nil || len(w.cur.Legs) == 0:
		err = incomplete(i, "incomplete segment: fare %s has no priced segment", f.Amount.StringFixed(2))
		w.cur = nil
	default:
		w.cur.Fare = &f
		w.closeOpen()
	}

	w.afterFare = true
	return err
}

func (w *walker) declare(currency string, amount *decimal.Decimal) {
	if w.res.Declared != nil {
		w.res.warn("additional total %s ignored", currency)
		return
	}
	w.res.Declared = &DeclaredTotal{Currency: currency, Amount: amount}
}

// closeOpen stores the open component if it has at least one leg.
func (w *walker) closeOpen() {
	if w.cur != nil && len(w.cur.Legs) > 0 {
		w.res.Segments = append(w.res.Segments, *w.cur)
	}
	w.cur = nil
}

// sideTrip validates a parenthesised span as its own route. The interior
// may restart at an airport or continue from the current point; the parent
// route resumes where it was.
func (w *walker) sideTrip(tokens []Token, from, to int) *StructuralError {
	sub := &walker{
		res:       &ValidationResult{Mode: w.res.Mode, Route: joinRaw(tokens[from:to])},
		nested:    true,
		last:      w.last,
		afterFare: true,
	}
	if err := sub.walk(tokens, from, to); err != nil {
		return err
	}
	if err := sub.finish(); err != nil {
		return err
	}

	sr := sub.res
	sr.Valid = true
	sr.Message = "side trip is valid"
	w.res.SideTrips = append(w.res.SideTrips, sr)
	w.res.Surcharges = append(w.res.Surcharges, sr.Surcharges...)
	w.res.Indicators = append(w.res.Indicators, sr.Indicators...)
	for _, warning := range sr.Warnings {
		w.res.warn("side trip (%s): %s", sr.Route, warning)
	}
	return nil
}

// finish closes the route and checks that at least one segment was priced
// or completed.
func (w *walker) finish() *StructuralError {
	var errs []*StructuralError
	switch {
	case w.carrier != "":
		errs = append(errs, incomplete(-1, "incomplete segment: carrier %s has no destination", w.carrier))
	case w.marker != "":
		errs = append(errs, incomplete(-1, "incomplete segment: route ends at marker %s", w.marker))
	case w.cur != nil && len(w.cur.Legs) == 0:
		errs = append(errs, incomplete(-1, "incomplete segment: %s has no carrier or destination", w.cur.Origin))
	}
	w.carrier, w.marker = "", ""
	w.closeOpen()

	if len(w.res.Segments) == 0 {
		what := "pattern"
		if w.nested {
			what = "side trip"
		}
		errs = append(errs, incomplete(-1, "incomplete segment: %s has no complete segment", what))
	}

	for _, err := range errs {
		if err = w.relax(err); err != nil {
			return err
		}
	}
	return nil
}

func incomplete(i int, format string, args ...any) *StructuralError {
	return newError(CodeIncompleteSegment, i, fmt.Sprintf(format, args...))
}

// routeFollows reports whether any route token appears in tokens[from:to].
func routeFollows(tokens []Token, from, to int) bool {
	for _, t := range tokens[from:to] {
		switch t.Kind {
		case KindAirport, KindAirline, KindTransitMarker, KindSurfaceMarker, KindSideTripOpen:
			return true
		}
	}
	return false
}

// matchingClose finds the parenthesis closing tokens[open] before to.
func matchingClose(tokens []Token, open, to int) int {
	depth := 0
	for i := open; i < to; i++ {
		switch tokens[i].Kind {
		case KindSideTripOpen:
			depth++
		case KindSideTripClose:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
