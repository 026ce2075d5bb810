package fca

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind is the grammatical class of a token.
type Kind int

const (
	KindInvalid Kind = iota
	KindAirport
	KindAirline
	KindCurrency
	KindFare
	KindMileageFare
	KindQSurcharge
	KindClassDifferential
	KindPlusUp
	KindRateOfExchange
	KindCityPair
	KindTransitMarker
	KindSurfaceMarker
	KindTourIndicator
	KindSideTripOpen
	KindSideTripClose
	KindInvolPrefix
	KindEnd
)

var kindNames = [...]string{
	KindInvalid:           "invalid",
	KindAirport:           "airport",
	KindAirline:           "airline",
	KindCurrency:          "currency",
	KindFare:              "fare",
	KindMileageFare:       "mileage_fare",
	KindQSurcharge:        "q_surcharge",
	KindClassDifferential: "class_differential",
	KindPlusUp:            "plus_up",
	KindRateOfExchange:    "rate_of_exchange",
	KindCityPair:          "city_pair",
	KindTransitMarker:     "transit_marker",
	KindSurfaceMarker:     "surface_marker",
	KindTourIndicator:     "tour_indicator",
	KindSideTripOpen:      "side_trip_open",
	KindSideTripClose:     "side_trip_close",
	KindInvolPrefix:       "involuntary_prefix",
	KindEnd:               "end",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown token kind %q", b)
}

// IsAmount reports whether tokens of this kind carry a numeric value.
func (k Kind) IsAmount() bool {
	switch k {
	case KindFare, KindMileageFare, KindQSurcharge, KindClassDifferential, KindPlusUp, KindRateOfExchange:
		return true
	}
	return false
}

// Grammar keywords.
const (
	KeywordEnd       = "END"
	TransitMarker    = "X/"
	SurfaceMarker    = "//"
	SurfaceMarkerAlt = "/-"
	InvolPrefix      = "I-"
	BulkTour         = "M/BT"
	InclusiveTour    = "M/IT"
)

var (
	// 1000.00
	fareRe = regexp.MustCompile(`^\d+\.\d{2}$`)
	// M1200.00, Q25.00, D40.00, P15.00
	mileageRe = regexp.MustCompile(`^M\d+\.\d{2}$`)
	qRe       = regexp.MustCompile(`^Q\d+\.\d{2}$`)
	diffRe    = regexp.MustCompile(`^D\d+\.\d{2}$`)
	plusUpRe  = regexp.MustCompile(`^P\d+\.\d{2}$`)
	// ROE1.25, ROE83
	roeRe = regexp.MustCompile(`^ROE\d+(\.\d+)?$`)
	// 1.25 as written after a bare ROE
	rateRe     = regexp.MustCompile(`^\d+(\.\d+)?$`)
	cityPairRe = regexp.MustCompile(`^[A-Z]{6}$`)
)

// Token is a classified piece of a pattern. Raw may contain internal spaces
// when an operand was fused with its marker (for example "Q 25.00").
type Token struct {
	Raw  string `json:"raw"`
	Kind Kind   `json:"kind"`
}

func (t Token) String() string { return t.Raw }

// Classify returns the kind of a single token. Rules are tried in a fixed
// order and the first match wins; unknown tokens are KindInvalid.
func (t *Tables) Classify(raw string) Kind {
	switch {
	case t.IsAirport(raw):
		return KindAirport
	case t.IsAirline(raw):
		return KindAirline
	case fareRe.MatchString(raw):
		return KindFare
	case mileageRe.MatchString(raw):
		return KindMileageFare
	case qRe.MatchString(raw):
		return KindQSurcharge
	case diffRe.MatchString(raw):
		return KindClassDifferential
	case plusUpRe.MatchString(raw):
		return KindPlusUp
	case roeRe.MatchString(raw):
		return KindRateOfExchange
	}

	switch raw {
	case TransitMarker:
		return KindTransitMarker
	case SurfaceMarker, SurfaceMarkerAlt:
		return KindSurfaceMarker
	case InvolPrefix:
		return KindInvolPrefix
	case BulkTour, InclusiveTour:
		return KindTourIndicator
	case "(":
		return KindSideTripOpen
	case ")":
		return KindSideTripClose
	case KeywordEnd:
		return KindEnd
	}

	if t.IsCurrency(raw) {
		return KindCurrency
	}
	if cityPairRe.MatchString(raw) && t.IsAirport(raw[:3]) && t.IsAirport(raw[3:]) {
		return KindCityPair
	}
	return KindInvalid
}

// Token classifies raw and wraps it.
func (t *Tables) Token(raw string) Token {
	return Token{Raw: raw, Kind: t.Classify(raw)}
}

// Tokenize classifies each whitespace separated field of s without any
// repair.
func (t *Tables) Tokenize(s string) []Token {
	fields := strings.Fields(s)
	out := make([]Token, len(fields))
	for i, f := range fields {
		out[i] = t.Token(f)
	}
	return out
}

// Amount returns the numeric value carried by an amount token. Calling it on
// a token whose kind carries no amount, or whose text the classifier did not
// accept, is a programming error and panics.
func Amount(tok Token) decimal.Decimal {
	if !tok.Kind.IsAmount() {
		panic(fmt.Sprintf("fca: Amount called on %s token %q", tok.Kind, tok.Raw))
	}

	fields := strings.Fields(tok.Raw)
	num := fields[len(fields)-1]
	if len(fields) == 1 {
		switch tok.Kind {
		case KindMileageFare, KindQSurcharge, KindClassDifferential, KindPlusUp:
			num = num[1:]
		case KindRateOfExchange:
			num = strings.TrimPrefix(num, "ROE")
		}
	}
	return decimal.RequireFromString(num)
}

// operandCityPair returns the city pair written inside a fused class
// differential or plus-up token ("D LON PAR 10.00" gives "LONPAR").
func operandCityPair(tok Token) string {
	fields := strings.Fields(tok.Raw)
	if len(fields) < 3 {
		return ""
	}
	return strings.Join(fields[1:len(fields)-1], "")
}

func joinRaw(tokens []Token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.Raw
	}
	return strings.Join(parts, " ")
}
