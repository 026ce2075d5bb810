package fca

import "github.com/shopspring/decimal"

// Reconstruct makes a best-effort attempt to turn a cleaned but invalid
// token stream into a minimally valid pattern. It rebuilds an alternating
// airport/carrier route from the airports and carriers that remain, in
// their original order, filling at most one missing carrier with
// PlaceholderAirline, and makes sure a currency total and END close the
// pattern. Side trips are dropped.
//
// The result is validated before it is returned; ok is false when fewer
// than two airports or no carrier remain, or the rebuilt pattern is still
// invalid.
func Reconstruct(tokens []Token) (out []Token, ok bool) {
	var (
		items   []Token
		trailer []Token
		inv     bool
		seenEnd bool
		depth   int
	)
	for _, t := range tokens {
		switch t.Kind {
		case KindSideTripOpen:
			depth++
			continue
		case KindSideTripClose:
			if depth > 0 {
				depth--
			}
			continue
		case KindInvolPrefix:
			inv = true
			continue
		case KindRateOfExchange:
			trailer = append(trailer, t)
			continue
		}
		if depth > 0 || seenEnd {
			continue
		}
		if t.Kind == KindEnd {
			seenEnd = true
			continue
		}
		items = append(items, t)
	}

	var airports []int
	airlines := 0
	for i, t := range items {
		switch t.Kind {
		case KindAirport:
			airports = append(airports, i)
		case KindAirline:
			airlines++
		}
	}
	if len(airports) < 2 || airlines == 0 {
		return nil, false
	}

	// The last currency followed by an amount is the declared total.
	decl := -1
	currency := ""
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Kind != KindCurrency {
			continue
		}
		if i+1 < len(items) && items[i+1].Kind == KindFare {
			decl = i
			break
		}
		if currency == "" {
			currency = items[i].Raw
		}
	}

	// Fares follow the last airport before them, never the first one.
	faresAfter := make(map[int][]Token)
	var fareSum decimal.Decimal
	var surcharges, indicators []Token
	prev := 0
	for i, t := range items {
		for prev+1 < len(airports) && airports[prev+1] < i {
			prev++
		}
		switch t.Kind {
		case KindFare, KindMileageFare:
			if decl >= 0 && i == decl+1 {
				continue
			}
			at := prev
			if at < 1 {
				at = 1
			}
			faresAfter[at] = append(faresAfter[at], t)
			fareSum = fareSum.Add(Amount(t))
		case KindQSurcharge, KindClassDifferential, KindPlusUp:
			surcharges = append(surcharges, t)
		case KindTourIndicator:
			indicators = append(indicators, t)
		}
	}

	if inv {
		out = append(out, Token{Raw: InvolPrefix, Kind: KindInvolPrefix})
	}
	out = append(out, items[airports[0]])

	placeholders := 0
	for g := 1; g < len(airports); g++ {
		lo, hi := airports[g-1], airports[g]

		var carrier *Token
		for k := lo + 1; k < hi; k++ {
			if items[k].Kind == KindAirline {
				carrier = &items[k]
				break
			}
		}
		var marker *Token
		if before := items[hi-1]; before.Kind == KindTransitMarker || before.Kind == KindSurfaceMarker {
			marker = &items[hi-1]
		}

		switch {
		case carrier != nil:
			out = append(out, *carrier)
		case marker != nil && marker.Kind == KindSurfaceMarker:
		default:
			placeholders++
			if placeholders > 1 {
				return nil, false
			}
			out = append(out, Token{Raw: PlaceholderAirline, Kind: KindAirline})
		}
		if marker != nil {
			out = append(out, *marker)
		}
		out = append(out, items[hi])
		out = append(out, faresAfter[g]...)
	}

	out = append(out, surcharges...)
	out = append(out, indicators...)

	last := len(items) - 1
	switch {
	case decl >= 0:
		out = append(out, items[decl], items[decl+1])
	case seenEnd && last >= 0 && items[last].Kind == KindFare:
		// A fare left dangling before END doubles as the total.
		out = append(out, currencyToken(currency), items[last])
	default:
		out = append(out, currencyToken(currency), Token{Raw: fareSum.StringFixed(2), Kind: KindFare})
	}
	out = append(out, Token{Raw: KeywordEnd, Kind: KindEnd})
	out = append(out, trailer...)

	if v := Validate(out); !v.Valid {
		return nil, false
	}
	return out, true
}

func currencyToken(code string) Token {
	if code == "" {
		code = NeutralUnit
	}
	return Token{Raw: code, Kind: KindCurrency}
}
