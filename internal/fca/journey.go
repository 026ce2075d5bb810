package fca

import "strings"

// JourneyMatch compares a candidate journey with the route of a pattern.
type JourneyMatch struct {
	IsMatch         bool             `json:"is_match"`
	CleanedJourney  string           `json:"cleaned_journey"`
	MissingSegments []string         `json:"missing_segments"`
	Details         []MissingSegment `json:"missing_details,omitempty"`
}

// MissingSegment is one contiguous run of route tokens absent from the
// journey, with a short description of what the run looks like.
type MissingSegment struct {
	Tokens      string `json:"tokens"`
	Description string `json:"description"`
}

// RouteTokens returns the route part of a pattern: airports, carriers,
// transit and surface markers and side trip parentheses, up to END.
func RouteTokens(tokens []Token) []Token {
	var out []Token
	for _, t := range tokens {
		switch t.Kind {
		case KindEnd:
			return out
		case KindAirport, KindAirline, KindTransitMarker, KindSurfaceMarker, KindSideTripOpen, KindSideTripClose:
			out = append(out, t)
		}
	}
	return out
}

// MatchJourney aligns journey against route. An exact sequence match is a
// match. Otherwise both are walked with two pointers: on divergence, route
// tokens are consumed into a missing run until the route catches up with the
// current journey token. Journey tokens are never skipped, so any
// divergence is blamed on the route side.
func MatchJourney(route, journey []Token) JourneyMatch {
	m := JourneyMatch{
		CleanedJourney:  joinRaw(journey),
		MissingSegments: []string{},
	}
	if sameRaw(route, journey) {
		m.IsMatch = true
		return m
	}

	i, j := 0, 0
	for i < len(route) {
		if j < len(journey) && route[i].Raw == journey[j].Raw {
			i++
			j++
			continue
		}

		start := i
		for i < len(route) && !(j < len(journey) && route[i].Raw == journey[j].Raw) {
			i++
		}
		run := route[start:i]
		m.MissingSegments = append(m.MissingSegments, joinRaw(run))
		m.Details = append(m.Details, MissingSegment{Tokens: joinRaw(run), Description: describeRun(run)})
	}
	return m
}

func sameRaw(a, b []Token) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Raw != b[i].Raw {
			return false
		}
	}
	return true
}

// describeRun names the shape of a missing run, ignoring markers.
func describeRun(run []Token) string {
	var kinds []string
	for _, t := range run {
		switch t.Kind {
		case KindAirport:
			kinds = append(kinds, "A")
		case KindAirline:
			kinds = append(kinds, "C")
		}
	}

	switch strings.Join(kinds, "") {
	case "ACA":
		return "Complete segment"
	case "AC":
		return "Partial segment (origin-airline)"
	case "CA":
		return "Partial segment (airline-destination)"
	case "A":
		return "Airport"
	case "C":
		return "Airline"
	}
	return "Unknown segment"
}
