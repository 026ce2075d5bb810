package fca

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Limits bounds the work done on a single pattern.
type Limits struct {
	MaxTokens      int // Raw whitespace separated tokens.
	MaxTokenLength int // Characters in any one raw token.
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxTokens: 400, MaxTokenLength: 128}
}

// Resegmentation is the repaired token stream for one raw pattern.
type Resegmentation struct {
	Tokens  []Token
	Garbage []string
	Fixes   []string
	Err     *StructuralError // Set only when the input exceeds the limits.
}

// Resegmenter recovers token boundaries from corrupted whitespace. It holds
// no mutable state.
type Resegmenter struct {
	tables *Tables
	limits Limits
}

// NewResegmenter creates a resegmenter over the given tables. Zero limit
// fields fall back to DefaultLimits.
func NewResegmenter(tables *Tables, limits Limits) *Resegmenter {
	def := DefaultLimits()
	if limits.MaxTokens <= 0 {
		limits.MaxTokens = def.MaxTokens
	}
	if limits.MaxTokenLength <= 0 {
		limits.MaxTokenLength = def.MaxTokenLength
	}
	return &Resegmenter{tables: tables, limits: limits}
}

// item is a token under repair. Pending items did not classify and are
// waiting for the window pass; fused items are operand groups that no window
// may split again.
type item struct {
	raw     string
	kind    Kind
	pending bool
	fused   bool
}

// @Web, @GDS and similar source markers.
var atMarkerRe = regexp.MustCompile(`@[A-Za-z0-9]+`)

// Bare markers that take their operand from the following token(s).
var operandMarkers = map[string]bool{
	"Q":   true,
	"D":   true,
	"P":   true,
	"M":   true,
	"ROE": true,
}

// Resegment normalizes pattern and rebuilds its token stream:
//
//	"DEL AI BO M BA LON 1000.00END"  ->  DEL AI BOM BA LON 1000.00 END
//
// Tokens that cannot be resolved are dropped and listed in Garbage.
func (r *Resegmenter) Resegment(pattern string) Resegmentation {
	var res Resegmentation

	fields := r.normalize(pattern, &res.Fixes)
	if len(fields) > r.limits.MaxTokens {
		res.Err = newError(CodePatternTooLong, -1,
			fmt.Sprintf("pattern too long: %d tokens exceeds limit of %d", len(fields), r.limits.MaxTokens))
		return res
	}
	for i, f := range fields {
		if len(f) > r.limits.MaxTokenLength {
			res.Err = newError(CodePatternTooLong, i,
				fmt.Sprintf("pattern too long: token of %d characters exceeds limit of %d", len(f), r.limits.MaxTokenLength))
			return res
		}
	}

	items := r.splitTokens(fields, &res.Fixes)
	items = fuseOperands(items)
	items = splitCityPairs(items, &res.Fixes)
	items = r.mergeWindows(items, &res.Fixes)

	tokens := make([]Token, 0, len(items))
	for _, it := range items {
		if it.pending {
			res.Garbage = append(res.Garbage, it.raw)
			continue
		}
		tokens = append(tokens, Token{Raw: it.raw, Kind: it.kind})
	}
	res.Tokens = frontInvoluntary(tokens, &res.Fixes)
	return res
}

// normalize strips source markers, uppercases and splits on whitespace.
func (r *Resegmenter) normalize(pattern string, fixes *[]string) []string {
	for _, m := range atMarkerRe.FindAllString(pattern, -1) {
		*fixes = append(*fixes, fmt.Sprintf("removed marker %q", m))
	}
	pattern = atMarkerRe.ReplaceAllString(pattern, " ")

	fields := strings.Fields(pattern)
	for i, f := range fields {
		if up := strings.ToUpper(f); up != f {
			*fixes = append(*fixes, fmt.Sprintf("uppercased %q to %q", f, up))
			fields[i] = up
		}
	}
	return fields
}

// splitTokens classifies each field and decomposes the ones that do not
// classify.
func (r *Resegmenter) splitTokens(fields []string, fixes *[]string) []item {
	items := make([]item, 0, len(fields))
	for _, f := range fields {
		if kind := r.tables.Classify(f); kind != KindInvalid {
			items = append(items, item{raw: f, kind: kind})
			continue
		}
		if operandMarkers[f] {
			items = append(items, item{raw: f, pending: true})
			continue
		}

		pieces, garbage := r.decompose(f)
		if garbage == 0 || len(f)-garbage > garbage {
			raws := make([]string, len(pieces))
			for i, p := range pieces {
				raws[i] = p.raw
			}
			*fixes = append(*fixes, fmt.Sprintf("split %q into %q", f, strings.Join(raws, " ")))
			items = append(items, pieces...)
			continue
		}
		items = append(items, item{raw: f, pending: true})
	}
	return items
}

// dpCell is one entry of the segmentation table: the best split of s[i:].
type dpCell struct {
	garbage int  // Unmatched characters.
	pieces  int  // Recognised units.
	next    int  // End of the first piece.
	unit    bool // False when s[i] is skipped as garbage.
	set     bool
}

func (c dpCell) less(o dpCell) bool {
	if !o.set {
		return true
	}
	if c.garbage != o.garbage {
		return c.garbage < o.garbage
	}
	return c.pieces < o.pieces
}

// decompose splits a single token into recognised units with a word-break
// table. The cost of a split is (garbage characters, pieces); on equal cost
// the longer first piece wins. Consecutive unmatched characters come back
// as one pending item.
func (r *Resegmenter) decompose(s string) ([]item, int) {
	n := len(s)
	best := make([]dpCell, n+1)
	best[n] = dpCell{set: true}

	for i := n - 1; i >= 0; i-- {
		var c dpCell
		for _, end := range r.unitEnds(s, i) {
			cand := dpCell{garbage: best[end].garbage, pieces: best[end].pieces + 1, next: end, unit: true, set: true}
			if cand.less(c) {
				c = cand
			}
		}
		skip := dpCell{garbage: best[i+1].garbage + 1, pieces: best[i+1].pieces, next: i + 1, set: true}
		if skip.less(c) {
			c = skip
		}
		best[i] = c
	}

	var out []item
	var junk strings.Builder
	flush := func() {
		if junk.Len() > 0 {
			out = append(out, item{raw: junk.String(), pending: true})
			junk.Reset()
		}
	}
	for i := 0; i < n; {
		c := best[i]
		if !c.unit {
			junk.WriteByte(s[i])
			i = c.next
			continue
		}
		flush()
		piece := s[i:c.next]
		out = append(out, item{raw: piece, kind: r.tables.Classify(piece)})
		i = c.next
	}
	flush()

	return out, best[0].garbage
}

// unitEnds lists every end position of a recognised unit starting at i,
// longest first.
func (r *Resegmenter) unitEnds(s string, i int) []int {
	n := len(s)
	var ends []int

	// Codes, keywords and markers are at most four characters. City pairs
	// are left to split into their two airports.
	for l := 1; l <= 4 && i+l <= n; l++ {
		if k := r.tables.Classify(s[i : i+l]); k != KindInvalid && k != KindCityPair {
			ends = append(ends, i+l)
		}
	}

	if e := fareEnd(s, i); e > 0 {
		ends = append(ends, e)
	}
	if strings.IndexByte("MQDP", s[i]) >= 0 {
		if e := fareEnd(s, i+1); e > 0 {
			ends = append(ends, e)
		}
	}
	if strings.HasPrefix(s[i:], "ROE") {
		ends = append(ends, rateEnds(s, i+3)...)
	}

	sort.Sort(sort.Reverse(sort.IntSlice(ends)))
	return ends
}

// fareEnd returns the end of a \d+\.\d{2} amount starting at i, or -1.
func fareEnd(s string, i int) int {
	j := i
	for j < len(s) && isDigit(s[j]) {
		j++
	}
	if j == i || j+3 > len(s) || s[j] != '.' || !isDigit(s[j+1]) || !isDigit(s[j+2]) {
		return -1
	}
	return j + 3
}

// rateEnds returns every end of a \d+(\.\d+)? rate starting at i.
func rateEnds(s string, i int) []int {
	var ends []int
	j := i
	for j < len(s) && isDigit(s[j]) {
		j++
		ends = append(ends, j)
	}
	if j == i || j >= len(s) || s[j] != '.' {
		return ends
	}
	for k := j + 1; k < len(s) && isDigit(s[k]); k++ {
		ends = append(ends, k+1)
	}
	return ends
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// fuseOperands joins a bare Q/D/P/M/ROE marker with its operand tokens into
// one token. The fused raw text keeps its spacing so that cleaning the
// output again yields the same tokens.
//
//	Q 25.00           Q surcharge
//	D LON PAR 10.00   class differential with city pair
//	P LONPAR 15.00    plus-up with fused city pair
//	ROE 1.25          rate of exchange
func fuseOperands(items []item) []item {
	out := make([]item, 0, len(items))
	for i := 0; i < len(items); i++ {
		it := items[i]
		if !it.pending || !operandMarkers[it.raw] {
			out = append(out, it)
			continue
		}

		end, kind := operandSpan(items, i)
		if end < 0 {
			out = append(out, it)
			continue
		}
		raws := make([]string, 0, end-i)
		for _, o := range items[i:end] {
			raws = append(raws, o.raw)
		}
		out = append(out, item{raw: strings.Join(raws, " "), kind: kind, fused: true})
		i = end - 1
	}
	return out
}

// splitCityPairs breaks a city pair left outside a D or P operand into its
// two airports. Only class differentials and plus-ups take a city pair, so
// elsewhere it is two route points written without a separator.
func splitCityPairs(items []item, fixes *[]string) []item {
	out := make([]item, 0, len(items))
	for _, it := range items {
		if it.pending || it.fused || it.kind != KindCityPair {
			out = append(out, it)
			continue
		}
		from, to := it.raw[:3], it.raw[3:]
		*fixes = append(*fixes, fmt.Sprintf("split %q into %q", it.raw, from+" "+to))
		out = append(out, item{raw: from, kind: KindAirport}, item{raw: to, kind: KindAirport})
	}
	return out
}

// operandSpan returns the end (exclusive) of the operand group starting at
// the marker items[i], or -1 if the marker has no valid operand.
func operandSpan(items []item, i int) (int, Kind) {
	at := func(j int) (item, bool) {
		if j >= len(items) || items[j].fused {
			return item{}, false
		}
		return items[j], true
	}

	switch items[i].raw {
	case "ROE":
		if next, ok := at(i + 1); ok && rateRe.MatchString(next.raw) {
			return i + 2, KindRateOfExchange
		}
	case "Q", "M":
		if next, ok := at(i + 1); ok && fareRe.MatchString(next.raw) {
			if items[i].raw == "Q" {
				return i + 2, KindQSurcharge
			}
			return i + 2, KindMileageFare
		}
	case "D", "P":
		kind := KindClassDifferential
		if items[i].raw == "P" {
			kind = KindPlusUp
		}
		j := i + 1
		if a, ok := at(j); ok && !a.pending && a.kind == KindCityPair {
			j++
		} else if a, ok := at(j); ok && !a.pending && a.kind == KindAirport {
			if b, ok := at(j + 1); ok && !b.pending && b.kind == KindAirport {
				j += 2
			}
		}
		if amt, ok := at(j); ok && fareRe.MatchString(amt.raw) {
			return j + 1, kind
		}
	}
	return -1, KindInvalid
}

// mergeWindows joins 3 or 2 adjacent tokens whose concatenation is a known
// code. A window must contain at least one pending item, so a pattern with
// no unresolved tokens is never changed. Windows are taken leftmost first,
// then longest.
func (r *Resegmenter) mergeWindows(items []item, fixes *[]string) []item {
	out := make([]item, 0, len(items))
	for i := 0; i < len(items); {
		if merged, size := r.mergeAt(items, i); size > 0 {
			raws := make([]string, size)
			for k := range raws {
				raws[k] = items[i+k].raw
			}
			*fixes = append(*fixes, fmt.Sprintf("merged %q into %q", strings.Join(raws, " "), merged.raw))
			out = append(out, merged)
			i += size
			continue
		}
		out = append(out, items[i])
		i++
	}
	return out
}

func (r *Resegmenter) mergeAt(items []item, i int) (item, int) {
	for size := 3; size >= 2; size-- {
		if i+size > len(items) {
			continue
		}

		var b strings.Builder
		pending, ok := false, true
		for _, it := range items[i : i+size] {
			if it.fused {
				ok = false
				break
			}
			pending = pending || it.pending
			b.WriteString(it.raw)
		}
		if !ok || !pending || b.Len() > 3 {
			continue
		}

		code := b.String()
		switch kind := r.tables.Classify(code); kind {
		case KindAirport, KindAirline, KindCurrency, KindEnd:
			return item{raw: code, kind: kind}, size
		}
	}
	return item{}, 0
}

// frontInvoluntary moves the involuntary prefix to the front of the pattern
// and keeps a single copy of it.
func frontInvoluntary(tokens []Token, fixes *[]string) []Token {
	count := 0
	rest := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		if t.Kind == KindInvolPrefix {
			count++
			continue
		}
		rest = append(rest, t)
	}
	if count == 0 {
		return tokens
	}
	if count > 1 || tokens[0].Kind != KindInvolPrefix {
		*fixes = append(*fixes, fmt.Sprintf("moved involuntary prefix %q to front", InvolPrefix))
	}
	return append([]Token{{Raw: InvolPrefix, Kind: KindInvolPrefix}}, rest...)
}
