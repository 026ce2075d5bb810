package fca

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResegment(t *testing.T) {
	r := NewResegmenter(DefaultTables(), Limits{})

	tests := []struct {
		name        string
		input       string
		want        string
		wantGarbage []string
		wantFixes   []string
	}{
		{
			name:      "code split across a space",
			input:     "DEL AI BO M BA LON 1000.00 NUC 1000.00 END",
			want:      "DEL AI BOM BA LON 1000.00 NUC 1000.00 END",
			wantFixes: []string{`merged "BO M" into "BOM"`},
		},
		{
			name:      "fare glued to END",
			input:     "NYC AA LON 250.00 NUC 250.00END",
			want:      "NYC AA LON 250.00 NUC 250.00 END",
			wantFixes: []string{`split "250.00END" into "250.00 END"`},
		},
		{
			name:      "currency amount and END glued together",
			input:     "NYC AA LON 250.00 NUC250.00END",
			want:      "NYC AA LON 250.00 NUC 250.00 END",
			wantFixes: []string{`split "NUC250.00END" into "NUC 250.00 END"`},
		},
		{
			name:      "airport split after a carrier",
			input:     "LAX AA L ON BA PAR 900.00 NUC 900.00 END",
			want:      "LAX AA LON BA PAR 900.00 NUC 900.00 END",
			wantFixes: []string{`merged "L ON" into "LON"`},
		},
		{
			name:        "garbage between segments",
			input:       "BOM WY LON BA PAR OPDQ7LP AI NYC 1000.00 NUC 1000.00 END",
			want:        "BOM WY LON BA PAR AI NYC 1000.00 NUC 1000.00 END",
			wantGarbage: []string{"OPDQ7LP"},
		},
		{
			name:      "split currency",
			input:     "NYC AA LON 250.00 N UC 250.00 END",
			want:      "NYC AA LON 250.00 NUC 250.00 END",
			wantFixes: []string{`merged "N UC" into "NUC"`},
		},
		{
			name:      "split END keyword",
			input:     "NYC AA LON 250.00 NUC 250.00 E ND",
			want:      "NYC AA LON 250.00 NUC 250.00 END",
			wantFixes: []string{`merged "E ND" into "END"`},
		},
		{
			name:      "transit markers and tagged currency",
			input:     "NYC DL X/ATL QR X/DOH EK DXB M/IT USD350.00 BKK TG HKT 100.00 NUC 450.00 END",
			want:      "NYC DL X/ ATL QR X/ DOH EK DXB M/IT USD 350.00 BKK TG HKT 100.00 NUC 450.00 END",
			wantFixes: []string{`split "X/ATL" into "X/ ATL"`, `split "X/DOH" into "X/ DOH"`, `split "USD350.00" into "USD 350.00"`},
		},
		{
			name:      "rate of exchange glued to END",
			input:     "NYC AA LON 250.00 NUC 250.00ENDROE1.25",
			want:      "NYC AA LON 250.00 NUC 250.00 END ROE1.25",
			wantFixes: []string{`split "250.00ENDROE1.25" into "250.00 END ROE1.25"`},
		},
		{
			name:  "bare operands stay fused",
			input: "LON BA PAR 300.00 Q 5.00 D LON PAR 10.00 P LONPAR 15.00 NUC 330.00 END ROE 1.25",
			want:  "LON BA PAR 300.00 Q 5.00 D LON PAR 10.00 P LONPAR 15.00 NUC 330.00 END ROE 1.25",
		},
		{
			name:      "city pair outside operand split",
			input:     "NYC AA LONPAR 250.00 NUC 250.00 END",
			want:      "NYC AA LON PAR 250.00 NUC 250.00 END",
			wantFixes: []string{`split "LONPAR" into "LON PAR"`},
		},
		{
			name:      "source marker removed",
			input:     "@Web NYC AA LON 250.00 NUC 250.00 END",
			want:      "NYC AA LON 250.00 NUC 250.00 END",
			wantFixes: []string{`removed marker "@Web"`},
		},
		{
			name:      "involuntary prefix moved to front",
			input:     "NYC AA LON I- 250.00 NUC 250.00 END",
			want:      "I- NYC AA LON 250.00 NUC 250.00 END",
			wantFixes: []string{`moved involuntary prefix "I-" to front`},
		},
		{
			name:  "involuntary prefix already in front",
			input: "I- NYC AA LON 250.00 NUC 250.00 END",
			want:  "I- NYC AA LON 250.00 NUC 250.00 END",
		},
		{
			name:  "glued parentheses",
			input: "NYC AA LON (( BA PAR 100.00 )) 250.00 NUC 250.00 END",
			want:  "NYC AA LON ( ( BA PAR 100.00 ) ) 250.00 NUC 250.00 END",
			wantFixes: []string{`split "((" into "( ("`, `split "))" into ") )"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resegment(tt.input)
			require.Nil(t, got.Err)

			assert.Equal(t, tt.want, joinRaw(got.Tokens))
			assert.Equal(t, tt.wantGarbage, got.Garbage)
			assert.Equal(t, tt.wantFixes, got.Fixes)
			for _, tok := range got.Tokens {
				assert.NotEqual(t, KindInvalid, tok.Kind, "token %q", tok.Raw)
			}
		})
	}
}

func TestResegment_Uppercases(t *testing.T) {
	r := NewResegmenter(DefaultTables(), Limits{})

	got := r.Resegment("nyc AA lon 250.00 nuc 250.00 end")
	require.Nil(t, got.Err)

	assert.Equal(t, "NYC AA LON 250.00 NUC 250.00 END", joinRaw(got.Tokens))
	require.Len(t, got.Fixes, 4)
	assert.Equal(t, `uppercased "nyc" to "NYC"`, got.Fixes[0])
}

func TestResegment_FusedOperandKinds(t *testing.T) {
	r := NewResegmenter(DefaultTables(), Limits{})

	got := r.Resegment("LON BA PAR 300.00 Q 5.00 D LON PAR 10.00 M 100.00 NUC 415.00 END ROE 1.25")
	require.Nil(t, got.Err)

	kinds := map[string]Kind{}
	for _, tok := range got.Tokens {
		kinds[tok.Raw] = tok.Kind
	}
	assert.Equal(t, KindQSurcharge, kinds["Q 5.00"])
	assert.Equal(t, KindClassDifferential, kinds["D LON PAR 10.00"])
	assert.Equal(t, KindMileageFare, kinds["M 100.00"])
	assert.Equal(t, KindRateOfExchange, kinds["ROE 1.25"])
}

func TestResegment_Limits(t *testing.T) {
	r := NewResegmenter(DefaultTables(), Limits{MaxTokens: 3, MaxTokenLength: 8})

	got := r.Resegment("NYC AA LON 250.00")
	require.NotNil(t, got.Err)
	assert.Equal(t, CodePatternTooLong, got.Err.Code)
	assert.Empty(t, got.Tokens)

	got = r.Resegment("NYC AA LONDONPARIS")
	require.NotNil(t, got.Err)
	assert.Equal(t, CodePatternTooLong, got.Err.Code)
	assert.Equal(t, 2, got.Err.Index)
}

func TestDecompose(t *testing.T) {
	r := NewResegmenter(DefaultTables(), Limits{})

	tests := []struct {
		input       string
		want        string
		wantGarbage int
	}{
		{"DELAIBOMBALON", "DEL AI BOM BA LON", 0},
		{"1000.00END", "1000.00 END", 0},
		{"ROE1.25", "ROE1.25", 0},
		{"M/ITNUC", "M/IT NUC", 0},
		{"LONXQ", "LON XQ", 2},
		{"##", "##", 2},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			pieces, garbage := r.decompose(tt.input)
			raws := make([]string, len(pieces))
			for i, p := range pieces {
				raws[i] = p.raw
			}
			assert.Equal(t, tt.want, strings.Join(raws, " "))
			assert.Equal(t, tt.wantGarbage, garbage)
		})
	}
}

func TestDecompose_LongGarbageIsBounded(t *testing.T) {
	r := NewResegmenter(DefaultTables(), Limits{})
	input := strings.Repeat("Z9#", 40)

	start := time.Now()
	pieces, garbage := r.decompose(input)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, len(input), garbage)
	require.Len(t, pieces, 1)
	assert.True(t, pieces[0].pending)
}
