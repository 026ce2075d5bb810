package fca

import (
	_ "embed"
	"fmt"
	"io"
	"regexp"
	"sort"
	"sync"

	"go.yaml.in/yaml/v3"
)

// PlaceholderAirline stands in for a carrier the reconstructor could not
// recover. It is always present in the airline table.
const PlaceholderAirline = "YY"

// NeutralUnit is the synthetic currency most fare totals are written in.
const NeutralUnit = "NUC"

//go:embed codes.yaml
var defaultCodes []byte

var (
	airportShape  = regexp.MustCompile(`^[A-Z]{3}$`)
	airlineShape  = regexp.MustCompile(`^(?:[A-Z]{2}|[A-Z][0-9]|[0-9][A-Z])$`)
	currencyShape = regexp.MustCompile(`^[A-Z]{3}$`)
)

// reserved words can never be table codes; classifying them as a code
// would hide the grammar keyword.
var reserved = map[string]bool{
	"END": true,
	"ROE": true,
}

// Tables holds the airport, airline and currency reference sets. A Tables
// value is never mutated after construction and is safe to share between
// goroutines.
type Tables struct {
	airports   map[string]struct{}
	airlines   map[string]struct{}
	currencies map[string]struct{}
}

// codeFile is the YAML layout of a reference table document.
type codeFile struct {
	Airports   []string `yaml:"airports"`
	Airlines   []string `yaml:"airlines"`
	Currencies []string `yaml:"currencies"`
}

// NewTables builds reference tables from code lists. Codes must be uppercase
// and of the right shape. A code present both as an airport and a currency is
// kept only as an airport.
func NewTables(airports, airlines, currencies []string) (*Tables, error) {
	t := &Tables{
		airports:   make(map[string]struct{}, len(airports)),
		airlines:   make(map[string]struct{}, len(airlines)+1),
		currencies: make(map[string]struct{}, len(currencies)+1),
	}

	for _, code := range airports {
		if !airportShape.MatchString(code) || reserved[code] {
			return nil, fmt.Errorf("invalid airport code %q", code)
		}
		t.airports[code] = struct{}{}
	}
	for _, code := range airlines {
		if !airlineShape.MatchString(code) {
			return nil, fmt.Errorf("invalid airline code %q", code)
		}
		t.airlines[code] = struct{}{}
	}
	for _, code := range currencies {
		if !currencyShape.MatchString(code) || reserved[code] {
			return nil, fmt.Errorf("invalid currency code %q", code)
		}
		if _, ok := t.airports[code]; ok {
			continue
		}
		t.currencies[code] = struct{}{}
	}

	t.airlines[PlaceholderAirline] = struct{}{}
	if _, ok := t.airports[NeutralUnit]; !ok {
		t.currencies[NeutralUnit] = struct{}{}
	}

	return t, nil
}

// LoadTables decodes a YAML table document with airports, airlines and
// currencies lists.
func LoadTables(r io.Reader) (*Tables, error) {
	var f codeFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode code tables: %w", err)
	}
	return NewTables(f.Airports, f.Airlines, f.Currencies)
}

var (
	defaultOnce   sync.Once
	defaultTables *Tables
)

// DefaultTables returns the built-in reference tables.
func DefaultTables() *Tables {
	defaultOnce.Do(func() {
		var f codeFile
		if err := yaml.Unmarshal(defaultCodes, &f); err != nil {
			panic(fmt.Sprintf("fca: embedded code tables: %v", err))
		}
		t, err := NewTables(f.Airports, f.Airlines, f.Currencies)
		if err != nil {
			panic(fmt.Sprintf("fca: embedded code tables: %v", err))
		}
		defaultTables = t
	})
	return defaultTables
}

func (t *Tables) IsAirport(code string) bool {
	_, ok := t.airports[code]
	return ok
}

func (t *Tables) IsAirline(code string) bool {
	_, ok := t.airlines[code]
	return ok
}

func (t *Tables) IsCurrency(code string) bool {
	_, ok := t.currencies[code]
	return ok
}

// TableSizes reports how many codes each table holds.
type TableSizes struct {
	Airports   int `json:"airports"`
	Airlines   int `json:"airlines"`
	Currencies int `json:"currencies"`
}

func (t *Tables) Sizes() TableSizes {
	return TableSizes{
		Airports:   len(t.airports),
		Airlines:   len(t.airlines),
		Currencies: len(t.currencies),
	}
}

// Airports returns the airport codes in sorted order.
func (t *Tables) Airports() []string { return sortedKeys(t.airports) }

// Airlines returns the airline codes in sorted order.
func (t *Tables) Airlines() []string { return sortedKeys(t.airlines) }

// Currencies returns the currency codes in sorted order.
func (t *Tables) Currencies() []string { return sortedKeys(t.currencies) }

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
