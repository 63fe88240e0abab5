// Package securities holds the static per-symbol risk characteristics used
// by the calculator. The table is immutable after process start; lookups are
// total and deterministic, with substring heuristics covering unknown
// symbols. In production these values would be derived from historical
// market data.
package securities

import "strings"

// Characteristics are the per-symbol inputs to the risk model.
type Characteristics struct {
	Volatility     float64 `json:"volatility"`      // annualized, in [0,1]
	ExpectedReturn float64 `json:"expected_return"` // annualized, in [-1,1]
	Beta           float64 `json:"beta"`            // vs market, in [0,3]
}

var table = map[string]Characteristics{
	// Technology - higher volatility, higher expected returns
	"AAPL":  {0.22, 0.15, 1.2},
	"GOOGL": {0.24, 0.14, 1.1},
	"MSFT":  {0.20, 0.13, 1.0},
	"META":  {0.32, 0.16, 1.4},
	"NVDA":  {0.40, 0.20, 1.8},
	"AMD":   {0.45, 0.18, 2.0},
	"INTC":  {0.28, 0.10, 1.1},
	"CRM":   {0.30, 0.15, 1.3},
	"ORCL":  {0.26, 0.11, 0.9},
	"ADBE":  {0.28, 0.14, 1.2},

	// Financials - moderate volatility
	"JPM":   {0.20, 0.10, 1.1},
	"BAC":   {0.25, 0.09, 1.3},
	"WFC":   {0.23, 0.09, 1.2},
	"GS":    {0.26, 0.11, 1.4},
	"MS":    {0.28, 0.11, 1.5},
	"V":     {0.18, 0.12, 0.9},
	"MA":    {0.19, 0.12, 1.0},
	"PYPL":  {0.35, 0.08, 1.6},
	"BRK.B": {0.16, 0.10, 0.8},

	// Healthcare - lower volatility, stable returns
	"JNJ":  {0.14, 0.08, 0.7},
	"PFE":  {0.18, 0.07, 0.8},
	"UNH":  {0.16, 0.11, 0.8},
	"CVS":  {0.20, 0.08, 0.9},
	"MRK":  {0.17, 0.08, 0.7},
	"ABBV": {0.19, 0.09, 0.8},
	"LLY":  {0.18, 0.10, 0.7},
	"TMO":  {0.19, 0.11, 0.9},

	// Consumer - mixed characteristics
	"AMZN": {0.28, 0.15, 1.3},
	"WMT":  {0.16, 0.08, 0.6},
	"HD":   {0.18, 0.10, 0.9},
	"NKE":  {0.22, 0.11, 1.0},
	"MCD":  {0.15, 0.08, 0.6},
	"SBUX": {0.24, 0.10, 1.0},
	"KO":   {0.14, 0.07, 0.6},
	"PEP":  {0.13, 0.07, 0.5},
	"PG":   {0.15, 0.08, 0.6},

	// Energy - high volatility, cyclical
	"XOM": {0.28, 0.08, 1.1},
	"CVX": {0.30, 0.08, 1.2},
	"COP": {0.35, 0.09, 1.4},

	// Entertainment / media
	"DIS":  {0.22, 0.09, 1.1},
	"NFLX": {0.38, 0.15, 1.5},

	// Automotive - high volatility, transformation risk
	"TSLA": {0.50, 0.20, 2.2},
	"F":    {0.35, 0.06, 1.5},
	"GM":   {0.32, 0.07, 1.4},

	// Telecom - defensive
	"T":     {0.18, 0.06, 0.7},
	"VZ":    {0.16, 0.06, 0.6},
	"CMCSA": {0.20, 0.08, 0.9},

	// Other technology and industrials
	"CSCO": {0.22, 0.08, 1.0},
	"IBM":  {0.20, 0.06, 0.9},
	"TXN":  {0.22, 0.10, 1.1},
	"AVGO": {0.26, 0.12, 1.3},
}

// Fallback buckets keyed by symbol-name hints, checked in order.
var fallbacks = []struct {
	hints []string
	chars Characteristics
}{
	{[]string{"TECH", "SOFT", "CYBER", "CLOUD", "AI"}, Characteristics{0.30, 0.12, 1.3}},
	{[]string{"BANK", "CAPITAL", "FINANCIAL", "FUND"}, Characteristics{0.22, 0.09, 1.1}},
	{[]string{"HEALTH", "BIO", "PHARMA", "MED"}, Characteristics{0.20, 0.09, 0.8}},
	{[]string{"ENERGY", "OIL", "GAS", "SOLAR"}, Characteristics{0.32, 0.08, 1.3}},
}

// genericDefault covers symbols matching no fallback bucket.
var genericDefault = Characteristics{0.20, 0.08, 1.0}

// Lookup returns the characteristics for a symbol. Known symbols hit the
// static table; unknown symbols fall back to sector-flavored defaults based
// on naming conventions, so the function is total.
func Lookup(symbol string) Characteristics {
	if c, ok := table[symbol]; ok {
		return c
	}
	upper := strings.ToUpper(symbol)
	for _, fb := range fallbacks {
		for _, hint := range fb.hints {
			if strings.Contains(upper, hint) {
				return fb.chars
			}
		}
	}
	return genericDefault
}

// Size returns the number of known symbols.
func Size() int { return len(table) }
