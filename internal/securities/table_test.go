package securities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupKnownSymbols(t *testing.T) {
	tests := []struct {
		symbol string
		want   Characteristics
	}{
		{"AAPL", Characteristics{0.22, 0.15, 1.2}},
		{"MSFT", Characteristics{0.20, 0.13, 1.0}},
		{"JNJ", Characteristics{0.14, 0.08, 0.7}},
		{"TSLA", Characteristics{0.50, 0.20, 2.2}},
		{"BRK.B", Characteristics{0.16, 0.10, 0.8}},
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			assert.Equal(t, tt.want, Lookup(tt.symbol))
		})
	}
}

func TestLookupFallbackBuckets(t *testing.T) {
	tests := []struct {
		symbol string
		want   Characteristics
	}{
		{"NEWAI", Characteristics{0.30, 0.12, 1.3}},
		{"CLOUDX", Characteristics{0.30, 0.12, 1.3}},
		{"FIRSTBANK", Characteristics{0.22, 0.09, 1.1}},
		{"BIOGENX", Characteristics{0.20, 0.09, 0.8}},
		{"SOLARCO", Characteristics{0.32, 0.08, 1.3}},
		{"ZZZZ", genericDefault},
		{"", genericDefault},
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			assert.Equal(t, tt.want, Lookup(tt.symbol))
		})
	}
}

func TestLookupCaseInsensitiveHints(t *testing.T) {
	// Hints match after uppercasing, exact table hits do not.
	assert.Equal(t, Characteristics{0.30, 0.12, 1.3}, Lookup("newai"))
	assert.Equal(t, genericDefault, Lookup("aapl"))
}

func TestLookupDeterministic(t *testing.T) {
	for _, sym := range []string{"AAPL", "NEWAI", "UNKNOWN1"} {
		first := Lookup(sym)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, Lookup(sym), "lookup for %s must be stable", sym)
		}
	}
}

func TestTableSize(t *testing.T) {
	assert.Equal(t, 51, Size())
}
