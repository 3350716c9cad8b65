package formulas

import (
	"github.com/markcheno/go-talib"
)

// CalculateRSI calculates the Relative Strength Index of a value series.
// Returns the latest RSI value (0-100) or nil if there is insufficient data.
func CalculateRSI(values []float64, length int) *float64 {
	if len(values) < length+1 {
		return nil
	}

	rsi := talib.Rsi(values, length)

	if len(rsi) > 0 && !isNaN(rsi[len(rsi)-1]) {
		result := rsi[len(rsi)-1]
		return &result
	}

	return nil
}

func isNaN(f float64) bool {
	return f != f
}
